package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snies/snies-admin/internal/authz"
)

func TestNamesAreOrdered(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_init.sql", names[0])
}

func TestSchemaKnowsEveryModule(t *testing.T) {
	data, err := Files.ReadFile("0001_init.sql")
	require.NoError(t, err)
	schema := string(data)
	for _, module := range authz.Modules() {
		assert.True(t, strings.Contains(schema, "'"+string(module)+"'"), "module %s missing from check constraint", module)
	}
}
