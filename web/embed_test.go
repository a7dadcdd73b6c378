package web

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticFSIsRooted(t *testing.T) {
	assets, err := StaticFS()
	require.NoError(t, err)
	_, err = fs.Stat(assets, "css/app.css")
	assert.NoError(t, err)
}

func TestGuardPagesEmbedded(t *testing.T) {
	for _, page := range []string{"guard_loading", "guard_error", "guard_denied"} {
		_, err := fs.Stat(Templates, "templates/pages/"+page+".html")
		assert.NoError(t, err, page)
	}
}
