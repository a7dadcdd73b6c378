package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanEditorScenario(t *testing.T) {
	snap := Snapshot{
		Role: &Role{ID: 2, Name: "editor"},
		Matrix: Matrix{
			ModuleCourses: {View: true},
		},
	}

	assert.True(t, snap.Can(ModuleCourses, ActionView))
	assert.False(t, snap.Can(ModuleCourses, ActionCreate))
	assert.False(t, snap.Can(ModuleWellbeing, ActionView), "absent module must deny")
	assert.False(t, snap.HasRole(RootRole))
	assert.True(t, snap.HasRole("editor"))
}

func TestCanRootBypassesMatrix(t *testing.T) {
	snap := Snapshot{Role: &Role{ID: 1, Name: RootRole}, Matrix: Matrix{}}
	for _, m := range Modules() {
		for _, a := range AllActions() {
			assert.True(t, snap.Can(m, a), "%s/%s", m, a)
		}
	}
	assert.True(t, snap.Can(Module("anything"), ActionDelete))

	nilMatrix := Snapshot{Role: &Role{ID: 1, Name: RootRole}}
	assert.True(t, nilMatrix.Can(ModuleAudit, ActionEdit))
}

func TestCanNonRootMirrorsMatrix(t *testing.T) {
	matrix := Matrix{
		ModuleAudit:     {View: true, Delete: true},
		ModuleRoles:     {Create: true, Edit: true},
		ModuleCourses:   {},
		ModuleWellbeing: {View: true, Create: true, Edit: true, Delete: true},
	}
	snap := Snapshot{Role: &Role{ID: 3, Name: "auditor"}, Matrix: matrix}
	for _, m := range Modules() {
		record, present := matrix[m]
		for _, a := range AllActions() {
			want := present && record.Allows(a)
			assert.Equal(t, want, snap.Can(m, a), "%s/%s", m, a)
		}
	}
	assert.False(t, snap.Can(ModuleAudit, Action("approve")))
}

func TestZeroSnapshotDenies(t *testing.T) {
	var snap Snapshot
	assert.False(t, snap.Can(ModuleCourses, ActionView))
	assert.False(t, snap.HasRole(""))
	assert.False(t, snap.HasRole(RootRole))
	assert.Empty(t, snap.Visible())

	noMatrix := Snapshot{Role: &Role{ID: 9, Name: "viewer"}}
	assert.False(t, noMatrix.Can(ModuleCourses, ActionView))
}

func TestHasRoleIsCaseSensitive(t *testing.T) {
	snap := Snapshot{Role: &Role{ID: 1, Name: "root"}}
	assert.True(t, snap.HasRole("root"))
	assert.False(t, snap.HasRole("Root"))
	assert.False(t, snap.HasRole(" root"))
}

func TestVisibleKeepsDisplayOrder(t *testing.T) {
	snap := Snapshot{
		Role: &Role{ID: 4, Name: "staff"},
		Matrix: Matrix{
			ModuleAudit:   {View: true},
			ModuleCourses: {View: true},
			ModuleUsers:   {Edit: true},
		},
	}
	assert.Equal(t, []Module{ModuleCourses, ModuleAudit}, snap.Visible())
}

func TestDecodePermissionsDropsUnknownModules(t *testing.T) {
	body := []byte(`{"role":{"id":2,"name":"editor"},"permissions":{"courses":{"view":true,"create":false,"edit":false,"delete":false},"legacy_reports":{"view":true}}}`)
	role, matrix, unknown, err := DecodePermissions(body)
	require.NoError(t, err)
	assert.Equal(t, Role{ID: 2, Name: "editor"}, role)
	assert.Equal(t, Matrix{ModuleCourses: {View: true}}, matrix)
	assert.Equal(t, []string{"legacy_reports"}, unknown)
}

func TestDecodePermissionsRejectsGarbage(t *testing.T) {
	_, _, _, err := DecodePermissions([]byte(`{"role":`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, _, _, err = DecodePermissions([]byte(`{"permissions":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseModuleAndAction(t *testing.T) {
	m, ok := ParseModule("software_activities")
	assert.True(t, ok)
	assert.Equal(t, ModuleSoftwareActivities, m)
	_, ok = ParseModule("Courses")
	assert.False(t, ok)

	a, ok := ParseAction("delete")
	assert.True(t, ok)
	assert.Equal(t, ActionDelete, a)
	_, ok = ParseAction("")
	assert.False(t, ok)
}
