package dashboard

import (
	"strings"

	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/view"
)

// Navigation lists the entries snap may see, marking the one containing
// current as active.
func Navigation(snap authz.Snapshot, current string) []view.NavItem {
	items := []view.NavItem{{Label: "Home", Path: "/", Active: current == "/"}}
	for _, module := range snap.Visible() {
		path := "/modules/" + string(module)
		items = append(items, view.NavItem{
			Label:  view.ModuleLabel(string(module)),
			Path:   path,
			Active: current == path || strings.HasPrefix(current, path+"/"),
		})
	}
	if snap.HasRole(authz.RootRole) {
		items = append(items, view.NavItem{Label: "Roles", Path: "/admin/roles", Active: current == "/admin/roles"})
	}
	return items
}
