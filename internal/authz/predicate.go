package authz

// Snapshot is an immutable view of who the user is and what they may do.
// The zero value denies everything.
type Snapshot struct {
	Role   *Role
	Matrix Matrix
}

// HasRole reports whether the held role name equals name exactly.
func (s Snapshot) HasRole(name string) bool {
	if s.Role == nil {
		return false
	}
	return s.Role.Name == name
}

// Can reports whether the snapshot grants action on module. Root is granted
// everything, including modules missing from the matrix.
func (s Snapshot) Can(module Module, action Action) bool {
	if s.Role == nil {
		return false
	}
	if s.Role.IsRoot() {
		return true
	}
	if s.Matrix == nil {
		return false
	}
	record, ok := s.Matrix[module]
	if !ok {
		return false
	}
	return record.Allows(action)
}

// Visible returns the modules the snapshot may view, in display order.
func (s Snapshot) Visible() []Module {
	var out []Module
	for _, m := range modules {
		if s.Can(m, ActionView) {
			out = append(out, m)
		}
	}
	return out
}
