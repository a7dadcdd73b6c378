package authz

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PermissionsResponse is the body of GET /users/me/permissions/.
type PermissionsResponse struct {
	Role        Role               `json:"role"`
	Permissions map[string]Actions `json:"permissions"`
}

// ErrMalformedPayload indicates the permissions body could not be decoded.
var ErrMalformedPayload = errors.New("authz: malformed permissions payload")

// DecodePermissions parses a permissions body. Unknown modules are returned
// separately instead of failing the whole payload.
func DecodePermissions(data []byte) (Role, Matrix, []string, error) {
	var body PermissionsResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return Role{}, nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body.Role.Name == "" {
		return Role{}, nil, nil, fmt.Errorf("%w: role missing", ErrMalformedPayload)
	}
	matrix := make(Matrix, len(body.Permissions))
	var unknown []string
	for name, record := range body.Permissions {
		module, ok := ParseModule(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		matrix[module] = record
	}
	return body.Role, matrix, unknown, nil
}

// EncodePermissions builds the wire body for role and matrix.
func EncodePermissions(role Role, matrix Matrix) PermissionsResponse {
	perms := make(map[string]Actions, len(matrix))
	for module, record := range matrix {
		perms[string(module)] = record
	}
	return PermissionsResponse{Role: role, Permissions: perms}
}
