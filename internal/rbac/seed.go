package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snies/snies-admin/internal/auth"
	"github.com/snies/snies-admin/internal/authz"
)

// Seed is the YAML document describing roles, matrices and bootstrap users.
type Seed struct {
	Roles []SeedRole `yaml:"roles"`
	Users []SeedUser `yaml:"users"`
}

// SeedRole is one role with its matrix.
type SeedRole struct {
	Name        string                   `yaml:"name"`
	Description string                   `yaml:"description"`
	Permissions map[string]authz.Actions `yaml:"permissions"`
}

// SeedUser is one bootstrap account.
type SeedUser struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("rbac: read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("rbac: parse seed: %w", err)
	}
	names := make(map[string]struct{}, len(seed.Roles))
	var errs []error
	for _, role := range seed.Roles {
		if strings.TrimSpace(role.Name) == "" {
			errs = append(errs, errors.New("role without name"))
			continue
		}
		names[role.Name] = struct{}{}
		for module := range role.Permissions {
			if _, ok := authz.ParseModule(module); !ok {
				errs = append(errs, fmt.Errorf("role %s: unknown module %q", role.Name, module))
			}
		}
	}
	for _, user := range seed.Users {
		if _, ok := names[user.Role]; !ok {
			errs = append(errs, fmt.Errorf("user %s: unknown role %q", user.Email, user.Role))
		}
		if len(user.Password) < 8 {
			errs = append(errs, fmt.Errorf("user %s: password shorter than 8 characters", user.Email))
		}
	}
	if len(errs) > 0 {
		return Seed{}, fmt.Errorf("rbac: invalid seed: %w", errors.Join(errs...))
	}
	return seed, nil
}

// Matrix converts the role's permissions into a matrix.
func (r SeedRole) Matrix() authz.Matrix {
	m := make(authz.Matrix, len(r.Permissions))
	for name, actions := range r.Permissions {
		if module, ok := authz.ParseModule(name); ok {
			m[module] = actions
		}
	}
	return m
}

// ApplySeed creates missing roles, replaces their matrices and upserts users.
// It is idempotent.
func ApplySeed(ctx context.Context, repo Repository, seed Seed, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ids := make(map[string]int64, len(seed.Roles))
	for _, sr := range seed.Roles {
		role, err := repo.CreateRole(ctx, sr.Name, sr.Description)
		if errors.Is(err, ErrDuplicateRole) {
			role, err = repo.GetRoleByName(ctx, sr.Name)
		}
		if err != nil {
			return fmt.Errorf("rbac: seed role %s: %w", sr.Name, err)
		}
		ids[sr.Name] = role.ID
		if sr.Name == authz.RootRole {
			continue
		}
		if err := repo.ReplaceMatrix(ctx, role.ID, sr.Matrix()); err != nil {
			return fmt.Errorf("rbac: seed matrix %s: %w", sr.Name, err)
		}
	}
	for _, su := range seed.Users {
		hash, err := auth.HashPassword(su.Password)
		if err != nil {
			return err
		}
		if err := repo.EnsureUser(ctx, su.Email, su.Name, hash, ids[su.Role]); err != nil {
			return fmt.Errorf("rbac: seed user %s: %w", su.Email, err)
		}
	}
	logger.Info("rbac seed applied", slog.Int("roles", len(seed.Roles)), slog.Int("users", len(seed.Users)))
	return nil
}
