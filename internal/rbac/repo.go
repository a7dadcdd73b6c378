package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snies/snies-admin/internal/authz"
	"github.com/snies/snies-admin/internal/platform/db"
)

// Repository persists roles and their matrices.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	Matrix(ctx context.Context, roleID int64) (authz.Matrix, error)
	Matrices(ctx context.Context) (map[int64]authz.Matrix, error)
	ReplaceMatrix(ctx context.Context, roleID int64, matrix authz.Matrix) error
	EnsureUser(ctx context.Context, email, name, passwordHash string, roleID int64) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `id, name, description, created_at, updated_at`

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetRoleByName fetches a role by its exact name.
func (r *PGRepository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING `+roleColumns, name, description))
	if db.IsUniqueViolation(err) {
		return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRole, name)
	}
	return role, err
}

// Matrix loads the matrix of one role.
func (r *PGRepository) Matrix(ctx context.Context, roleID int64) (authz.Matrix, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role_id, module, can_view, can_create, can_edit, can_delete FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	all, err := collectMatrices(rows)
	if err != nil {
		return nil, err
	}
	if m, ok := all[roleID]; ok {
		return m, nil
	}
	return authz.Matrix{}, nil
}

// Matrices loads the matrix of every role.
func (r *PGRepository) Matrices(ctx context.Context) (map[int64]authz.Matrix, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role_id, module, can_view, can_create, can_edit, can_delete FROM role_permissions`)
	if err != nil {
		return nil, err
	}
	return collectMatrices(rows)
}

// ReplaceMatrix swaps the whole matrix of a role in one transaction.
func (r *PGRepository) ReplaceMatrix(ctx context.Context, roleID int64, matrix authz.Matrix) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for module, a := range matrix {
			batch.Queue(`INSERT INTO role_permissions (role_id, module, can_view, can_create, can_edit, can_delete) VALUES ($1, $2, $3, $4, $5, $6)`,
				roleID, string(module), a.View, a.Create, a.Edit, a.Delete)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// EnsureUser creates the user or moves an existing one to roleID.
func (r *PGRepository) EnsureUser(ctx context.Context, email, name, passwordHash string, roleID int64) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO users (email, name, password_hash, role_id, is_active)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, role_id = EXCLUDED.role_id, updated_at = NOW()`,
		email, name, passwordHash, roleID)
	return err
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

func collectMatrices(rows pgx.Rows) (map[int64]authz.Matrix, error) {
	defer rows.Close()
	out := make(map[int64]authz.Matrix)
	for rows.Next() {
		var (
			roleID int64
			module string
			a      authz.Actions
		)
		if err := rows.Scan(&roleID, &module, &a.View, &a.Create, &a.Edit, &a.Delete); err != nil {
			return nil, err
		}
		m, ok := authz.ParseModule(module)
		if !ok {
			continue
		}
		if out[roleID] == nil {
			out[roleID] = make(authz.Matrix)
		}
		out[roleID][m] = a
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
