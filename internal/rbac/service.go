package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/snies/snies-admin/internal/audit"
	"github.com/snies/snies-admin/internal/authz"
)

// Publisher announces matrix changes to running dashboards.
type Publisher interface {
	PublishChange(ctx context.Context, roleID int64) error
}

// Service orchestrates role and matrix operations.
type Service struct {
	repo      Repository
	publisher Publisher
	recorder  audit.Recorder
	logger    *slog.Logger
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Repository Repository
	Publisher  Publisher
	Recorder   audit.Recorder
	Logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: cfg.Repository, publisher: cfg.Publisher, recorder: cfg.Recorder, logger: logger}
}

// Grant returns the role and matrix a user with roleID holds.
func (s *Service) Grant(ctx context.Context, roleID int64) (RoleGrant, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return RoleGrant{}, err
	}
	matrix, err := s.repo.Matrix(ctx, roleID)
	if err != nil {
		return RoleGrant{}, fmt.Errorf("rbac: load matrix of role %d: %w", roleID, err)
	}
	return RoleGrant{Role: role.Authz(), Matrix: matrix}, nil
}

// ListGrants returns every role with its matrix, ordered by role name.
func (s *Service) ListGrants(ctx context.Context) ([]RoleGrant, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	matrices, err := s.repo.Matrices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RoleGrant, 0, len(roles))
	for _, role := range roles {
		matrix := matrices[role.ID]
		if matrix == nil {
			matrix = authz.Matrix{}
		}
		out = append(out, RoleGrant{Role: role.Authz(), Matrix: matrix})
	}
	return out, nil
}

// ReplaceMatrix swaps the matrix of roleID, records who did it and tells
// dashboards to refetch.
func (s *Service) ReplaceMatrix(ctx context.Context, actor Principal, roleID int64, matrix authz.Matrix) (RoleGrant, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return RoleGrant{}, err
	}
	if role.Name == authz.RootRole {
		return RoleGrant{}, ErrRootImmutable
	}
	if err := s.repo.ReplaceMatrix(ctx, roleID, matrix); err != nil {
		return RoleGrant{}, fmt.Errorf("rbac: replace matrix of role %d: %w", roleID, err)
	}

	if s.recorder != nil {
		entry := audit.Entry{
			ActorID:  actor.UserID,
			Action:   audit.ActionMatrixReplaced,
			Entity:   "role",
			EntityID: strconv.FormatInt(roleID, 10),
			Meta:     map[string]any{"role": role.Name, "modules": len(matrix)},
		}
		if err := s.recorder.Record(ctx, entry); err != nil {
			s.logger.Warn("record matrix change", slog.Any("error", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishChange(ctx, roleID); err != nil {
			s.logger.Warn("publish matrix change", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
	}
	return RoleGrant{Role: role.Authz(), Matrix: matrix.Clone()}, nil
}
