package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists and lists audit entries.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert writes entry.
func (r *PGRepository) Insert(ctx context.Context, entry Entry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit: entry requires action/entity/entity_id")
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at)
	return err
}

// List returns one window of entries, newest first, plus the total count.
func (r *PGRepository) List(ctx context.Context, filters Filters, limit, offset int) ([]Entry, int, error) {
	where, args := filterClause(filters)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := `SELECT id, actor_id, action, entity, entity_id, meta, occurred_at FROM audit_logs` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &meta, &e.At); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Meta)
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// Prune deletes entries older than before.
func (r *PGRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func filterClause(f Filters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}
	if f.ActorID > 0 {
		add("actor_id =", f.ActorID)
	}
	if a := strings.TrimSpace(f.Action); a != "" {
		add("action =", a)
	}
	if e := strings.TrimSpace(f.Entity); e != "" {
		add("entity =", e)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var _ Repository = (*PGRepository)(nil)
