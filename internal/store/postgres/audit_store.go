package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// AuditStore keeps the append-only audit log: one "cycle" row per loop
// iteration plus archive runs.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one row; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: audit %s: marshal detail: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: audit %s: %w", event, err)
	}
	return nil
}

// List returns audit rows newest first, filtered by opts.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := auditQuery(opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var e domain.AuditEntry
		var raw []byte
		if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if raw != nil {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("decode detail of row %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return entries, nil
}

// auditQuery builds the filtered SELECT for List.
func auditQuery(opts domain.ListOpts) (string, []any) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Event != "" {
		where = append(where, "event = "+arg(opts.Event))
	}
	if opts.Since != nil {
		where = append(where, "created_at >= "+arg(*opts.Since))
	}
	if opts.Until != nil {
		where = append(where, "created_at <= "+arg(*opts.Until))
	}

	var b strings.Builder
	b.WriteString("SELECT id, event, detail, created_at FROM audit_log")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return b.String(), args
}

var _ domain.AuditStore = (*AuditStore)(nil)
