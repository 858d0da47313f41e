package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Event  string // audit event name; empty matches all
	Since  *time.Time
	Until  *time.Time
}

// ArbExecutionStore persists three-leg executions.
type ArbExecutionStore interface {
	Create(ctx context.Context, exec ArbExecution) error
	GetByID(ctx context.Context, id string) (ArbExecution, error)
	ListRecent(ctx context.Context, limit int) ([]ArbExecution, error)
	ListBefore(ctx context.Context, before time.Time) ([]ArbExecution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
