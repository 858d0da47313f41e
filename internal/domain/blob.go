package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// Archiver moves old execution history from the database to cold storage.
type Archiver interface {
	ArchiveExecutions(ctx context.Context, before time.Time) (int64, error)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobReader inspects object storage.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
