package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// ExecutionPrefix is the key prefix of execution archives.
const ExecutionPrefix = "archive/executions/"

const (
	// maxPathAttempts bounds the search for a free archive key.
	maxPathAttempts = 100

	// multipartThreshold is the export size above which the upload is split
	// into parts.
	multipartThreshold = 64 * 1024 * 1024
	archivePartSize    = 16 * 1024 * 1024

	jsonlContentType = "application/x-ndjson"
)

// ExecutionArchiveStore is the part of the execution store the archiver
// needs.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ArbExecution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by exporting old executions as
// JSONL to object storage. Rows are deleted from the primary store only
// when purge is enabled and the upload succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	execs  ExecutionArchiveStore
	audit  domain.AuditStore
	purge  bool

	multipartAbove int
}

// NewArchiver creates a new ArchiveImpl. reader and audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	execs ExecutionArchiveStore,
	audit domain.AuditStore,
	purge bool,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		execs:  execs,
		audit:  audit,
		purge:  purge,

		multipartAbove: multipartThreshold,
	}
}

// ArchiveExecutions exports every execution started before the cutoff to
// archive/executions/<cutoff>.jsonl and returns how many were exported.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.execs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(execs) == 0 {
		return 0, nil
	}

	records := make([]executionRecord, 0, len(execs))
	for _, e := range execs {
		records = append(records, newExecutionRecord(e))
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path, err := a.freePath(ctx, before)
	if err != nil {
		return 0, err
	}
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	count := int64(len(execs))
	var deleted int64
	if a.purge {
		deleted, err = a.execs.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive executions purge: %w", err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":    path,
			"count":   count,
			"deleted": deleted,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
	return count, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > a.multipartAbove {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, archivePartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// freePath returns the first archive key for the cutoff that does not exist
// yet. Without a reader the base key is used as is.
func (a *ArchiveImpl) freePath(ctx context.Context, before time.Time) (string, error) {
	base := archivePath(before)
	if a.reader == nil {
		return base + ".jsonl", nil
	}
	for i := 0; i < maxPathAttempts; i++ {
		path := base + ".jsonl"
		if i > 0 {
			path = fmt.Sprintf("%s-%d.jsonl", base, i)
		}
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive executions: %w", err)
		}
		if !exists {
			return path, nil
		}
	}
	return "", fmt.Errorf("s3blob: archive executions: no free key under %s", base)
}

// archivePath builds the key stem for an archive file, partitioned by the
// UTC date of the cutoff:
//
//	archive/executions/2026-01-31
func archivePath(before time.Time) string {
	return ExecutionPrefix + before.UTC().Format("2006-01-02")
}

// executionRecord is the archived JSON shape of one execution.
type executionRecord struct {
	ID          string      `json:"id"`
	Triangle    [3]string   `json:"triangle"`
	Policy      string      `json:"policy"`
	Status      string      `json:"status"`
	Initial     string      `json:"initial_amount"`
	AAmount     string      `json:"a_amount"`
	BAmount     string      `json:"b_amount"`
	Final       string      `json:"final_amount"`
	MakerFee    string      `json:"maker_fee"`
	TakerFee    string      `json:"taker_fee"`
	NetProfit   string      `json:"net_profit"`
	Legs        []legRecord `json:"legs"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

type legRecord struct {
	Index    int    `json:"index"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
	Accepted bool   `json:"accepted"`
	OrderID  string `json:"order_id,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func newExecutionRecord(e domain.ArbExecution) executionRecord {
	v := e.Verdict
	r := executionRecord{
		ID:          e.ID,
		Triangle:    [3]string{e.Triangle.QuoteA, e.Triangle.AB, e.Triangle.BQuote},
		Policy:      string(e.Policy),
		Status:      string(e.Status),
		Initial:     v.InitialAmount.String(),
		AAmount:     v.AAmount.String(),
		BAmount:     v.BAmount.String(),
		Final:       v.FinalAmount.String(),
		MakerFee:    v.MakerFeeAmount.String(),
		TakerFee:    v.TakerFeeAmount.String(),
		NetProfit:   v.NetProfit.String(),
		Legs:        make([]legRecord, 0, len(e.Legs)),
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
	}
	for _, l := range e.Legs {
		r.Legs = append(r.Legs, legRecord{
			Index:    l.Index,
			Symbol:   l.Request.Symbol,
			Side:     string(l.Request.Side),
			Quantity: l.Request.Quantity.String(),
			Price:    l.Request.Price.String(),
			Accepted: l.Result.Accepted,
			OrderID:  l.Result.ExchangeOrderID,
			Status:   string(l.Result.Status),
			Error:    l.Err,
		})
	}
	return r
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
