package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	cutoffs []time.Time
	n       int64
	err     error
}

func (f *fakeArchiver) ArchiveExecutions(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return f.n, f.err
}

func newTestArchiver(fa *fakeArchiver, now time.Time) *Archiver {
	a := NewArchiver(fa, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return now }
	return a
}

func TestArchiverRun_UsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 31, 3, 0, 0, 0, time.UTC)
	fa := &fakeArchiver{n: 7}
	a := newTestArchiver(fa, now)

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	require.Len(t, fa.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), fa.cutoffs[0])
}

func TestArchiverRun_PropagatesError(t *testing.T) {
	fa := &fakeArchiver{err: errors.New("s3 down")}
	a := newTestArchiver(fa, time.Now())

	_, err := a.Run(context.Background())
	assert.ErrorContains(t, err, "s3 down")
}

func TestRunCron_RejectsBadExpression(t *testing.T) {
	a := newTestArchiver(&fakeArchiver{}, time.Now())
	err := a.RunCron(context.Background(), "0 3 * *")
	assert.Error(t, err)
}

func TestRunCron_StopsOnCancel(t *testing.T) {
	a := newTestArchiver(&fakeArchiver{}, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.RunCron(ctx, "0 3 * * *")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCronNext(t *testing.T) {
	after := time.Date(2026, 1, 15, 10, 17, 30, 0, time.UTC) // a Thursday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2026, 1, 16, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"0 9-17/4 * * *", time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)},
		{"30 2 1 * *", time.Date(2026, 2, 1, 2, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 1, 18, 0, 0, 0, 0, time.UTC)},
		{"18,45 10 * * *", time.Date(2026, 1, 15, 10, 18, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := c.next(after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("0 3 * * *"))
	assert.Error(t, ValidateCron("60 3 * * *"))
	assert.Error(t, ValidateCron("0 3 * * 7"))
	assert.Error(t, ValidateCron("*/0 * * * *"))
	assert.Error(t, ValidateCron("a b c d e"))
	assert.Error(t, ValidateCron("5-1 * * * *"))
}
