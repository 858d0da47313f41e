// Package pipeline runs background maintenance next to the trading loop:
// moving old execution history to cold storage on a cron schedule.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// Archiver exports executions older than the retention window to object
// storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a single archive pass and returns the number of executions
// archived.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveExecutions(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("archiving executions before %v: %w", cutoff, err)
	}
	a.logger.Info("archive run complete", slog.Int64("executions_archived", n))
	return n, nil
}

// RunCron runs the archiver on a 5-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
// Example: "0 3 * * *" runs daily at 03:00 UTC.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := cron.next(a.now())
		if err != nil {
			return fmt.Errorf("cron %q: %w", cronExpr, err)
		}
		wait := next.Sub(a.now())
		a.logger.Debug("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ValidateCron reports whether expr is a schedule RunCron accepts.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

// cronField matches one field of a cron expression. A nil set means "*".
type cronField struct {
	set map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.set == nil || f.set[v]
}

// parseCronField parses "*", "*/n", "a", "a-b", "a-b/n" and comma lists of
// those, bounded to [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}
	set := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if rng, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", part)
			}
			step, part = n, rng
		}

		from, to := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var errA, errB error
			from, errA = strconv.Atoi(a)
			to, errB = strconv.Atoi(b)
			if errA != nil || errB != nil {
				return cronField{}, fmt.Errorf("invalid range %q", part)
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("value %q out of range [%d,%d]", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			set[v] = true
		}
	}
	return cronField{set: set}, nil
}

type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return parsedCron{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// next returns the first minute strictly after 'after' that matches,
// searching up to one year ahead.
func (c parsedCron) next(after time.Time) (time.Time, error) {
	candidate := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within one year")
}
