package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// Decimal columns travel as text in both directions so no precision is lost
// between shopspring/decimal and NUMERIC.
const selectExecutions = `
	SELECT id, quote_a, a_b, b_quote, policy,
	       initial_amount::text, a_amount::text, b_amount::text, final_amount::text,
	       maker_fee::text, taker_fee::text, net_profit::text,
	       status, started_at, completed_at
	FROM arb_executions`

// ArbExecutionStore implements domain.ArbExecutionStore using PostgreSQL.
type ArbExecutionStore struct {
	pool *pgxpool.Pool
}

// NewArbExecutionStore creates a new ArbExecutionStore.
func NewArbExecutionStore(pool *pgxpool.Pool) *ArbExecutionStore {
	return &ArbExecutionStore{pool: pool}
}

// Create inserts an execution and its legs in one transaction.
func (s *ArbExecutionStore) Create(ctx context.Context, exec domain.ArbExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	v := exec.Verdict
	_, err = tx.Exec(ctx, `
		INSERT INTO arb_executions (id, quote_a, a_b, b_quote, policy,
			initial_amount, a_amount, b_amount, final_amount, maker_fee, taker_fee, net_profit,
			status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5,
			$6::text::numeric, $7::text::numeric, $8::text::numeric, $9::text::numeric,
			$10::text::numeric, $11::text::numeric, $12::text::numeric,
			$13, $14, $15)`,
		exec.ID, exec.Triangle.QuoteA, exec.Triangle.AB, exec.Triangle.BQuote, string(exec.Policy),
		v.InitialAmount.String(), v.AAmount.String(), v.BAmount.String(), v.FinalAmount.String(),
		v.MakerFeeAmount.String(), v.TakerFeeAmount.String(), v.NetProfit.String(),
		string(exec.Status), exec.StartedAt, nullTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arb_execution: %w", err)
	}

	batch := &pgx.Batch{}
	for _, leg := range exec.Legs {
		tif := leg.Request.TimeInForce
		if tif == "" {
			tif = domain.TimeInForceGTC
		}
		batch.Queue(`
			INSERT INTO arb_execution_legs (execution_id, leg_index, symbol, side, quantity, price,
				time_in_force, accepted, exchange_order_id, status, message, error)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8, $9, $10, $11, $12)`,
			exec.ID, leg.Index, leg.Request.Symbol, string(leg.Request.Side),
			leg.Request.Quantity.String(), leg.Request.Price.String(), string(tif),
			leg.Result.Accepted, leg.Result.ExchangeOrderID, string(leg.Result.Status),
			leg.Result.Message, leg.Err,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert arb_execution_legs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit arb_execution: %w", err)
	}
	return nil
}

// GetByID returns an execution with its legs.
func (s *ArbExecutionStore) GetByID(ctx context.Context, id string) (domain.ArbExecution, error) {
	exec, err := scanExecution(s.pool.QueryRow(ctx, selectExecutions+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbExecution{}, fmt.Errorf("postgres: arb_execution %s: %w", id, domain.ErrNotFound)
		}
		return domain.ArbExecution{}, fmt.Errorf("postgres: get arb_execution %s: %w", id, err)
	}

	list := []domain.ArbExecution{exec}
	if err := s.attachLegs(ctx, list); err != nil {
		return domain.ArbExecution{}, err
	}
	return list[0], nil
}

// ListRecent returns the most recent executions, newest first.
func (s *ArbExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, selectExecutions+` ORDER BY started_at DESC LIMIT $1`, limit)
}

// ListBefore returns every execution started before the cutoff, oldest
// first.
func (s *ArbExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbExecution, error) {
	return s.list(ctx, selectExecutions+` WHERE started_at < $1 ORDER BY started_at`, before)
}

// DeleteBefore removes executions started before the cutoff. Legs go with
// them through the foreign key cascade.
func (s *ArbExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM arb_executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete arb_executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *ArbExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.ArbExecution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions: %w", err)
	}
	defer rows.Close()

	list := []domain.ArbExecution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan arb_execution: %w", err)
		}
		list = append(list, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions rows: %w", err)
	}
	rows.Close()

	if err := s.attachLegs(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// attachLegs loads the legs of every execution in list with one query.
func (s *ArbExecutionStore) attachLegs(ctx context.Context, list []domain.ArbExecution) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	byID := make(map[string]int, len(list))
	for i, e := range list {
		ids[i] = e.ID
		byID[e.ID] = i
	}

	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, leg_index, symbol, side, quantity::text, price::text, time_in_force,
		       accepted, exchange_order_id, status, message, error
		FROM arb_execution_legs WHERE execution_id = ANY($1) ORDER BY execution_id, leg_index`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("postgres: get arb_execution_legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			execID, side, qty, price, tif, status string
			leg                                   domain.ArbLeg
		)
		if err := rows.Scan(&execID, &leg.Index, &leg.Request.Symbol, &side, &qty, &price, &tif,
			&leg.Result.Accepted, &leg.Result.ExchangeOrderID, &status, &leg.Result.Message, &leg.Err); err != nil {
			return fmt.Errorf("postgres: scan arb_execution_leg: %w", err)
		}
		leg.Request.Side = domain.OrderSide(side)
		leg.Request.TimeInForce = domain.TimeInForce(tif)
		leg.Result.Status = domain.OrderStatus(status)
		if leg.Request.Quantity, err = decimal.NewFromString(qty); err != nil {
			return fmt.Errorf("postgres: leg quantity %q: %w", qty, err)
		}
		if leg.Request.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("postgres: leg price %q: %w", price, err)
		}
		if i, ok := byID[execID]; ok {
			list[i].Legs = append(list[i].Legs, leg)
		}
	}
	return rows.Err()
}

func scanExecution(row pgx.Row) (domain.ArbExecution, error) {
	var (
		exec        domain.ArbExecution
		policy      string
		status      string
		completedAt *time.Time
		amounts     [7]string
	)
	err := row.Scan(&exec.ID, &exec.Triangle.QuoteA, &exec.Triangle.AB, &exec.Triangle.BQuote, &policy,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5], &amounts[6],
		&status, &exec.StartedAt, &completedAt,
	)
	if err != nil {
		return domain.ArbExecution{}, err
	}
	exec.Policy = domain.LegPolicy(policy)
	exec.Status = domain.ArbExecStatus(status)
	if completedAt != nil {
		exec.CompletedAt = *completedAt
	}

	v, err := verdictFromColumns(amounts)
	if err != nil {
		return domain.ArbExecution{}, err
	}
	exec.Verdict = v
	return exec, nil
}

// verdictFromColumns rebuilds the stored verdict from its text columns in
// table order: initial, a, b, final, maker fee, taker fee, net.
func verdictFromColumns(cols [7]string) (domain.Verdict, error) {
	var d [7]decimal.Decimal
	for i, c := range cols {
		v, err := decimal.NewFromString(c)
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("postgres: decimal column %d %q: %w", i, c, err)
		}
		d[i] = v
	}
	return domain.Verdict{
		Profitable:     d[6].IsPositive(),
		InitialAmount:  d[0],
		AAmount:        d[1],
		BAmount:        d[2],
		FinalAmount:    d[3],
		MakerFeeAmount: d[4],
		TakerFeeAmount: d[5],
		NetProfit:      d[6],
	}, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.ArbExecutionStore = (*ArbExecutionStore)(nil)
