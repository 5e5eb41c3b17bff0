package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AttemptRepository implements payment.Repository using PostgreSQL.
type AttemptRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool, tx: NewTxManager(pool)}
}

func (r *AttemptRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Save inserts the attempt and adds it to the daily totals in one
// transaction. A redelivered attempt leaves both untouched.
func (r *AttemptRepository) Save(ctx context.Context, a *payment.Attempt) error {
	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		tag, err := r.db(ctx).Exec(ctx,
			`INSERT INTO payment_attempts
			 (id, selection, broker, method, final_state, amount, transaction_id, reason, started_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)
			 ON CONFLICT (id) DO NOTHING`,
			a.ID, string(a.Selection), string(a.Broker), string(a.Method), string(a.FinalState),
			decimalToNumeric(a.Amount), a.TransactionID, a.Reason, a.StartedAt, a.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("insert payment attempt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		amount := "0.00"
		if a.Amount != nil {
			amount = *decimalToNumeric(a.Amount)
		}
		_, err = r.db(ctx).Exec(ctx,
			`INSERT INTO payment_daily_totals (day, final_state, attempts, amount)
			 VALUES ($1::date, $2, 1, $3::numeric)
			 ON CONFLICT (day, final_state) DO UPDATE SET
			   attempts = payment_daily_totals.attempts + 1,
			   amount   = payment_daily_totals.amount + EXCLUDED.amount`,
			a.FinishedAt.UTC().Format(time.DateOnly), string(a.FinalState), amount,
		)
		if err != nil {
			return fmt.Errorf("update daily totals: %w", err)
		}
		return nil
	})
}

// ListRecent lists attempts, most recently finished first.
func (r *AttemptRepository) ListRecent(ctx context.Context, f payment.ListFilter) ([]*payment.Attempt, error) {
	query := `SELECT id::text, selection, broker, method, final_state, amount::text,
	                 transaction_id, reason, started_at, finished_at
	          FROM payment_attempts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.State != nil {
		query += fmt.Sprintf(" AND final_state = $%d", argIdx)
		args = append(args, string(*f.State))
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query += fmt.Sprintf(" ORDER BY finished_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*payment.Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Totals returns the per-state totals of the given UTC day.
func (r *AttemptRepository) Totals(ctx context.Context, day time.Time) ([]payment.DailyTotal, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT day, final_state, attempts, amount::text
		 FROM payment_daily_totals WHERE day = $1::date ORDER BY final_state`,
		day.UTC().Format(time.DateOnly),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily totals: %w", err)
	}
	defer rows.Close()

	totals := []payment.DailyTotal{}
	for rows.Next() {
		var (
			t      payment.DailyTotal
			state  string
			amount string
		)
		if err := rows.Scan(&t.Day, &state, &t.Count, &amount); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		t.State = payment.State(state)
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse daily amount: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func scanAttempt(s scanner) (*payment.Attempt, error) {
	var (
		a                                payment.Attempt
		selection, broker, method, state string
		amount                           *string
	)
	if err := s.Scan(
		&a.ID, &selection, &broker, &method, &state, &amount,
		&a.TransactionID, &a.Reason, &a.StartedAt, &a.FinishedAt,
	); err != nil {
		return nil, fmt.Errorf("scan payment attempt: %w", err)
	}

	a.Selection = payment.Selection(selection)
	a.Broker = payment.Broker(broker)
	a.Method = payment.Method(method)
	a.FinalState = payment.State(state)

	parsed, err := numericToDecimal(amount)
	if err != nil {
		return nil, err
	}
	a.Amount = parsed
	return &a, nil
}
