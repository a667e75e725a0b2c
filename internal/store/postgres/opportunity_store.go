package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamsturg/sturgtrader-sub001/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, pair, buy_exchange, sell_exchange, buy_price, sell_price,
	spread_pct, profit_pct, profit_usd, max_size, confidence, status,
	detected_at, executed_at, failure_reason,
	compensation_attempted, compensation_done, realized_profit_usd`

// Insert stores a newly detected opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, pair, buy_exchange, sell_exchange, buy_price, sell_price,
			spread_pct, profit_pct, profit_usd, max_size, confidence, status,
			detected_at, executed_at, failure_reason,
			compensation_attempted, compensation_done, realized_profit_usd
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18
		)`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.Pair.Symbol(), opp.BuyExchange, opp.SellExchange, opp.BuyPrice, opp.SellPrice,
		opp.SpreadPct, opp.ProfitPct, opp.ProfitUSD, opp.MaxSize, opp.Confidence, string(opp.Status),
		opp.DetectedAt, opp.ExecutedAt, opp.FailureReason,
		opp.CompensationAttempted, opp.CompensationDone, opp.RealizedProfitUSD,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// UpdateOutcome records the terminal state of an executed or failed
// opportunity.
func (s *OpportunityStore) UpdateOutcome(ctx context.Context, opp domain.ArbitrageOpportunity) error {
	const query = `
		UPDATE opportunities SET
			status                 = $2,
			executed_at            = $3,
			failure_reason         = $4,
			compensation_attempted = $5,
			compensation_done      = $6,
			realized_profit_usd    = $7
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		opp.ID, string(opp.Status), opp.ExecutedAt, opp.FailureReason,
		opp.CompensationAttempted, opp.CompensationDone, opp.RealizedProfitUSD,
	)
	if err != nil {
		return fmt.Errorf("postgres: update opportunity %s: %w", opp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recent opportunities ordered by detection
// time. A non-positive limit returns everything.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM opportunities ORDER BY detected_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.ArbitrageOpportunity
	for rows.Next() {
		var (
			opp    domain.ArbitrageOpportunity
			pair   string
			status string
		)
		err := rows.Scan(
			&opp.ID, &pair, &opp.BuyExchange, &opp.SellExchange, &opp.BuyPrice, &opp.SellPrice,
			&opp.SpreadPct, &opp.ProfitPct, &opp.ProfitUSD, &opp.MaxSize, &opp.Confidence, &status,
			&opp.DetectedAt, &opp.ExecutedAt, &opp.FailureReason,
			&opp.CompensationAttempted, &opp.CompensationDone, &opp.RealizedProfitUSD,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		if p, ok := domain.ParsePair(pair); ok {
			opp.Pair = p
		}
		opp.Status = domain.OpportunityStatus(status)
		out = append(out, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate opportunities: %w", err)
	}
	return out, nil
}
