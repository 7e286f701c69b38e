package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forecasthq/marketd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Positions
// are written only by SettlementStore, inside the settlement transaction.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, wallet, market_id, outcome, quantity, avg_price,
	realized_pnl, created_at, updated_at`

// scanPosition scans a single position row into a domain.Position.
func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var outcome string
	err := row.Scan(
		&p.ID, &p.Wallet, &p.MarketID, &outcome, &p.Quantity, &p.AvgPrice,
		&p.RealizedPnL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Outcome = domain.Outcome(outcome)
	return p, nil
}

// Get retrieves a position by its (wallet, market, outcome) key.
func (s *PositionStore) Get(ctx context.Context, wallet, marketID string, outcome domain.Outcome) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE wallet = $1 AND market_id = $2 AND outcome = $3`,
		wallet, marketID, string(outcome),
	)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s/%s: %w", wallet, marketID, outcome, err)
	}
	return p, nil
}

// ListByWallet returns all of a wallet's positions with open quantity.
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE wallet = $1 AND quantity > 0
		 ORDER BY updated_at DESC`,
		wallet,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", wallet, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListByMarket returns a market's open positions, largest first.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions
		WHERE market_id = $1 AND quantity > 0
		ORDER BY quantity DESC`
	args := []any{marketID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s: %w", marketID, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}
