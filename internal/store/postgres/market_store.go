package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forecasthq/marketd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, title, category, expires_at, status,
	yes_price, no_price, total_volume, resolution, attestation,
	created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	var resolution *string
	err := row.Scan(
		&m.ID, &m.Title, &m.Category, &m.ExpiresAt, &status,
		&m.YesPrice, &m.NoPrice, &m.TotalVolume, &resolution, &m.Attestation,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if resolution != nil {
		o := domain.Outcome(*resolution)
		m.Resolution = &o
	}
	return m, nil
}

// CreateWithPool inserts a market and its liquidity pool in one transaction,
// so a market can never exist without reserves to trade against.
func (s *MarketStore) CreateWithPool(ctx context.Context, m domain.Market, p domain.LiquidityPool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create market: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO markets (
			id, title, category, expires_at, status,
			yes_price, no_price, total_volume, attestation,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		m.ID, m.Title, m.Category, m.ExpiresAt, string(m.Status),
		m.YesPrice, m.NoPrice, m.TotalVolume, m.Attestation, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert market %s: %w", m.ID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pools (
			market_id, yes_reserve, no_reserve, k_constant, tvl,
			total_volume, fee_rate, fee_rewards, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, NOW())`,
		p.MarketID, p.YesReserve, p.NoReserve, p.KConstant, p.TVL,
		p.TotalVolume, p.FeeRate, p.FeeRewards, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert pool for %s: %w", m.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets filtered by status and/or category, newest first.
// Empty filter values match everything.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, category string, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	if category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, category)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Resolve marks a market resolved with the winning outcome and the operator's
// attestation. Only active or pending markets can be resolved.
func (s *MarketStore) Resolve(ctx context.Context, id string, outcome domain.Outcome, attestation string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE markets
		SET status = $2, resolution = $3, attestation = $4, updated_at = NOW()
		WHERE id = $1 AND status != $2`,
		id, string(domain.MarketStatusResolved), string(outcome), attestation,
	)
	if err != nil {
		return fmt.Errorf("postgres: resolve market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the market does not exist or it was already resolved.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: resolve market %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: market %s: %w", id, domain.ErrMarketClosed)
	}
	return nil
}
