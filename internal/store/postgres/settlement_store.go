package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forecasthq/marketd/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. A
// settlement commits the pool reserve move, the market price update, the
// trade record, and the position upsert in one transaction, so a crash or
// conflict leaves no partial state behind.
type SettlementStore struct {
	pool *pgxpool.Pool
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

// NewSettlementStore creates a new SettlementStore backed by the given
// connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// SettleTrade applies a quoted trade atomically.
//
// The pool row is locked FOR UPDATE for the duration of the transaction, and
// its version must still equal expectedVersion (the version the quote was
// computed against); otherwise ErrStaleVersion is returned and the caller
// should re-quote against fresh reserves. The trade's TxHash is unique, so a
// replayed submission fails with ErrAlreadyExists instead of double-settling.
func (s *SettlementStore) SettleTrade(ctx context.Context, trade domain.Trade, quote domain.Quote, expectedVersion int64) (domain.SettlementResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the pool row so concurrent settlements on this market serialise.
	pool, err := lockPool(ctx, tx, trade.MarketID)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if pool.Version != expectedVersion {
		return domain.SettlementResult{}, domain.ErrStaleVersion
	}

	market, err := lockMarket(ctx, tx, trade.MarketID)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if market.Status != domain.MarketStatusActive {
		return domain.SettlementResult{}, fmt.Errorf("postgres: market %s: %w", trade.MarketID, domain.ErrMarketClosed)
	}

	now := time.Now().UTC()

	// Trade record. TxHash uniqueness is the idempotency barrier.
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	trade.Status = domain.TradeStatusConfirmed
	trade.CreatedAt = now
	if err := insertTrade(ctx, tx, trade); err != nil {
		return domain.SettlementResult{}, err
	}

	// Position upsert with volume-weighted average entry price.
	position, err := applyToPosition(ctx, tx, trade, now)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	// Pool reserves move to the quoted values; fees accrue to the pool.
	// Volume counts the full quoted total, fee included.
	pool.YesReserve = quote.NewYesReserve
	pool.NoReserve = quote.NewNoReserve
	pool.TotalVolume += quote.Total
	pool.FeeRewards += quote.Fee
	pool.Version++
	pool.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		UPDATE pools
		SET yes_reserve = $2, no_reserve = $3, total_volume = $4,
		    fee_rewards = $5, version = $6, updated_at = $7
		WHERE market_id = $1`,
		pool.MarketID, pool.YesReserve, pool.NoReserve, pool.TotalVolume,
		pool.FeeRewards, pool.Version, now,
	); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: update pool %s: %w", pool.MarketID, err)
	}

	// Market carries the implied prices for cheap reads.
	market.YesPrice = quote.NewYesPrice
	market.NoPrice = quote.NewNoPrice
	market.TotalVolume += quote.Total
	market.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
		UPDATE markets
		SET yes_price = $2, no_price = $3, total_volume = $4, updated_at = $5
		WHERE id = $1`,
		market.ID, market.YesPrice, market.NoPrice, market.TotalVolume, now,
	); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: update market %s: %w", market.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: commit settlement: %w", err)
	}

	return domain.SettlementResult{
		Trade:    trade,
		Pool:     pool,
		Market:   market,
		Position: position,
	}, nil
}

func lockPool(ctx context.Context, tx pgx.Tx, marketID string) (domain.LiquidityPool, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE market_id = $1 FOR UPDATE`, marketID)
	p, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LiquidityPool{}, domain.ErrNotFound
		}
		return domain.LiquidityPool{}, fmt.Errorf("postgres: lock pool %s: %w", marketID, err)
	}
	return p, nil
}

func lockMarket(ctx context.Context, tx pgx.Tx, id string) (domain.Market, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: lock market %s: %w", id, err)
	}
	return m, nil
}

func insertTrade(ctx context.Context, tx pgx.Tx, t domain.Trade) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO trades (
			id, wallet, market_id, outcome, side, quantity,
			price, cost, fee, total, tx_hash, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tx_hash) DO NOTHING`,
		t.ID, t.Wallet, t.MarketID, string(t.Outcome), string(t.Side), t.Quantity,
		t.Price, t.Cost, t.Fee, t.Total, t.TxHash, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: trade with tx_hash %s: %w", t.TxHash, domain.ErrAlreadyExists)
	}
	return nil
}

// applyToPosition folds the trade into the wallet's position for the traded
// outcome. Buys grow the position and re-average the entry price; sells
// require sufficient held quantity and realise P&L against the entry price.
func applyToPosition(ctx context.Context, tx pgx.Tx, t domain.Trade, now time.Time) (domain.Position, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE wallet = $1 AND market_id = $2 AND outcome = $3
		 FOR UPDATE`,
		t.Wallet, t.MarketID, string(t.Outcome),
	)
	pos, err := scanPosition(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if t.Side == domain.TradeSideSell {
			return domain.Position{}, fmt.Errorf("postgres: no position for %s in %s: %w",
				t.Wallet, t.MarketID, domain.ErrInsufficientPosition)
		}
		pos = domain.Position{
			ID:        uuid.NewString(),
			Wallet:    t.Wallet,
			MarketID:  t.MarketID,
			Outcome:   t.Outcome,
			Quantity:  t.Quantity,
			AvgPrice:  t.Price,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO positions (
				id, wallet, market_id, outcome, quantity, avg_price,
				realized_pnl, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`,
			pos.ID, pos.Wallet, pos.MarketID, string(pos.Outcome),
			pos.Quantity, pos.AvgPrice, now,
		); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: insert position: %w", err)
		}
		return pos, nil
	case err != nil:
		return domain.Position{}, fmt.Errorf("postgres: lock position: %w", err)
	}

	if t.Side == domain.TradeSideBuy {
		newQty := pos.Quantity + t.Quantity
		pos.AvgPrice = (pos.AvgPrice*pos.Quantity + t.Price*t.Quantity) / newQty
		pos.Quantity = newQty
	} else {
		if pos.Quantity < t.Quantity {
			return domain.Position{}, fmt.Errorf("postgres: held %v, selling %v: %w",
				pos.Quantity, t.Quantity, domain.ErrInsufficientPosition)
		}
		pos.Quantity -= t.Quantity
		pos.RealizedPnL += (t.Price - pos.AvgPrice) * t.Quantity
	}
	pos.UpdatedAt = now

	if _, err := tx.Exec(ctx, `
		UPDATE positions
		SET quantity = $2, avg_price = $3, realized_pnl = $4, updated_at = $5
		WHERE id = $1`,
		pos.ID, pos.Quantity, pos.AvgPrice, pos.RealizedPnL, now,
	); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: update position: %w", err)
	}
	return pos, nil
}
