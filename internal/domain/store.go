package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets.
type MarketStore interface {
	// CreateWithPool inserts a market and its liquidity pool atomically.
	CreateWithPool(ctx context.Context, m Market, p LiquidityPool) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, status MarketStatus, category string, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
	// Resolve marks a market resolved with the winning outcome and the
	// operator's attestation signature.
	Resolve(ctx context.Context, id string, outcome Outcome, attestation string) error
}

// PoolStore persists liquidity pools. Update performs a compare-and-swap on
// the pool Version and returns ErrStaleVersion when the row moved underneath
// the caller.
type PoolStore interface {
	GetByMarket(ctx context.Context, marketID string) (LiquidityPool, error)
	Update(ctx context.Context, p LiquidityPool) (LiquidityPool, error)
}

// TradeStore reads the append-only trade log. Inserts happen only through
// SettlementStore so a trade row can never exist without its pool and
// position effects.
type TradeStore interface {
	GetByID(ctx context.Context, id string) (Trade, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Trade, error)
	// ListBefore and DeleteBefore support archiving old trades to cold
	// storage.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore reads positions. Writes happen only through SettlementStore.
type PositionStore interface {
	Get(ctx context.Context, wallet, marketID string, outcome Outcome) (Position, error)
	ListByWallet(ctx context.Context, wallet string) ([]Position, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Position, error)
}

// SettlementResult is the post-settlement state of everything a trade touched.
type SettlementResult struct {
	Trade    Trade
	Pool     LiquidityPool
	Market   Market
	Position Position
}

// SettlementStore applies a quoted trade in a single atomic transaction:
// pool reserves, market prices, the trade record, and the position upsert
// either all commit or none do. Implementations must serialise settlements
// per pool (row lock or equivalent) so concurrent trades never act on the
// same reserve snapshot.
//
// Returns ErrAlreadyExists when the trade's TxHash was seen before,
// ErrInsufficientPosition when a sell exceeds the held quantity, and
// ErrStaleVersion when the pool no longer matches quote's expected version.
type SettlementStore interface {
	SettleTrade(ctx context.Context, trade Trade, quote Quote, expectedVersion int64) (SettlementResult, error)
}
