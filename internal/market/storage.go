package market

import (
	"context"
	"time"
)

// Stores bundles the per-table repositories. The same set is reachable
// from the pooled handle (autocommit statements) and from a transaction
// context, so composed operations share one transaction handle.
type Stores interface {
	Items() ItemStore
	Orders() OrderStore
	Markets() MarketStore
	Transactions() TransactionStore
}

// Store is the root storage handle the services are built on.
type Store interface {
	Stores

	// WithTransaction runs fn inside a single database transaction.
	// A non-nil error from fn rolls back; otherwise the transaction
	// commits. Row locks taken through the Tx repositories are held
	// until then.
	WithTransaction(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes the repositories bound to one open transaction.
type Tx interface {
	Stores
}

// ItemStore persists payload-keyed balances. Missing rows read as nil,
// not as errors; callers decide whether absence is exceptional.
type ItemStore interface {
	Find(ctx context.Context, tenant, owner, marketID int64, hash string) (*ItemBalance, error)
	List(ctx context.Context, tenant, owner, marketID int64) ([]ItemBalance, error)

	// Add upserts the balance row and increments its amount by
	// balance.Amount.
	Add(ctx context.Context, balance ItemBalance) error

	// Subtract decrements the amount only when the stored amount is at
	// least the requested one, and reports whether a row was updated.
	Subtract(ctx context.Context, tenant, owner, marketID int64, hash string, amount int64) (bool, error)

	// LockBalances reads the given hashes under row locks and returns
	// hash -> amount for the rows that exist.
	LockBalances(ctx context.Context, tenant, owner, marketID int64, hashes []string) (map[string]int64, error)

	DeleteByMarket(ctx context.Context, tenant, marketID int64) error
	PurgeAccounts(ctx context.Context, tenant int64, accounts []int64, tenantOnly bool) error
}

// OrderStore persists the order book.
type OrderStore interface {
	Insert(ctx context.Context, o *Order) (int64, error)
	Get(ctx context.Context, tenant, orderID int64) (*Order, error)

	// Lock reads the order under a row lock; nil when absent.
	Lock(ctx context.Context, tenant, orderID int64) (*Order, error)

	// LockForFulfill locks the order only when it sits in the given
	// market, still has at least count available, and is not owned by
	// buyer. Nil when no such row.
	LockForFulfill(ctx context.Context, tenant, orderID, marketID, count, buyer int64) (*Order, error)

	// Candidates locks and returns the counter-orders compatible with
	// the subject on item names, per-unit amounts, and ownership,
	// ordered take_amount ASC, give_amount ASC, created_at DESC.
	// Payload compatibility is re-checked by the matcher.
	Candidates(ctx context.Context, subject *Order) ([]Order, error)

	SetAvailable(ctx context.Context, tenant, orderID, available int64) error
	UpdateFields(ctx context.Context, tenant, owner, marketID, orderID int64, patch OrderPatch) (bool, error)
	Delete(ctx context.Context, tenant, orderID int64) error

	Query(ctx context.Context, q *OrderQuery) (*OrderPage, error)

	// Due returns references to every order whose deadline has passed.
	Due(ctx context.Context, now time.Time) ([]OrderRef, error)

	DeleteByMarket(ctx context.Context, tenant, marketID int64) error
	PurgeAccounts(ctx context.Context, tenant int64, accounts []int64, tenantOnly bool) error
}

// MarketStore persists market metadata.
type MarketStore interface {
	Insert(ctx context.Context, m *Market) (int64, error)
	FindByName(ctx context.Context, tenant int64, name string) (*Market, error)
	Get(ctx context.Context, tenant, marketID int64) (*Market, error)
	UpdateSettings(ctx context.Context, tenant, marketID int64, settings Payload) error
	Delete(ctx context.Context, tenant, marketID int64) error
	List(ctx context.Context, tenant int64) ([]Market, error)
}

// TransactionStore appends journal rows and serves the daily aggregates.
type TransactionStore interface {
	Insert(ctx context.Context, t *Transaction) (int64, error)

	// Aggregate groups journal rows for the canonical (hashA, hashB)
	// pair by day, newest day first.
	Aggregate(ctx context.Context, tenant, marketID int64, hashA, hashB string, limit int) ([]DailyAggregate, error)
}
