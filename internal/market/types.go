package market

import (
	"time"
)

// Market is per-tenant market metadata. Settings are opaque to the
// engine and interpreted by game clients only.
type Market struct {
	ID       int64
	Tenant   int64
	Name     string
	Settings Payload
}

// ItemBalance is one payload-keyed balance row. The (Tenant, Owner,
// MarketID, Hash) tuple is unique; Amount never drops below zero at a
// commit boundary.
type ItemBalance struct {
	Tenant   int64
	Owner    int64
	MarketID int64
	Name     string
	Payload  Payload
	Amount   int64
	Hash     string
}

// ItemDelta is one entry of a batch ledger update. Negative deltas are
// prechecked against the stored amounts before anything is applied.
type ItemDelta struct {
	Name    string
	Payload Payload
	Delta   int64
}

// Order is one live barter offer: the owner gives Available copies of
// "GiveAmount of (GiveItem, GivePayload)", each in exchange for
// "TakeAmount of (TakeItem, TakePayload)". While the order lives, the
// ledger escrow for it is exactly GiveAmount * Available.
type Order struct {
	ID          int64
	Tenant      int64
	Owner       int64
	MarketID    int64
	GiveItem    string
	GivePayload Payload
	GiveAmount  int64
	TakeItem    string
	TakePayload Payload
	TakeAmount  int64
	Available   int64
	Payload     Payload
	CreatedAt   time.Time
	Deadline    time.Time
}

// OrderRef identifies an order across tenants, for the reaper sweep.
type OrderRef struct {
	Tenant  int64
	OrderID int64
}

// NewOrder carries the fields of an order being posted.
type NewOrder struct {
	Tenant      int64
	Owner       int64
	MarketID    int64
	GiveItem    string
	GivePayload Payload
	GiveAmount  int64
	TakeItem    string
	TakePayload Payload
	TakeAmount  int64
	Available   int64
	Payload     Payload
	Deadline    time.Time
}

// OrderPatch holds the editable order fields. Fields priced into the
// escrow (give item, give amount, take amount, available) are not
// editable; changing them would desynchronize the escrowed goods.
type OrderPatch struct {
	TakeItem    *string
	TakePayload *Payload
	Payload     *Payload
	Deadline    *time.Time
}

// Comparator is an amount filter operator for order queries.
type Comparator string

const (
	CompLess      Comparator = "<"
	CompLessEqual Comparator = "<="
	CompEqual     Comparator = "="
	CompGreaterEq Comparator = ">="
	CompGreater   Comparator = ">"
)

// Valid reports whether c is one of the supported operators.
func (c Comparator) Valid() bool {
	switch c {
	case CompLess, CompLessEqual, CompEqual, CompGreaterEq, CompGreater:
		return true
	}
	return false
}

// AmountFilter filters a per-unit amount column.
type AmountFilter struct {
	Op    Comparator
	Value int64
}

// SortKey selects the primary sort column of an order query. The
// secondary key is always created_at descending.
type SortKey string

const (
	SortNone       SortKey = ""
	SortGiveAmount SortKey = "give_amount"
	SortTakeAmount SortKey = "take_amount"
)

// OrderQuery is a filtered, paginated order book query. Nil pointer
// fields are unset filters. Payload filters match by JSON containment:
// the stored payload must contain the filter subtree.
type OrderQuery struct {
	Tenant   int64
	MarketID int64

	Owner       *int64
	GiveItem    *string
	GivePayload Payload
	TakeItem    *string
	TakePayload Payload
	GiveAmount  *AmountFilter
	TakeAmount  *AmountFilter

	Sort     SortKey
	SortDesc bool

	Offset    int
	Limit     int
	WithTotal bool
}

// OrderPage is one page of query results. Total is filled only when the
// query asked for it.
type OrderPage struct {
	Orders []Order
	Total  int
}

// TransactionSide is one half of a journaled trade.
type TransactionSide struct {
	Item          string
	Payload       Payload
	Hash          string
	AmountPerUnit int64
	Owner         int64
}

// Transaction is one executed trade. Sides are stored canonically: the
// side whose item hash compares larger lexicographically sits in A, so
// symmetric lookups only ever probe one (A, B) hash pair.
type Transaction struct {
	ID       int64
	Tenant   int64
	MarketID int64
	Date     time.Time
	Amount   int64
	A        TransactionSide
	B        TransactionSide
}

// TradeRecord is the journal input before canonicalization: the give
// side is what the selling owner handed over per unit, the take side
// what they received per unit.
type TradeRecord struct {
	Tenant   int64
	MarketID int64
	Date     time.Time
	Amount   int64
	Give     TransactionSide
	Take     TransactionSide
}

// DailyAggregate is one day of trade history between two items, already
// mapped back to the caller's give/take orientation.
type DailyAggregate struct {
	Date       time.Time
	AvgGive    float64
	AvgTake    float64
	TotalUnits int64
}

// FulfillResult reports the outcome of a directed fulfillment. A nil
// *FulfillResult from the matcher means nothing happened: the order was
// absent, owned by the buyer, lacked availability, or the buyer could
// not pay.
type FulfillResult struct {
	OrderID   int64
	Completed bool
}

// MaxQueryLimit is the ceiling on order query pages.
const MaxQueryLimit = 1000

// MaxAggregateLimit is the ceiling on daily aggregate rows.
const MaxAggregateLimit = 100
