package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/anthill-platform/anthill-market/internal/clock"
	"github.com/anthill-platform/anthill-market/internal/metrics"
)

// DefaultMaxOrderLifetime caps how far in the future an order deadline
// may sit when the configuration does not say otherwise.
const DefaultMaxOrderLifetime = 30 * 24 * time.Hour

// Orders is the order book service: posting with escrow, lookups and
// queries, the limited set of in-place edits, and cancellation with
// refund. Matching lives in the Matcher; it shares this service's
// store and ledger.
type Orders struct {
	store       Store
	ledger      *Ledger
	notifier    Notifier
	metrics     *metrics.Metrics
	clock       clock.Clock
	maxLifetime time.Duration
	logger      *slog.Logger
}

// NewOrders creates the order book service. A zero maxLifetime falls
// back to DefaultMaxOrderLifetime.
func NewOrders(store Store, ledger *Ledger, notifier Notifier, met *metrics.Metrics, clk clock.Clock, maxLifetime time.Duration, logger *slog.Logger) *Orders {
	if clk == nil {
		clk = clock.System{}
	}
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxOrderLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orders{
		store:       store,
		ledger:      ledger,
		notifier:    notifier,
		metrics:     met,
		clock:       clk,
		maxLifetime: maxLifetime,
		logger:      logger.With("component", "orders"),
	}
}

func (s *Orders) validateNewOrder(n *NewOrder, now time.Time) error {
	if n.GiveItem == "" {
		return NewValidationError("give item is required")
	}
	if n.TakeItem == "" {
		return NewValidationError("take item is required")
	}
	if n.GiveAmount < 1 {
		return NewValidationError("give amount must be at least 1")
	}
	if n.TakeAmount < 1 {
		return NewValidationError("take amount must be at least 1")
	}
	if n.Available < 1 {
		return NewValidationError("orders amount must be at least 1")
	}
	if !n.Deadline.After(now) {
		return NewValidationError("order deadline must be in the future")
	}
	if n.Deadline.After(now.Add(s.maxLifetime)) {
		return NewValidationError("order deadline is too far in the future")
	}
	return nil
}

// PostOrder validates and inserts a new order. When subtractItems is
// set, the escrow of give_amount * available is taken from the owner's
// balance in the same transaction; an uncovered escrow fails with
// Insufficient and nothing is posted.
func (s *Orders) PostOrder(ctx context.Context, n NewOrder, subtractItems bool) (int64, error) {
	now := s.clock.Now()
	if err := s.validateNewOrder(&n, now); err != nil {
		return 0, err
	}

	var orderID int64
	err := s.store.WithTransaction(ctx, func(tx Tx) error {
		if subtractItems {
			escrow := n.GiveAmount * n.Available
			subtracted, err := s.ledger.Subtract(ctx, tx, n.Tenant, n.Owner, n.MarketID, n.GiveItem, escrow, n.GivePayload)
			if err != nil {
				return err
			}
			if !subtracted {
				return ErrNotEnoughItems
			}
		}

		order := &Order{
			Tenant:      n.Tenant,
			Owner:       n.Owner,
			MarketID:    n.MarketID,
			GiveItem:    n.GiveItem,
			GivePayload: n.GivePayload,
			GiveAmount:  n.GiveAmount,
			TakeItem:    n.TakeItem,
			TakePayload: n.TakePayload,
			TakeAmount:  n.TakeAmount,
			Available:   n.Available,
			Payload:     n.Payload,
			CreatedAt:   now,
			Deadline:    n.Deadline,
		}

		id, err := tx.Orders().Insert(ctx, order)
		if err != nil {
			return NewStorageError("failed to insert order", err)
		}
		orderID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.OrderPosted()
	s.logger.Info("order posted",
		"tenant", n.Tenant, "owner", n.Owner, "market", n.MarketID,
		"order", orderID, "available", n.Available)
	return orderID, nil
}

// GetOrder returns the order by id.
func (s *Orders) GetOrder(ctx context.Context, tenant, orderID int64) (*Order, error) {
	order, err := s.store.Orders().Get(ctx, tenant, orderID)
	if err != nil {
		return nil, NewStorageError("failed to query order", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListAccountOrders returns the account's own orders in a market.
func (s *Orders) ListAccountOrders(ctx context.Context, tenant, owner, marketID int64) ([]Order, error) {
	page, err := s.Query(ctx, &OrderQuery{
		Tenant:   tenant,
		MarketID: marketID,
		Owner:    &owner,
		Limit:    MaxQueryLimit,
	})
	if err != nil {
		return nil, err
	}
	return page.Orders, nil
}

// Query runs a filtered order book query. The page limit is clamped to
// MaxQueryLimit and amount comparators are validated up front.
func (s *Orders) Query(ctx context.Context, q *OrderQuery) (*OrderPage, error) {
	if q.GiveAmount != nil && !q.GiveAmount.Op.Valid() {
		return nil, NewValidationError("invalid give amount comparator %q", q.GiveAmount.Op)
	}
	if q.TakeAmount != nil && !q.TakeAmount.Op.Valid() {
		return nil, NewValidationError("invalid take amount comparator %q", q.TakeAmount.Op)
	}
	if q.Offset < 0 {
		return nil, NewValidationError("offset must not be negative")
	}
	if q.Limit <= 0 || q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}

	page, err := s.store.Orders().Query(ctx, q)
	if err != nil {
		return nil, NewStorageError("failed to query orders", err)
	}
	return page, nil
}

// UpdateOrder edits the editable fields of the caller's order. Fields
// priced into the escrow are not part of OrderPatch; transports reject
// them before building a patch.
func (s *Orders) UpdateOrder(ctx context.Context, tenant, owner, marketID, orderID int64, patch OrderPatch) error {
	if patch.TakeItem == nil && patch.TakePayload == nil && patch.Payload == nil && patch.Deadline == nil {
		return NewValidationError("nothing to update")
	}
	if patch.TakeItem != nil && *patch.TakeItem == "" {
		return NewValidationError("take item must not be empty")
	}
	if patch.Deadline != nil {
		now := s.clock.Now()
		if !patch.Deadline.After(now) {
			return NewValidationError("order deadline must be in the future")
		}
		if patch.Deadline.After(now.Add(s.maxLifetime)) {
			return NewValidationError("order deadline is too far in the future")
		}
	}

	updated, err := s.store.Orders().UpdateFields(ctx, tenant, owner, marketID, orderID, patch)
	if err != nil {
		return NewStorageError("failed to update order", err)
	}
	if !updated {
		return ErrOrderNotFound
	}

	s.logger.Info("order updated",
		"tenant", tenant, "owner", owner, "market", marketID, "order", orderID)
	return nil
}

// DeleteOrder cancels an order: the remaining escrow of
// give_amount * available is refunded to the owner, the row is removed,
// and an order_cancelled event goes out after commit. A non-zero
// marketID asserts the order belongs to that market; requester must be
// the owner unless elevated. The reason labels the cancellation metric.
func (s *Orders) DeleteOrder(ctx context.Context, tenant, marketID, orderID, requester int64, elevated bool, reason string) error {
	var cancelled *Order

	err := s.store.WithTransaction(ctx, func(tx Tx) error {
		order, err := tx.Orders().Lock(ctx, tenant, orderID)
		if err != nil {
			return NewStorageError("failed to lock order", err)
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if marketID != 0 && order.MarketID != marketID {
			return NewForbiddenError("order belongs to a different market")
		}
		if !elevated && order.Owner != requester {
			return NewForbiddenError("order belongs to a different account")
		}

		refund := order.GiveAmount * order.Available
		if refund > 0 {
			if err := s.ledger.Add(ctx, tx, tenant, order.Owner, order.MarketID, order.GiveItem, refund, order.GivePayload); err != nil {
				return err
			}
		}

		if err := tx.Orders().Delete(ctx, tenant, orderID); err != nil {
			return NewStorageError("failed to delete order", err)
		}

		cancelled = order
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.OrderCancelled(reason)
	s.logger.Info("order cancelled",
		"tenant", tenant, "order", orderID, "owner", cancelled.Owner, "reason", reason)
	s.send(ctx, orderCancelled(cancelled))
	return nil
}

// PurgeAccounts drops every order owned by the deleted accounts. No
// refunds are made; the owning accounts no longer exist.
func (s *Orders) PurgeAccounts(ctx context.Context, tenant int64, accounts []int64, tenantOnly bool) error {
	if err := s.store.Orders().PurgeAccounts(ctx, tenant, accounts, tenantOnly); err != nil {
		return NewStorageError("failed to purge account orders", err)
	}
	return nil
}

func (s *Orders) send(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, n); err != nil {
		s.logger.Error("failed to deliver notification",
			"kind", n.Kind, "recipient", n.RecipientKey, "error", err)
	}
}
