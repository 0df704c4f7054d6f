package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anthill-platform/anthill-market/internal/clock"
	"github.com/anthill-platform/anthill-market/internal/metrics"
)

// DefaultReapInterval is how often the reaper sweeps when the
// configuration does not say otherwise.
const DefaultReapInterval = time.Minute

// Reaper cancels orders past their deadline. Each due order is deleted
// through the order service in its own transaction, so the owner gets
// the usual escrow refund and cancellation event, and one failing order
// does not block the rest of the sweep.
type Reaper struct {
	store    Store
	orders   *Orders
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates the deadline reaper.
func NewReaper(store Store, orders *Orders, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Reaper {
	if clk == nil {
		clk = clock.System{}
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:    store,
		orders:   orders,
		clock:    clk,
		interval: interval,
		logger:   logger.With("component", "reaper"),
	}
}

// Run sweeps on every tick until the context is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep cancels every order whose deadline has passed. Errors are
// logged per order and the sweep continues; an order already gone is
// not an error, another sweep or an explicit delete got there first.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.clock.Now()

	due, err := r.store.Orders().Due(ctx, now)
	if err != nil {
		r.logger.Error("failed to select due orders", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	r.logger.Info("sweeping due orders", "count", len(due))
	for _, ref := range due {
		err := r.orders.DeleteOrder(ctx, ref.Tenant, 0, ref.OrderID, 0, true, metrics.CancelExpired)
		if errors.Is(err, ErrOrderNotFound) {
			continue
		}
		if err != nil {
			r.logger.Error("failed to reap order",
				"tenant", ref.Tenant, "order", ref.OrderID, "error", err)
			continue
		}
		r.logger.Info("reaped due order", "tenant", ref.Tenant, "order", ref.OrderID)
	}
}
