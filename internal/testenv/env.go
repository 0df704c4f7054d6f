// Package testenv assembles a full market engine over a temp-file
// SQLite database for tests: real storage, manual clock, recording
// notifier, isolated metrics.
package testenv

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthill-platform/anthill-market/internal/clock"
	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/metrics"
	"github.com/anthill-platform/anthill-market/internal/storage/relationaldb"
)

// Tenant is the gamespace most tests run in.
const Tenant int64 = 1

// Start is the instant the manual clock begins at.
var Start = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Env is one assembled engine instance.
type Env struct {
	T        *testing.T
	Ctx      context.Context
	Store    *relationaldb.Manager
	Clock    *clock.Manual
	Metrics  *metrics.Metrics
	Notifier *RecordingNotifier
	Ledger   *market.Ledger
	Orders   *market.Orders
	Journal  *market.Journal
	Matcher  *market.Matcher
	Registry *market.MarketRegistry
	Reaper   *market.Reaper
}

// New builds an Env on a fresh SQLite file under t.TempDir(). The store
// is closed when the test finishes.
func New(t *testing.T) *Env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	cfg := relationaldb.SQLiteConfig(filepath.Join(t.TempDir(), "market.db"))
	store, err := relationaldb.NewManager(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, store.Open(ctx))
	t.Cleanup(func() { store.Close() })

	clk := clock.NewManual(Start)
	met := metrics.New()
	notifier := NewRecordingNotifier()

	ledger := market.NewLedger(store, logger)
	journal := market.NewJournal(store, logger)
	orders := market.NewOrders(store, ledger, notifier, met, clk, 0, logger)
	matcher := market.NewMatcher(store, ledger, journal, notifier, met, clk, logger)
	reaper := market.NewReaper(store, orders, clk, 0, logger)

	registry, err := market.NewMarketRegistry(store, 0, logger)
	require.NoError(t, err)

	return &Env{
		T:        t,
		Ctx:      ctx,
		Store:    store,
		Clock:    clk,
		Metrics:  met,
		Notifier: notifier,
		Ledger:   ledger,
		Orders:   orders,
		Journal:  journal,
		Matcher:  matcher,
		Registry: registry,
		Reaper:   reaper,
	}
}

// CreateMarket creates a market and returns its metadata.
func (e *Env) CreateMarket(name string) *market.Market {
	e.T.Helper()
	_, err := e.Registry.Create(e.Ctx, Tenant, name, market.Payload{})
	require.NoError(e.T, err)
	m, err := e.Registry.FindByName(e.Ctx, Tenant, name)
	require.NoError(e.T, err)
	return m
}

// Give credits the owner with items, bypassing validation.
func (e *Env) Give(owner, marketID int64, item string, amount int64, payload market.Payload) {
	e.T.Helper()
	require.NoError(e.T, e.Ledger.Add(e.Ctx, e.Store, Tenant, owner, marketID, item, amount, payload))
}

// Balance reads a balance; an absent row reads as zero.
func (e *Env) Balance(owner, marketID int64, item string, payload market.Payload) int64 {
	e.T.Helper()
	amount, err := e.Ledger.GetBalance(e.Ctx, Tenant, owner, marketID, item, payload)
	if market.KindOf(err) == market.KindNotFound {
		return 0
	}
	require.NoError(e.T, err)
	return amount
}

// RequireBalance asserts an owner's balance of an item.
func (e *Env) RequireBalance(owner, marketID int64, item string, payload market.Payload, expected int64) {
	e.T.Helper()
	require.Equal(e.T, expected, e.Balance(owner, marketID, item, payload),
		"balance of %q for owner %d", item, owner)
}

// PostOrder posts an order with a one-hour deadline and escrow taken,
// without running the matcher.
func (e *Env) PostOrder(owner, marketID int64, giveItem string, giveAmount int64, givePayload market.Payload,
	takeItem string, takeAmount int64, takePayload market.Payload, available int64) int64 {
	e.T.Helper()

	id, err := e.Orders.PostOrder(e.Ctx, market.NewOrder{
		Tenant:      Tenant,
		Owner:       owner,
		MarketID:    marketID,
		GiveItem:    giveItem,
		GivePayload: givePayload,
		GiveAmount:  giveAmount,
		TakeItem:    takeItem,
		TakePayload: takePayload,
		TakeAmount:  takeAmount,
		Available:   available,
		Payload:     market.Payload{},
		Deadline:    e.Clock.Now().Add(time.Hour),
	}, true)
	require.NoError(e.T, err)
	return id
}

// PostAndMatch posts an order and runs the matcher, the way the API
// does. Returns the order id and whether it filled immediately.
func (e *Env) PostAndMatch(owner, marketID int64, giveItem string, giveAmount int64, givePayload market.Payload,
	takeItem string, takeAmount int64, takePayload market.Payload, available int64) (int64, bool) {
	e.T.Helper()

	id := e.PostOrder(owner, marketID, giveItem, giveAmount, givePayload, takeItem, takeAmount, takePayload, available)
	matched, err := e.Matcher.MatchOrder(e.Ctx, Tenant, marketID, id)
	require.NoError(e.T, err)
	return id, matched
}

// TotalHoldings sums what the given owners hold of an item plus the
// escrow of every live order giving that item. Trades move goods
// around; this total only changes when items are minted or burned.
func (e *Env) TotalHoldings(marketID int64, item string, payload market.Payload, owners ...int64) int64 {
	e.T.Helper()

	hash, err := market.ItemHash(item, payload)
	require.NoError(e.T, err)

	var total int64
	for _, owner := range owners {
		total += e.Balance(owner, marketID, item, payload)
	}

	page, err := e.Orders.Query(e.Ctx, &market.OrderQuery{
		Tenant:   Tenant,
		MarketID: marketID,
		Limit:    market.MaxQueryLimit,
	})
	require.NoError(e.T, err)

	for _, o := range page.Orders {
		orderHash, err := market.ItemHash(o.GiveItem, o.GivePayload)
		require.NoError(e.T, err)
		if orderHash == hash {
			total += o.GiveAmount * o.Available
		}
	}
	return total
}
