package market_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/testenv"
)

func TestPostOrderValidation(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("main")
	env.Give(alice, m.ID, "bread", 100, nil)

	base := func() market.NewOrder {
		return market.NewOrder{
			Tenant:     testenv.Tenant,
			Owner:      alice,
			MarketID:   m.ID,
			GiveItem:   "bread",
			GiveAmount: 1,
			TakeItem:   "coin",
			TakeAmount: 1,
			Available:  1,
			Deadline:   env.Clock.Now().Add(time.Hour),
		}
	}

	cases := []struct {
		name   string
		mutate func(*market.NewOrder)
	}{
		{"empty give item", func(n *market.NewOrder) { n.GiveItem = "" }},
		{"empty take item", func(n *market.NewOrder) { n.TakeItem = "" }},
		{"zero give amount", func(n *market.NewOrder) { n.GiveAmount = 0 }},
		{"negative take amount", func(n *market.NewOrder) { n.TakeAmount = -1 }},
		{"zero available", func(n *market.NewOrder) { n.Available = 0 }},
		{"deadline in the past", func(n *market.NewOrder) { n.Deadline = env.Clock.Now().Add(-time.Minute) }},
		{"deadline too far out", func(n *market.NewOrder) { n.Deadline = env.Clock.Now().Add(31 * 24 * time.Hour) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := base()
			tc.mutate(&n)
			_, err := env.Orders.PostOrder(env.Ctx, n, true)
			assert.Equal(t, market.KindValidation, market.KindOf(err))
		})
	}

	// The valid baseline goes through.
	_, err := env.Orders.PostOrder(env.Ctx, base(), true)
	require.NoError(t, err)
}

func TestUpdateOrder(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("main")
	env.Give(alice, m.ID, "bread", 5, nil)

	orderID := env.PostOrder(alice, m.ID, "bread", 5, nil, "coin", 3, nil, 1)

	newTake := "gold"
	newDeadline := env.Clock.Now().Add(30 * time.Minute)
	err := env.Orders.UpdateOrder(env.Ctx, testenv.Tenant, alice, m.ID, orderID, market.OrderPatch{
		TakeItem: &newTake,
		Deadline: &newDeadline,
	})
	require.NoError(t, err)

	order, err := env.Orders.GetOrder(env.Ctx, testenv.Tenant, orderID)
	require.NoError(t, err)
	assert.Equal(t, "gold", order.TakeItem)
	assert.Equal(t, newDeadline.Unix(), order.Deadline.Unix())

	// An empty patch is a caller bug.
	err = env.Orders.UpdateOrder(env.Ctx, testenv.Tenant, alice, m.ID, orderID, market.OrderPatch{})
	assert.Equal(t, market.KindValidation, market.KindOf(err))

	// Take item cannot be blanked.
	empty := ""
	err = env.Orders.UpdateOrder(env.Ctx, testenv.Tenant, alice, m.ID, orderID, market.OrderPatch{TakeItem: &empty})
	assert.Equal(t, market.KindValidation, market.KindOf(err))

	// A past deadline is rejected.
	past := env.Clock.Now().Add(-time.Minute)
	err = env.Orders.UpdateOrder(env.Ctx, testenv.Tenant, alice, m.ID, orderID, market.OrderPatch{Deadline: &past})
	assert.Equal(t, market.KindValidation, market.KindOf(err))

	// Another account cannot edit the order.
	err = env.Orders.UpdateOrder(env.Ctx, testenv.Tenant, bob, m.ID, orderID, market.OrderPatch{TakeItem: &newTake})
	assert.ErrorIs(t, err, market.ErrOrderNotFound)
}

func TestQueryOrders(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("main")

	env.Give(alice, m.ID, "bread", 100, nil)
	env.Give(bob, m.ID, "bread", 100, market.Payload{"kind": "rye"})

	// Three bread orders at different prices, one rye order.
	env.PostOrder(alice, m.ID, "bread", 10, nil, "coin", 2, nil, 1)
	env.PostOrder(alice, m.ID, "bread", 20, nil, "coin", 5, nil, 1)
	env.PostOrder(alice, m.ID, "bread", 30, nil, "coin", 9, nil, 1)
	env.PostOrder(bob, m.ID, "bread", 15, market.Payload{"kind": "rye"}, "coin", 4, nil, 1)

	breadItem := "bread"

	t.Run("filter by owner", func(t *testing.T) {
		owner := alice
		page, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
			Tenant: testenv.Tenant, MarketID: m.ID, Owner: &owner,
		})
		require.NoError(t, err)
		assert.Len(t, page.Orders, 3)
	})

	t.Run("filter by give payload containment", func(t *testing.T) {
		page, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
			Tenant: testenv.Tenant, MarketID: m.ID,
			GiveItem:    &breadItem,
			GivePayload: market.Payload{"kind": "rye"},
		})
		require.NoError(t, err)
		require.Len(t, page.Orders, 1)
		assert.Equal(t, bob, page.Orders[0].Owner)
	})

	t.Run("filter by take amount", func(t *testing.T) {
		page, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
			Tenant: testenv.Tenant, MarketID: m.ID,
			TakeAmount: &market.AmountFilter{Op: market.CompLessEqual, Value: 4},
		})
		require.NoError(t, err)
		assert.Len(t, page.Orders, 2)
	})

	t.Run("invalid comparator", func(t *testing.T) {
		_, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
			Tenant: testenv.Tenant, MarketID: m.ID,
			TakeAmount: &market.AmountFilter{Op: "<>", Value: 4},
		})
		assert.Equal(t, market.KindValidation, market.KindOf(err))
	})

	t.Run("sort ascending by take amount", func(t *testing.T) {
		page, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
			Tenant: testenv.Tenant, MarketID: m.ID,
			Sort: market.SortTakeAmount,
		})
		require.NoError(t, err)
		require.Len(t, page.Orders, 4)
		for i := 1; i < len(page.Orders); i++ {
			assert.LessOrEqual(t, page.Orders[i-1].TakeAmount, page.Orders[i].TakeAmount)
		}
	})

	t.Run("pagination with total", func(t *testing.T) {
		page, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
			Tenant: testenv.Tenant, MarketID: m.ID,
			Sort: market.SortGiveAmount, SortDesc: true,
			Offset: 1, Limit: 2, WithTotal: true,
		})
		require.NoError(t, err)
		assert.Len(t, page.Orders, 2)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, int64(20), page.Orders[0].GiveAmount)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
			Tenant: testenv.Tenant, MarketID: m.ID, Offset: -1,
		})
		assert.Equal(t, market.KindValidation, market.KindOf(err))
	})
}

func TestQueryOrdersByTakePayload(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("main")

	env.Give(alice, m.ID, "bread", 20, nil)

	// Two orders asking for the same item under different payloads.
	goldID := env.PostOrder(alice, m.ID, "bread", 10, nil, "ingot", 2, market.Payload{"metal": "gold"}, 1)
	silverID := env.PostOrder(alice, m.ID, "bread", 10, nil, "ingot", 3, market.Payload{"metal": "silver"}, 1)

	ingotItem := "ingot"

	page, err := env.Orders.Query(env.Ctx, &market.OrderQuery{
		Tenant: testenv.Tenant, MarketID: m.ID,
		TakeItem:    &ingotItem,
		TakePayload: market.Payload{"metal": "gold"},
		WithTotal:   true,
	})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, goldID, page.Orders[0].ID)
	assert.Equal(t, 1, page.Total)

	page, err = env.Orders.Query(env.Ctx, &market.OrderQuery{
		Tenant: testenv.Tenant, MarketID: m.ID,
		TakeItem:    &ingotItem,
		TakePayload: market.Payload{"metal": "silver"},
	})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, silverID, page.Orders[0].ID)

	// An unconstrained payload matches both.
	page, err = env.Orders.Query(env.Ctx, &market.OrderQuery{
		Tenant: testenv.Tenant, MarketID: m.ID, TakeItem: &ingotItem,
	})
	require.NoError(t, err)
	assert.Len(t, page.Orders, 2)
}

func TestListAccountOrders(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("main")

	env.Give(alice, m.ID, "bread", 10, nil)
	env.Give(bob, m.ID, "coin", 10, nil)

	env.PostOrder(alice, m.ID, "bread", 5, nil, "gold", 3, nil, 1)
	env.PostOrder(alice, m.ID, "bread", 5, nil, "gold", 4, nil, 1)
	env.PostOrder(bob, m.ID, "coin", 10, nil, "gold", 1, nil, 1)

	orders, err := env.Orders.ListAccountOrders(env.Ctx, testenv.Tenant, alice, m.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, alice, o.Owner)
	}
}

func TestPurgeAccounts(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("main")

	env.Give(alice, m.ID, "bread", 10, nil)
	env.Give(bob, m.ID, "coin", 10, nil)
	aliceOrder := env.PostOrder(alice, m.ID, "bread", 5, nil, "gold", 3, nil, 2)
	bobOrder := env.PostOrder(bob, m.ID, "coin", 10, nil, "gold", 1, nil, 1)

	require.NoError(t, env.Orders.PurgeAccounts(env.Ctx, testenv.Tenant, []int64{alice}, true))
	require.NoError(t, env.Ledger.PurgeAccounts(env.Ctx, testenv.Tenant, []int64{alice}, true))

	// Alice's order and balances are gone with no refund; Bob's survive.
	_, err := env.Orders.GetOrder(env.Ctx, testenv.Tenant, aliceOrder)
	assert.ErrorIs(t, err, market.ErrOrderNotFound)
	balances, err := env.Ledger.ListBalances(env.Ctx, testenv.Tenant, alice, m.ID)
	require.NoError(t, err)
	assert.Empty(t, balances)

	_, err = env.Orders.GetOrder(env.Ctx, testenv.Tenant, bobOrder)
	require.NoError(t, err)
}
