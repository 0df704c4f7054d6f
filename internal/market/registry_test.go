package market_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/testenv"
)

func TestRegistryCreateAndLookup(t *testing.T) {
	env := testenv.New(t)

	id, err := env.Registry.Create(env.Ctx, testenv.Tenant, "spring-fair", market.Payload{"season": "spring"})
	require.NoError(t, err)

	m, err := env.Registry.FindByName(env.Ctx, testenv.Tenant, "spring-fair")
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "spring", m.Settings["season"])

	_, err = env.Registry.Create(env.Ctx, testenv.Tenant, "spring-fair", nil)
	assert.ErrorIs(t, err, market.ErrMarketExists)

	_, err = env.Registry.Create(env.Ctx, testenv.Tenant, "", nil)
	assert.Equal(t, market.KindValidation, market.KindOf(err))

	_, err = env.Registry.FindByName(env.Ctx, testenv.Tenant, "no-such")
	assert.ErrorIs(t, err, market.ErrMarketNotFound)

	// The same name is free in another tenant.
	_, err = env.Registry.Create(env.Ctx, testenv.Tenant+1, "spring-fair", nil)
	require.NoError(t, err)
}

func TestRegistryUpdateSettingsInvalidatesCache(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("main")

	// Prime the name cache.
	_, err := env.Registry.FindByName(env.Ctx, testenv.Tenant, "main")
	require.NoError(t, err)

	err = env.Registry.UpdateSettings(env.Ctx, testenv.Tenant, m.ID, market.Payload{"tax": 5})
	require.NoError(t, err)

	fresh, err := env.Registry.FindByName(env.Ctx, testenv.Tenant, "main")
	require.NoError(t, err)
	assert.EqualValues(t, 5, fresh.Settings["tax"])
}

func TestRegistryDeleteCascades(t *testing.T) {
	env := testenv.New(t)
	m := env.CreateMarket("doomed")

	env.Give(alice, m.ID, "bread", 10, nil)
	env.Give(bob, m.ID, "coin", 3, nil)
	orderID := env.PostOrder(alice, m.ID, "bread", 5, nil, "coin", 3, nil, 1)

	// Execute one trade so the journal has a row.
	_, matched := env.PostAndMatch(bob, m.ID, "coin", 3, nil, "bread", 5, nil, 1)
	require.True(t, matched)

	leftoverID := env.PostOrder(alice, m.ID, "bread", 5, nil, "coin", 9, nil, 1)

	require.NoError(t, env.Registry.Delete(env.Ctx, testenv.Tenant, m.ID))

	_, err := env.Registry.Get(env.Ctx, testenv.Tenant, m.ID)
	assert.ErrorIs(t, err, market.ErrMarketNotFound)
	_, err = env.Registry.FindByName(env.Ctx, testenv.Tenant, "doomed")
	assert.ErrorIs(t, err, market.ErrMarketNotFound)

	// Orders and balances are dropped, escrow included.
	_, err = env.Orders.GetOrder(env.Ctx, testenv.Tenant, orderID)
	assert.ErrorIs(t, err, market.ErrOrderNotFound)
	_, err = env.Orders.GetOrder(env.Ctx, testenv.Tenant, leftoverID)
	assert.ErrorIs(t, err, market.ErrOrderNotFound)
	balances, err := env.Ledger.ListBalances(env.Ctx, testenv.Tenant, bob, m.ID)
	require.NoError(t, err)
	assert.Empty(t, balances)

	// Trade history outlives the market.
	history, err := env.Journal.ListAggregated(env.Ctx, testenv.Tenant, m.ID,
		"coin", nil, "bread", nil, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRegistryList(t *testing.T) {
	env := testenv.New(t)
	env.CreateMarket("alpha")
	env.CreateMarket("beta")

	markets, err := env.Registry.List(env.Ctx, testenv.Tenant)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	names := []string{markets[0].Name, markets[1].Name}
	assert.ElementsMatch(t, []string{"alpha", "beta"}, names)
}
