package market

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMarketCacheSize bounds the name lookup cache. Market metadata
// is tiny; the cache mostly saves the per-request name resolution every
// API call performs.
const DefaultMarketCacheSize = 256

type marketCacheKey struct {
	tenant int64
	name   string
}

// MarketRegistry manages market metadata: creation, settings, listing,
// and destruction. Name lookups go through an LRU cache invalidated on
// every write.
type MarketRegistry struct {
	store  Store
	cache  *lru.Cache[marketCacheKey, *Market]
	logger *slog.Logger
}

// NewMarketRegistry creates the registry. A non-positive cacheSize
// falls back to DefaultMarketCacheSize.
func NewMarketRegistry(store Store, cacheSize int, logger *slog.Logger) (*MarketRegistry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultMarketCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[marketCacheKey, *Market](cacheSize)
	if err != nil {
		return nil, err
	}

	return &MarketRegistry{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "registry"),
	}, nil
}

// Create adds a market. The name is unique per tenant; a duplicate
// reports ErrMarketExists.
func (r *MarketRegistry) Create(ctx context.Context, tenant int64, name string, settings Payload) (int64, error) {
	if name == "" {
		return 0, NewValidationError("market name is required")
	}

	id, err := r.store.Markets().Insert(ctx, &Market{
		Tenant:   tenant,
		Name:     name,
		Settings: settings,
	})
	if err != nil {
		if KindOf(err) != KindStorage {
			return 0, err
		}
		return 0, NewStorageError("failed to create market", err)
	}

	r.cache.Remove(marketCacheKey{tenant: tenant, name: name})
	r.logger.Info("market created", "tenant", tenant, "market", id, "name", name)
	return id, nil
}

// FindByName resolves a market by name, through the cache.
func (r *MarketRegistry) FindByName(ctx context.Context, tenant int64, name string) (*Market, error) {
	key := marketCacheKey{tenant: tenant, name: name}
	if m, ok := r.cache.Get(key); ok {
		return m, nil
	}

	m, err := r.store.Markets().FindByName(ctx, tenant, name)
	if err != nil {
		return nil, NewStorageError("failed to look up market", err)
	}
	if m == nil {
		return nil, ErrMarketNotFound
	}

	r.cache.Add(key, m)
	return m, nil
}

// Get returns a market by id.
func (r *MarketRegistry) Get(ctx context.Context, tenant, marketID int64) (*Market, error) {
	m, err := r.store.Markets().Get(ctx, tenant, marketID)
	if err != nil {
		return nil, NewStorageError("failed to look up market", err)
	}
	if m == nil {
		return nil, ErrMarketNotFound
	}
	return m, nil
}

// UpdateSettings rewrites a market's opaque settings document.
func (r *MarketRegistry) UpdateSettings(ctx context.Context, tenant, marketID int64, settings Payload) error {
	m, err := r.Get(ctx, tenant, marketID)
	if err != nil {
		return err
	}

	if err := r.store.Markets().UpdateSettings(ctx, tenant, marketID, settings); err != nil {
		return NewStorageError("failed to update market settings", err)
	}

	r.cache.Remove(marketCacheKey{tenant: tenant, name: m.Name})
	r.logger.Info("market settings updated", "tenant", tenant, "market", marketID)
	return nil
}

// Delete destroys a market and everything in it: the metadata row, all
// orders, and all item balances, in one transaction. No refunds are
// made; the escrowed goods disappear with the market. Journal rows are
// retained as audit history.
func (r *MarketRegistry) Delete(ctx context.Context, tenant, marketID int64) error {
	m, err := r.Get(ctx, tenant, marketID)
	if err != nil {
		return err
	}

	err = r.store.WithTransaction(ctx, func(tx Tx) error {
		if err := tx.Markets().Delete(ctx, tenant, marketID); err != nil {
			return NewStorageError("failed to delete market", err)
		}
		if err := tx.Orders().DeleteByMarket(ctx, tenant, marketID); err != nil {
			return NewStorageError("failed to delete market orders", err)
		}
		if err := tx.Items().DeleteByMarket(ctx, tenant, marketID); err != nil {
			return NewStorageError("failed to delete market items", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.cache.Remove(marketCacheKey{tenant: tenant, name: m.Name})
	r.logger.Info("market deleted", "tenant", tenant, "market", marketID, "name", m.Name)
	return nil
}

// List returns every market of a tenant.
func (r *MarketRegistry) List(ctx context.Context, tenant int64) ([]Market, error) {
	markets, err := r.store.Markets().List(ctx, tenant)
	if err != nil {
		return nil, NewStorageError("failed to list markets", err)
	}
	return markets, nil
}
