package relationaldb

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/anthill-platform/anthill-market/internal/market"
)

// MarketRepository persists market metadata.
type MarketRepository struct {
	db *sql.DB
	tx *sql.Tx
	d  Dialect
}

// NewMarketRepository creates a pooled market repository.
func NewMarketRepository(db *sql.DB, d Dialect) *MarketRepository {
	return &MarketRepository{db: db, d: d}
}

// NewMarketRepositoryWithTx creates a market repository bound to a transaction.
func NewMarketRepositoryWithTx(tx *sql.Tx, d Dialect) *MarketRepository {
	return &MarketRepository{tx: tx, d: d}
}

func (r *MarketRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func scanMarket(scan func(dest ...interface{}) error) (*market.Market, error) {
	var m market.Market
	var settings string

	if err := scan(&m.ID, &m.Tenant, &m.Name, &settings); err != nil {
		return nil, err
	}

	decoded, err := decodePayload(settings)
	if err != nil {
		return nil, err
	}
	m.Settings = decoded
	return &m, nil
}

// isUniqueViolation detects a duplicate-key insert on either backend.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Insert creates the market row. A name collision within the tenant
// reports market.ErrMarketExists.
func (r *MarketRepository) Insert(ctx context.Context, m *market.Market) (int64, error) {
	settings, err := encodePayload(m.Settings)
	if err != nil {
		return 0, err
	}

	query := "INSERT INTO markets (gamespace_id, market_name, market_settings) VALUES (?, ?, ?)"
	id, err := r.d.InsertID(ctx, r.getExecutor(), query, "market_id", m.Tenant, m.Name, settings)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, market.ErrMarketExists
		}
		return 0, NewQueryError("insert_market", "failed to insert market", err)
	}
	return id, nil
}

// FindByName returns the tenant's market with the given name, or nil.
func (r *MarketRepository) FindByName(ctx context.Context, tenant int64, name string) (*market.Market, error) {
	query := r.d.Rebind(`SELECT market_id, gamespace_id, market_name, market_settings
		FROM markets WHERE gamespace_id=? AND market_name=?`)

	row := r.getExecutor().QueryRowContext(ctx, query, tenant, name)
	m, err := scanMarket(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("find_market", "failed to query market by name", err)
	}
	return m, nil
}

// Get returns the market by id, or nil.
func (r *MarketRepository) Get(ctx context.Context, tenant, marketID int64) (*market.Market, error) {
	query := r.d.Rebind(`SELECT market_id, gamespace_id, market_name, market_settings
		FROM markets WHERE gamespace_id=? AND market_id=?`)

	row := r.getExecutor().QueryRowContext(ctx, query, tenant, marketID)
	m, err := scanMarket(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("get_market", "failed to query market", err)
	}
	return m, nil
}

// UpdateSettings rewrites the market settings.
func (r *MarketRepository) UpdateSettings(ctx context.Context, tenant, marketID int64, settings market.Payload) error {
	encoded, err := encodePayload(settings)
	if err != nil {
		return err
	}

	query := r.d.Rebind("UPDATE markets SET market_settings=? WHERE gamespace_id=? AND market_id=?")
	if _, err := r.getExecutor().ExecContext(ctx, query, encoded, tenant, marketID); err != nil {
		return NewQueryError("update_market", "failed to update market settings", err)
	}
	return nil
}

// Delete removes the market row only. Cascading to orders and items is
// the registry's transaction.
func (r *MarketRepository) Delete(ctx context.Context, tenant, marketID int64) error {
	query := r.d.Rebind("DELETE FROM markets WHERE gamespace_id=? AND market_id=?")
	if _, err := r.getExecutor().ExecContext(ctx, query, tenant, marketID); err != nil {
		return NewQueryError("delete_market", "failed to delete market", err)
	}
	return nil
}

// List returns every market of a tenant.
func (r *MarketRepository) List(ctx context.Context, tenant int64) ([]market.Market, error) {
	query := r.d.Rebind(`SELECT market_id, gamespace_id, market_name, market_settings
		FROM markets WHERE gamespace_id=? ORDER BY market_name`)

	rows, err := r.getExecutor().QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, NewQueryError("list_markets", "failed to list markets", err)
	}
	defer rows.Close()

	var markets []market.Market
	for rows.Next() {
		m, err := scanMarket(rows.Scan)
		if err != nil {
			return nil, NewQueryError("list_markets", "failed to scan market", err)
		}
		markets = append(markets, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("list_markets", "failed to iterate markets", err)
	}
	return markets, nil
}
