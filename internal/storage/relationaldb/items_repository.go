package relationaldb

import (
	"context"
	"database/sql"
	"strings"

	"github.com/anthill-platform/anthill-market/internal/market"
)

// ItemRepository persists payload-keyed item balances.
type ItemRepository struct {
	db *sql.DB
	tx *sql.Tx
	d  Dialect
}

// NewItemRepository creates a pooled item repository.
func NewItemRepository(db *sql.DB, d Dialect) *ItemRepository {
	return &ItemRepository{db: db, d: d}
}

// NewItemRepositoryWithTx creates an item repository bound to a transaction.
func NewItemRepositoryWithTx(tx *sql.Tx, d Dialect) *ItemRepository {
	return &ItemRepository{tx: tx, d: d}
}

func (r *ItemRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const itemColumns = "gamespace_id, owner_id, market_id, item_name, item_payload, item_amount, item_hash"

func scanItem(scan func(dest ...interface{}) error) (*market.ItemBalance, error) {
	var b market.ItemBalance
	var payload string

	if err := scan(&b.Tenant, &b.Owner, &b.MarketID, &b.Name, &payload, &b.Amount, &b.Hash); err != nil {
		return nil, err
	}

	decoded, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	b.Payload = decoded
	return &b, nil
}

// Find returns the balance row for a hash, or nil when absent.
func (r *ItemRepository) Find(ctx context.Context, tenant, owner, marketID int64, hash string) (*market.ItemBalance, error) {
	query := r.d.Rebind(`SELECT ` + itemColumns + ` FROM items
		WHERE gamespace_id=? AND owner_id=? AND market_id=? AND item_hash=?`)

	row := r.getExecutor().QueryRowContext(ctx, query, tenant, owner, marketID, hash)
	b, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("find_item", "failed to query item balance", err)
	}
	return b, nil
}

// List returns the owner's non-zero balances in a market.
func (r *ItemRepository) List(ctx context.Context, tenant, owner, marketID int64) ([]market.ItemBalance, error) {
	query := r.d.Rebind(`SELECT ` + itemColumns + ` FROM items
		WHERE gamespace_id=? AND owner_id=? AND market_id=? AND item_amount != 0
		ORDER BY item_name`)

	rows, err := r.getExecutor().QueryContext(ctx, query, tenant, owner, marketID)
	if err != nil {
		return nil, NewQueryError("list_items", "failed to list item balances", err)
	}
	defer rows.Close()

	var balances []market.ItemBalance
	for rows.Next() {
		b, err := scanItem(rows.Scan)
		if err != nil {
			return nil, NewQueryError("list_items", "failed to scan item balance", err)
		}
		balances = append(balances, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("list_items", "failed to iterate item balances", err)
	}
	return balances, nil
}

// Add upserts the balance row, incrementing the stored amount by
// balance.Amount. Missing rows are created at the delta.
func (r *ItemRepository) Add(ctx context.Context, balance market.ItemBalance) error {
	payload, err := encodePayload(balance.Payload)
	if err != nil {
		return err
	}

	query := r.d.Rebind(`INSERT INTO items
		(gamespace_id, owner_id, market_id, item_name, item_payload, item_amount, item_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (gamespace_id, market_id, owner_id, item_hash)
		DO UPDATE SET item_amount = items.item_amount + excluded.item_amount`)

	_, err = r.getExecutor().ExecContext(ctx, query,
		balance.Tenant, balance.Owner, balance.MarketID, balance.Name, payload, balance.Amount, balance.Hash)
	if err != nil {
		return NewQueryError("add_item", "failed to upsert item balance", err)
	}
	return nil
}

// Subtract decrements the amount only when the stored amount covers the
// subtraction, and reports whether a row was updated. This is the sole
// non-overdraft primitive of the ledger.
func (r *ItemRepository) Subtract(ctx context.Context, tenant, owner, marketID int64, hash string, amount int64) (bool, error) {
	query := r.d.Rebind(`UPDATE items
		SET item_amount = item_amount - ?
		WHERE gamespace_id=? AND owner_id=? AND market_id=? AND item_hash=? AND item_amount >= ?`)

	result, err := r.getExecutor().ExecContext(ctx, query, amount, tenant, owner, marketID, hash, amount)
	if err != nil {
		return false, NewQueryError("subtract_item", "failed to subtract item amount", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, NewQueryError("subtract_item", "failed to read affected rows", err)
	}
	return affected > 0, nil
}

// LockBalances reads the given hashes under row locks and returns
// hash -> amount for the rows that exist.
func (r *ItemRepository) LockBalances(ctx context.Context, tenant, owner, marketID int64, hashes []string) (map[string]int64, error) {
	if len(hashes) == 0 {
		return map[string]int64{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	query := r.d.Rebind(`SELECT item_hash, item_amount FROM items
		WHERE gamespace_id=? AND owner_id=? AND market_id=? AND item_hash IN (`+placeholders+`)`) + r.d.ForUpdate()

	args := make([]interface{}, 0, len(hashes)+3)
	args = append(args, tenant, owner, marketID)
	for _, h := range hashes {
		args = append(args, h)
	}

	rows, err := r.getExecutor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("lock_balances", "failed to lock item balances", err)
	}
	defer rows.Close()

	amounts := make(map[string]int64, len(hashes))
	for rows.Next() {
		var hash string
		var amount int64
		if err := rows.Scan(&hash, &amount); err != nil {
			return nil, NewQueryError("lock_balances", "failed to scan locked balance", err)
		}
		amounts[hash] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("lock_balances", "failed to iterate locked balances", err)
	}
	return amounts, nil
}

// DeleteByMarket removes every balance in a (tenant, market). Used by
// market cascade deletion.
func (r *ItemRepository) DeleteByMarket(ctx context.Context, tenant, marketID int64) error {
	query := r.d.Rebind("DELETE FROM items WHERE gamespace_id=? AND market_id=?")
	if _, err := r.getExecutor().ExecContext(ctx, query, tenant, marketID); err != nil {
		return NewQueryError("delete_items_by_market", "failed to delete market items", err)
	}
	return nil
}

// PurgeAccounts removes every balance owned by the deleted accounts,
// tenant-scoped or globally.
func (r *ItemRepository) PurgeAccounts(ctx context.Context, tenant int64, accounts []int64, tenantOnly bool) error {
	if len(accounts) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accounts)), ",")

	var query string
	args := make([]interface{}, 0, len(accounts)+1)
	if tenantOnly {
		query = "DELETE FROM items WHERE gamespace_id=? AND owner_id IN (" + placeholders + ")"
		args = append(args, tenant)
	} else {
		query = "DELETE FROM items WHERE owner_id IN (" + placeholders + ")"
	}
	for _, a := range accounts {
		args = append(args, a)
	}

	if _, err := r.getExecutor().ExecContext(ctx, r.d.Rebind(query), args...); err != nil {
		return NewQueryError("purge_account_items", "failed to purge account items", err)
	}
	return nil
}
