package relationaldb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/anthill-platform/anthill-market/internal/market"
)

// OrderRepository persists the order book.
type OrderRepository struct {
	db *sql.DB
	tx *sql.Tx
	d  Dialect
}

// NewOrderRepository creates a pooled order repository.
func NewOrderRepository(db *sql.DB, d Dialect) *OrderRepository {
	return &OrderRepository{db: db, d: d}
}

// NewOrderRepositoryWithTx creates an order repository bound to a transaction.
func NewOrderRepositoryWithTx(tx *sql.Tx, d Dialect) *OrderRepository {
	return &OrderRepository{tx: tx, d: d}
}

func (r *OrderRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const orderColumns = `order_id, gamespace_id, owner_id, market_id,
	order_give_item, order_give_payload, order_give_amount,
	order_take_item, order_take_payload, order_take_amount,
	order_available, order_payload, order_time, order_deadline`

func scanOrder(scan func(dest ...interface{}) error) (*market.Order, error) {
	var o market.Order
	var givePayload, takePayload, payload string
	var created, deadline int64

	if err := scan(&o.ID, &o.Tenant, &o.Owner, &o.MarketID,
		&o.GiveItem, &givePayload, &o.GiveAmount,
		&o.TakeItem, &takePayload, &o.TakeAmount,
		&o.Available, &payload, &created, &deadline); err != nil {
		return nil, err
	}

	var err error
	if o.GivePayload, err = decodePayload(givePayload); err != nil {
		return nil, err
	}
	if o.TakePayload, err = decodePayload(takePayload); err != nil {
		return nil, err
	}
	if o.Payload, err = decodePayload(payload); err != nil {
		return nil, err
	}
	o.CreatedAt = time.Unix(created, 0).UTC()
	o.Deadline = time.Unix(deadline, 0).UTC()
	return &o, nil
}

// Insert creates the order row and returns its id.
func (r *OrderRepository) Insert(ctx context.Context, o *market.Order) (int64, error) {
	givePayload, err := encodePayload(o.GivePayload)
	if err != nil {
		return 0, err
	}
	takePayload, err := encodePayload(o.TakePayload)
	if err != nil {
		return 0, err
	}
	payload, err := encodePayload(o.Payload)
	if err != nil {
		return 0, err
	}

	query := `INSERT INTO orders
		(gamespace_id, owner_id, market_id,
		order_give_item, order_give_payload, order_give_amount,
		order_take_item, order_take_payload, order_take_amount,
		order_available, order_payload, order_time, order_deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := r.d.InsertID(ctx, r.getExecutor(), query, "order_id",
		o.Tenant, o.Owner, o.MarketID,
		o.GiveItem, givePayload, o.GiveAmount,
		o.TakeItem, takePayload, o.TakeAmount,
		o.Available, payload, o.CreatedAt.Unix(), o.Deadline.Unix())
	if err != nil {
		return 0, NewQueryError("insert_order", "failed to insert order", err)
	}
	return id, nil
}

// Get returns the order, or nil when absent.
func (r *OrderRepository) Get(ctx context.Context, tenant, orderID int64) (*market.Order, error) {
	return r.fetch(ctx, tenant, orderID, false)
}

// Lock reads the order under a row lock; nil when absent.
func (r *OrderRepository) Lock(ctx context.Context, tenant, orderID int64) (*market.Order, error) {
	return r.fetch(ctx, tenant, orderID, true)
}

func (r *OrderRepository) fetch(ctx context.Context, tenant, orderID int64, forUpdate bool) (*market.Order, error) {
	query := r.d.Rebind(`SELECT `+orderColumns+` FROM orders
		WHERE order_id=? AND gamespace_id=?`)
	if forUpdate {
		query += r.d.ForUpdate()
	}

	row := r.getExecutor().QueryRowContext(ctx, query, orderID, tenant)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("get_order", "failed to query order", err)
	}
	return o, nil
}

// LockForFulfill locks the order only when it sits in the given market,
// still has at least count available, and is not owned by buyer. Nil
// when no such row.
func (r *OrderRepository) LockForFulfill(ctx context.Context, tenant, orderID, marketID, count, buyer int64) (*market.Order, error) {
	query := r.d.Rebind(`SELECT `+orderColumns+` FROM orders
		WHERE gamespace_id=? AND order_id=? AND market_id=? AND order_available >= ? AND owner_id != ?`) +
		r.d.ForUpdate()

	row := r.getExecutor().QueryRowContext(ctx, query, tenant, orderID, marketID, count, buyer)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("lock_order_for_fulfill", "failed to lock order", err)
	}
	return o, nil
}

// Candidates locks and returns the counter-orders compatible with the
// subject on item names, per-unit amounts, and ownership, best deal
// first. Payload compatibility is re-checked by the matcher in Go, so
// both backends take the same code path.
func (r *OrderRepository) Candidates(ctx context.Context, subject *market.Order) ([]market.Order, error) {
	query := r.d.Rebind(`SELECT `+orderColumns+` FROM orders
		WHERE gamespace_id=? AND market_id=?
		AND order_take_item=? AND order_give_item=?
		AND order_take_amount <= ? AND order_give_amount >= ?
		AND owner_id != ?
		ORDER BY order_take_amount ASC, order_give_amount ASC, order_time DESC`) +
		r.d.ForUpdate()

	rows, err := r.getExecutor().QueryContext(ctx, query,
		subject.Tenant, subject.MarketID,
		subject.GiveItem, subject.TakeItem,
		subject.GiveAmount, subject.TakeAmount,
		subject.Owner)
	if err != nil {
		return nil, NewQueryError("match_candidates", "failed to query counter-orders", err)
	}
	defer rows.Close()

	var candidates []market.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, NewQueryError("match_candidates", "failed to scan counter-order", err)
		}
		candidates = append(candidates, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("match_candidates", "failed to iterate counter-orders", err)
	}
	return candidates, nil
}

// SetAvailable rewrites the remaining availability of an order.
func (r *OrderRepository) SetAvailable(ctx context.Context, tenant, orderID, available int64) error {
	query := r.d.Rebind("UPDATE orders SET order_available=? WHERE order_id=? AND gamespace_id=?")
	if _, err := r.getExecutor().ExecContext(ctx, query, available, orderID, tenant); err != nil {
		return NewQueryError("set_order_available", "failed to update order availability", err)
	}
	return nil
}

// UpdateFields rewrites the editable order fields and reports whether a
// row matched.
func (r *OrderRepository) UpdateFields(ctx context.Context, tenant, owner, marketID, orderID int64, patch market.OrderPatch) (bool, error) {
	var sets []string
	var args []interface{}

	if patch.TakeItem != nil {
		sets = append(sets, "order_take_item=?")
		args = append(args, *patch.TakeItem)
	}
	if patch.TakePayload != nil {
		encoded, err := encodePayload(*patch.TakePayload)
		if err != nil {
			return false, err
		}
		sets = append(sets, "order_take_payload=?")
		args = append(args, encoded)
	}
	if patch.Payload != nil {
		encoded, err := encodePayload(*patch.Payload)
		if err != nil {
			return false, err
		}
		sets = append(sets, "order_payload=?")
		args = append(args, encoded)
	}
	if patch.Deadline != nil {
		sets = append(sets, "order_deadline=?")
		args = append(args, patch.Deadline.Unix())
	}
	if len(sets) == 0 {
		return false, nil
	}

	query := "UPDATE orders SET " + strings.Join(sets, ", ") +
		" WHERE order_id=? AND gamespace_id=? AND owner_id=? AND market_id=?"
	args = append(args, orderID, tenant, owner, marketID)

	result, err := r.getExecutor().ExecContext(ctx, r.d.Rebind(query), args...)
	if err != nil {
		return false, NewQueryError("update_order", "failed to update order", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, NewQueryError("update_order", "failed to read affected rows", err)
	}
	return affected > 0, nil
}

// Delete removes the order row.
func (r *OrderRepository) Delete(ctx context.Context, tenant, orderID int64) error {
	query := r.d.Rebind("DELETE FROM orders WHERE order_id=? AND gamespace_id=?")
	if _, err := r.getExecutor().ExecContext(ctx, query, orderID, tenant); err != nil {
		return NewQueryError("delete_order", "failed to delete order", err)
	}
	return nil
}

// Query runs a filtered, paginated order book query. Scalar filters are
// pushed to SQL; payload containment is evaluated in Go, in which case
// pagination and the total count move to the filtered result set.
func (r *OrderRepository) Query(ctx context.Context, q *market.OrderQuery) (*market.OrderPage, error) {
	conditions := []string{"gamespace_id=?", "market_id=?"}
	args := []interface{}{q.Tenant, q.MarketID}

	if q.Owner != nil {
		conditions = append(conditions, "owner_id=?")
		args = append(args, *q.Owner)
	}
	if q.GiveItem != nil {
		conditions = append(conditions, "order_give_item=?")
		args = append(args, *q.GiveItem)
	}
	if q.TakeItem != nil {
		conditions = append(conditions, "order_take_item=?")
		args = append(args, *q.TakeItem)
	}
	if q.GiveAmount != nil && q.GiveAmount.Op.Valid() {
		conditions = append(conditions, "order_give_amount "+string(q.GiveAmount.Op)+" ?")
		args = append(args, q.GiveAmount.Value)
	}
	if q.TakeAmount != nil && q.TakeAmount.Op.Valid() {
		conditions = append(conditions, "order_take_amount "+string(q.TakeAmount.Op)+" ?")
		args = append(args, q.TakeAmount.Value)
	}

	where := " WHERE " + strings.Join(conditions, " AND ")

	var sort string
	switch q.Sort {
	case market.SortGiveAmount:
		sort = "order_give_amount"
	case market.SortTakeAmount:
		sort = "order_take_amount"
	}
	orderBy := " ORDER BY "
	if sort != "" {
		direction := "ASC"
		if q.SortDesc {
			direction = "DESC"
		}
		orderBy += sort + " " + direction + ", "
	}
	orderBy += "order_time DESC, order_id DESC"

	limit := q.Limit
	if limit <= 0 || limit > market.MaxQueryLimit {
		limit = market.MaxQueryLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	payloadFiltered := len(q.GivePayload) > 0 || len(q.TakePayload) > 0

	page := &market.OrderPage{}

	if !payloadFiltered && q.WithTotal {
		countQuery := r.d.Rebind("SELECT COUNT(*) FROM orders" + where)
		if err := r.getExecutor().QueryRowContext(ctx, countQuery, args...).Scan(&page.Total); err != nil {
			return nil, NewQueryError("query_orders", "failed to count orders", err)
		}
	}

	query := "SELECT " + orderColumns + " FROM orders" + where + orderBy
	queryArgs := args
	if !payloadFiltered {
		query += " LIMIT ? OFFSET ?"
		queryArgs = append(append([]interface{}{}, args...), limit, offset)
	}

	rows, err := r.getExecutor().QueryContext(ctx, r.d.Rebind(query), queryArgs...)
	if err != nil {
		return nil, NewQueryError("query_orders", "failed to query orders", err)
	}
	defer rows.Close()

	var orders []market.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, NewQueryError("query_orders", "failed to scan order", err)
		}
		if payloadFiltered {
			if len(q.GivePayload) > 0 && !o.GivePayload.Contains(q.GivePayload) {
				continue
			}
			if len(q.TakePayload) > 0 && !o.TakePayload.Contains(q.TakePayload) {
				continue
			}
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("query_orders", "failed to iterate orders", err)
	}

	if payloadFiltered {
		if q.WithTotal {
			page.Total = len(orders)
		}
		if offset >= len(orders) {
			orders = nil
		} else {
			end := offset + limit
			if end > len(orders) {
				end = len(orders)
			}
			orders = orders[offset:end]
		}
	}

	page.Orders = orders
	return page, nil
}

// Due returns references to every order whose deadline has passed.
func (r *OrderRepository) Due(ctx context.Context, now time.Time) ([]market.OrderRef, error) {
	query := r.d.Rebind("SELECT order_id, gamespace_id FROM orders WHERE order_deadline < ?")

	rows, err := r.getExecutor().QueryContext(ctx, query, now.Unix())
	if err != nil {
		return nil, NewQueryError("due_orders", "failed to query due orders", err)
	}
	defer rows.Close()

	var refs []market.OrderRef
	for rows.Next() {
		var ref market.OrderRef
		if err := rows.Scan(&ref.OrderID, &ref.Tenant); err != nil {
			return nil, NewQueryError("due_orders", "failed to scan due order", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("due_orders", "failed to iterate due orders", err)
	}
	return refs, nil
}

// DeleteByMarket removes every order in a (tenant, market). Used by
// market cascade deletion; escrow is discarded wholesale.
func (r *OrderRepository) DeleteByMarket(ctx context.Context, tenant, marketID int64) error {
	query := r.d.Rebind("DELETE FROM orders WHERE gamespace_id=? AND market_id=?")
	if _, err := r.getExecutor().ExecContext(ctx, query, tenant, marketID); err != nil {
		return NewQueryError("delete_orders_by_market", "failed to delete market orders", err)
	}
	return nil
}

// PurgeAccounts removes every order owned by the deleted accounts.
func (r *OrderRepository) PurgeAccounts(ctx context.Context, tenant int64, accounts []int64, tenantOnly bool) error {
	if len(accounts) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accounts)), ",")

	var query string
	args := make([]interface{}, 0, len(accounts)+1)
	if tenantOnly {
		query = "DELETE FROM orders WHERE gamespace_id=? AND owner_id IN (" + placeholders + ")"
		args = append(args, tenant)
	} else {
		query = "DELETE FROM orders WHERE owner_id IN (" + placeholders + ")"
	}
	for _, a := range accounts {
		args = append(args, a)
	}

	if _, err := r.getExecutor().ExecContext(ctx, r.d.Rebind(query), args...); err != nil {
		return NewQueryError("purge_account_orders", "failed to purge account orders", err)
	}
	return nil
}
