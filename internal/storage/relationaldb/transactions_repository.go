package relationaldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/anthill-platform/anthill-market/internal/market"
)

// TransactionRepository appends journal rows and serves the daily
// aggregates. Rows are never updated or deleted.
type TransactionRepository struct {
	db *sql.DB
	tx *sql.Tx
	d  Dialect
}

// NewTransactionRepository creates a pooled transaction repository.
func NewTransactionRepository(db *sql.DB, d Dialect) *TransactionRepository {
	return &TransactionRepository{db: db, d: d}
}

// NewTransactionRepositoryWithTx creates a transaction repository bound to a transaction.
func NewTransactionRepositoryWithTx(tx *sql.Tx, d Dialect) *TransactionRepository {
	return &TransactionRepository{tx: tx, d: d}
}

func (r *TransactionRepository) getExecutor() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// Insert appends one canonicalized journal row. The caller has already
// ordered the sides so that t.A.Hash >= t.B.Hash.
func (r *TransactionRepository) Insert(ctx context.Context, t *market.Transaction) (int64, error) {
	aPayload, err := encodePayload(t.A.Payload)
	if err != nil {
		return 0, err
	}
	bPayload, err := encodePayload(t.B.Payload)
	if err != nil {
		return 0, err
	}

	query := `INSERT INTO transactions
		(gamespace_id, market_id, transaction_date, transaction_amount,
		a_item, a_payload, a_hash, a_amount, a_owner,
		b_item, b_payload, b_hash, b_amount, b_owner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := r.d.InsertID(ctx, r.getExecutor(), query, "transaction_id",
		t.Tenant, t.MarketID, t.Date.Unix(), t.Amount,
		t.A.Item, aPayload, t.A.Hash, t.A.AmountPerUnit, t.A.Owner,
		t.B.Item, bPayload, t.B.Hash, t.B.AmountPerUnit, t.B.Owner)
	if err != nil {
		return 0, NewQueryError("insert_transaction", "failed to insert transaction", err)
	}
	return id, nil
}

// Aggregate groups journal rows for the canonical (hashA, hashB) pair
// by day, newest day first. AvgGive/AvgTake carry the A/B side averages
// respectively; the journal service maps them back onto the caller's
// orientation.
func (r *TransactionRepository) Aggregate(ctx context.Context, tenant, marketID int64, hashA, hashB string, limit int) ([]market.DailyAggregate, error) {
	query := r.d.Rebind(`SELECT transaction_date / 86400 AS day,
		CAST(AVG(a_amount) AS DOUBLE PRECISION),
		CAST(AVG(b_amount) AS DOUBLE PRECISION),
		SUM(transaction_amount)
		FROM transactions
		WHERE gamespace_id=? AND market_id=? AND a_hash=? AND b_hash=?
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?`)

	rows, err := r.getExecutor().QueryContext(ctx, query, tenant, marketID, hashA, hashB, limit)
	if err != nil {
		return nil, NewQueryError("aggregate_transactions", "failed to aggregate transactions", err)
	}
	defer rows.Close()

	var aggregates []market.DailyAggregate
	for rows.Next() {
		var day int64
		var agg market.DailyAggregate
		if err := rows.Scan(&day, &agg.AvgGive, &agg.AvgTake, &agg.TotalUnits); err != nil {
			return nil, NewQueryError("aggregate_transactions", "failed to scan aggregate", err)
		}
		agg.Date = time.Unix(day*86400, 0).UTC()
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("aggregate_transactions", "failed to iterate aggregates", err)
	}
	return aggregates, nil
}
