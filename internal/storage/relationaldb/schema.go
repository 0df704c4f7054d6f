package relationaldb

import (
	"context"
	"database/sql"
)

const schemaVersion = 1

// schemaStatements returns the DDL for the five market tables. All
// timestamps and deadlines are unix seconds; payloads are canonical
// JSON text; item hashes are hex SHA-256.
func schemaStatements(d Dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS markets (
			market_id ` + d.SerialPK() + `,
			gamespace_id BIGINT NOT NULL,
			market_name TEXT NOT NULL,
			market_settings TEXT NOT NULL DEFAULT '{}',
			UNIQUE (gamespace_id, market_name)
		)`,

		`CREATE TABLE IF NOT EXISTS items (
			item_id ` + d.SerialPK() + `,
			gamespace_id BIGINT NOT NULL,
			owner_id BIGINT NOT NULL,
			market_id BIGINT NOT NULL,
			item_name TEXT NOT NULL,
			item_payload TEXT NOT NULL DEFAULT '{}',
			item_amount BIGINT NOT NULL DEFAULT 0,
			item_hash TEXT NOT NULL,
			UNIQUE (gamespace_id, market_id, owner_id, item_hash)
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			order_id ` + d.SerialPK() + `,
			gamespace_id BIGINT NOT NULL,
			owner_id BIGINT NOT NULL,
			market_id BIGINT NOT NULL,
			order_give_item TEXT NOT NULL,
			order_give_payload TEXT NOT NULL DEFAULT '{}',
			order_give_amount BIGINT NOT NULL,
			order_take_item TEXT NOT NULL,
			order_take_payload TEXT NOT NULL DEFAULT '{}',
			order_take_amount BIGINT NOT NULL,
			order_available BIGINT NOT NULL,
			order_payload TEXT NOT NULL DEFAULT '{}',
			order_time BIGINT NOT NULL,
			order_deadline BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			transaction_id ` + d.SerialPK() + `,
			gamespace_id BIGINT NOT NULL,
			market_id BIGINT NOT NULL,
			transaction_date BIGINT NOT NULL,
			transaction_amount BIGINT NOT NULL,
			a_item TEXT NOT NULL,
			a_payload TEXT NOT NULL DEFAULT '{}',
			a_hash TEXT NOT NULL,
			a_amount BIGINT NOT NULL,
			a_owner BIGINT NOT NULL,
			b_item TEXT NOT NULL,
			b_payload TEXT NOT NULL DEFAULT '{}',
			b_hash TEXT NOT NULL,
			b_amount BIGINT NOT NULL,
			b_owner BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,

		// Order listings by owner.
		`CREATE INDEX IF NOT EXISTS idx_orders_owner
			ON orders (gamespace_id, market_id, owner_id)`,

		// The matcher's candidate scan.
		`CREATE INDEX IF NOT EXISTS idx_orders_matching
			ON orders (gamespace_id, market_id, order_take_item, order_give_item, owner_id)`,

		// The reaper's due sweep.
		`CREATE INDEX IF NOT EXISTS idx_orders_deadline
			ON orders (order_deadline)`,

		// Canonicalized trade history lookups.
		`CREATE INDEX IF NOT EXISTS idx_transactions_pair
			ON transactions (gamespace_id, market_id, a_hash, b_hash)`,
	}
}

// initSchema creates the tables and indexes, and stamps the schema
// version on first run.
func initSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range schemaStatements(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return NewSchemaError("init_schema", "failed to execute schema statement", err)
		}
	}

	var version sql.NullInt64
	err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return NewSchemaError("init_schema", "failed to read schema version", err)
	}
	if !version.Valid {
		if _, err := db.ExecContext(ctx, d.Rebind("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion); err != nil {
			return NewSchemaError("init_schema", "failed to stamp schema version", err)
		}
	}

	return nil
}
