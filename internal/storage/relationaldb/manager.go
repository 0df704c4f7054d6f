// Package relationaldb is the relational persistence layer of the
// market service. It speaks both PostgreSQL (production) and pure-Go
// SQLite (development and tests) behind one repository surface; every
// multi-statement engine operation runs through WithTransaction so row
// locks and rollbacks behave identically on either backend.
package relationaldb

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/anthill-platform/anthill-market/internal/market"
)

// Manager owns the connection pool and the pooled (autocommit)
// repository instances. It implements market.Store.
type Manager struct {
	db      *sql.DB
	config  *Config
	dialect Dialect
	logger  *slog.Logger

	items        *ItemRepository
	orders       *OrderRepository
	markets      *MarketRepository
	transactions *TransactionRepository
}

// NewManager creates a manager from a validated configuration.
func NewManager(config *Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("new_manager", "invalid configuration", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:  config,
		dialect: NewDialect(config.Driver),
		logger:  logger.With("component", "storage"),
	}, nil
}

// Open connects, configures the pool, pings, and initializes the schema.
func (m *Manager) Open(ctx context.Context) error {
	connStr, err := m.config.BuildConnectionString()
	if err != nil {
		return NewConfigurationError("open", "failed to build connection string", err)
	}

	sqlDB, err := sql.Open(m.config.Driver, connStr)
	if err != nil {
		return NewConnectionError("open", "failed to open database connection", err)
	}

	sqlDB.SetMaxOpenConns(m.config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(m.config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(m.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(m.config.ConnMaxIdleTime)

	ctxTimeout, cancel := context.WithTimeout(ctx, m.config.DefaultTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctxTimeout); err != nil {
		sqlDB.Close()
		return NewConnectionError("open", "failed to ping database", err)
	}

	if err := initSchema(ctx, sqlDB, m.dialect); err != nil {
		sqlDB.Close()
		return err
	}

	m.db = sqlDB
	m.items = NewItemRepository(sqlDB, m.dialect)
	m.orders = NewOrderRepository(sqlDB, m.dialect)
	m.markets = NewMarketRepository(sqlDB, m.dialect)
	m.transactions = NewTransactionRepository(sqlDB, m.dialect)

	m.logger.Info("database opened", "driver", m.config.Driver)
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}

	err := m.db.Close()
	m.db = nil
	m.items = nil
	m.orders = nil
	m.markets = nil
	m.transactions = nil

	if err != nil {
		return NewConnectionError("close", "failed to close database connection", err)
	}
	return nil
}

func (m *Manager) Items() market.ItemStore {
	return m.items
}

func (m *Manager) Orders() market.OrderStore {
	return m.orders
}

func (m *Manager) Markets() market.MarketStore {
	return m.markets
}

func (m *Manager) Transactions() market.TransactionStore {
	return m.transactions
}

// WithTransaction runs fn inside a single database transaction. A panic
// rolls back and repanics; a non-nil error rolls back; otherwise the
// transaction commits.
func (m *Manager) WithTransaction(ctx context.Context, fn func(market.Tx) error) error {
	if m.db == nil {
		return ErrDatabaseClosed
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return NewTransactionError("begin", "failed to begin transaction", err)
	}

	tc := newTransactionContext(tx, m.dialect)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tc); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			m.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewTransactionError("commit", "failed to commit transaction", err)
	}
	return nil
}
