package relationaldb

import (
	"database/sql"

	"github.com/anthill-platform/anthill-market/internal/market"
)

// transactionContext exposes the repositories bound to one open
// transaction. It implements market.Tx.
type transactionContext struct {
	tx *sql.Tx

	items        *ItemRepository
	orders       *OrderRepository
	markets      *MarketRepository
	transactions *TransactionRepository
}

func newTransactionContext(tx *sql.Tx, d Dialect) *transactionContext {
	return &transactionContext{
		tx:           tx,
		items:        NewItemRepositoryWithTx(tx, d),
		orders:       NewOrderRepositoryWithTx(tx, d),
		markets:      NewMarketRepositoryWithTx(tx, d),
		transactions: NewTransactionRepositoryWithTx(tx, d),
	}
}

func (tc *transactionContext) Items() market.ItemStore {
	return tc.items
}

func (tc *transactionContext) Orders() market.OrderStore {
	return tc.orders
}

func (tc *transactionContext) Markets() market.MarketStore {
	return tc.markets
}

func (tc *transactionContext) Transactions() market.TransactionStore {
	return tc.transactions
}
