package market

import (
	"context"
	"log/slog"
)

// Ledger is the inventory accounting layer: payload-keyed per-owner
// balances with additive and non-overdraft subtractive updates. It owns
// the items table; every other component mutates balances only through
// it.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// NewLedger creates the ledger service.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger.With("component", "ledger"),
	}
}

// GetBalance returns the owner's amount of (name, payload), looked up
// by the computed item hash. Absent rows report ErrItemNotFound.
func (l *Ledger) GetBalance(ctx context.Context, tenant, owner, marketID int64, name string, payload Payload) (int64, error) {
	hash, err := ItemHash(name, payload)
	if err != nil {
		return 0, err
	}

	balance, err := l.store.Items().Find(ctx, tenant, owner, marketID, hash)
	if err != nil {
		return 0, NewStorageError("failed to look up item balance", err)
	}
	if balance == nil {
		return 0, ErrItemNotFound
	}
	return balance.Amount, nil
}

// ListBalances returns the owner's balances in a market. Rows with a
// zero amount are hidden.
func (l *Ledger) ListBalances(ctx context.Context, tenant, owner, marketID int64) ([]ItemBalance, error) {
	balances, err := l.store.Items().List(ctx, tenant, owner, marketID)
	if err != nil {
		return nil, NewStorageError("failed to list item balances", err)
	}
	return balances, nil
}

// Add upserts the owner's balance of (name, payload) by amount, through
// the given store handle so it can compose into a larger transaction.
func (l *Ledger) Add(ctx context.Context, s Stores, tenant, owner, marketID int64, name string, amount int64, payload Payload) error {
	hash, err := ItemHash(name, payload)
	if err != nil {
		return err
	}

	err = s.Items().Add(ctx, ItemBalance{
		Tenant:   tenant,
		Owner:    owner,
		MarketID: marketID,
		Name:     name,
		Payload:  payload,
		Amount:   amount,
		Hash:     hash,
	})
	if err != nil {
		return NewStorageError("failed to update item balance", err)
	}

	l.logger.Info("item balance updated",
		"tenant", tenant, "owner", owner, "market", marketID,
		"item", name, "delta", amount)
	return nil
}

// Subtract decrements the owner's balance only when it covers the
// amount, and reports whether anything was subtracted.
func (l *Ledger) Subtract(ctx context.Context, s Stores, tenant, owner, marketID int64, name string, amount int64, payload Payload) (bool, error) {
	hash, err := ItemHash(name, payload)
	if err != nil {
		return false, err
	}

	subtracted, err := s.Items().Subtract(ctx, tenant, owner, marketID, hash, amount)
	if err != nil {
		return false, NewStorageError("failed to subtract item balance", err)
	}

	if subtracted {
		l.logger.Info("item balance subtracted",
			"tenant", tenant, "owner", owner, "market", marketID,
			"item", name, "amount", amount)
	} else {
		l.logger.Info("item balance subtraction refused",
			"tenant", tenant, "owner", owner, "market", marketID,
			"item", name, "amount", amount)
	}
	return subtracted, nil
}

// BatchUpdate applies a multi-item delta atomically. Within a single
// transaction it locks every balance a negative delta touches,
// prechecks that none would go below zero, then applies subtractions
// (still guarded by the conditional clause, against concurrent batches
// holding a different subset of rows) and finally additions. One
// impossible subtraction fails the whole batch with Insufficient.
func (l *Ledger) BatchUpdate(ctx context.Context, tenant, owner, marketID int64, deltas []ItemDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	type hashedDelta struct {
		ItemDelta
		hash string
	}

	hashed := make([]hashedDelta, 0, len(deltas))
	var negativeHashes []string
	for _, d := range deltas {
		if d.Name == "" {
			return NewValidationError("item name is required")
		}
		hash, err := ItemHash(d.Name, d.Payload)
		if err != nil {
			return err
		}
		hashed = append(hashed, hashedDelta{ItemDelta: d, hash: hash})
		if d.Delta < 0 {
			negativeHashes = append(negativeHashes, hash)
		}
	}

	return l.store.WithTransaction(ctx, func(tx Tx) error {
		existing, err := tx.Items().LockBalances(ctx, tenant, owner, marketID, negativeHashes)
		if err != nil {
			return NewStorageError("failed to lock item balances", err)
		}

		for _, d := range hashed {
			if d.Delta >= 0 {
				continue
			}
			if existing[d.hash] < -d.Delta {
				return NewInsufficientError("not enough items %q", d.Name)
			}
		}

		for _, d := range hashed {
			if d.Delta >= 0 {
				continue
			}
			subtracted, err := l.Subtract(ctx, tx, tenant, owner, marketID, d.Name, -d.Delta, d.Payload)
			if err != nil {
				return err
			}
			if !subtracted {
				return NewInsufficientError("not enough items %q", d.Name)
			}
		}

		for _, d := range hashed {
			if d.Delta <= 0 {
				continue
			}
			if err := l.Add(ctx, tx, tenant, owner, marketID, d.Name, d.Delta, d.Payload); err != nil {
				return err
			}
		}

		return nil
	})
}

// PurgeAccounts removes every balance owned by the deleted accounts.
func (l *Ledger) PurgeAccounts(ctx context.Context, tenant int64, accounts []int64, tenantOnly bool) error {
	if err := l.store.Items().PurgeAccounts(ctx, tenant, accounts, tenantOnly); err != nil {
		return NewStorageError("failed to purge account items", err)
	}
	return nil
}
