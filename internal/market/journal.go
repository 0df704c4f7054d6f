package market

import (
	"context"
	"log/slog"
)

// Journal is the append-only trade history. Rows are canonicalized on
// the way in so that the history of a pair can be read regardless of
// which side a trade was recorded from.
type Journal struct {
	store  Store
	logger *slog.Logger
}

// NewJournal creates the journal service.
func NewJournal(store Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:  store,
		logger: logger.With("component", "journal"),
	}
}

// Record appends one executed trade through the given store handle, so
// it commits together with the balance transfers it describes. The side
// with the larger item hash is stored as side A.
func (j *Journal) Record(ctx context.Context, s Stores, rec TradeRecord) error {
	giveHash, err := ItemHash(rec.Give.Item, rec.Give.Payload)
	if err != nil {
		return err
	}
	takeHash, err := ItemHash(rec.Take.Item, rec.Take.Payload)
	if err != nil {
		return err
	}
	rec.Give.Hash = giveHash
	rec.Take.Hash = takeHash

	t := &Transaction{
		Tenant:   rec.Tenant,
		MarketID: rec.MarketID,
		Date:     rec.Date,
		Amount:   rec.Amount,
	}
	if giveHash > takeHash {
		t.A, t.B = rec.Give, rec.Take
	} else {
		t.A, t.B = rec.Take, rec.Give
	}

	id, err := s.Transactions().Insert(ctx, t)
	if err != nil {
		return NewStorageError("failed to record transaction", err)
	}

	j.logger.Info("trade recorded",
		"tenant", rec.Tenant, "market", rec.MarketID, "transaction", id,
		"give", rec.Give.Item, "take", rec.Take.Item, "amount", rec.Amount)
	return nil
}

// ListAggregated returns per-day trade history between two items,
// newest day first, mapped back onto the caller's give/take
// orientation.
func (j *Journal) ListAggregated(ctx context.Context, tenant, marketID int64, giveItem string, givePayload Payload, takeItem string, takePayload Payload, limit int) ([]DailyAggregate, error) {
	if limit <= 0 || limit > MaxAggregateLimit {
		return nil, NewValidationError("limit must be between 1 and %d", MaxAggregateLimit)
	}

	giveHash, err := ItemHash(giveItem, givePayload)
	if err != nil {
		return nil, err
	}
	takeHash, err := ItemHash(takeItem, takePayload)
	if err != nil {
		return nil, err
	}

	hashA, hashB := giveHash, takeHash
	if takeHash > giveHash {
		hashA, hashB = takeHash, giveHash
	}

	aggregates, err := j.store.Transactions().Aggregate(ctx, tenant, marketID, hashA, hashB, limit)
	if err != nil {
		return nil, NewStorageError("failed to aggregate transactions", err)
	}

	// Stored side A carries the larger hash. When the caller's give item
	// hashes smaller, the stored averages are swapped relative to the
	// requested orientation.
	if takeHash > giveHash {
		for i := range aggregates {
			aggregates[i].AvgGive, aggregates[i].AvgTake = aggregates[i].AvgTake, aggregates[i].AvgGive
		}
	}
	return aggregates, nil
}
