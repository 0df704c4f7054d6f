package market

import (
	"context"
	"errors"
	"log/slog"

	"github.com/anthill-platform/anthill-market/internal/clock"
	"github.com/anthill-platform/anthill-market/internal/metrics"
)

// errCannotFulfill aborts a directed fulfillment transaction without
// surfacing an error to the caller; the matcher translates it into a
// nil result.
var errCannotFulfill = errors.New("cannot fulfill")

// Matcher executes trades: sweeping the book for counter-orders after a
// post or update, and directed fulfillment of a named order. All
// transfers, journal rows, and order mutations of one match commit in a
// single transaction; completion events go out only after it.
type Matcher struct {
	store    Store
	ledger   *Ledger
	journal  *Journal
	notifier Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	logger   *slog.Logger
}

// NewMatcher creates the matching engine.
func NewMatcher(store Store, ledger *Ledger, journal *Journal, notifier Notifier, met *metrics.Metrics, clk clock.Clock, logger *slog.Logger) *Matcher {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		store:    store,
		ledger:   ledger,
		journal:  journal,
		notifier: notifier,
		metrics:  met,
		clock:    clk,
		logger:   logger.With("component", "matcher"),
	}
}

// completion is one pending order_completed event, snapshotted while
// the transaction is open and emitted after commit.
type completion struct {
	order      Order
	giveAmount int64
	completed  int64
	left       int64
}

// MatchOrder sweeps the book for counter-orders satisfying the subject
// and executes as many fills as possible within one transaction.
//
// Candidates are taken best-deal-first: cheapest take_amount, then
// cheapest give_amount, most recent among ties. Each fill transfers
// goods at the candidate's asking price; the difference to what the
// subject escrowed per unit accumulates as a rebate credited back to
// the subject's owner after the loop. The candidate's own escrow
// surplus over the subject's asking price is rebated per fill.
//
// Reports whether the subject order was fully consumed.
func (m *Matcher) MatchOrder(ctx context.Context, tenant, marketID, orderID int64) (bool, error) {
	var (
		completions []completion
		fills       []int64
		filledFully int
		matched     bool
	)

	err := m.store.WithTransaction(ctx, func(tx Tx) error {
		subject, err := tx.Orders().Lock(ctx, tenant, orderID)
		if err != nil {
			return NewStorageError("failed to lock order", err)
		}
		if subject == nil {
			return ErrOrderNotFound
		}
		if marketID != 0 && subject.MarketID != marketID {
			return NewForbiddenError("order belongs to a different market")
		}
		if subject.Available <= 0 {
			return nil
		}

		m.logger.Info("matching order",
			"tenant", tenant, "market", subject.MarketID, "order", subject.ID,
			"give", subject.GiveItem, "take", subject.TakeItem, "available", subject.Available)

		candidates, err := tx.Orders().Candidates(ctx, subject)
		if err != nil {
			return NewStorageError("failed to select candidate orders", err)
		}

		remaining := subject.Available
		var backup int64

		for i := range candidates {
			cand := &candidates[i]

			// Scalar compatibility came from the query; payloads are the
			// engine's own check. What each side demands must be contained
			// in what the other side offers.
			if !subject.GivePayload.Contains(cand.TakePayload) {
				continue
			}
			if !cand.GivePayload.Contains(subject.TakePayload) {
				continue
			}

			fill := remaining
			if cand.Available < fill {
				fill = cand.Available
			}
			candLeft := cand.Available - fill

			backup += (subject.GiveAmount - cand.TakeAmount) * fill
			remaining -= fill

			m.logger.Info("order matched",
				"tenant", tenant, "order", subject.ID, "candidate", cand.ID,
				"fill", fill, "candidate_left", candLeft)

			// The journal records what actually settled per unit: the
			// subject paid the candidate's asking price and vice versa.
			err = m.journal.Record(ctx, tx, TradeRecord{
				Tenant:   tenant,
				MarketID: subject.MarketID,
				Date:     m.clock.Now(),
				Amount:   fill,
				Give: TransactionSide{
					Item:          subject.GiveItem,
					Payload:       subject.GivePayload,
					AmountPerUnit: cand.TakeAmount,
					Owner:         subject.Owner,
				},
				Take: TransactionSide{
					Item:          cand.GiveItem,
					Payload:       cand.GivePayload,
					AmountPerUnit: subject.TakeAmount,
					Owner:         cand.Owner,
				},
			})
			if err != nil {
				return err
			}

			err = m.ledger.Add(ctx, tx, tenant, cand.Owner, subject.MarketID,
				subject.GiveItem, fill*cand.TakeAmount, subject.GivePayload)
			if err != nil {
				return err
			}

			err = m.ledger.Add(ctx, tx, tenant, subject.Owner, subject.MarketID,
				cand.GiveItem, fill*subject.TakeAmount, cand.GivePayload)
			if err != nil {
				return err
			}

			if rebate := (cand.GiveAmount - subject.TakeAmount) * fill; rebate > 0 {
				err = m.ledger.Add(ctx, tx, tenant, cand.Owner, subject.MarketID,
					cand.GiveItem, rebate, cand.GivePayload)
				if err != nil {
					return err
				}
			}

			if candLeft == 0 {
				if err := tx.Orders().Delete(ctx, tenant, cand.ID); err != nil {
					return NewStorageError("failed to delete matched order", err)
				}
				filledFully++
			} else {
				if err := tx.Orders().SetAvailable(ctx, tenant, cand.ID, candLeft); err != nil {
					return NewStorageError("failed to update matched order", err)
				}
			}

			completions = append(completions,
				completion{order: *subject, giveAmount: cand.TakeAmount, completed: fill, left: remaining},
				completion{order: *cand, giveAmount: subject.TakeAmount, completed: fill, left: candLeft})
			fills = append(fills, fill)

			if remaining <= 0 {
				break
			}
		}

		if remaining == 0 {
			if err := tx.Orders().Delete(ctx, tenant, subject.ID); err != nil {
				return NewStorageError("failed to delete fulfilled order", err)
			}
			filledFully++
			matched = true
		} else if remaining != subject.Available {
			if err := tx.Orders().SetAvailable(ctx, tenant, subject.ID, remaining); err != nil {
				return NewStorageError("failed to update order availability", err)
			}
		}

		if backup > 0 {
			err = m.ledger.Add(ctx, tx, tenant, subject.Owner, subject.MarketID,
				subject.GiveItem, backup, subject.GivePayload)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	for _, fill := range fills {
		m.metrics.FillUnits(fill)
	}
	for i := 0; i < filledFully; i++ {
		m.metrics.OrderFilled(metrics.FillMatched)
	}
	for _, c := range completions {
		m.send(ctx, orderCompleted(&c.order, c.giveAmount, c.completed, c.left))
	}
	return matched, nil
}

// FulfillOrder lets a buyer take count units of a named order at its
// posted prices. A nil result with a nil error means the order could
// not be fulfilled: it is absent, lives in another market, is owned by
// the buyer, lacks availability, or the buyer cannot pay. Nothing is
// mutated in that case.
func (m *Matcher) FulfillOrder(ctx context.Context, tenant, marketID, orderID, buyer, count int64) (*FulfillResult, error) {
	if count < 1 {
		return nil, NewValidationError("fulfill amount must be at least 1")
	}

	var (
		done  completion
		left  int64
		found bool
	)

	err := m.store.WithTransaction(ctx, func(tx Tx) error {
		order, err := tx.Orders().LockForFulfill(ctx, tenant, orderID, marketID, count, buyer)
		if err != nil {
			return NewStorageError("failed to lock order", err)
		}
		if order == nil {
			return errCannotFulfill
		}

		need := order.TakeAmount * count
		give := order.GiveAmount * count

		m.logger.Info("fulfilling order",
			"tenant", tenant, "market", marketID, "order", orderID,
			"buyer", buyer, "count", count, "need", need)

		paid, err := m.ledger.Subtract(ctx, tx, tenant, buyer, marketID,
			order.TakeItem, need, order.TakePayload)
		if err != nil {
			return err
		}
		if !paid {
			return errCannotFulfill
		}

		err = m.ledger.Add(ctx, tx, tenant, order.Owner, marketID,
			order.TakeItem, need, order.TakePayload)
		if err != nil {
			return err
		}

		err = m.ledger.Add(ctx, tx, tenant, buyer, marketID,
			order.GiveItem, give, order.GivePayload)
		if err != nil {
			return err
		}

		err = m.journal.Record(ctx, tx, TradeRecord{
			Tenant:   tenant,
			MarketID: marketID,
			Date:     m.clock.Now(),
			Amount:   count,
			Give: TransactionSide{
				Item:          order.GiveItem,
				Payload:       order.GivePayload,
				AmountPerUnit: order.GiveAmount,
				Owner:         order.Owner,
			},
			Take: TransactionSide{
				Item:          order.TakeItem,
				Payload:       order.TakePayload,
				AmountPerUnit: order.TakeAmount,
				Owner:         buyer,
			},
		})
		if err != nil {
			return err
		}

		left = order.Available - count
		if left > 0 {
			if err := tx.Orders().SetAvailable(ctx, tenant, orderID, left); err != nil {
				return NewStorageError("failed to update order availability", err)
			}
		} else {
			if err := tx.Orders().Delete(ctx, tenant, orderID); err != nil {
				return NewStorageError("failed to delete fulfilled order", err)
			}
		}

		done = completion{order: *order, giveAmount: order.GiveAmount, completed: count, left: left}
		found = true
		return nil
	})
	if errors.Is(err, errCannotFulfill) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	m.metrics.FillUnits(count)
	if left <= 0 {
		m.metrics.OrderFilled(metrics.FillDirected)
	}
	m.send(ctx, orderCompleted(&done.order, done.giveAmount, done.completed, done.left))

	return &FulfillResult{OrderID: orderID, Completed: left <= 0}, nil
}

func (m *Matcher) send(ctx context.Context, n Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Send(ctx, n); err != nil {
		m.logger.Error("failed to deliver notification",
			"kind", n.Kind, "recipient", n.RecipientKey, "error", err)
	}
}
