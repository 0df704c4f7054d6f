package notify

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pierrec/lz4"
	"github.com/ugorji/go/codec"

	"github.com/anthill-platform/anthill-market/internal/market"
)

const (
	// DefaultDrainInterval is how often queued notifications are retried.
	DefaultDrainInterval = 15 * time.Second

	// maxBackoffFactor caps the retry delay growth while the downstream
	// stays unreachable.
	maxBackoffFactor = 16

	// compressAt is the encoded size above which records are compressed
	// before hitting disk.
	compressAt = 512

	recordRaw = 0x00
	recordLZ4 = 0x01
)

var outboxJSON codec.JsonHandle

// Outbox wraps a notifier with a durable retry queue. A failed send is
// persisted to a local pebble store; a background drainer replays
// queued records in order and deletes them once delivered. Ordering is
// preserved per queue, and the drainer stops at the first record that
// still fails.
type Outbox struct {
	inner    market.Notifier
	db       *pebble.DB
	interval time.Duration
	logger   *slog.Logger

	seq atomic.Uint64
}

// NewOutbox opens (or creates) the queue at path.
func NewOutbox(path string, inner market.Notifier, interval time.Duration, logger *slog.Logger) (*Outbox, error) {
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox store: %w", err)
	}

	o := &Outbox{
		inner:    inner,
		db:       db,
		interval: interval,
		logger:   logger.With("component", "outbox"),
	}

	if err := o.recoverSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

// Close releases the queue store.
func (o *Outbox) Close() error {
	return o.db.Close()
}

func (o *Outbox) recoverSeq() error {
	iter, err := o.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("failed to scan outbox store: %w", err)
	}
	defer iter.Close()

	if iter.Last() && len(iter.Key()) == 8 {
		o.seq.Store(binary.BigEndian.Uint64(iter.Key()))
	}
	return nil
}

// Send tries the wrapped notifier and falls back to the queue. A queued
// notification reports success; only a failure to persist surfaces the
// original delivery error.
func (o *Outbox) Send(ctx context.Context, n market.Notification) error {
	err := o.inner.Send(ctx, n)
	if err == nil {
		return nil
	}

	if qerr := o.enqueue(n); qerr != nil {
		o.logger.Error("failed to queue notification",
			"kind", n.Kind, "recipient", n.RecipientKey, "error", qerr)
		return err
	}

	o.logger.Info("notification queued for retry",
		"kind", n.Kind, "recipient", n.RecipientKey)
	return nil
}

func (o *Outbox) enqueue(n market.Notification) error {
	record, err := encodeRecord(n)
	if err != nil {
		return err
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, o.seq.Add(1))
	return o.db.Set(key, record, pebble.Sync)
}

// Run drains the queue until the context is done. The retry delay
// doubles while deliveries keep failing and resets on success.
func (o *Outbox) Run(ctx context.Context) error {
	delay := o.interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := o.Drain(ctx); err != nil {
			if delay < o.interval*maxBackoffFactor {
				delay *= 2
			}
			o.logger.Warn("outbox drain incomplete", "retry_in", delay, "error", err)
		} else {
			delay = o.interval
		}
		timer.Reset(delay)
	}
}

// Drain replays queued notifications in order, deleting each once the
// wrapped notifier accepts it. It stops at the first failure so order
// is preserved across retries.
func (o *Outbox) Drain(ctx context.Context) error {
	iter, err := o.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("failed to scan outbox store: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := decodeRecord(iter.Value())
		if err != nil {
			// Unreadable record: drop it, there is nothing to retry.
			o.logger.Error("dropping corrupt outbox record", "error", err)
		} else if err := o.inner.Send(ctx, n); err != nil {
			return err
		}

		key := append([]byte(nil), iter.Key()...)
		if err := o.db.Delete(key, pebble.Sync); err != nil {
			return fmt.Errorf("failed to delete delivered record: %w", err)
		}
	}
	return iter.Error()
}

// Pending counts queued records. Intended for tests and diagnostics.
func (o *Outbox) Pending() (int, error) {
	iter, err := o.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

func encodeRecord(n market.Notification) ([]byte, error) {
	var encoded []byte
	if err := codec.NewEncoderBytes(&encoded, &outboxJSON).Encode(n); err != nil {
		return nil, err
	}

	if len(encoded) <= compressAt {
		return append([]byte{recordRaw}, encoded...), nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(encoded)))
	size, err := lz4.CompressBlock(encoded, compressed, nil)
	if err != nil || size == 0 || size >= len(encoded) {
		// Incompressible payloads are stored raw.
		return append([]byte{recordRaw}, encoded...), nil
	}

	record := make([]byte, 5+size)
	record[0] = recordLZ4
	binary.BigEndian.PutUint32(record[1:5], uint32(len(encoded)))
	copy(record[5:], compressed[:size])
	return record, nil
}

func decodeRecord(record []byte) (market.Notification, error) {
	var n market.Notification
	if len(record) < 1 {
		return n, fmt.Errorf("empty outbox record")
	}

	var encoded []byte
	switch record[0] {
	case recordRaw:
		encoded = record[1:]
	case recordLZ4:
		if len(record) < 5 {
			return n, fmt.Errorf("truncated outbox record")
		}
		size := binary.BigEndian.Uint32(record[1:5])
		encoded = make([]byte, size)
		if _, err := lz4.UncompressBlock(record[5:], encoded); err != nil {
			return n, fmt.Errorf("failed to decompress outbox record: %w", err)
		}
	default:
		return n, fmt.Errorf("unknown outbox record format 0x%02x", record[0])
	}

	if err := codec.NewDecoderBytes(encoded, &outboxJSON).Decode(&n); err != nil {
		return n, err
	}
	return n, nil
}
