package testenv

import (
	"context"
	"sync"

	"github.com/anthill-platform/anthill-market/internal/market"
)

// RecordingNotifier captures every notification in order.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []market.Notification
	fail error
	hook func(market.Notification)
}

// NewRecordingNotifier creates an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (r *RecordingNotifier) Send(ctx context.Context, n market.Notification) error {
	r.mu.Lock()
	if r.fail != nil {
		r.mu.Unlock()
		return r.fail
	}
	r.sent = append(r.sent, n)
	hook := r.hook
	r.mu.Unlock()

	// The hook runs unlocked so it may call back into the engine, which
	// sends notifications of its own.
	if hook != nil {
		hook(n)
	}
	return nil
}

// OnSend installs fn to run after every recorded notification.
func (r *RecordingNotifier) OnSend(fn func(market.Notification)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = fn
}

// Sent returns a copy of everything recorded so far.
func (r *RecordingNotifier) Sent() []market.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]market.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// OfKind returns the recorded notifications with the given kind.
func (r *RecordingNotifier) OfKind(kind string) []market.Notification {
	var out []market.Notification
	for _, n := range r.Sent() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Reset drops everything recorded.
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// FailWith makes subsequent sends return err; nil restores delivery.
func (r *RecordingNotifier) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}
