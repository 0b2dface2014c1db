// Package feed maintains live, per-viewer subscriptions over the
// append-only message log. A subscription only ever sees messages
// published after it was opened, filtered to top-level messages whose
// scope key falls inside its range, in publish order.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/raichat/social/storage/models"
)

// DefaultBufferSize is the per-subscriber delivery channel capacity. A
// subscriber that stops reading stalls only its own drain goroutine.
const DefaultBufferSize = 64

// SnapshotFunc resolves the author's profile and settings blob attached to
// each delivery. It is called lazily at delivery time, never captured at
// subscribe time, so subscribers do not see stale snapshots.
type SnapshotFunc func(ctx context.Context, authorID string) (models.Profile, json.RawMessage, error)

type entry struct {
	seq uint64
	msg models.Message
}

// Engine is the process-local subscription registry over the message log
// tail. Publishing and subscribing share one mutex, which is what makes
// the "no history at cursor C" guarantee structural: a subscription can
// only ever be handed messages sequenced after its registration.
type Engine struct {
	snapshot   SnapshotFunc
	bufferSize int

	mu   sync.Mutex
	seq  uint64
	subs map[string]*Subscription
}

func NewEngine(snapshot SnapshotFunc, bufferSize int) *Engine {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Engine{
		snapshot:   snapshot,
		bufferSize: bufferSize,
		subs:       make(map[string]*Subscription),
	}
}

// Publish appends a message to the log and fans it out to every matching
// live subscription. Returns the message's cursor position.
func (e *Engine) Publish(msg models.Message) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	ent := entry{seq: e.seq, msg: msg}
	for _, sub := range e.subs {
		if sub.matches(&msg) {
			// A concurrent Close between match and push is fine,
			// the push just reports the subscription closed.
			_ = sub.push(ent)
		}
	}
	return e.seq
}

// Tail returns the current log tail cursor.
func (e *Engine) Tail() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Subscribe opens a live subscription scoped to the ordered key range
// [scopeLower, scopeUpper]. Bounds arrive in whatever order the two
// identities compare; they are normalized here. The starting cursor is the
// current log tail, so history is never delivered.
func (e *Engine) Subscribe(viewerID, scopeLower, scopeUpper string) *Subscription {
	if scopeLower > scopeUpper {
		scopeLower, scopeUpper = scopeUpper, scopeLower
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := newSubscription(e, viewerID, scopeLower, scopeUpper, e.seq, e.bufferSize)
	e.subs[sub.ID] = sub
	go sub.drain()
	return sub
}

func (e *Engine) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
}
