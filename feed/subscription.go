package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/storage/models"
)

// ErrSubscriptionClosed is returned when a delivery is attempted on a
// closed subscription.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Delivery is one pushed feed entry: the message plus the author snapshot
// and settings blob resolved at delivery time.
type Delivery struct {
	Cursor   uint64          `json:"cursor"`
	Message  models.Message  `json:"message"`
	Profile  models.Profile  `json:"profile"`
	Settings json.RawMessage `json:"settings"`
}

// Subscription is ephemeral and process-local: created when a profile view
// opens, destroyed on disconnect, owning no persistent state. Matching
// entries are staged in arrival order and drained by a dedicated goroutine
// into a bounded channel, so one slow subscriber never blocks the
// publisher or its peers.
type Subscription struct {
	ID         string
	ViewerID   string
	ScopeLower string
	ScopeUpper string

	engine *Engine
	cursor uint64

	mu      sync.Mutex
	pending []entry
	closed  bool

	wake chan struct{}
	done chan struct{}
	out  chan Delivery

	closeOnce sync.Once
}

func newSubscription(engine *Engine, viewerID, scopeLower, scopeUpper string, cursor uint64, bufferSize int) *Subscription {
	return &Subscription{
		ID:         uuid.NewString(),
		ViewerID:   viewerID,
		ScopeLower: scopeLower,
		ScopeUpper: scopeUpper,
		engine:     engine,
		cursor:     cursor,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		out:        make(chan Delivery, bufferSize),
	}
}

// Deliveries is the push sequence of matching feed entries. The channel is
// closed after Close.
func (s *Subscription) Deliveries() <-chan Delivery {
	return s.out
}

// Cursor returns the log position the subscription started at. Nothing at
// or before it is ever delivered.
func (s *Subscription) Cursor() uint64 {
	return s.cursor
}

// Close releases the subscription. It is idempotent and never errors on an
// already-closed subscription. Entries still staged at close time are
// dropped, not delivered; the out channel closes once the drain goroutine
// observes the close.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.engine.remove(s.ID)
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) matches(msg *models.Message) bool {
	if msg.IsReply() {
		return false
	}
	key := msg.ScopeKey()
	return key >= s.ScopeLower && key <= s.ScopeUpper
}

func (s *Subscription) push(ent entry) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSubscriptionClosed
	}
	s.pending = append(s.pending, ent)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Subscription) drain() {
	defer close(s.out)
	for {
		ent, ok := s.next()
		if !ok {
			return
		}
		select {
		case s.out <- s.buildDelivery(ent):
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) next() (entry, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return entry{}, false
		}
		if len(s.pending) > 0 {
			ent := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return ent, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.done:
			return entry{}, false
		}
	}
}

// buildDelivery resolves the author snapshot lazily. A failed snapshot is
// logged and the message still goes out; dropping it after it passed the
// filter would break the delivery contract.
func (s *Subscription) buildDelivery(ent entry) Delivery {
	d := Delivery{
		Cursor:  ent.seq,
		Message: ent.msg,
	}
	if s.engine.snapshot == nil {
		return d
	}
	profile, settings, err := s.engine.snapshot(context.Background(), ent.msg.AuthorID)
	if err != nil {
		log.Errorf("Error resolving snapshot for message %s: %v", ent.msg.ID, err)
		return d
	}
	d.Profile = profile
	d.Settings = settings
	return d
}
