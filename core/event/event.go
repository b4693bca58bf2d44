// Package event implements Antbox's in-process event bus: an at-most-once,
// per-subscriber-ordered publish/subscribe mechanism used by the Node
// Service to announce mutations and by the Audit Log / Feature Service's
// automatic actions to react to them.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of domain event raised by the Node Service.
type Kind string

const (
	NodeCreated Kind = "node.created"
	NodeUpdated Kind = "node.updated"
	NodeDeleted Kind = "node.deleted"
)

// Event is the envelope carried over the bus. OldValues and NewValues carry
// the kind-specific data: for NodeCreated NewValues holds the new node's
// fields; for NodeUpdated both are set; for NodeDeleted OldValues holds the
// deleted node's last known fields.
type Event struct {
	ID         string
	Kind       Kind
	UUID       string
	Tenant     string
	UserEmail  string
	OccurredOn time.Time
	OldValues  map[string]any
	NewValues  map[string]any
}

// Handler processes a single event. A handler failure is isolated: it never
// blocks or fails delivery to other subscribers or other events.
type Handler func(ctx context.Context, evt Event) error

// FailureHandler is invoked when a Handler returns an error, so callers can
// log it without the bus itself taking a logging dependency.
type FailureHandler func(evt Event, handlerName string, err error)

type subscription struct {
	name    string
	handler Handler
	queue   chan Event
}

// Bus is a process-wide, in-memory event bus. Each subscriber gets its own
// buffered queue and goroutine so one slow or failing handler never blocks
// delivery to the others, while deliveries to a single subscriber remain
// strictly ordered.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Kind][]*subscription
	onError FailureHandler
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Bus. onError may be nil, in which case handler failures are
// silently discarded (by design, the bus never surfaces publisher-side errors).
func New(onError FailureHandler) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:    make(map[Kind][]*subscription),
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers handler for kind under name, returning an Unsubscribe
// function. Each subscription has its own goroutine consuming a 256-deep
// buffered queue so Publish never blocks on a slow subscriber beyond that.
func (b *Bus) Subscribe(kind Kind, name string, handler Handler) func() {
	sub := &subscription{name: name, handler: handler, queue: make(chan Event, 256)}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.drain(sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, s := range list {
			if s == sub {
				b.subs[kind] = append(list[:i], list[i+1:]...)
				close(sub.queue)
				break
			}
		}
	}
}

func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for evt := range sub.queue {
		if err := sub.handler(b.ctx, evt); err != nil && b.onError != nil {
			b.onError(evt, sub.name, err)
		}
	}
}

// Publish hands evt to every subscriber of evt.Kind. Delivery is
// fire-and-forget: Publish returns once the event has been enqueued on every
// subscriber's queue, not once handlers have run. A full subscriber queue
// causes that subscriber to miss the event rather than block the publisher
// (at-most-once, best-effort delivery).
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredOn.IsZero() {
		evt.OccurredOn = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[evt.Kind] {
		select {
		case sub.queue <- evt:
		default:
		}
	}
}

// Close stops accepting new work and waits for in-flight handlers to drain.
func (b *Bus) Close() {
	b.cancel()
	b.mu.Lock()
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.queue)
		}
	}
	b.subs = make(map[Kind][]*subscription)
	b.mu.Unlock()
	b.wg.Wait()
}
