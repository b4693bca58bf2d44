package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(nil)
	defer b.Close()

	received := make(chan Event, 1)
	b.Subscribe(NodeCreated, "test", func(ctx context.Context, evt Event) error {
		received <- evt
		return nil
	})

	b.Publish(Event{Kind: NodeCreated, UUID: "n1", Tenant: "t1"})

	select {
	case evt := <-received:
		assert.Equal(t, "n1", evt.UUID)
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.OccurredOn.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishOnlyReachesMatchingKind(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var got []Kind
	var mu sync.Mutex
	b.Subscribe(NodeDeleted, "watcher", func(ctx context.Context, evt Event) error {
		mu.Lock()
		got = append(got, evt.Kind)
		mu.Unlock()
		return nil
	})

	b.Publish(Event{Kind: NodeCreated, UUID: "n1"})
	b.Publish(Event{Kind: NodeDeleted, UUID: "n2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []Kind{NodeDeleted}, got)
}

func TestSubscriberOrderingPreserved(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var mu sync.Mutex
	var order []string
	b.Subscribe(NodeUpdated, "ordered", func(ctx context.Context, evt Event) error {
		mu.Lock()
		order = append(order, evt.UUID)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 20; i++ {
		b.Publish(Event{Kind: NodeUpdated, UUID: string(rune('a' + i))})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 20; i++ {
		assert.Equal(t, string(rune('a'+i)), order[i])
	}
}

func TestHandlerFailureIsolated(t *testing.T) {
	b := New(func(evt Event, handlerName string, err error) {})
	defer b.Close()

	var okCalled bool
	var mu sync.Mutex
	b.Subscribe(NodeCreated, "failing", func(ctx context.Context, evt Event) error {
		return assert.AnError
	})
	b.Subscribe(NodeCreated, "ok", func(ctx context.Context, evt Event) error {
		mu.Lock()
		okCalled = true
		mu.Unlock()
		return nil
	})

	b.Publish(Event{Kind: NodeCreated, UUID: "n1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return okCalled
	}, time.Second, 10*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	defer b.Close()

	count := 0
	var mu sync.Mutex
	unsub := b.Subscribe(NodeCreated, "temp", func(ctx context.Context, evt Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	b.Publish(Event{Kind: NodeCreated, UUID: "n1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	unsub()
	b.Publish(Event{Kind: NodeCreated, UUID: "n2"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}
