package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type ConnEvent struct {
	Kind    string
	Attempt int
}

func TestEventBus_BasicPubSub(t *testing.T) {
	bus := New[ConnEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, cleanup := bus.Subscribe(ctx)
	defer cleanup()

	want := ConnEvent{Kind: "reconnecting", Attempt: 1}
	delivered := bus.Publish(want)

	if delivered != 1 {
		t.Errorf("Expected 1 delivery, got %d", delivered)
	}

	select {
	case received := <-events:
		if received != want {
			t.Errorf("Event mismatch: expected %+v, got %+v", want, received)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for event")
	}
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := New[ConnEvent]()
	defer bus.Shutdown()

	ctx := context.Background()
	numSubscribers := 5
	var subscribers []<-chan ConnEvent
	var cleanups []func()

	for i := 0; i < numSubscribers; i++ {
		events, cleanup := bus.Subscribe(ctx)
		subscribers = append(subscribers, events)
		cleanups = append(cleanups, cleanup)
	}
	defer func() {
		for _, cleanup := range cleanups {
			cleanup()
		}
	}()

	want := ConnEvent{Kind: "reconnected", Attempt: 3}
	delivered := bus.Publish(want)

	if delivered != numSubscribers {
		t.Errorf("Expected %d deliveries, got %d", numSubscribers, delivered)
	}

	for i, events := range subscribers {
		select {
		case received := <-events:
			if received != want {
				t.Errorf("Subscriber %d: expected %+v, got %+v", i, want, received)
			}
		case <-time.After(time.Second):
			t.Errorf("Subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestEventBus_DropOldestWhenFull(t *testing.T) {
	bus := NewWithConfig[ConnEvent](EventBusConfig{
		BufferSize:    3,
		CleanupPeriod: 0,
	})
	defer bus.Shutdown()

	events, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	// Nobody draining: publishing 5 into a 3-slot buffer must evict the
	// two oldest, never block, never lose the newest.
	for i := 1; i <= 5; i++ {
		bus.Publish(ConnEvent{Kind: "retrying", Attempt: i})
	}

	var got []int
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			got = append(got, ev.Attempt)
		case <-time.After(time.Second):
			t.Fatalf("timeout draining buffered events, got %v", got)
		}
	}

	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected newest events %v to survive, got %v", want, got)
		}
	}

	if dropped := bus.Stats().TotalDropped; dropped != 2 {
		t.Errorf("expected 2 dropped events, got %d", dropped)
	}
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New[ConnEvent]()
	defer bus.Shutdown()

	_, cleanup := bus.Subscribe(context.Background())
	cleanup()

	if delivered := bus.Publish(ConnEvent{Kind: "up"}); delivered != 0 {
		t.Errorf("Expected 0 deliveries after unsubscribe, got %d", delivered)
	}
}

func TestEventBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := New[ConnEvent]()
	defer bus.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	_, _ = bus.Subscribe(ctx)
	cancel()

	// Unsubscription runs on a goroutine watching ctx.Done()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.Stats().ActiveSubscribers == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("subscriber still active after context cancellation")
}

func TestEventBus_ShutdownClosesChannels(t *testing.T) {
	bus := New[ConnEvent]()

	events, _ := bus.Subscribe(context.Background())
	bus.Shutdown()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for channel close")
	}

	if delivered := bus.Publish(ConnEvent{Kind: "up"}); delivered != 0 {
		t.Errorf("Expected 0 deliveries after shutdown, got %d", delivered)
	}
}

func TestEventBus_SubscribeAfterShutdown(t *testing.T) {
	bus := New[ConnEvent]()
	bus.Shutdown()

	events, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected immediately closed channel")
		}
	case <-time.After(time.Second):
		t.Error("timeout: channel from post-shutdown subscribe not closed")
	}
}

func TestEventBus_ConcurrentPublishers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping concurrency test in short mode")
	}

	bus := NewWithConfig[ConnEvent](EventBusConfig{
		BufferSize:    1024,
		CleanupPeriod: 0,
	})
	defer bus.Shutdown()

	events, cleanup := bus.Subscribe(context.Background())
	defer cleanup()

	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range events {
			received.Add(1)
		}
	}()

	const numPublishers = 8
	const perPublisher = 100

	var wg sync.WaitGroup
	for p := 0; p < numPublishers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				bus.Publish(ConnEvent{Kind: "retrying", Attempt: id*1000 + i})
			}
		}(p)
	}
	wg.Wait()

	// Drain whatever is still buffered
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if received.Load()+int64(bus.Stats().TotalDropped) >= numPublishers*perPublisher {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	total := received.Load() + int64(bus.Stats().TotalDropped)
	if total < numPublishers*perPublisher {
		t.Errorf("events unaccounted for: received %d + dropped %d < published %d",
			received.Load(), bus.Stats().TotalDropped, numPublishers*perPublisher)
	}
}
