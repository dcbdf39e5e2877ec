package framebus

import (
	"sync"
	"testing"
	"time"
)

// TestBasicPublishSubscribe verifies basic functionality.
func TestBasicPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Frame, 10)
	if err := bus.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(Frame{Sequence: 1, TraceID: "abc"})

	select {
	case received := <-ch:
		if received.Sequence != 1 || received.TraceID != "abc" {
			t.Errorf("Expected seq 1 trace abc, got %d %q", received.Sequence, received.TraceID)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for frame")
	}
}

// TestNonBlockingPublish verifies Publish never blocks.
func TestNonBlockingPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Frame, 1)
	if err := bus.Subscribe("slow", ch); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		bus.Publish(Frame{Sequence: 1})
		bus.Publish(Frame{Sequence: 2}) // buffer full, dropped
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	if received := <-ch; received.Sequence != 1 {
		t.Errorf("Expected seq 1, got %d", received.Sequence)
	}

	sub := bus.Stats().Subscribers["slow"]
	if sub.Sent != 1 || sub.Dropped != 1 {
		t.Errorf("Expected 1 sent / 1 dropped, got %d / %d", sub.Sent, sub.Dropped)
	}
}

// TestStatsConservation verifies sent + dropped == published × subscribers.
func TestStatsConservation(t *testing.T) {
	bus := New()
	defer bus.Close()

	_ = bus.Subscribe("worker-1", make(chan Frame, 10))
	_ = bus.Subscribe("worker-2", make(chan Frame, 1))
	_, _ = bus.SubscribeDropOld("latest")

	for i := uint64(1); i <= 5; i++ {
		bus.Publish(Frame{Sequence: i})
	}

	stats := bus.Stats()
	if stats.TotalPublished != 5 {
		t.Errorf("Expected 5 published, got %d", stats.TotalPublished)
	}
	if got, want := stats.TotalSent+stats.TotalDropped, stats.TotalPublished*3; got != want {
		t.Errorf("Conservation violated: %d != %d", got, want)
	}
	if stats.Subscribers["worker-2"].Dropped != 4 {
		t.Errorf("worker-2 expected 4 dropped, got %d", stats.Subscribers["worker-2"].Dropped)
	}
	if rate := stats.DropRate(); rate <= 0 || rate >= 1 {
		t.Errorf("unexpected drop rate %f", rate)
	}
}

func TestDropOldKeepsLatest(t *testing.T) {
	bus := New()
	defer bus.Close()

	r, err := bus.SubscribeDropOld("snap")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.TryReceive(); ok {
		t.Fatal("no frame published yet")
	}

	for i := uint64(1); i <= 3; i++ {
		bus.Publish(Frame{Sequence: i})
	}
	f, ok := r.TryReceive()
	if !ok || f.Sequence != 3 {
		t.Errorf("Expected latest seq 3, got %d (ok=%v)", f.Sequence, ok)
	}
}

func TestDropOldReceiveUnblocksOnClose(t *testing.T) {
	bus := New()
	r, err := bus.SubscribeDropOld("snap")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, ok := r.Receive(); ok {
			t.Error("Receive on a closed bus must report !ok")
		}
	}()

	time.Sleep(10 * time.Millisecond)
	bus.Close()
	wg.Wait()
}

func TestSubscribeErrors(t *testing.T) {
	bus := New()

	if err := bus.Subscribe("a", nil); err != ErrNilChannel {
		t.Errorf("Expected ErrNilChannel, got %v", err)
	}
	_ = bus.Subscribe("a", make(chan Frame, 1))
	if err := bus.Subscribe("a", make(chan Frame, 1)); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if err := bus.Unsubscribe("missing"); err != ErrSubscriberNotFound {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}

	bus.Close()
	if err := bus.Subscribe("b", make(chan Frame, 1)); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	bus.Publish(Frame{}) // no-op after close
}
