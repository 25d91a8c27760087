package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestDispatcher_DeliversInRegistrationOrder(t *testing.T) {
	d := NewDispatcher("test")

	var calls []string
	d.Register(recordingSink(&calls, "s1"))
	d.Register(recordingSink(&calls, "s2"))
	d.Register(recordingSink(&calls, "s3"))

	if err := d.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if want := []string{"s1", "s2", "s3"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestDispatcher_DuplicateRegistrationDeliversTwice(t *testing.T) {
	d := NewDispatcher("test")

	calls := 0
	sink := func(_ context.Context, _ *Message) error {
		calls++
		return nil
	}
	first := d.Register(sink)
	second := d.Register(sink)

	if first == second {
		t.Error("expected distinct registration ids")
	}
	if err := d.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected sink to be called twice, got %d", calls)
	}
}

func TestDispatcher_SharesEnvelopeAcrossSinks(t *testing.T) {
	d := NewDispatcher("test")

	var seen []*Message
	for i := 0; i < 3; i++ {
		d.Register(func(_ context.Context, msg *Message) error {
			seen = append(seen, msg)
			return nil
		})
	}

	if err := d.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(seen) != 3 || seen[0] != seen[1] || seen[1] != seen[2] {
		t.Error("expected every sink to receive the same message instance")
	}
}

func TestDispatcher_NewEnvelopePerDispatch(t *testing.T) {
	d := NewDispatcher("test")

	var seen []*Message
	d.Register(func(_ context.Context, msg *Message) error {
		seen = append(seen, msg)
		return nil
	})

	ctx := context.Background()
	_ = d.DispatchFromView(ctx, clicked{})
	_ = d.DispatchFromView(ctx, clicked{})

	if len(seen) != 2 || seen[0] == seen[1] {
		t.Error("expected a fresh message for each dispatch")
	}
}

func TestDispatcher_NilAction(t *testing.T) {
	d := NewDispatcher("test")

	called := false
	d.Register(func(_ context.Context, _ *Message) error {
		called = true
		return nil
	})

	ctx := context.Background()
	if err := d.DispatchFromView(ctx, nil); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("view: expected ErrInvalidAction, got %v", err)
	}
	if err := d.DispatchFromServer(ctx, nil); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("server: expected ErrInvalidAction, got %v", err)
	}
	var typed *pointerAction
	if err := d.DispatchFromView(ctx, typed); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("typed nil: expected ErrInvalidAction, got %v", err)
	}
	if called {
		t.Error("expected no sink to run for an invalid action")
	}
}

func TestDispatcher_ValidatesAction(t *testing.T) {
	d := NewDispatcher("test")

	err := d.DispatchFromView(context.Background(), initialised{})
	if !errors.Is(err, ErrInvalidAction) {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}
	if err := d.DispatchFromView(context.Background(), initialised{Store: "s"}); err != nil {
		t.Errorf("expected valid action to dispatch, got %v", err)
	}
}

func TestDispatcher_ViewOrigin(t *testing.T) {
	d := NewDispatcher("test")

	var origin Origin = 99
	d.Register(func(_ context.Context, msg *Message) error {
		origin = msg.Origin()
		return nil
	})

	_ = d.DispatchFromView(context.Background(), clicked{})
	if origin != OriginView {
		t.Errorf("expected view origin, got %s", origin)
	}
}

// Server dispatches are tagged with the server origin. Earlier versions of
// this bus tagged them as view; that behavior is intentionally not kept.
func TestDispatcher_DispatchFromServer_TagsServerOrigin(t *testing.T) {
	d := NewDispatcher("test")

	var origin Origin = 99
	d.Register(func(_ context.Context, msg *Message) error {
		origin = msg.Origin()
		return nil
	})

	_ = d.DispatchFromServer(context.Background(), clicked{})
	if origin != OriginServer {
		t.Errorf("expected server origin, got %s", origin)
	}
}

func TestDispatcher_SinkErrorAbortsDelivery(t *testing.T) {
	d := NewDispatcher("test")
	boom := errors.New("boom")

	var calls []string
	d.Register(recordingSink(&calls, "s1"))
	d.Register(func(_ context.Context, _ *Message) error {
		calls = append(calls, "s2")
		return boom
	})
	d.Register(recordingSink(&calls, "s3"))

	err := d.DispatchFromView(context.Background(), clicked{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if want := []string{"s1", "s2"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestDispatcher_SinkErrorNamesSinkID(t *testing.T) {
	d := NewDispatcher("test")
	first := d.Register(func(context.Context, *Message) error { return nil })
	failing := d.Register(func(context.Context, *Message) error { return errors.New("boom") })
	if err := d.Unregister(first); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	err := d.DispatchFromView(context.Background(), clicked{})
	if err == nil {
		t.Fatal("expected sink error")
	}
	if want := fmt.Sprintf("sink %d:", failing); !strings.Contains(err.Error(), want) {
		t.Errorf("expected error to name %q, got %q", want, err.Error())
	}
}

func TestDispatcher_SinkPanicPropagates(t *testing.T) {
	d := NewDispatcher("test")
	d.Register(func(_ context.Context, _ *Message) error {
		panic("sink exploded")
	})

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic to reach the caller")
		}
	}()
	_ = d.DispatchFromView(context.Background(), clicked{})
}

func TestDispatcher_NoSinks(t *testing.T) {
	d := NewDispatcher("test")
	if err := d.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Errorf("expected dispatch with no sinks to succeed, got %v", err)
	}
}

func TestDispatcher_RejectsReentrantDispatch(t *testing.T) {
	d := NewDispatcher("test")

	var inner error
	d.Register(func(ctx context.Context, msg *Message) error {
		if msg.Action().Kind() == kindClicked {
			inner = d.DispatchFromView(ctx, reset{})
		}
		return nil
	})

	if err := d.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Fatalf("outer dispatch failed: %v", err)
	}
	if !errors.Is(inner, ErrReentrantDispatch) {
		t.Errorf("expected ErrReentrantDispatch, got %v", inner)
	}
}

func TestDispatcher_RejectsReentrantDispatchWithDerivedContext(t *testing.T) {
	d := NewDispatcher("test")

	var inner error
	d.Register(func(ctx context.Context, msg *Message) error {
		if msg.Action().Kind() != kindClicked {
			return nil
		}
		child, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		inner = d.DispatchFromServer(child, reset{})
		return nil
	})

	_ = d.DispatchFromView(context.Background(), clicked{})
	if !errors.Is(inner, ErrReentrantDispatch) {
		t.Errorf("expected ErrReentrantDispatch, got %v", inner)
	}
}

func TestDispatcher_QueuesDispatchWithUnrelatedContext(t *testing.T) {
	d := NewDispatcher("test")

	var kinds []Kind
	var inner error
	d.Register(func(_ context.Context, msg *Message) error {
		kinds = append(kinds, msg.Action().Kind())
		if msg.Action().Kind() == kindClicked {
			inner = d.DispatchFromView(context.Background(), reset{})
			if len(kinds) != 1 {
				t.Error("expected queued action to wait for the current delivery")
			}
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- d.DispatchFromView(context.Background(), clicked{}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("outer dispatch failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch from a sink with an unrelated context never returned")
	}

	if inner != nil {
		t.Errorf("expected queued dispatch to return nil, got %v", inner)
	}
	if want := []Kind{kindClicked, kindReset}; !reflect.DeepEqual(kinds, want) {
		t.Errorf("expected %v, got %v", want, kinds)
	}
	if q := d.Stats().Queued; q != 1 {
		t.Errorf("expected 1 queued dispatch, got %d", q)
	}
}

func TestDispatcher_QueuedFailureCountedNotReturned(t *testing.T) {
	d := NewDispatcher("test")
	boom := errors.New("boom")

	d.Register(func(_ context.Context, msg *Message) error {
		if msg.Action().Kind() == kindReset {
			return boom
		}
		return d.DispatchFromServer(context.Background(), reset{})
	})

	if err := d.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Fatalf("expected outer dispatch to succeed, got %v", err)
	}
	if f := d.Stats().Failed; f != 1 {
		t.Errorf("expected queued failure to be counted, got %d", f)
	}
}

func TestDispatcher_QueuedMessageOutlivesCanceledContext(t *testing.T) {
	d := NewDispatcher("test")

	var resetErr error
	d.Register(func(ctx context.Context, msg *Message) error {
		if msg.Action().Kind() == kindReset {
			resetErr = ctx.Err()
			return nil
		}
		qctx, cancel := context.WithCancel(context.Background())
		_ = d.DispatchFromView(qctx, reset{})
		cancel()
		return nil
	})

	_ = d.DispatchFromView(context.Background(), clicked{})
	if resetErr != nil {
		t.Errorf("expected queued delivery to ignore caller cancellation, got %v", resetErr)
	}
}

func TestDispatcher_PanicDropsQueue(t *testing.T) {
	d := NewDispatcher("test")

	resets := 0
	d.Register(func(_ context.Context, msg *Message) error {
		switch msg.Action().Kind() {
		case kindClicked:
			_ = d.DispatchFromView(context.Background(), reset{})
			panic("sink exploded")
		case kindReset:
			resets++
		}
		return nil
	})

	func() {
		defer func() { _ = recover() }()
		_ = d.DispatchFromView(context.Background(), clicked{})
	}()

	if resets != 0 {
		t.Fatalf("expected queued reset to be dropped, got %d deliveries", resets)
	}
	if err := d.DispatchFromView(context.Background(), reset{}); err != nil {
		t.Fatalf("dispatch after panic failed: %v", err)
	}
	if resets != 1 {
		t.Errorf("expected dispatch after panic to deliver synchronously, got %d", resets)
	}
}

func TestDispatcher_AllowsDispatchToAnotherDispatcher(t *testing.T) {
	outer := NewDispatcher("outer")
	inner := NewDispatcher("inner")

	innerCalls := 0
	inner.Register(func(_ context.Context, _ *Message) error {
		innerCalls++
		return nil
	})
	outer.Register(func(ctx context.Context, _ *Message) error {
		return inner.DispatchFromView(ctx, reset{})
	})

	if err := outer.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if innerCalls != 1 {
		t.Errorf("expected inner sink to run once, got %d", innerCalls)
	}
}

func TestDispatcher_DispatchAfterDeliveryReturns(t *testing.T) {
	d := NewDispatcher("test")

	calls := 0
	d.Register(func(_ context.Context, _ *Message) error {
		calls++
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.DispatchFromView(ctx, clicked{}); err != nil {
			t.Fatalf("dispatch %d failed: %v", i, err)
		}
	}
	if calls != 3 {
		t.Errorf("expected 3 deliveries, got %d", calls)
	}
}

func TestDispatcher_Unregister(t *testing.T) {
	d := NewDispatcher("test")

	var calls []string
	id := d.Register(recordingSink(&calls, "s1"))
	d.Register(recordingSink(&calls, "s2"))

	if err := d.Unregister(id); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if d.Sinks() != 1 {
		t.Errorf("expected 1 sink, got %d", d.Sinks())
	}

	_ = d.DispatchFromView(context.Background(), clicked{})
	if want := []string{"s2"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestDispatcher_UnregisterUnknown(t *testing.T) {
	d := NewDispatcher("test")
	id := d.Register(func(context.Context, *Message) error { return nil })
	_ = d.Unregister(id)

	if err := d.Unregister(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := d.Unregister(SinkID(42)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatcher_RegisterDuringDelivery(t *testing.T) {
	d := NewDispatcher("test")

	var calls []string
	d.Register(func(_ context.Context, _ *Message) error {
		calls = append(calls, "outer")
		if len(calls) == 1 {
			d.Register(recordingSink(&calls, "late"))
		}
		return nil
	})

	ctx := context.Background()
	_ = d.DispatchFromView(ctx, clicked{})
	if want := []string{"outer"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("expected late sink to miss the current delivery, got %v", calls)
	}

	_ = d.DispatchFromView(ctx, clicked{})
	if want := []string{"outer", "outer", "late"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestDispatcher_Stats(t *testing.T) {
	d := NewDispatcher("test")
	d.Register(func(context.Context, *Message) error { return nil })
	d.Register(func(_ context.Context, msg *Message) error {
		if msg.Action().Kind() == kindReset {
			return errors.New("no resets")
		}
		return nil
	})

	ctx := context.Background()
	_ = d.DispatchFromView(ctx, clicked{})
	_ = d.DispatchFromView(ctx, reset{})
	_ = d.DispatchFromView(ctx, nil)

	stats := d.Stats()
	if stats.Dispatched != 3 {
		t.Errorf("expected 3 dispatched, got %d", stats.Dispatched)
	}
	if stats.Delivered != 3 {
		t.Errorf("expected 3 delivered, got %d", stats.Delivered)
	}
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
	if stats.Rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", stats.Rejected)
	}
	if stats.Queued != 0 {
		t.Errorf("expected 0 queued, got %d", stats.Queued)
	}
}

func TestDispatcher_Metrics(t *testing.T) {
	m := &countingMetrics{}
	d := NewDispatcher("test").Metrics(m)
	d.Register(func(_ context.Context, msg *Message) error {
		if msg.Action().Kind() == kindReset {
			return errors.New("no resets")
		}
		return nil
	})

	ctx := context.Background()
	_ = d.DispatchFromView(ctx, clicked{})
	_ = d.DispatchFromView(ctx, reset{})
	_ = d.DispatchFromView(ctx, nil)

	if m.dispatches != 2 {
		t.Errorf("expected 2 dispatches, got %d", m.dispatches)
	}
	if want := []string{"sink", "validate"}; !reflect.DeepEqual(m.failures, want) {
		t.Errorf("expected failures %v, got %v", want, m.failures)
	}
}

func TestDispatcher_SlowSink(t *testing.T) {
	clock := clockz.NewFakeClock()
	m := &countingMetrics{}
	d := NewDispatcher("test").
		Clock(clock).
		Metrics(m).
		SlowSinkThreshold(100 * time.Millisecond)

	d.Register(func(context.Context, *Message) error { return nil })
	slow := d.Register(func(context.Context, *Message) error {
		clock.Advance(250 * time.Millisecond)
		return nil
	})

	if err := d.DispatchFromView(context.Background(), clicked{}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if want := []SinkID{slow}; !reflect.DeepEqual(m.slow, want) {
		t.Errorf("expected slow sinks %v, got %v", want, m.slow)
	}
}

func TestDispatcher_MessageTimestampFromClock(t *testing.T) {
	clock := clockz.NewFakeClock()
	d := NewDispatcher("test").Clock(clock)

	var at time.Time
	d.Register(func(_ context.Context, msg *Message) error {
		at = msg.At()
		return nil
	})

	_ = d.DispatchFromView(context.Background(), clicked{})
	if !at.Equal(clock.Now()) {
		t.Errorf("expected message time %v, got %v", clock.Now(), at)
	}
}

func TestDispatcher_SerializesConcurrentDispatch(t *testing.T) {
	d := NewDispatcher("test")

	var inFlight, overlaps, total atomic.Int32
	d.Register(func(_ context.Context, _ *Message) error {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		total.Add(1)
		inFlight.Add(-1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.DispatchFromView(context.Background(), clicked{})
		}()
	}
	wg.Wait()

	if overlaps.Load() != 0 {
		t.Errorf("expected serialized deliveries, saw %d overlaps", overlaps.Load())
	}
	if total.Load() != 20 {
		t.Errorf("expected 20 deliveries, got %d", total.Load())
	}
}

func TestDispatcher_Name(t *testing.T) {
	if n := NewDispatcher("app").Name(); n != "app" {
		t.Errorf("expected 'app', got %q", n)
	}
}
