package bus

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscription) any {
	t.Helper()

	select {
	case v, ok := <-sub:
		if !ok {
			t.Fatalf("subscription closed")
		}

		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}

	return nil
}

func TestPublishReachesTopicSubscribers(t *testing.T) {
	b := New(slog.Default(), 0)
	defer b.Close()

	both := b.Subscribe("a", "b")
	onlyB := b.Subscribe("b")

	b.Publish("a", 1)
	b.Publish("b", "two")

	if got := receive(t, both); got != 1 {
		t.Fatalf("expected 1 first, got %v", got)
	}
	if got := receive(t, both); got != "two" {
		t.Fatalf("expected two second, got %v", got)
	}
	if got := receive(t, onlyB); got != "two" {
		t.Fatalf("expected only topic b, got %v", got)
	}
}

func TestUnsubscribeAllClosesChannel(t *testing.T) {
	b := New(slog.Default(), 4)
	defer b.Close()

	sub := b.Subscribe("a")
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected closed subscription")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription was not closed")
	}
}

func TestClosedBusIsInert(t *testing.T) {
	b := New(slog.Default(), 4)
	live := b.Subscribe("a")
	b.Close()
	b.Close()

	if _, ok := <-live; ok {
		t.Fatalf("expected live subscription to be closed by Close")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish("a", 1)
		b.Unsubscribe(live, "a")
		if _, ok := <-b.Subscribe("a"); ok {
			t.Errorf("expected subscription on closed bus to be closed")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("calls on a closed bus must not block")
	}
}

func TestListen(t *testing.T) {
	b := New(slog.Default(), 8)
	defer b.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := Listen(ctx, b, func(topic string, msg any) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, topic+":"+msg.(string))
	}, "a", "b")

	b.Publish("a", "1")
	b.Publish("c", "ignored")
	b.Publish("b", "2")

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("listener did not stop on cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, v := range got {
		seen[v] = true
	}
	if !seen["a:1"] || !seen["b:2"] {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestListenStopsWhenBusCloses(t *testing.T) {
	b := New(slog.Default(), 1)
	done := Listen(context.Background(), b, func(string, any) {}, "a")
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("listener did not stop on bus close")
	}
}

func TestPayloadType(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{name: "nil", v: nil, want: "<nil>"},
		{name: "int", v: 3, want: "int"},
		{name: "pointer", v: &struct{}{}, want: "*struct {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := payloadType(tt.v); got != tt.want {
				t.Fatalf("want %q, got %q", tt.want, got)
			}
		})
	}
}
