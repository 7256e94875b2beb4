package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "post.created", Data: map[string]string{"id": "a"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: post.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"id":"a"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func countType(msgs []string, typ string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, "event: "+typ+"\n") {
			n++
		}
	}
	return n
}

func TestPublishPost(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishPost(PostPublished, PostRef{ID: "new", Title: "Hello", PreviousID: "draft"})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: post.published") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"previous_id":"draft"`) {
			t.Errorf("missing previous id in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishSync_Throttled(t *testing.T) {
	b := NewBroker(300 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First completion goes out immediately, the next two coalesce.
	b.PublishSync(map[string]int{"pass": 1})
	b.PublishSync(map[string]int{"pass": 2})
	b.PublishSync(map[string]int{"pass": 3})

	time.Sleep(50 * time.Millisecond)
	first := drain(ch)
	if n := countType(first, SyncCompleted); n != 1 {
		t.Fatalf("sync events inside window = %d, want 1", n)
	}

	time.Sleep(400 * time.Millisecond)
	trailing := drain(ch)
	if n := countType(trailing, SyncCompleted); n != 1 {
		t.Fatalf("trailing sync events = %d, want 1", n)
	}
	if !strings.Contains(trailing[0], `"pass":3`) {
		t.Errorf("trailing event should carry the latest pass: %q", trailing[0])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "post.updated", Data: map[string]string{"id": "x"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: post.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestSSEHandler_RetryIDsAndKeepAlive(t *testing.T) {
	b := NewBroker(100*time.Millisecond, WithKeepAlive(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	b.PublishPost(PostCreated, PostRef{ID: "a"})
	b.PublishPost(PostDeleted, PostRef{ID: "a"})
	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("missing keepalive ping: %q", body)
	}
	first := strings.Index(body, "event: post.created\nid: ")
	second := strings.Index(body, "event: post.deleted\nid: ")
	if first < 0 || second < first {
		t.Fatalf("events missing or out of order: %q", body)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "post.updated", Data: map[string]string{"id": "x"}})
	b.PublishPost(PostUpdated, PostRef{ID: "x"})
	b.PublishSync(nil)
}
