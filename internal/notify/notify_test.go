// Tests for the webhook notifier: delivery, retries on server errors,
// ordering, nil-notifier behavior, and flushing on close.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// hook is an httptest server that records received events.
type hook struct {
	*httptest.Server
	mu     sync.Mutex
	events []Event
	fails  atomic.Int32 // number of requests still to answer with 503
}

func newHook(t *testing.T) *hook {
	t.Helper()
	h := &hook{}
	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if h.fails.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode body: %v", err)
		}
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(h.Close)
	return h
}

func (h *hook) received() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func newNotifier(url string, retries int) *Notifier {
	return New(Options{
		URL:       url,
		RetryMax:  retries,
		Timeout:   2 * time.Second,
		RetryWait: 5 * time.Millisecond,
		Service:   "appcored",
		Instance:  "inst-1",
		PID:       1234,
		Version:   "1.0.0",
	})
}

func closeNotifier(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ///////////////////////////////////////////////
// Delivery
// ///////////////////////////////////////////////

func TestNotify_DeliversInOrder(t *testing.T) {
	h := newHook(t)
	n := newNotifier(h.URL, 0)

	for _, k := range []Kind{Started, Paused, Resumed, Stopping} {
		if err := n.Notify(k); err != nil {
			t.Fatalf("Notify(%s): %v", k, err)
		}
	}
	closeNotifier(t, n)

	got := h.received()
	want := []Kind{Started, Paused, Resumed, Stopping}
	if len(got) != len(want) {
		t.Fatalf("received %d events, want %d", len(got), len(want))
	}
	for i, ev := range got {
		if ev.Kind != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Kind, want[i])
		}
		if ev.Service != "appcored" || ev.Instance != "inst-1" || ev.PID != 1234 || ev.Version != "1.0.0" {
			t.Errorf("event %d identity = %+v", i, ev)
		}
		if ev.Time.IsZero() {
			t.Errorf("event %d has zero time", i)
		}
	}
}

func TestPost_RetriesServerErrors(t *testing.T) {
	h := newHook(t)
	h.fails.Store(2)
	n := newNotifier(h.URL, 3)
	defer closeNotifier(t, n)

	if err := n.Post(context.Background(), Event{Kind: Reloaded}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := h.received(); len(got) != 1 || got[0].Kind != Reloaded {
		t.Fatalf("received %+v", got)
	}
}

func TestPost_GivesUp(t *testing.T) {
	h := newHook(t)
	h.fails.Store(100)
	n := newNotifier(h.URL, 1)
	defer closeNotifier(t, n)

	if err := n.Post(context.Background(), Event{Kind: Stopped}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestPost_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	n := newNotifier(srv.URL, 0)
	defer closeNotifier(t, n)

	if err := n.Post(context.Background(), Event{Kind: Started}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

// ///////////////////////////////////////////////
// Lifecycle
// ///////////////////////////////////////////////

func TestNew_EmptyURL(t *testing.T) {
	n := New(Options{})
	if n != nil {
		t.Fatal("New with empty URL should return nil")
	}
	if err := n.Notify(Started); err != nil {
		t.Errorf("nil Notify: %v", err)
	}
	if err := n.Post(context.Background(), Event{}); err != nil {
		t.Errorf("nil Post: %v", err)
	}
	if err := n.Close(context.Background()); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestNotify_AfterClose(t *testing.T) {
	h := newHook(t)
	n := newNotifier(h.URL, 0)
	closeNotifier(t, n)

	if err := n.Notify(Started); err == nil {
		t.Fatal("expected error notifying a closed notifier")
	}
	// Closing twice is harmless.
	closeNotifier(t, n)
}

func TestClose_Deadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	n := newNotifier(srv.URL, 0)
	n.Notify(Stopping)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := n.Close(ctx); err == nil {
		t.Fatal("expected Close to give up at the deadline")
	}
}

func TestClose_DeadlineAbortsDelivery(t *testing.T) {
	var calls atomic.Int32
	aborted := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
		aborted <- struct{}{}
	}))
	defer srv.Close()

	n := New(Options{URL: srv.URL, RetryMax: 10, RetryWait: time.Millisecond})
	n.Notify(Stopping)
	n.Notify(Stopped)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := n.Close(ctx); err == nil {
		t.Fatal("expected Close to give up at the deadline")
	}

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was not aborted by Close")
	}
	// Neither a retry nor the queued event is sent after Close returns.
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}
