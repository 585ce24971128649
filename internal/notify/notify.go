// Package notify posts lifecycle transitions of the daemon to a webhook.
//
// Deliveries run on a background goroutine with retries, so the signal
// dispatch loop that reports a transition never waits on the network.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ///////////////////////////////////////////////
// Events
// ///////////////////////////////////////////////

// Kind names a lifecycle transition.
type Kind string

const (
	Started  Kind = "started"
	Paused   Kind = "paused"
	Resumed  Kind = "resumed"
	Reloaded Kind = "reloaded"
	Stopping Kind = "stopping"
	Stopped  Kind = "stopped"
)

// Event is the JSON body posted for each transition.
type Event struct {
	Kind     Kind      `json:"event"`
	Service  string    `json:"service"`
	Instance string    `json:"instance,omitempty"`
	PID      int       `json:"pid"`
	Version  string    `json:"version,omitempty"`
	Time     time.Time `json:"time"`
}

// ErrQueueFull is returned by [Notifier.Notify] when deliveries are backed up.
var ErrQueueFull = errors.New("notification queue full")

// ///////////////////////////////////////////////
// Notifier
// ///////////////////////////////////////////////

// Options configures a [Notifier].
type Options struct {
	URL       string
	RetryMax  int
	Timeout   time.Duration
	RetryWait time.Duration // minimum backoff; zero uses the library default

	// Fields copied into every event.
	Service  string
	Instance string
	PID      int
	Version  string

	QueueSize int
}

// Notifier delivers events to a webhook. A nil *Notifier is valid and drops
// every event, which is what [New] returns when no URL is configured.
type Notifier struct {
	url    string
	client *retryablehttp.Client
	base   Event

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	// ctx bounds every delivery; Close cancels it when its own deadline
	// passes so no retry loop outlives shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	// now is replaced in tests.
	now func() time.Time
}

// New starts a notifier. It returns nil when opts.URL is empty.
func New(opts Options) *Notifier {
	if opts.URL == "" {
		return nil
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	if opts.RetryWait > 0 {
		client.RetryWaitMin = opts.RetryWait
		client.RetryWaitMax = 4 * opts.RetryWait
	}
	client.Logger = nil // suppress retryablehttp's default logging

	n := &Notifier{
		url:    opts.URL,
		client: client,
		base: Event{
			Service:  opts.Service,
			Instance: opts.Instance,
			PID:      opts.PID,
			Version:  opts.Version,
		},
		queue: make(chan Event, opts.QueueSize),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.wg.Add(1)
	go n.run()
	return n
}

// Notify queues a transition for delivery without blocking.
func (n *Notifier) Notify(kind Kind) error {
	if n == nil {
		return nil
	}
	ev := n.base
	ev.Kind = kind
	ev.Time = n.now().UTC()
	select {
	case <-n.done:
		return fmt.Errorf("notify %s: notifier closed", kind)
	default:
	}
	select {
	case n.queue <- ev:
		return nil
	default:
		slog.Warn("dropping lifecycle notification", "event", kind)
		return ErrQueueFull
	}
}

// Post delivers ev synchronously.
func (n *Notifier) Post(ctx context.Context, ev Event) error {
	if n == nil {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", n.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: status %d", n.url, resp.StatusCode)
	}
	return nil
}

// Close delivers what is still queued and stops the background goroutine.
// When ctx ends first, the delivery in flight is aborted, the rest of the
// queue is dropped and ctx's error is returned. Either way the goroutine
// has exited when Close returns.
func (n *Notifier) Close(ctx context.Context) error {
	if n == nil {
		return nil
	}
	n.once.Do(func() { close(n.done) })

	finished := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-finished
		return fmt.Errorf("flush notifications: %w", ctx.Err())
	}
}

// run delivers queued events in order until Close, then drains the queue.
func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-n.done:
			for {
				select {
				case ev := <-n.queue:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(ev Event) {
	if n.ctx.Err() != nil {
		slog.Debug("lifecycle notification dropped at shutdown", "event", ev.Kind)
		return
	}
	if err := n.Post(n.ctx, ev); err != nil {
		slog.Warn("lifecycle notification failed", "event", ev.Kind, "error", err)
		return
	}
	slog.Debug("lifecycle notification delivered", "event", ev.Kind)
}
