// Package sse implements a Server-Sent Events broker for post and sync updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	PostCreated   = "post.created"
	PostUpdated   = "post.updated"
	PostDeleted   = "post.deleted"
	PostPublished = "post.published"
	SyncCompleted = "sync.completed"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PostRef identifies the post an event is about.
type PostRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// PreviousID is set when the event moved the post to a new content hash.
	PreviousID string `json:"previous_id,omitempty"`
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop owns the client set and the sync throttle; public
// methods talk to it over channels.
type Broker struct {
	syncMin   time.Duration
	keepAlive time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	syncCh        chan any
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// DefaultKeepAlive is the interval of comment pings on idle streams.
const DefaultKeepAlive = 25 * time.Second

// clientRetry is the reconnect delay advertised to EventSource clients.
const clientRetry = 3 * time.Second

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets the ping interval for open streams.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.keepAlive = d
		}
	}
}

// NewBroker creates a broker that emits sync.completed at most once per
// syncThrottle. Completions inside the window are coalesced and the latest
// one is delivered when the window ends.
func NewBroker(syncThrottle time.Duration, opts ...Option) *Broker {
	if syncThrottle <= 0 {
		syncThrottle = 2 * time.Second
	}

	b := &Broker{
		syncMin:       syncThrottle,
		keepAlive:     DefaultKeepAlive,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		syncCh:        make(chan any, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var seq uint64
	var lastSync time.Time
	var pending any
	var hasPending bool
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", event.Type, seq, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case data := <-b.syncCh:
			now := time.Now()
			if wait := b.syncMin - now.Sub(lastSync); wait > 0 {
				if !hasPending {
					timer.Reset(wait)
				}
				pending, hasPending = data, true
				continue
			}
			lastSync = now
			broadcast(Event{Type: SyncCompleted, Data: data})

		case <-timer.C:
			if hasPending {
				lastSync = time.Now()
				broadcast(Event{Type: SyncCompleted, Data: pending})
				pending, hasPending = nil, false
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishPost broadcasts a post.* event.
func (b *Broker) PublishPost(eventType string, ref PostRef) {
	b.Publish(Event{Type: eventType, Data: ref})
}

// PublishSync reports a finished sync pass, throttled.
func (b *Broker) PublishSync(data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.syncCh <- data:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", clientRetry.Milliseconds())
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
