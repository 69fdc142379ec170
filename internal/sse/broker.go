// Package sse streams index changes to HTTP clients as Server-Sent Events.
//
// Every frame carries an increasing id. A reconnecting client that sends
// Last-Event-ID receives the frames it missed, as long as they are still in
// the broker's bounded history.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types published by the broker.
const (
	TypeDocumentUpdated  = "document.updated"
	TypeDocumentRemoved  = "document.removed"
	TypeDocumentFailed   = "document.failed"
	TypeBacklinksChanged = "backlinks.changed"
	TypeIndexRebuilt     = "index.rebuilt"
)

const (
	clientBuffer     = 64
	defaultHistory   = 256
	defaultHeartbeat = 15 * time.Second
	defaultThrottle  = 2 * time.Second
)

// Event is a broadcast frame that is not tied to one document.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Change is one applied document mutation.
type Change struct {
	Type       string   // one of the TypeDocument* constants
	Document   string   // document id
	Generation uint64   // index generation after the change
	Backlinks  []string // identifiers whose backlink sets changed
	Error      string   // failure message for TypeDocumentFailed
}

type documentData struct {
	Document   string `json:"document"`
	Generation uint64 `json:"generation"`
	Error      string `json:"error,omitempty"`
}

type backlinksData struct {
	Identifiers []string `json:"identifiers"`
}

// frame is one encoded event. document is empty for events every client
// receives regardless of its filter.
type frame struct {
	id       uint64
	document string
	raw      []byte
}

type subscriber struct {
	ch       chan []byte
	document string
	after    uint64
	replay   bool
}

func (s *subscriber) wants(f frame) bool {
	return s.document == "" || f.document == "" || f.document == s.document
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistory sets how many recent frames are kept for Last-Event-ID replay.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.historySize = n
		}
	}
}

// WithHeartbeat sets the interval of keep-alive comments on open streams.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// Broker fans events out to subscribed clients.
//
// A single loop goroutine owns the clients, the history and the pending
// backlink ids. Public methods talk to it over channels.
type Broker struct {
	throttle    time.Duration
	historySize int
	heartbeat   time.Duration

	subscribeCh   chan *subscriber
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan Change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. backlinks.changed events are emitted at most
// once per throttle interval; identifiers changed in between are merged.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	b := &Broker{
		throttle:      throttle,
		historySize:   defaultHistory,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan *subscriber),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan Change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func encode(id uint64, typ string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, typ, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]*subscriber)
	var history []frame
	var seq uint64

	pending := make(map[string]struct{})
	var lastFlush time.Time
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	emit := func(document, typ string, data any) {
		raw, err := encode(seq+1, typ, data)
		if err != nil {
			return
		}
		seq++
		f := frame{id: seq, document: document, raw: raw}
		if b.historySize > 0 {
			if len(history) == b.historySize {
				history = append(history[:0], history[1:]...)
			}
			history = append(history, f)
		}
		for ch, s := range clients {
			if !s.wants(f) {
				continue
			}
			select {
			case ch <- f.raw:
			default:
				// Slow client: drop rather than stall the loop. It can
				// catch up by reconnecting with Last-Event-ID.
			}
		}
	}

	flushBacklinks := func(now time.Time) {
		if len(pending) == 0 {
			return
		}
		ids := make([]string, 0, len(pending))
		for id := range pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		clear(pending)
		lastFlush = now
		emit("", TypeBacklinksChanged, backlinksData{Identifiers: ids})
	}

	for {
		select {
		case <-b.stopCh:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case s := <-b.subscribeCh:
			if s.replay {
				for _, f := range history {
					if f.id <= s.after || !s.wants(f) {
						continue
					}
					select {
					case s.ch <- f.raw:
					default:
					}
				}
			}
			clients[s.ch] = s

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case ev := <-b.publishCh:
			emit("", ev.Type, ev.Data)

		case c := <-b.changeCh:
			emit(c.Document, c.Type, documentData{
				Document:   c.Document,
				Generation: c.Generation,
				Error:      c.Error,
			})
			for _, id := range c.Backlinks {
				pending[id] = struct{}{}
			}
			if len(pending) == 0 || flushCh != nil {
				continue
			}
			now := time.Now()
			if wait := b.throttle - now.Sub(lastFlush); wait > 0 {
				flushTimer = time.NewTimer(wait)
				flushCh = flushTimer.C
				continue
			}
			flushBacklinks(now)

		case now := <-flushCh:
			flushTimer, flushCh = nil, nil
			flushBacklinks(now)

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*subscriber)

// ForDocument limits document events to one document id. Broadcast events
// such as backlinks.changed are still delivered.
func ForDocument(docID string) SubscribeOption {
	return func(s *subscriber) { s.document = docID }
}

// After replays retained frames with ids greater than id before live ones.
func After(id uint64) SubscribeOption {
	return func(s *subscriber) {
		s.after = id
		s.replay = true
	}
}

// Subscribe adds a client and returns its channel. The channel is closed by
// Unsubscribe or Close.
func (b *Broker) Subscribe(opts ...SubscribeOption) chan []byte {
	s := &subscriber{}
	for _, opt := range opts {
		opt(s)
	}
	size := clientBuffer
	if s.replay {
		size += b.historySize
	}
	s.ch = make(chan []byte, size)

	if b.closed.Load() {
		close(s.ch)
		return s.ch
	}
	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(s.ch)
	}
	return s.ch
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

// Publish broadcasts an event to every client.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ev:
	case <-b.stopped:
	}
}

// PublishChange publishes a document event and queues a throttled
// backlinks.changed event for c.Backlinks.
func (b *Broker) PublishChange(c Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- c:
	case <-b.stopped:
	}
}

// ServeHTTP streams events (GET /api/events). The optional document query
// parameter filters document events; Last-Event-ID resumes a stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var opts []SubscribeOption
	if doc := r.URL.Query().Get("document"); doc != "" {
		opts = append(opts, ForDocument(doc))
	}
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		id, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		opts = append(opts, After(id))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", b.heartbeat.Milliseconds())
	flusher.Flush()

	ch := b.Subscribe(opts...)
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
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
