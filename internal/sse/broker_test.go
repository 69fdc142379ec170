package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newBroker(t *testing.T, throttle time.Duration, opts ...Option) *Broker {
	t.Helper()
	b := NewBroker(throttle, opts...)
	t.Cleanup(b.Close)
	return b
}

// recv returns the next frame on ch or fails after a second.
func recv(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("no frame within 1s")
		return ""
	}
}

// await consumes n frames. Publishing is asynchronous, so tests wait on a
// plain subscriber to know the loop has handled earlier events.
func await(t *testing.T, ch chan []byte, n int) {
	t.Helper()
	for range n {
		recv(t, ch)
	}
}

// drain collects the frames currently buffered on ch.
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

func countType(frames []string, typ string) int {
	n := 0
	for _, f := range frames {
		if strings.Contains(f, "\nevent: "+typ+"\n") {
			n++
		}
	}
	return n
}

func TestClientCount(t *testing.T) {
	b := newBroker(t, 100*time.Millisecond)

	a, c := b.Subscribe(), b.Subscribe()
	if n := b.ClientCount(); n != 2 {
		t.Fatalf("ClientCount = %d, want 2", n)
	}
	b.Unsubscribe(a)
	b.Unsubscribe(a) // unknown channel is ignored
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("ClientCount = %d, want 1", n)
	}
	b.Unsubscribe(c)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("ClientCount = %d, want 0", n)
	}
}

func TestPublish_FrameFormat(t *testing.T) {
	b := newBroker(t, 100*time.Millisecond)
	ch := b.Subscribe()

	b.Publish(Event{Type: TypeIndexRebuilt, Data: map[string]uint64{"generation": 7}})
	if got, want := recv(t, ch), "id: 1\nevent: index.rebuilt\ndata: {\"generation\":7}\n\n"; got != want {
		t.Errorf("frame 1 = %q, want %q", got, want)
	}

	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "b.md", Generation: 8})
	if got, want := recv(t, ch), "id: 2\nevent: document.updated\ndata: {\"document\":\"b.md\",\"generation\":8}\n\n"; got != want {
		t.Errorf("frame 2 = %q, want %q", got, want)
	}
}

func TestPublishChange_BacklinksThrottle(t *testing.T) {
	b := newBroker(t, 300*time.Millisecond)
	ch := b.Subscribe()

	// The first change flushes at once; the next ones fall inside the window
	// and are merged into a single delayed frame.
	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "a.md", Generation: 1, Backlinks: []string{"C:Foo"}})
	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "b.md", Generation: 2, Backlinks: []string{"R:Bar"}})
	b.PublishChange(Change{Type: TypeDocumentRemoved, Document: "c.md", Generation: 3, Backlinks: []string{"C:Foo", "R:Baz"}})

	time.Sleep(50 * time.Millisecond)
	frames := drain(ch)
	for typ, want := range map[string]int{
		TypeDocumentUpdated:  2,
		TypeDocumentRemoved:  1,
		TypeBacklinksChanged: 1,
	} {
		if n := countType(frames, typ); n != want {
			t.Errorf("%s = %d, want %d", typ, n, want)
		}
	}

	time.Sleep(400 * time.Millisecond)
	frames = drain(ch)
	if len(frames) != 1 || countType(frames, TypeBacklinksChanged) != 1 {
		t.Fatalf("after window: %q", frames)
	}
	if !strings.Contains(frames[0], `"identifiers":["C:Foo","R:Bar","R:Baz"]`) {
		t.Errorf("merged ids missing in %q", frames[0])
	}
}

func TestPublishChange_FailedCarriesError(t *testing.T) {
	b := newBroker(t, time.Second)
	ch := b.Subscribe()

	b.PublishChange(Change{Type: TypeDocumentFailed, Document: "x.md", Generation: 4, Error: "invalid utf-8"})

	want := `data: {"document":"x.md","generation":4,"error":"invalid utf-8"}`
	if got := recv(t, ch); !strings.Contains(got, want) {
		t.Errorf("frame %q missing %s", got, want)
	}
	if frames := drain(ch); countType(frames, TypeBacklinksChanged) != 0 {
		t.Error("backlinks.changed without identifiers")
	}
}

func TestPublish_SlowClientDoesNotBlock(t *testing.T) {
	b := newBroker(t, time.Second)
	slow := b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range clientBuffer * 2 {
			b.Publish(Event{Type: TypeIndexRebuilt, Data: nil})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing stalled on a full client")
	}

	// A fresh client still gets new frames.
	fresh := b.Subscribe()
	b.Publish(Event{Type: TypeIndexRebuilt, Data: nil})
	if got := recv(t, fresh); !strings.HasPrefix(got, "id: ") {
		t.Errorf("fresh client frame = %q", got)
	}
	if n := len(drain(slow)); n > clientBuffer {
		t.Errorf("slow client holds %d frames, buffer is %d", n, clientBuffer)
	}
}

func TestClose(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()

	b.Close()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("subscriber channel still open")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel not closed")
	}
	if n := b.ClientCount(); n != 0 {
		t.Errorf("ClientCount after Close = %d", n)
	}

	// Operations after Close are no-ops.
	b.Publish(Event{Type: TypeIndexRebuilt})
	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "x.md"})
	if _, ok := <-b.Subscribe(); ok {
		t.Error("Subscribe after Close returned an open channel")
	}
}

func TestSubscribe_AfterReplaysMissedFrames(t *testing.T) {
	b := newBroker(t, time.Second)
	live := b.Subscribe()
	for i, doc := range []string{"a.md", "b.md", "c.md"} {
		b.PublishChange(Change{Type: TypeDocumentUpdated, Document: doc, Generation: uint64(i + 1)})
	}
	await(t, live, 3)

	ch := b.Subscribe(After(1))
	// The loop replays before serving the next request.
	_ = b.ClientCount()

	frames := drain(ch)
	if len(frames) != 2 {
		t.Fatalf("replayed %d frames, want 2: %q", len(frames), frames)
	}
	if !strings.Contains(frames[0], `"document":"b.md"`) || !strings.Contains(frames[1], `"document":"c.md"`) {
		t.Errorf("replay = %q", frames)
	}
}

func TestSubscribe_HistoryIsBounded(t *testing.T) {
	b := newBroker(t, time.Second, WithHistory(2))
	live := b.Subscribe()
	for i := range 5 {
		b.Publish(Event{Type: TypeIndexRebuilt, Data: map[string]int{"generation": i}})
	}
	await(t, live, 5)

	ch := b.Subscribe(After(0))
	_ = b.ClientCount()

	frames := drain(ch)
	if len(frames) != 2 || !strings.HasPrefix(frames[0], "id: 4\n") {
		t.Errorf("replay = %q, want frames 4 and 5", frames)
	}
}

func TestSubscribe_ForDocument(t *testing.T) {
	b := newBroker(t, time.Millisecond)
	ch := b.Subscribe(ForDocument("b.md"))

	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "a.md", Generation: 1, Backlinks: []string{"C:Foo"}})
	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "b.md", Generation: 2})
	time.Sleep(50 * time.Millisecond)

	frames := drain(ch)
	if n := countType(frames, TypeDocumentUpdated); n != 1 {
		t.Errorf("document.updated = %d, want 1", n)
	}
	for _, f := range frames {
		if strings.Contains(f, `"document":"a.md"`) {
			t.Errorf("filtered document delivered: %q", f)
		}
	}
	// backlinks.changed is not tied to a document and reaches everyone.
	if n := countType(frames, TypeBacklinksChanged); n != 1 {
		t.Errorf("backlinks.changed = %d, want 1", n)
	}
}

func TestServeHTTP_Stream(t *testing.T) {
	b := newBroker(t, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events?document=x.md", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.ServeHTTP(w, req)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "y.md", Generation: 1})
	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "x.md", Generation: 2})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "id: 2\nevent: document.updated\n") {
		t.Errorf("x.md frame missing: %q", body)
	}
	if strings.Contains(body, `"document":"y.md"`) {
		t.Errorf("y.md frame not filtered: %q", body)
	}

	deadline = time.Now().Add(time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeHTTP_ResumeAndHeartbeat(t *testing.T) {
	b := newBroker(t, time.Second, WithHeartbeat(20*time.Millisecond))
	live := b.Subscribe()
	b.PublishChange(Change{Type: TypeDocumentUpdated, Document: "a.md", Generation: 1})
	b.PublishChange(Change{Type: TypeDocumentRemoved, Document: "b.md", Generation: 2})
	await(t, live, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 20\n\n") {
		t.Errorf("missing retry hint: %q", body)
	}
	if strings.Contains(body, `"document":"a.md"`) {
		t.Error("frame 1 replayed despite Last-Event-ID")
	}
	if !strings.Contains(body, "id: 2\nevent: document.removed\n") {
		t.Errorf("frame 2 not replayed: %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("no heartbeat in %q", body)
	}
}

func TestServeHTTP_BadLastEventID(t *testing.T) {
	b := newBroker(t, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Last-Event-ID", "abc")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
