package sse

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroker(t *testing.T, throttle time.Duration) *Broker {
	t.Helper()
	b := NewBroker(throttle, nil)
	t.Cleanup(b.Close)
	return b
}

// next returns the next frame on ch split into its id, event and data lines.
func next(t *testing.T, ch <-chan []byte) (id uint64, event, data string) {
	t.Helper()
	select {
	case raw := <-ch:
		for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
			k, v, _ := strings.Cut(line, ": ")
			switch k {
			case "id":
				id, _ = strconv.ParseUint(v, 10, 64)
			case "event":
				event = v
			case "data":
				data = v
			}
		}
		return id, event, data
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return 0, "", ""
	}
}

func drain(ch <-chan []byte) []string {
	var events []string
	for {
		select {
		case raw := <-ch:
			for _, line := range strings.Split(string(raw), "\n") {
				if ev, ok := strings.CutPrefix(line, "event: "); ok {
					events = append(events, ev)
				}
			}
		default:
			return events
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := newBroker(t, time.Second)
	require.Equal(t, 0, b.ClientCount())

	a, c := b.Subscribe(), b.Subscribe()
	require.Equal(t, 2, b.ClientCount())

	b.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open, "unsubscribed channel should be closed")
	assert.Equal(t, 1, b.ClientCount())

	b.Unsubscribe(c)
	assert.Equal(t, 0, b.ClientCount())
}

func TestNoteChanged_Frames(t *testing.T) {
	b := newBroker(t, time.Hour)
	ch := b.Subscribe()

	b.NoteChanged(NoteCreated, 7, "hello-world")

	id1, ev, data := next(t, ch)
	assert.Equal(t, "note.created", ev)
	assert.JSONEq(t, `{"id":7,"slug":"hello-world"}`, data)

	id2, ev, data := next(t, ch)
	assert.Equal(t, "graph.updated", ev)
	assert.JSONEq(t, `{}`, data)
	assert.Greater(t, id2, id1, "frame ids increase")
}

func TestNoteChanged_GraphThrottle(t *testing.T) {
	b := newBroker(t, 300*time.Millisecond)
	ch := b.Subscribe()

	b.NoteChanged(NoteCreated, 1, "a")
	b.NoteChanged(NotePublished, 2, "b")
	b.NoteChanged(NoteDeleted, 3, "c")

	var events []string
	require.Eventually(t, func() bool {
		events = append(events, drain(ch)...)
		return len(events) >= 4
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"note.created", "graph.updated", "note.published", "note.deleted"}, events)

	// Once the window has passed the next change refreshes the graph again.
	time.Sleep(350 * time.Millisecond)
	b.NoteChanged(NoteUpdated, 1, "a")
	_, ev, _ := next(t, ch)
	assert.Equal(t, "note.updated", ev)
	_, ev, _ = next(t, ch)
	assert.Equal(t, "graph.updated", ev)
}

func TestPublish_UnencodableDropped(t *testing.T) {
	b := newBroker(t, time.Second)
	ch := b.Subscribe()

	b.Publish(Event{Type: "bad", Data: make(chan int)})
	b.Publish(Event{Type: "graph.updated", Data: map[string]int{"reindexed": 3}})

	_, ev, data := next(t, ch)
	assert.Equal(t, "graph.updated", ev)
	assert.JSONEq(t, `{"reindexed":3}`, data)
}

func TestPublish_SlowClientDoesNotBlock(t *testing.T) {
	b := newBroker(t, time.Second)
	slow := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for range 200 {
			b.Publish(Event{Type: "tick"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing stalled on a client that never reads")
	}
	assert.Equal(t, 1, b.ClientCount())
	assert.LessOrEqual(t, len(slow), cap(slow))
}

func TestServeHTTP_Streams(t *testing.T) {
	b := newBroker(t, time.Hour)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	b.NoteChanged(NoteUpdated, 3, "x")

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(time.Second)
	for found := false; !found; {
		select {
		case line := <-lines:
			found = line == "event: note.updated"
		case <-deadline:
			t.Fatal("note.updated not streamed")
		}
	}

	resp.Body.Close()
	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond,
		"client should be dropped after disconnect")
}

func TestClose(t *testing.T) {
	b := NewBroker(time.Second, nil)
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "subscriber channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	assert.Equal(t, 0, b.ClientCount())

	// Everything is a no-op after Close, including Close itself.
	b.Publish(Event{Type: "note.updated"})
	b.NoteChanged(NoteDeleted, 1, "x")
	late := b.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
	b.Close()
}
