package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/client"
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/testutil"
)

// fakeRemote answers by note title so tests can script per-entry outcomes.
type fakeRemote struct {
	mu      sync.Mutex
	calls   []string
	errs    map[string]error
	gate    chan struct{} // when set, every call waits for it
	entered chan struct{} // signalled when a call starts
	down    atomic.Bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{errs: map[string]error{}}
}

func (f *fakeRemote) record(call, title string) error {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.errs[title]
}

func (f *fakeRemote) Create(_ context.Context, in models.NoteInput) (*client.Created, error) {
	if err := f.record("create:"+in.Title, in.Title); err != nil {
		return nil, err
	}
	return &client.Created{ID: 1, Version: 1, Slug: in.Title}, nil
}

func (f *fakeRemote) Update(_ context.Context, id int64, in models.NoteInput, etag string) (*client.Updated, error) {
	if err := f.record(fmt.Sprintf("update:%d:%s", id, etag), in.Title); err != nil {
		return nil, err
	}
	return &client.Updated{Version: 2, ETag: `"v2"`}, nil
}

func (f *fakeRemote) Ping(context.Context) error {
	if f.down.Load() {
		return fmt.Errorf("%w: server down", apperr.ErrTransient)
	}
	return nil
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func openLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(testutil.TempPath(t, "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func create(title string) Entry {
	return Entry{Kind: KindCreate, Payload: models.NoteInput{Title: title, Content: "body"}}
}

func update(id int64, etag, title string) Entry {
	return Entry{Kind: KindUpdate, NoteID: id, ETag: etag, Payload: models.NoteInput{Title: title, Content: "body"}}
}

func enqueue(t *testing.T, l *Log, entries ...Entry) {
	t.Helper()
	for _, e := range entries {
		_, err := l.Enqueue(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestLog_OrderAndDurability(t *testing.T) {
	path := testutil.TempPath(t, "outbox.db")
	l, err := Open(path)
	require.NoError(t, err)
	enqueue(t, l, create("first"), update(4, `"v2"`, "second"), create("third"))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Payload.Title)
	assert.Equal(t, "second", entries[1].Payload.Title)
	assert.Equal(t, "third", entries[2].Payload.Title)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.Equal(t, KindUpdate, entries[1].Kind)
	assert.Equal(t, int64(4), entries[1].NoteID)
	assert.Equal(t, StatusPending, entries[1].Status)
	assert.NotEmpty(t, entries[0].Key)
	assert.NotEqual(t, entries[0].Key, entries[1].Key)
}

func TestLog_EnqueueValidation(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()

	_, err := l.Enqueue(ctx, update(0, `"v1"`, "x"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.Enqueue(ctx, update(3, "", "x"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.Enqueue(ctx, Entry{Kind: "delete"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLog_Discard(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()
	e, err := l.Enqueue(ctx, create("gone"))
	require.NoError(t, err)

	require.NoError(t, l.Discard(ctx, e.Seq))
	assert.ErrorIs(t, l.Discard(ctx, e.Seq), apperr.ErrNotFound)
}

func TestDrain_MixedOutcomes(t *testing.T) {
	l := openLog(t)
	remote := newFakeRemote()
	remote.errs["stale"] = &apperr.VersionConflictError{Current: 5}

	var synced []Report
	s := NewSynchronizer(l, remote, testutil.Logger(), OnSynced(func(r Report) { synced = append(synced, r) }))
	enqueue(t, l, create("a"), update(3, `"v1"`, "stale"), create("c"))

	rep, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Applied: 2, Rejected: 1, Remaining: 1}, rep)
	assert.Equal(t, []string{"create:a", `update:3:"v1"`, "create:c"}, remote.Calls())
	assert.Equal(t, []Report{rep}, synced)

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stale", entries[0].Payload.Title)
	assert.Equal(t, StatusRejected, entries[0].Status)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Contains(t, entries[0].LastError, "v5")
}

func TestDrain_RejectedRetriedNextPass(t *testing.T) {
	l := openLog(t)
	remote := newFakeRemote()
	remote.errs["bad"] = &client.RejectedError{Status: 500}
	s := NewSynchronizer(l, remote, testutil.Logger())
	enqueue(t, l, create("bad"))

	_, err := s.Drain(context.Background())
	require.NoError(t, err)

	remote.mu.Lock()
	delete(remote.errs, "bad")
	remote.mu.Unlock()

	rep, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Applied: 1}, rep)
}

func TestDrain_UnauthorizedAborts(t *testing.T) {
	l := openLog(t)
	remote := newFakeRemote()
	remote.errs["a"] = apperr.ErrUnauthorized
	synced := false
	s := NewSynchronizer(l, remote, testutil.Logger(), OnSynced(func(Report) { synced = true }))
	enqueue(t, l, create("a"), create("b"), create("c"))

	rep, err := s.Drain(context.Background())
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, 3, rep.Remaining)
	assert.Equal(t, []string{"create:a"}, remote.Calls())
	assert.False(t, synced)

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, StatusPending, e.Status, "unauthorized must not mark entries")
		assert.Zero(t, e.Attempts)
	}
}

func TestDrain_TransientAborts(t *testing.T) {
	l := openLog(t)
	remote := newFakeRemote()
	remote.errs["b"] = fmt.Errorf("%w: HTTP 503", apperr.ErrTransient)
	synced := false
	s := NewSynchronizer(l, remote, testutil.Logger(), OnSynced(func(Report) { synced = true }))
	enqueue(t, l, create("a"), create("b"), create("c"))

	rep, err := s.Drain(context.Background())
	require.ErrorIs(t, err, apperr.ErrTransient)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 2, rep.Remaining)
	assert.Equal(t, []string{"create:a", "create:b"}, remote.Calls())
	assert.False(t, synced)

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Payload.Title)
	assert.Equal(t, StatusPending, entries[0].Status)
}

func TestDrain_ReplaysReuseEntryKey(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("X-Request-Id"))
		first := len(ids) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": 1, "version": 1, "slug": "a"})
	}))
	t.Cleanup(srv.Close)
	remote, err := client.New(srv.URL, "", time.Second)
	require.NoError(t, err)

	l := openLog(t)
	s := NewSynchronizer(l, remote, testutil.Logger())
	enqueue(t, l, create("a"), create("b"))
	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	_, err = s.Drain(context.Background())
	require.ErrorIs(t, err, apperr.ErrTransient)
	rep, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Applied)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{entries[0].Key, entries[0].Key, entries[1].Key}, ids)
}

func TestLog_EnqueueKeepsCallerKey(t *testing.T) {
	l := openLog(t)
	e := create("a")
	e.Key = "write-1"
	got, err := l.Enqueue(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, "write-1", got.Key)

	_, err = l.Enqueue(context.Background(), e)
	assert.Error(t, err, "keys are unique")
}

func TestDrain_EmptyQueue(t *testing.T) {
	l := openLog(t)
	calls := 0
	s := NewSynchronizer(l, newFakeRemote(), testutil.Logger(), OnSynced(func(Report) { calls++ }))

	rep, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Equal(t, 1, calls)
}

func TestDrain_ConcurrentCallsApplyOnce(t *testing.T) {
	l := openLog(t)
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.entered = make(chan struct{}, 1)
	s := NewSynchronizer(l, remote, testutil.Logger())
	enqueue(t, l, create("a"), create("b"))

	var wg sync.WaitGroup
	results := make([]Report, 4)
	errs := make([]error, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = s.Drain(context.Background())
	}()
	<-remote.entered

	for i := 1; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Drain(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	// Late callers either joined the running pass or found the queue empty.
	assert.Len(t, remote.Calls(), 2, "each entry must be sent exactly once")
	for i := range results {
		require.NoError(t, errs[i])
		assert.Zero(t, results[i].Remaining)
	}
}

func TestDrain_EnqueueDuringDrain(t *testing.T) {
	l := openLog(t)
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.entered = make(chan struct{}, 1)
	s := NewSynchronizer(l, remote, testutil.Logger())
	enqueue(t, l, create("a"))

	done := make(chan Report, 1)
	go func() {
		rep, _ := s.Drain(context.Background())
		done <- rep
	}()
	<-remote.entered

	enqueue(t, l, create("late"))
	close(remote.gate)

	first := <-done
	assert.Equal(t, 1, first.Applied)
	assert.Equal(t, 1, first.Remaining, "entry enqueued mid-pass waits for the next pass")

	second, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Applied: 1}, second)
	assert.Equal(t, []string{"create:a", "create:late"}, remote.Calls())
}

func TestDrain_Cancelled(t *testing.T) {
	l := openLog(t)
	s := NewSynchronizer(l, newFakeRemote(), testutil.Logger())
	enqueue(t, l, create("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Drain(ctx)
	assert.Error(t, err)

	n, err := l.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func eventually(t *testing.T, timeout time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Error(msg)
}

func TestWatch_DrainsOnEnqueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	remote := newFakeRemote()
	s := NewSynchronizer(l, remote, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, s, time.Hour, testutil.Logger()) }()
	time.Sleep(100 * time.Millisecond)

	// A second handle stands in for a separate CLI process.
	writer, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })
	enqueue(t, writer, create("from-cli"))

	eventually(t, 5*time.Second, func() bool {
		n, err := l.Len(context.Background())
		return err == nil && n == 0
	}, "watcher did not drain the new entry")
	assert.Equal(t, []string{"create:from-cli"}, remote.Calls())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatch_DrainsOnReconnect(t *testing.T) {
	l := openLog(t)
	remote := newFakeRemote()
	remote.errs["queued"] = fmt.Errorf("%w: dial refused", apperr.ErrTransient)
	remote.down.Store(true)
	enqueue(t, l, create("queued"))
	s := NewSynchronizer(l, remote, testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Watch(ctx, s, 50*time.Millisecond, testutil.Logger()) }()

	eventually(t, 2*time.Second, func() bool { return len(remote.Calls()) >= 1 }, "initial pass did not run")

	// Server comes back.
	remote.mu.Lock()
	delete(remote.errs, "queued")
	remote.mu.Unlock()
	remote.down.Store(false)

	eventually(t, 5*time.Second, func() bool {
		n, err := l.Len(context.Background())
		return err == nil && n == 0
	}, "entry not replayed after reconnect")
}
