package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/five82/segcache/internal/query"
	"github.com/five82/segcache/internal/segment"
)

type fakeSource struct {
	id      string
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
	gate    chan struct{}
	fail    map[string]error
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) Identity(q query.Flat) string { return q.Identity() }

func (f *fakeSource) Fetch(ctx context.Context, q query.Flat) (any, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[q["username"]]; err != nil {
		return nil, err
	}
	return map[string]any{"username": q["username"], "email": q["username"] + "@x.com"}, nil
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(context.Background(), opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func register(t *testing.T, s *Store, src *fakeSource) *segment.Segment[query.Flat] {
	t.Helper()
	seg, err := segment.New[query.Flat](src)
	if err != nil {
		t.Fatalf("segment.New returned error: %v", err)
	}
	if err := s.Register(seg); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return seg
}

func waitIdle(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
}

type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func (l *changeLog) record(c Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
}

func (l *changeLog) snapshot() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.changes...)
}

func TestRegister_RejectsDuplicatesAndUnknown(t *testing.T) {
	s := newTestStore(t)
	register(t, s, &fakeSource{id: "users"})

	dup, _ := segment.New[query.Flat](&fakeSource{id: "users"})
	if err := s.Register(dup); !errors.Is(err, ErrDuplicateSegment) {
		t.Fatalf("Register(dup) error = %v, want ErrDuplicateSegment", err)
	}
	if err := s.Register(nil); !errors.Is(err, ErrNilSegment) {
		t.Fatalf("Register(nil) error = %v, want ErrNilSegment", err)
	}
	if _, err := Watch(context.Background(), s, dup, query.Flat{"username": "a"}, WatchOptions{}, nil); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("Watch(unregistered) error = %v, want ErrUnknownSegment", err)
	}
	if s.State("users") == nil || s.State("users").Len() != 0 {
		t.Fatal("registered segment does not start empty")
	}
}

func TestPublish_UnknownEvent(t *testing.T) {
	s := newTestStore(t)
	err := s.Publish(context.Background(), segment.Event{Type: "@@segment/nope/LOAD"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("Publish error = %v, want ErrUnknownEvent", err)
	}
}

func TestPublish_AfterClose(t *testing.T) {
	s := New(context.Background())
	seg := register(t, s, &fakeSource{id: "users"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := s.Publish(context.Background(), seg.Clear()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close error = %v, want ErrClosed", err)
	}
}

func TestWatch_ClientFetchesAndNotifies(t *testing.T) {
	s := newTestStore(t)
	seg := register(t, s, &fakeSource{id: "users"})
	log := &changeLog{}

	sub, err := Watch(context.Background(), s, seg, query.Flat{"username": "alice"}, WatchOptions{}, log.record)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)

	p := sub.Piece()
	if p == nil || !p.Loaded || p.Data.(map[string]any)["email"] != "alice@x.com" {
		t.Fatalf("piece = %+v, want loaded alice", p)
	}

	changes := log.snapshot()
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want INIT then LOAD", len(changes))
	}
	if !changes[0].Piece.Pending() || !changes[1].Piece.Loaded {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[1].QueryID != sub.QueryID() || changes[1].SegmentID != "users" {
		t.Fatalf("change addressed to %s/%s", changes[1].SegmentID, changes[1].QueryID)
	}
}

func TestWatch_DeduplicatesInFlightFetches(t *testing.T) {
	s := newTestStore(t)
	src := &fakeSource{id: "users", gate: make(chan struct{})}
	seg := register(t, s, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := Watch(ctx, s, seg, query.Flat{"username": "alice"}, WatchOptions{}, nil); err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	}
	if started, _ := Fetch(s, seg, query.Flat{"username": "alice"}); started {
		t.Fatal("Fetch started a duplicate of an in-flight query")
	}
	close(src.gate)
	waitIdle(t, s)

	if got := src.calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}

	if _, err := Watch(ctx, s, seg, query.Flat{"username": "alice"}, WatchOptions{}, nil); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("watching a loaded query fetched again (%d calls)", got)
	}
}

func TestWatch_NotifiesOnlyChangedQueries(t *testing.T) {
	s := newTestStore(t)
	seg := register(t, s, &fakeSource{id: "users"})
	ctx := context.Background()

	aliceLog := &changeLog{}
	if _, err := Watch(ctx, s, seg, query.Flat{"username": "alice"}, WatchOptions{}, aliceLog.record); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)
	before := len(aliceLog.snapshot())

	if _, err := Watch(ctx, s, seg, query.Flat{"username": "bob"}, WatchOptions{}, nil); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)

	if after := len(aliceLog.snapshot()); after != before {
		t.Fatalf("alice notified %d times for bob's changes", after-before)
	}
}

func TestWatch_ServerRespectsServerShouldFetch(t *testing.T) {
	s := newTestStore(t, WithMode(ModeServer))
	src := &fakeSource{id: "users"}
	seg := register(t, s, src)
	ctx := context.Background()

	skipped, err := Watch(ctx, s, seg, query.Flat{"username": "alice"}, WatchOptions{ServerShouldFetch: false}, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	fetched, err := Watch(ctx, s, seg, query.Flat{"username": "bob"}, WatchOptions{ServerShouldFetch: true}, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)

	if got := src.calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1", got)
	}
	if !skipped.Piece().Pending() {
		t.Fatalf("skipped piece = %+v, want placeholder", skipped.Piece())
	}
	if !fetched.Piece().Loaded {
		t.Fatalf("fetched piece = %+v, want loaded", fetched.Piece())
	}
}

func TestWatch_FetchFailureIsVisible(t *testing.T) {
	s := newTestStore(t)
	seg := register(t, s, &fakeSource{id: "users", fail: map[string]error{"mallory": errors.New("forbidden")}})

	sub, err := Watch(context.Background(), s, seg, query.Flat{"username": "mallory"}, WatchOptions{}, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)

	if p := sub.Piece(); p.Loaded || p.Err == nil || p.Err.Message != "forbidden" {
		t.Fatalf("piece = %+v, want failed", p)
	}
	if got := s.Failures(); got != 1 {
		t.Fatalf("Failures = %d, want 1", got)
	}
}

func TestWatch_LaterSubscriptionKeepsFailedPiece(t *testing.T) {
	s := newTestStore(t, WithMode(ModeServer))
	seg := register(t, s, &fakeSource{id: "users", fail: map[string]error{"mallory": errors.New("forbidden")}})
	ctx := context.Background()
	q := query.Flat{"username": "mallory"}
	log := &changeLog{}

	first, err := Watch(ctx, s, seg, q, WatchOptions{ServerShouldFetch: true}, log.record)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)
	if !first.Piece().Failed() {
		t.Fatalf("piece = %+v, want failed", first.Piece())
	}
	before := len(log.snapshot())

	second, err := Watch(ctx, s, seg, q, WatchOptions{ServerShouldFetch: false}, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)

	if p := second.Piece(); !p.Failed() || p.Pending() {
		t.Fatalf("piece after second watch = %+v, want still failed", p)
	}
	if after := len(log.snapshot()); after != before {
		t.Fatalf("first subscriber notified %d more times", after-before)
	}
	if got := s.Failures(); got != 1 {
		t.Fatalf("Failures = %d, want 1", got)
	}
}

func TestStore_BoundsConcurrentFetches(t *testing.T) {
	s := newTestStore(t, WithMaxConcurrent(1))
	src := &fakeSource{id: "users", gate: make(chan struct{})}
	seg := register(t, s, src)

	for i := 0; i < 4; i++ {
		q := query.Flat{"username": fmt.Sprintf("user%d", i)}
		if _, err := Watch(context.Background(), s, seg, q, WatchOptions{}, nil); err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	}
	close(src.gate)
	waitIdle(t, s)

	if got := src.calls.Load(); got != 4 {
		t.Fatalf("fetch calls = %d, want 4", got)
	}
	if got := src.maxSeen.Load(); got != 1 {
		t.Fatalf("max concurrent fetches = %d, want 1", got)
	}
}

func TestRefresh_ReloadsWatchedQueries(t *testing.T) {
	s := newTestStore(t)
	src := &fakeSource{id: "users"}
	seg := register(t, s, src)
	ctx := context.Background()

	sub, err := Watch(ctx, s, seg, query.Flat{"username": "alice"}, WatchOptions{}, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)
	first := sub.Piece()

	if started := s.Refresh(ctx); started != 1 {
		t.Fatalf("Refresh started %d fetches, want 1", started)
	}
	waitIdle(t, s)

	if src.calls.Load() != 2 {
		t.Fatalf("fetch calls = %d, want 2", src.calls.Load())
	}
	if sub.Piece() == first {
		t.Fatal("refresh did not replace the piece")
	}

	sub.Close()
	sub.Close()
	if started := s.Refresh(ctx); started != 0 {
		t.Fatalf("Refresh after Close started %d fetches", started)
	}
}

func TestClear_NotifiesRemovedPiece(t *testing.T) {
	s := newTestStore(t)
	seg := register(t, s, &fakeSource{id: "users"})
	ctx := context.Background()
	log := &changeLog{}

	if _, err := Watch(ctx, s, seg, query.Flat{"username": "alice"}, WatchOptions{}, log.record); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, s)

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll returned error: %v", err)
	}
	if s.State("users").Len() != 0 {
		t.Fatal("segment not empty after clear")
	}
	changes := log.snapshot()
	if last := changes[len(changes)-1]; last.Piece != nil {
		t.Fatalf("last change = %+v, want removed piece", last)
	}
	if err := s.Clear(ctx, "nope"); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("Clear(unknown) error = %v, want ErrUnknownSegment", err)
	}
}

func TestSnapshot_HydratedClientDoesNotRefetch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "snapshot.json")

	server := newTestStore(t, WithMode(ModeServer))
	serverSrc := &fakeSource{id: "users", fail: map[string]error{"mallory": errors.New("forbidden")}}
	serverSeg := register(t, server, serverSrc)
	for _, name := range []string{"alice", "mallory"} {
		if _, err := Watch(ctx, server, serverSeg, query.Flat{"username": name}, WatchOptions{ServerShouldFetch: true}, nil); err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	}
	if _, err := Watch(ctx, server, serverSeg, query.Flat{"username": "bob"}, WatchOptions{}, nil); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, server)

	snap := server.Snapshot()
	if snap.StoreID != server.ID() || snap.Mode != "server" {
		t.Fatalf("snapshot header = %+v", snap)
	}
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot returned error: %v", err)
	}
	read, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot returned error: %v", err)
	}

	client := newTestStore(t)
	clientSrc := &fakeSource{id: "users"}
	clientSeg := register(t, client, clientSrc)
	restored, err := client.Hydrate(ctx, read)
	if err != nil {
		t.Fatalf("Hydrate returned error: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored %d pieces, want 1", restored)
	}

	alice, err := Watch(ctx, client, clientSeg, query.Flat{"username": "alice"}, WatchOptions{ServerShouldFetch: true}, nil)
	if err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	for _, name := range []string{"bob", "mallory"} {
		if _, err := Watch(ctx, client, clientSeg, query.Flat{"username": name}, WatchOptions{}, nil); err != nil {
			t.Fatalf("Watch returned error: %v", err)
		}
	}
	waitIdle(t, client)

	if !alice.Piece().Loaded {
		t.Fatal("hydrated piece not loaded")
	}
	if got := clientSrc.calls.Load(); got != 2 {
		t.Fatalf("client fetch calls = %d, want 2 (bob and mallory)", got)
	}
}

func TestHydrate_SkipsUnknownSegments(t *testing.T) {
	s := newTestStore(t)
	other := newTestStore(t)
	seg := register(t, other, &fakeSource{id: "orders"})
	if _, err := Watch(context.Background(), other, seg, query.Flat{"username": "x"}, WatchOptions{}, nil); err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
	waitIdle(t, other)

	n, err := s.Hydrate(context.Background(), other.Snapshot())
	if err != nil || n != 0 {
		t.Fatalf("Hydrate = %d, %v; want 0, nil", n, err)
	}
}

func TestReadSnapshot_Missing(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("ReadSnapshot returned no error for a missing file")
	}
}

func TestHydrate_SkipsLoadedPiecesWithErrors(t *testing.T) {
	s := newTestStore(t)
	seg := register(t, s, &fakeSource{id: "users"})
	alice := seg.QueryID(query.Flat{"username": "alice"})
	bob := seg.QueryID(query.Flat{"username": "bob"})

	raw, err := json.Marshal(map[string]any{
		"id": "snap-1",
		"segments": map[string]any{
			"users": map[string]any{
				alice: map[string]any{"data": nil, "loaded": true, "errors": map[string]any{"query_id": alice, "message": "boom"}},
				bob:   map[string]any{"data": map[string]any{"username": "bob"}, "loaded": true, "errors": nil},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	n, err := s.Hydrate(context.Background(), &snap)
	if err != nil || n != 1 {
		t.Fatalf("Hydrate = %d, %v; want 1, nil", n, err)
	}
	if p := s.Piece("users", alice); p != nil {
		t.Fatalf("alice piece = %+v, want skipped", p)
	}
	if p := s.Piece("users", bob); p == nil || !p.Loaded {
		t.Fatalf("bob piece = %+v, want loaded", p)
	}
}
