package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/five82/segcache/internal/segment"
)

var (
	ErrClosed           = errors.New("store: closed")
	ErrNilSegment       = errors.New("store: nil segment")
	ErrDuplicateSegment = errors.New("store: duplicate segment")
	ErrUnknownSegment   = errors.New("store: unknown segment")
	ErrUnknownEvent     = errors.New("store: unknown event type")
)

// Mode selects which execution of the panel tree the store serves.
type Mode int

const (
	// ModeClient fetches every watched query that is not loaded.
	ModeClient Mode = iota
	// ModeServer fetches only queries watched with ServerShouldFetch.
	ModeServer
)

func (m Mode) String() string {
	if m == ModeServer {
		return "server"
	}
	return "client"
}

// Reducer is the non-generic part of a segment the store works with.
// *segment.Segment satisfies it for every query type.
type Reducer interface {
	ID() string
	Types() segment.Types
	Reduce(state *segment.State, ev segment.Event) *segment.State
	Placeholder(queryID string) segment.Event
	Restore(queryID string, p *segment.Piece) segment.Event
	Clear() segment.Event
}

// Change is delivered to subscribers whose piece changed. Piece is nil when
// the segment was cleared.
type Change struct {
	SegmentID string
	QueryID   string
	Piece     *segment.Piece
}

const (
	defaultMaxConcurrent = 4
	defaultQueueSize     = 64
)

// Option configures a Store.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	mode          Mode
	maxConcurrent int
	queueSize     int
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMode sets the execution mode. The default is ModeClient.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithMaxConcurrent bounds the number of fetches running at once.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithQueueSize sets the buffer of the event queue.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

type envelope struct {
	ev   segment.Event
	done chan error
}

type key struct {
	segment string
	query   string
}

// Store owns the state of every registered segment. Events are applied one
// at a time by a single goroutine; fetches run concurrently beside it.
type Store struct {
	id     string
	mode   Mode
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu       sync.RWMutex
	segments map[string]Reducer
	routes   map[string]string
	states   map[string]*segment.State

	subMu   sync.Mutex
	subs    map[string]map[string][]*Subscription
	nextSub uint64

	flightMu sync.Mutex
	inflight map[key]struct{}
	idle     chan struct{}

	events chan envelope
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a store. It runs until ctx is cancelled or Close is called.
func New(ctx context.Context, opts ...Option) *Store {
	o := options{
		logger:        slog.New(slog.DiscardHandler),
		maxConcurrent: defaultMaxConcurrent,
		queueSize:     defaultQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	storeCtx, cancel := context.WithCancel(ctx)
	idle := make(chan struct{})
	close(idle)

	s := &Store{
		id:       uuid.NewString(),
		mode:     o.mode,
		logger:   o.logger,
		sem:      semaphore.NewWeighted(int64(o.maxConcurrent)),
		segments: make(map[string]Reducer),
		routes:   make(map[string]string),
		states:   make(map[string]*segment.State),
		subs:     make(map[string]map[string][]*Subscription),
		inflight: make(map[key]struct{}),
		idle:     idle,
		events:   make(chan envelope, o.queueSize),
		ctx:      storeCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go s.loop()

	s.logger.DebugContext(ctx, "store started",
		slog.String("store_id", s.id),
		slog.String("mode", s.mode.String()),
		slog.Int("max_concurrent", o.maxConcurrent),
	)
	return s
}

// ID returns the store's unique ID.
func (s *Store) ID() string { return s.id }

// Mode returns the execution mode.
func (s *Store) Mode() Mode { return s.mode }

// Close stops the event loop and waits for it to exit. Fetches still running
// see their context cancelled and their results are discarded.
func (s *Store) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Register adds a segment with an empty state. Segment IDs must be unique.
func (s *Store) Register(r Reducer) error {
	if r == nil {
		return ErrNilSegment
	}
	id := strings.TrimSpace(r.ID())
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrNilSegment)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.segments[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSegment, id)
	}
	names := r.Types().All()
	for _, name := range names {
		if owner, taken := s.routes[name]; taken {
			return fmt.Errorf("%w: event %s already routed to %s", ErrDuplicateSegment, name, owner)
		}
	}
	for _, name := range names {
		s.routes[name] = id
	}
	s.segments[id] = r
	s.states[id] = new(segment.State)

	s.logger.DebugContext(s.ctx, "segment registered", slog.String("segment", id))
	return nil
}

// Segments returns the registered segment IDs in sorted order.
func (s *Store) Segments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.segments))
}

// State returns the current state of a segment, or nil if it is not
// registered. The result is immutable and safe to keep.
func (s *Store) State(segmentID string) *segment.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[segmentID]
}

// Piece returns the current piece for one query, or nil.
func (s *Store) Piece(segmentID, queryID string) *segment.Piece {
	return s.State(segmentID).Piece(queryID)
}

// Publish hands ev to the event loop and waits until it has been applied and
// subscribers have been notified.
func (s *Store) Publish(ctx context.Context, ev segment.Event) error {
	env := envelope{ev: ev, done: make(chan error, 1)}
	select {
	case s.events <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-env.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Store) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case env := <-s.events:
			env.done <- s.apply(env.ev)
		}
	}
}

// apply runs on the loop goroutine only, which makes it the single writer of
// s.states.
func (s *Store) apply(ev segment.Event) error {
	s.mu.RLock()
	segmentID, ok := s.routes[ev.Type]
	r := s.segments[segmentID]
	prev := s.states[segmentID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Type)
	}

	next := r.Reduce(prev, ev)
	if next == prev {
		return nil
	}

	s.mu.Lock()
	s.states[segmentID] = next
	s.mu.Unlock()

	if ev.Payload != nil && ev.Payload.Err != nil {
		s.logger.LogAttrs(s.ctx, slog.LevelWarn, "fetch failed",
			slog.String("segment", segmentID),
			slog.String("query", ev.QueryID),
			slog.String("error", ev.Payload.Err.Message),
		)
	} else {
		s.logger.LogAttrs(s.ctx, slog.LevelDebug, "event applied",
			slog.String("type", ev.Type),
			slog.String("query", ev.QueryID),
			slog.Int("pieces", next.Len()),
		)
	}

	s.notify(segmentID, prev, next)
	return nil
}

func (s *Store) notify(segmentID string, prev, next *segment.State) {
	type delivery struct {
		change Change
		subs   []*Subscription
	}
	var pending []delivery

	s.subMu.Lock()
	for queryID, subs := range s.subs[segmentID] {
		changed := segment.Diff(prev, next, queryID)
		if changed == nil {
			continue
		}
		pending = append(pending, delivery{
			change: Change{SegmentID: segmentID, QueryID: queryID, Piece: changed[0]},
			subs:   append([]*Subscription(nil), subs...),
		})
	}
	s.subMu.Unlock()

	for _, d := range pending {
		for _, sub := range d.subs {
			sub.deliver(d.change)
		}
	}
}
