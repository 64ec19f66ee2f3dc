package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/five82/segcache/internal/segment"
)

// WatchOptions control how a subscription behaves during a server execution.
type WatchOptions struct {
	// ServerShouldFetch lets a ModeServer store load the query. When false the
	// server leaves the piece as a placeholder and the client fetches it.
	ServerShouldFetch bool
}

// Subscription is a registered interest in one query of one segment.
type Subscription struct {
	store     *Store
	segmentID string
	queryID   string
	id        uint64
	fn        func(Change)
	reload    func() *segment.Task
	closed    atomic.Bool
}

// SegmentID returns the watched segment.
func (sub *Subscription) SegmentID() string { return sub.segmentID }

// QueryID returns the identity of the watched query.
func (sub *Subscription) QueryID() string { return sub.queryID }

// Piece returns the current piece of the watched query.
func (sub *Subscription) Piece() *segment.Piece {
	return sub.store.Piece(sub.segmentID, sub.queryID)
}

// Close removes the subscription. It is safe to call more than once.
func (sub *Subscription) Close() {
	if !sub.closed.CompareAndSwap(false, true) {
		return
	}
	sub.store.unsubscribe(sub)
}

func (sub *Subscription) deliver(c Change) {
	if sub.fn == nil || sub.closed.Load() {
		return
	}
	sub.fn(c)
}

// Watch subscribes fn to changes of q's piece in seg.
//
// The first subscription to a query publishes an INIT placeholder. When the
// piece is not loaded and the store's mode allows it, a fetch is dispatched;
// a fetch already in flight for the same query is reused. fn runs on the
// store's event goroutine and must not block or publish.
func Watch[Q any](ctx context.Context, s *Store, seg *segment.Segment[Q], q Q, opts WatchOptions, fn func(Change)) (*Subscription, error) {
	if seg == nil {
		return nil, ErrNilSegment
	}
	if err := s.registered(seg); err != nil {
		return nil, err
	}
	queryID := seg.QueryID(q)
	sub, first := s.subscribe(seg.ID(), queryID, fn, func() *segment.Task { return seg.Load(q) })

	if first {
		if err := s.Publish(ctx, seg.Placeholder(queryID)); err != nil {
			sub.Close()
			return nil, fmt.Errorf("store: watch %s: %w", seg.ID(), err)
		}
	}

	if s.shouldFetch(opts) && !isLoaded(s.Piece(seg.ID(), queryID)) {
		s.dispatch(seg.Load(q))
	}
	return sub, nil
}

// Fetch dispatches a load of q without subscribing. It reports false when a
// fetch for the same query is already running or the store is closed.
func Fetch[Q any](s *Store, seg *segment.Segment[Q], q Q) (bool, error) {
	if seg == nil {
		return false, ErrNilSegment
	}
	if err := s.registered(seg); err != nil {
		return false, err
	}
	return s.dispatch(seg.Load(q)), nil
}

func (s *Store) shouldFetch(opts WatchOptions) bool {
	return s.mode == ModeClient || opts.ServerShouldFetch
}

func isLoaded(p *segment.Piece) bool {
	return p != nil && p.Loaded
}

func (s *Store) registered(r Reducer) error {
	if r == nil {
		return ErrNilSegment
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if got, ok := s.segments[r.ID()]; !ok || got != r {
		return fmt.Errorf("%w: %s", ErrUnknownSegment, r.ID())
	}
	return nil
}

// subscribe reports whether sub is the only subscription to its query.
func (s *Store) subscribe(segmentID, queryID string, fn func(Change), reload func() *segment.Task) (*Subscription, bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextSub++
	sub := &Subscription{
		store:     s,
		segmentID: segmentID,
		queryID:   queryID,
		id:        s.nextSub,
		fn:        fn,
		reload:    reload,
	}
	bySegment := s.subs[segmentID]
	if bySegment == nil {
		bySegment = make(map[string][]*Subscription)
		s.subs[segmentID] = bySegment
	}
	bySegment[queryID] = append(bySegment[queryID], sub)
	return sub, len(bySegment[queryID]) == 1
}

func (s *Store) unsubscribe(sub *Subscription) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	bySegment := s.subs[sub.segmentID]
	list := slices.DeleteFunc(bySegment[sub.queryID], func(x *Subscription) bool { return x.id == sub.id })
	if len(list) == 0 {
		delete(bySegment, sub.queryID)
	} else {
		bySegment[sub.queryID] = list
	}
	if len(bySegment) == 0 {
		delete(s.subs, sub.segmentID)
	}
}

// dispatch starts task unless the same query is already in flight.
func (s *Store) dispatch(task *segment.Task) bool {
	k := key{segment: task.SegmentID, query: task.QueryID}

	s.flightMu.Lock()
	if s.ctx.Err() != nil {
		s.flightMu.Unlock()
		return false
	}
	if _, busy := s.inflight[k]; busy {
		s.flightMu.Unlock()
		return false
	}
	if len(s.inflight) == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight[k] = struct{}{}
	s.flightMu.Unlock()

	go s.run(task, k)
	return true
}

func (s *Store) run(task *segment.Task, k key) {
	defer s.finish(k)

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	s.logger.DebugContext(s.ctx, "fetch started",
		slog.String("segment", task.SegmentID),
		slog.String("query", task.QueryID),
	)
	if err := task.Run(s.ctx, s); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		s.logger.LogAttrs(s.ctx, slog.LevelError, "fetch result dropped",
			slog.String("segment", task.SegmentID),
			slog.String("query", task.QueryID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) finish(k key) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	delete(s.inflight, k)
	if len(s.inflight) == 0 {
		close(s.idle)
	}
}

// InFlight returns the number of fetches dispatched and not yet finished.
func (s *Store) InFlight() int {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	return len(s.inflight)
}

// Wait blocks until no fetch is in flight or ctx is done. Fetches dispatched
// while waiting are waited for too.
func (s *Store) Wait(ctx context.Context) error {
	for {
		s.flightMu.Lock()
		if len(s.inflight) == 0 {
			s.flightMu.Unlock()
			return nil
		}
		idle := s.idle
		s.flightMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Refresh reloads every watched query that is not already being fetched and
// returns how many fetches it started. Pieces keep their current value until
// the new LOAD arrives.
func (s *Store) Refresh(ctx context.Context) int {
	started := 0
	for _, reload := range s.watchedReloads() {
		if s.dispatch(reload()) {
			started++
		}
	}
	s.logger.DebugContext(ctx, "refresh dispatched", slog.Int("fetches", started))
	return started
}

func (s *Store) watchedReloads() []func() *segment.Task {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	var reloads []func() *segment.Task
	for _, bySegment := range s.subs {
		for _, subs := range bySegment {
			if len(subs) > 0 {
				reloads = append(reloads, subs[0].reload)
			}
		}
	}
	return reloads
}

// Failures returns the number of watched queries whose piece holds an error.
func (s *Store) Failures() int {
	s.subMu.Lock()
	watched := make([]key, 0)
	for segmentID, bySegment := range s.subs {
		for queryID := range bySegment {
			watched = append(watched, key{segment: segmentID, query: queryID})
		}
	}
	s.subMu.Unlock()

	failed := 0
	for _, k := range watched {
		if s.Piece(k.segment, k.query).Failed() {
			failed++
		}
	}
	return failed
}

// Clear wipes one segment's state.
func (s *Store) Clear(ctx context.Context, segmentID string) error {
	s.mu.RLock()
	r, ok := s.segments[segmentID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSegment, segmentID)
	}
	return s.Publish(ctx, r.Clear())
}

// ClearAll wipes every registered segment.
func (s *Store) ClearAll(ctx context.Context) error {
	var errs []error
	for _, id := range s.Segments() {
		if err := s.Clear(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
