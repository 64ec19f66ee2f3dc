package segment

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNilSource is returned by New when no source is supplied.
	ErrNilSource = errors.New("segment: nil source")
	// ErrEmptyID is returned by New when the source has a blank ID.
	ErrEmptyID = errors.New("segment: empty id")
)

// Source is what a concrete segment supplies: a store-wide unique ID, the
// identity of its queries, and the fetch strategy.
type Source[Q any] interface {
	ID() string
	Identity(q Q) string
	Fetch(ctx context.Context, q Q) (any, error)
}

// Option configures a Segment.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the clock used to stamp pieces.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Segment combines a Source with the default event creators, reducer and
// change detector.
type Segment[Q any] struct {
	id     string
	source Source[Q]
	types  Types
	now    func() time.Time
}

// New builds a segment for src. Event names are fixed here for the lifetime of
// the segment.
func New[Q any](src Source[Q], opts ...Option) (*Segment[Q], error) {
	if src == nil {
		return nil, ErrNilSource
	}
	id := strings.TrimSpace(src.ID())
	if id == "" {
		return nil, ErrEmptyID
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Segment[Q]{
		id:     id,
		source: src,
		types:  typesFor(id),
		now:    o.now,
	}, nil
}

// ID returns the segment ID.
func (s *Segment[Q]) ID() string { return s.id }

// Types returns the segment's event names.
func (s *Segment[Q]) Types() Types { return s.types }

// QueryID returns the identity of q.
func (s *Segment[Q]) QueryID(q Q) string { return s.source.Identity(q) }

// Clear returns the event that wipes the segment state.
func (s *Segment[Q]) Clear() Event {
	return Event{Type: s.types.Clear}
}

// Load returns a task that fetches q and publishes the result. Nothing runs
// until the task is.
func (s *Segment[Q]) Load(q Q) *Task {
	queryID := s.source.Identity(q)
	return &Task{
		SegmentID: s.id,
		QueryID:   queryID,
		Query:     q,
		fetch: func(ctx context.Context) (any, error) {
			return s.source.Fetch(ctx, q)
		},
		complete: func(data any, err error) Event {
			return s.Loaded(queryID, data, err)
		},
	}
}

// Loaded returns the LOAD event for a finished fetch. A non-nil err produces
// a piece with no data, the error recorded and Loaded false.
func (s *Segment[Q]) Loaded(queryID string, data any, err error) Event {
	p := &Piece{Updated: s.now(), Loaded: err == nil}
	if err != nil {
		p.Err = newFetchError(queryID, err)
	} else {
		p.Data = data
	}
	return Event{Type: s.types.Load, QueryID: queryID, Payload: p}
}

// Placeholder returns the INIT event that marks queryID as subscribed without
// claiming data is available.
func (s *Segment[Q]) Placeholder(queryID string) Event {
	return Event{
		Type:    s.types.Init,
		QueryID: queryID,
		Payload: &Piece{Updated: s.now()},
	}
}

// Restore returns a LOAD event carrying an existing piece, for hydration.
func (s *Segment[Q]) Restore(queryID string, p *Piece) Event {
	return Event{Type: s.types.Load, QueryID: queryID, Payload: p}
}

// Reduce folds ev into state and returns the resulting state.
//
// Reduce never modifies state. CLEAR yields a fresh empty state. LOAD always
// replaces the piece. INIT replaces the piece only when none exists or it is
// not loaded; otherwise, and for events of other segments, the same state
// pointer is returned.
func (s *Segment[Q]) Reduce(state *State, ev Event) *State {
	if state == nil {
		state = emptyState
	}
	switch ev.Type {
	case s.types.Clear:
		return &State{}
	case s.types.Load:
		return state.with(ev.QueryID, ev.Payload)
	case s.types.Init:
		if existing := state.Piece(ev.QueryID); existing != nil && existing.Loaded {
			return state
		}
		return state.with(ev.QueryID, ev.Payload)
	default:
		return state
	}
}

// Diff is the segment's change detector. See the package-level Diff.
func (s *Segment[Q]) Diff(prev, next *State, queryID string) []*Piece {
	return Diff(prev, next, queryID)
}

// Diff reports whether the piece for queryID differs between two states of
// the same segment. It returns nil when the states are the same pointer or
// share the same piece, and otherwise a one-element slice holding the new
// piece. That element is nil when the piece was removed by a clear.
func Diff(prev, next *State, queryID string) []*Piece {
	if prev == next {
		return nil
	}
	p := next.Piece(queryID)
	if prev.Piece(queryID) == p {
		return nil
	}
	return []*Piece{p}
}
