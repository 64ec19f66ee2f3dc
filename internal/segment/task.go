package segment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrTaskDone is returned when a task is run a second time.
var ErrTaskDone = errors.New("segment: task already ran")

// Publisher applies events to a store. Publish must not return before the
// event has been applied.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Task is a pending fetch for one query of one segment. Running it fetches
// and publishes exactly one LOAD event.
type Task struct {
	SegmentID string
	QueryID   string
	Query     any

	fetch    func(ctx context.Context) (any, error)
	complete func(data any, err error) Event
	ran      atomic.Bool
}

// Run performs the fetch and publishes its LOAD event through pub. A failed
// fetch is published as an error piece and is not returned; the returned
// error only reports a failed publish. When Run returns nil the store has
// already applied the event.
func (t *Task) Run(ctx context.Context, pub Publisher) error {
	if !t.ran.CompareAndSwap(false, true) {
		return ErrTaskDone
	}
	data, err := t.safeFetch(ctx)
	if err := pub.Publish(ctx, t.complete(data, err)); err != nil {
		return fmt.Errorf("segment: publish %s: %w", t.QueryID, err)
	}
	return nil
}

func (t *Task) safeFetch(ctx context.Context) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return t.fetch(ctx)
}
