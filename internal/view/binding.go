package view

import (
	"context"

	"github.com/five82/segcache/internal/segment"
	"github.com/five82/segcache/internal/store"
)

// Binding ties a panel to one query of one segment. It hides the query type
// so panels of different segments can share a list.
type Binding struct {
	Title       string
	SegmentID   string
	QueryID     string
	ServerFetch bool

	watch func(ctx context.Context, s *store.Store, fn func(store.Change)) (*store.Subscription, error)
}

// Bind builds the binding for q on seg.
func Bind[Q any](title string, seg *segment.Segment[Q], q Q, serverFetch bool) Binding {
	return Binding{
		Title:       title,
		SegmentID:   seg.ID(),
		QueryID:     seg.QueryID(q),
		ServerFetch: serverFetch,
		watch: func(ctx context.Context, s *store.Store, fn func(store.Change)) (*store.Subscription, error) {
			return store.Watch(ctx, s, seg, q, store.WatchOptions{ServerShouldFetch: serverFetch}, fn)
		},
	}
}

// Watch subscribes fn to the bound query in s.
func (b Binding) Watch(ctx context.Context, s *store.Store, fn func(store.Change)) (*store.Subscription, error) {
	return b.watch(ctx, s, fn)
}

// Item is one panel's title and current piece.
type Item struct {
	Title   string
	QueryID string
	Piece   *segment.Piece
}

// Items reads the current piece of every binding.
func Items(s *store.Store, bindings []Binding) []Item {
	items := make([]Item, len(bindings))
	for i, b := range bindings {
		items[i] = Item{
			Title:   b.Title,
			QueryID: b.QueryID,
			Piece:   s.Piece(b.SegmentID, b.QueryID),
		}
	}
	return items
}
