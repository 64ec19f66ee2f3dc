// Package store runs segments: it owns their states, applies events on a
// single goroutine, schedules fetches and notifies subscribers.
//
// # Event loop
//
// Publish sends an event to the loop and blocks until the loop has reduced it
// into the owning segment's state and delivered the resulting changes. The
// loop is the only writer of segment states; readers get immutable
// *segment.State values under a short read lock.
//
// # Subscriptions and fetches
//
// Watch is the entry point for a panel that needs a query:
//
//	sub, err := store.Watch(ctx, s, users, query.Flat{"username": "alice"},
//		store.WatchOptions{ServerShouldFetch: true},
//		func(c store.Change) { ... })
//
// The first Watch of a query publishes an INIT placeholder. If the piece is
// not loaded, a fetch is dispatched unless one is already in flight for the
// same segment and query. Fetches run on their own goroutines, at most
// WithMaxConcurrent at a time, and publish their LOAD through Publish.
//
// After each applied event the store runs segment.Diff for every watched
// query of that segment and calls only the subscribers whose piece changed.
//
// # Server and client
//
// A ModeServer store fetches only queries watched with ServerShouldFetch. Its
// Snapshot is written with WriteSnapshot and read back by the client, whose
// ModeClient store calls Hydrate before watching. Hydrated pieces are loaded,
// so the client's Watch does not fetch them again.
package store
