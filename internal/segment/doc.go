// Package segment implements query-keyed segment state: pieces, the reducer
// that folds events into immutable states, the change detector, and the
// deferred fetch task.
//
// # Overview
//
// A segment is a named slice of cached state. Callers describe what they want
// with a query; the segment's Source turns the query into a stable identity
// and knows how to fetch it. Results are stored as pieces keyed by that
// identity.
//
// # Events
//
// Each segment understands three events, named by EventName:
//
//	@@segment/<id>/LOAD   replace the piece for a query
//	@@segment/<id>/INIT   add a placeholder unless data is already loaded
//	@@segment/<id>/CLEAR  drop every piece
//
// Load returns a *Task rather than an event. Running the task calls the
// source's Fetch, turns the outcome into exactly one LOAD event and publishes
// it. A fetch error becomes a piece with Err set and Loaded false, so readers
// always see the fetch end.
//
// # Immutability
//
// Reduce never modifies the state it is given. A transition that changes
// nothing returns the same *State; one that changes something returns a new
// *State that shares every untouched *Piece with the old one:
//
//	s1 := seg.Reduce(nil, seg.Loaded("q", data, nil))
//	s2 := seg.Reduce(s1, seg.Placeholder("q"))  // s2 == s1
//	s3 := seg.Reduce(s2, seg.Loaded("r", more, nil))
//	// s3 != s2, s3.Piece("q") == s2.Piece("q")
//
// Diff uses those pointer comparisons to tell a subscriber of one query
// whether its piece changed, without looking at the data.
//
// # Concurrency
//
// Reduce, Diff and the event creators are synchronous and safe to call from
// any goroutine. Tasks may run concurrently for different queries; running
// the same query twice at once is prevented by the store, not here.
package segment
