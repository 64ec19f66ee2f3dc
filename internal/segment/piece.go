package segment

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Piece is the cached result of one query. Pieces are values that are
// replaced, never edited: code holding a *Piece may rely on its contents
// staying the same.
type Piece struct {
	Data    any         `json:"data"`
	Updated time.Time   `json:"updated"`
	Err     *FetchError `json:"errors"`
	Loaded  bool        `json:"loaded"`
}

// Pending reports whether the piece exists but holds neither data nor an error.
func (p *Piece) Pending() bool {
	return p != nil && !p.Loaded && p.Err == nil
}

// Failed reports whether the last fetch for the piece failed.
func (p *Piece) Failed() bool {
	return p != nil && p.Err != nil
}

// FetchError describes a failed fetch stored in a piece.
type FetchError struct {
	QueryID string `json:"query_id"`
	Message string `json:"message"`
	cause   error
}

func newFetchError(queryID string, err error) *FetchError {
	return &FetchError{QueryID: queryID, Message: err.Error(), cause: err}
}

func (e *FetchError) Error() string {
	return "fetch " + e.QueryID + ": " + e.Message
}

// Unwrap returns the fetch strategy's error. It is nil for errors restored
// from a snapshot.
func (e *FetchError) Unwrap() error {
	return e.cause
}

// State maps query identities to pieces for one segment.
//
// A State is immutable. Reduce returns a new *State whenever an event changes
// anything and the same pointer when it does not; pieces the event did not
// touch are shared with the previous state. Pointer comparison of states and
// of pieces is therefore a complete change test, and Diff relies on it.
//
// A nil *State is a valid empty state.
type State struct {
	pieces map[string]*Piece
}

var emptyState = &State{}

// Piece returns the piece stored for queryID, or nil.
func (s *State) Piece(queryID string) *Piece {
	if s == nil {
		return nil
	}
	return s.pieces[queryID]
}

// Len returns the number of stored pieces.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pieces)
}

// QueryIDs returns the stored query identities in sorted order.
func (s *State) QueryIDs() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.pieces))
}

// with returns a copy of s with queryID set to p. The receiver is not modified.
func (s *State) with(queryID string, p *Piece) *State {
	next := make(map[string]*Piece, s.Len()+1)
	if s != nil {
		maps.Copy(next, s.pieces)
	}
	next[queryID] = p
	return &State{pieces: next}
}

// MarshalJSON encodes the state as an object keyed by query identity.
func (s *State) MarshalJSON() ([]byte, error) {
	if s == nil || s.pieces == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.pieces)
}

// UnmarshalJSON decodes an object keyed by query identity. Null entries are
// dropped.
func (s *State) UnmarshalJSON(data []byte) error {
	var pieces map[string]*Piece
	if err := json.Unmarshal(data, &pieces); err != nil {
		return err
	}
	maps.DeleteFunc(pieces, func(_ string, p *Piece) bool { return p == nil })
	s.pieces = pieces
	return nil
}
