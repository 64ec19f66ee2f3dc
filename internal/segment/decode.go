package segment

import (
	"encoding/json"
	"fmt"
)

// Decode returns the piece data as T. Data that is already a T is returned
// directly; anything else, such as the generic maps produced by a snapshot,
// goes through a JSON round trip.
func Decode[T any](p *Piece) (T, error) {
	var zero T
	if p == nil || !p.Loaded {
		return zero, fmt.Errorf("segment: decode: piece not loaded")
	}
	if typed, ok := p.Data.(T); ok {
		return typed, nil
	}
	raw, err := json.Marshal(p.Data)
	if err != nil {
		return zero, fmt.Errorf("segment: decode: marshal data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("segment: decode into %T: %w", out, err)
	}
	return out, nil
}
