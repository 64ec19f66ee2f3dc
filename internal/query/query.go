// Package query derives stable cache keys from query descriptions.
package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrEmpty is returned by Flat.Validate for a description without keys.
var ErrEmpty = errors.New("query: empty description")

// Identity returns the canonical identity of a query description.
//
// The description is marshaled to JSON, decoded into generic values and
// marshaled again, so map key order and the Go type used to describe the
// query do not matter: a struct and a map with the same fields produce the
// same identity. Numbers keep their literal text, so an int and a float
// with the same value collide; sources whose fetch depends on the number's
// Go type must tag it before calling Identity.
func Identity(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("query: identity: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("query: identity: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("query: identity: %w", err)
	}
	return string(canonical), nil
}

// MustIdentity is Identity for descriptions known to be marshalable. It panics
// otherwise, which surfaces a wiring bug at first use.
func MustIdentity(v any) string {
	id, err := Identity(v)
	if err != nil {
		panic(err)
	}
	return id
}

// Flat is an atomic key/value lookup description.
type Flat map[string]string

// Validate reports descriptions that cannot name a lookup.
func (f Flat) Validate() error {
	if len(f) == 0 {
		return ErrEmpty
	}
	for k := range f {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("query: empty key in %v", map[string]string(f))
		}
	}
	return nil
}

// Encode renders the description as a URL query string sorted by key.
func (f Flat) Encode() string {
	values := url.Values{}
	for k, v := range f {
		values.Set(k, v)
	}
	return values.Encode()
}

// Identity implements the identity for flat descriptions.
func (f Flat) Identity() string {
	return MustIdentity(map[string]string(f))
}
