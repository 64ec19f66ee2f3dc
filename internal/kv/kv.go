// Package kv implements the flat key/value segment: queries are flat string
// maps and a Fetcher looks up one record per query.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/five82/segcache/internal/query"
	"github.com/five82/segcache/internal/segment"
)

// ErrNotFound is returned by fetchers when no record matches a query.
var ErrNotFound = errors.New("kv: record not found")

// Fetcher retrieves the record for q from resource.
type Fetcher interface {
	Lookup(ctx context.Context, resource string, q query.Flat) (map[string]any, error)
}

// Source is the segment.Source of a key/value segment.
type Source struct {
	id       string
	resource string
	fetcher  Fetcher
}

var _ segment.Source[query.Flat] = (*Source)(nil)

// NewSource returns a source that reads resource through f.
func NewSource(id, resource string, f Fetcher) (*Source, error) {
	if f == nil {
		return nil, fmt.Errorf("kv: segment %q has no fetcher", id)
	}
	resource = strings.TrimSpace(resource)
	if resource == "" {
		resource = id
	}
	return &Source{id: strings.TrimSpace(id), resource: resource, fetcher: f}, nil
}

// New builds a key/value segment.
func New(id, resource string, f Fetcher, opts ...segment.Option) (*segment.Segment[query.Flat], error) {
	src, err := NewSource(id, resource, f)
	if err != nil {
		return nil, err
	}
	return segment.New[query.Flat](src, opts...)
}

// ID returns the segment ID.
func (s *Source) ID() string { return s.id }

// Resource returns the resource the source reads.
func (s *Source) Resource() string { return s.resource }

// Identity returns the canonical identity of q.
func (s *Source) Identity(q query.Flat) string { return q.Identity() }

// Fetch validates q and looks it up.
func (s *Source) Fetch(ctx context.Context, q query.Flat) (any, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rec, err := s.fetcher.Lookup(ctx, s.resource, q)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", s.resource, err)
	}
	return rec, nil
}
