// Package compute implements a segment whose fetch strategy is local
// evaluation of an expression instead of I/O.
package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/five82/segcache/internal/query"
	"github.com/five82/segcache/internal/segment"
)

// Engine names accepted in Query.Engine.
const (
	EngineExpr = "expr" // expr-lang/expr
	EngineCEL  = "cel"  // google/cel-go
)

var (
	ErrUnknownEngine = errors.New("compute: unknown engine")
	ErrEmptyExpr     = errors.New("compute: expression must not be empty")
)

// Query asks for the value of Expr evaluated by Engine against Env.
type Query struct {
	Engine string         `json:"engine,omitempty"`
	Expr   string         `json:"expr"`
	Env    map[string]any `json:"env,omitempty"`
}

// Evaluator runs one expression language.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, env map[string]any) (any, error)
}

// EvaluationError records which engine and expression failed.
type EvaluationError struct {
	Engine string
	Expr   string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("compute: %s evaluator expr=%q: %v", e.Engine, e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func wrapEvaluationError(engine, expr string, err error) error {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}
	return &EvaluationError{Engine: engine, Expr: expr, Err: err}
}

// Source is the segment.Source of a compute segment.
type Source struct {
	id            string
	defaultEngine string
	evaluators    map[string]Evaluator
}

var _ segment.Source[Query] = (*Source)(nil)

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithEvaluator registers an evaluator under engine, replacing any default.
func WithEvaluator(engine string, e Evaluator) SourceOption {
	return func(s *Source) {
		if e != nil {
			s.evaluators[normalizeEngine(engine)] = e
		}
	}
}

// WithDefaultEngine selects the engine used by queries that name none.
func WithDefaultEngine(engine string) SourceOption {
	return func(s *Source) {
		if engine = normalizeEngine(engine); engine != "" {
			s.defaultEngine = engine
		}
	}
}

// NewSource returns a source with the expr and CEL engines sharing cache.
// A nil cache disables program caching.
func NewSource(id string, cache ProgramCache, opts ...SourceOption) *Source {
	s := &Source{
		id:            strings.TrimSpace(id),
		defaultEngine: EngineExpr,
		evaluators: map[string]Evaluator{
			EngineExpr: NewExprEvaluator(cache),
			EngineCEL:  NewCELEvaluator(cache),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// New builds a compute segment.
func New(id string, cache ProgramCache, opts ...SourceOption) (*segment.Segment[Query], error) {
	return segment.New[Query](NewSource(id, cache, opts...))
}

// ID returns the segment ID.
func (s *Source) ID() string { return s.id }

// Identity keys a query by its resolved engine, expression and environment.
// Numbers in Env are tagged with their Go type: JSON writes int64(1) and 1.0
// the same way, but the engines do not evaluate them the same way.
func (s *Source) Identity(q Query) string {
	return query.MustIdentity(identityKey{
		Engine: s.engineFor(q),
		Expr:   strings.TrimSpace(q.Expr),
		Env:    typedEnv(q.Env),
	})
}

type identityKey struct {
	Engine string         `json:"engine,omitempty"`
	Expr   string         `json:"expr"`
	Env    map[string]any `json:"env,omitempty"`
}

func typedEnv(env map[string]any) map[string]any {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]any, len(env))
	for k, v := range env {
		out[k] = typedValue(v)
	}
	return out
}

func typedValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return typedEnv(v)
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = typedValue(elem)
		}
		return out
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return map[string]any{fmt.Sprintf("%T", v): v}
	default:
		return v
	}
}

// Fetch evaluates the query.
func (s *Source) Fetch(ctx context.Context, q Query) (any, error) {
	expr := strings.TrimSpace(q.Expr)
	if expr == "" {
		return nil, ErrEmptyExpr
	}
	engine := s.engineFor(q)
	eval, ok := s.evaluators[engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	env := q.Env
	if env == nil {
		env = map[string]any{}
	}
	return eval.Evaluate(ctx, expr, env)
}

func (s *Source) engineFor(q Query) string {
	if engine := normalizeEngine(q.Engine); engine != "" {
		return engine
	}
	return s.defaultEngine
}

func normalizeEngine(engine string) string {
	return strings.ToLower(strings.TrimSpace(engine))
}
