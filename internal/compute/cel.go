package compute

import (
	"context"
	"maps"
	"slices"
	"strings"

	celgo "github.com/google/cel-go/cel"
)

type celEvaluator struct {
	cache ProgramCache
}

// NewCELEvaluator returns an Evaluator backed by cel-go. Every env key is
// declared as a dynamically typed variable.
func NewCELEvaluator(cache ProgramCache) Evaluator {
	return &celEvaluator{cache: cache}
}

func (e *celEvaluator) Evaluate(_ context.Context, expression string, env map[string]any) (any, error) {
	program, err := e.loadOrCompile(expression, env)
	if err != nil {
		return nil, err
	}
	out, _, err := program.Eval(env)
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	return out.Value(), nil
}

// loadOrCompile caches per expression and declared variable set, since the
// checked program depends on both.
func (e *celEvaluator) loadOrCompile(expression string, env map[string]any) (celgo.Program, error) {
	names := slices.Sorted(maps.Keys(env))
	key := EngineCEL + ":" + strings.Join(names, ",") + ":" + expression
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}

	opts := make([]celgo.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	celEnv, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	ast, issues := celEnv.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, issues.Err())
	}
	checked, issues := celEnv.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, issues.Err())
	}
	program, err := celEnv.Program(checked)
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}
