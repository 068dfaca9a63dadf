// Package migrate builds migrate functions from expressions.
//
// A Plan holds one expr-lang expression per source version. The expression
// for version N receives the stored state as `state` and N as `version`, and
// evaluates to the state for version N+1. Applying a Plan runs every step from
// the stored version up to the target:
//
//	plan, err := migrate.Compile(3, map[int]string{
//	    1: `set(state, "count", state.count + 1)`,
//	    2: `{"count": state.count, "label": "migrated"}`,
//	})
//	opts.Migrate = migrate.Func[State](plan, nil)
package migrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

var (
	// ErrNoStep is returned when a version between the stored and the target
	// version has no expression.
	ErrNoStep = errors.New("no migration step")

	// ErrDowngrade is returned when the stored version is newer than the target.
	ErrDowngrade = errors.New("stored version is newer than target")
)

// StepError reports a step that failed to compile or run.
type StepError struct {
	From       int
	Expression string
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration step from version %d (%q): %v", e.From, e.Expression, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type step struct {
	expression string
	program    *exprvm.Program
}

// Plan is a compiled set of migration steps towards a target version.
type Plan struct {
	target int
	steps  map[int]step
}

// Compile compiles steps, keyed by the version they migrate from.
func Compile(target int, steps map[int]string) (*Plan, error) {
	p := &Plan{target: target, steps: make(map[int]step, len(steps))}
	for from, expression := range steps {
		if expression == "" {
			return nil, &StepError{From: from, Err: errors.New("expression must not be empty")}
		}
		program, err := exprlang.Compile(expression, compileOptions()...)
		if err != nil {
			return nil, &StepError{From: from, Expression: expression, Err: err}
		}
		p.steps[from] = step{expression: expression, program: program}
	}
	return p, nil
}

// Target returns the version the plan migrates to.
func (p *Plan) Target() int {
	return p.target
}

// Versions returns the source versions with a step, in ascending order.
func (p *Plan) Versions() []int {
	versions := make([]int, 0, len(p.steps))
	for v := range p.steps {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

// Apply migrates raw from version to the plan target.
func (p *Plan) Apply(raw json.RawMessage, version int) (json.RawMessage, error) {
	if version > p.target {
		return nil, fmt.Errorf("%w: %d > %d", ErrDowngrade, version, p.target)
	}
	if version == p.target {
		return raw, nil
	}

	var state any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("decode stored state: %w", err)
		}
	}

	for v := version; v < p.target; v++ {
		s, ok := p.steps[v]
		if !ok {
			return nil, fmt.Errorf("%w from version %d", ErrNoStep, v)
		}
		next, err := exprlang.Run(s.program, map[string]any{
			"state":   state,
			"version": v,
		})
		if err != nil {
			return nil, &StepError{From: v, Expression: s.expression, Err: err}
		}
		state = next
	}

	out, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode migrated state: %w", err)
	}
	return out, nil
}

// Func adapts plan to the migrate function signature used by persist.Options.
// decode defaults to json.Unmarshal.
func Func[P any](plan *Plan, decode func([]byte, any) error) func(json.RawMessage, int) (P, error) {
	if decode == nil {
		decode = json.Unmarshal
	}
	return func(raw json.RawMessage, version int) (P, error) {
		var out P
		migrated, err := plan.Apply(raw, version)
		if err != nil {
			return out, err
		}
		if err := decode(migrated, &out); err != nil {
			return out, fmt.Errorf("decode migrated state: %w", err)
		}
		return out, nil
	}
}

func compileOptions() []exprlang.Option {
	return []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.Function("set", setField),
		exprlang.Function("unset", unsetField),
	}
}

// setField returns a copy of an object with one key set.
func setField(params ...any) (any, error) {
	if len(params) != 3 {
		return nil, fmt.Errorf("set: want 3 arguments, got %d", len(params))
	}
	obj, err := objectArg("set", params[0])
	if err != nil {
		return nil, err
	}
	key, ok := params[1].(string)
	if !ok {
		return nil, fmt.Errorf("set: key must be a string, got %T", params[1])
	}
	out := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		out[k] = v
	}
	out[key] = params[2]
	return out, nil
}

// unsetField returns a copy of an object without the given keys.
func unsetField(params ...any) (any, error) {
	if len(params) < 1 {
		return nil, errors.New("unset: want an object")
	}
	obj, err := objectArg("unset", params[0])
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	for _, p := range params[1:] {
		key, ok := p.(string)
		if !ok {
			return nil, fmt.Errorf("unset: key must be a string, got %T", p)
		}
		delete(out, key)
	}
	return out, nil
}

func objectArg(fn string, v any) (map[string]any, error) {
	switch obj := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return obj, nil
	default:
		return nil, fmt.Errorf("%s: first argument must be an object, got %T", fn, v)
	}
}
