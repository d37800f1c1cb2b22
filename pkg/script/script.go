// Package script evaluates user supplied Go snippets with the yaegi interpreter.
//
// Two forms are supported. Edge conditions are boolean expressions over the
// run state, e.g. `num(state["score"]) > 10`. Script nodes carry a source file
// defining
//
//	func Run(inputs, state map[string]interface{}) (map[string]interface{}, error)
//
// Compiled snippets are cached by source text.
package script

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// helpers are available to every condition expression.
const helpers = `
func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != ""
	}
	return num(v) != 0
}

func has(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}
`

// RunFunc is the entry point of a compiled script node.
type RunFunc func(inputs, state map[string]any) (map[string]any, error)

type condFunc func(state map[string]any) bool

type compiledCond struct {
	mu sync.Mutex
	fn condFunc
}

type compiledRun struct {
	mu sync.Mutex
	fn RunFunc
}

// Evaluator compiles and caches conditions and scripts.
type Evaluator struct {
	mu      sync.Mutex
	conds   map[string]*compiledCond
	scripts map[string]*compiledRun
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		conds:   make(map[string]*compiledCond),
		scripts: make(map[string]*compiledRun),
	}
}

// Check compiles expr without evaluating it.
func (e *Evaluator) Check(expr string) error {
	_, err := e.condition(expr)
	return err
}

// Eval evaluates a condition expression against state.
// The empty expression and the literal "true" are always true.
func (e *Evaluator) Eval(expr string, state map[string]any) (result bool, err error) {
	switch strings.TrimSpace(expr) {
	case "", "true":
		return true, nil
	case "false":
		return false, nil
	}

	c, err := e.condition(expr)
	if err != nil {
		return false, err
	}
	if state == nil {
		state = map[string]any{}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script: condition %q panicked: %v", expr, r)
		}
	}()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fn(state), nil
}

// Compile returns the Run function defined by code.
func (e *Evaluator) Compile(code string) (RunFunc, error) {
	e.mu.Lock()
	cached, ok := e.scripts[code]
	e.mu.Unlock()
	if !ok {
		fn, err := compileRun(code)
		if err != nil {
			return nil, err
		}
		cached = &compiledRun{fn: fn}
		e.mu.Lock()
		e.scripts[code] = cached
		e.mu.Unlock()
	}

	return func(inputs, state map[string]any) (out map[string]any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("script: Run panicked: %v", r)
			}
		}()
		cached.mu.Lock()
		defer cached.mu.Unlock()
		return cached.fn(inputs, state)
	}, nil
}

func (e *Evaluator) condition(expr string) (*compiledCond, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.conds[expr]; ok {
		return c, nil
	}

	src := "package cond\n\nimport \"fmt\"\n" + helpers +
		"\nfunc Cond(state map[string]interface{}) bool {\n\treturn " + expr + "\n}\n"

	fnValue, err := evalSymbol(src, "cond.Cond")
	if err != nil {
		return nil, fmt.Errorf("script: condition %q: %w", expr, err)
	}
	fn, ok := fnValue.Interface().(func(map[string]interface{}) bool)
	if !ok {
		return nil, fmt.Errorf("script: condition %q does not evaluate to a bool", expr)
	}
	c := &compiledCond{fn: fn}
	e.conds[expr] = c
	return c, nil
}

var packageClause = regexp.MustCompile(`(?m)^\s*package\s+(\w+)`)

func compileRun(code string) (RunFunc, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("script: empty code")
	}
	pkg := "script"
	if m := packageClause.FindStringSubmatch(code); m != nil {
		pkg = m[1]
	} else {
		code = "package script\n\n" + code
	}

	fnValue, err := evalSymbol(code, pkg+".Run")
	if err != nil {
		return nil, fmt.Errorf("script: code must define Run(inputs, state map[string]interface{}) (map[string]interface{}, error): %w", err)
	}
	if fnValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("script: Run is not a function")
	}
	fn, ok := fnValue.Interface().(func(map[string]interface{}, map[string]interface{}) (map[string]interface{}, error))
	if !ok {
		return nil, fmt.Errorf("script: Run has signature %s", fnValue.Type())
	}
	return fn, nil
}

func evalSymbol(src, symbol string) (reflect.Value, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return reflect.Value{}, err
	}
	if _, err := i.Eval(src); err != nil {
		return reflect.Value{}, err
	}
	v, err := i.Eval(symbol)
	if err != nil {
		return reflect.Value{}, err
	}
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("%s is not defined", symbol)
	}
	return v, nil
}
