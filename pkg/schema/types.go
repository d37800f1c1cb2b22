package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Type validates one value.
type Type interface {
	Name() string
	Validate(value any) error
}

type scalar struct {
	name  string
	check func(any) bool
}

func (t scalar) Name() string { return t.name }

func (t scalar) Validate(value any) error {
	if !t.check(value) {
		return fmt.Errorf("expected %s, got %T", t.name, value)
	}
	return nil
}

// String accepts Go strings.
func String() Type {
	return scalar{name: "string", check: func(v any) bool { _, ok := v.(string); return ok }}
}

// Bool accepts Go booleans.
func Bool() Type {
	return scalar{name: "bool", check: func(v any) bool { _, ok := v.(bool); return ok }}
}

// Int accepts any integer kind and whole-number floats.
func Int() Type {
	return scalar{name: "int", check: func(v any) bool {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return true
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			return f == float64(int64(f))
		}
		return false
	}}
}

// Float accepts any numeric kind.
func Float() Type {
	return scalar{name: "float", check: func(v any) bool {
		switch reflect.ValueOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	}}
}

// Map accepts maps keyed by string.
func Map() Type {
	return scalar{name: "map", check: func(v any) bool {
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	}}
}

// Any accepts everything, including nil.
func Any() Type {
	return scalar{name: "any", check: func(any) bool { return true }}
}

type list struct {
	elem Type
}

// List accepts slices and arrays whose elements all satisfy elem.
func List(elem Type) Type {
	return list{elem: elem}
}

func (t list) Name() string { return "[" + t.elem.Name() + "]" }

func (t list) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected %s, got %T", t.Name(), value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// ParseType resolves a type string. The empty string parses as any.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && s[0] == '[' && s[len(s)-1] == ']' {
		elem, err := ParseType(s[1 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return List(elem), nil
	}

	switch s {
	case "", "any":
		return Any(), nil
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "map":
		return Map(), nil
	default:
		return nil, fmt.Errorf("unsupported type: %q", s)
	}
}
