package schema

import (
	"fmt"

	"github.com/aretw0/weave/pkg/domain"
)

// ParsePorts checks that every declared port type is supported.
func ParsePorts(ports []domain.Port) error {
	var errs []error
	for _, p := range ports {
		if _, err := ParseType(p.Type); err != nil {
			errs = append(errs, &ValidationError{Port: p.Key(), Reason: err.Error()})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// CheckPorts validates values against the declared ports. A missing value
// fails only for required ports; keys without a declared port are ignored.
func CheckPorts(ports []domain.Port, values map[string]any) error {
	var errs []error
	for _, p := range ports {
		v, ok := values[p.Key()]
		if !ok {
			if p.Required {
				errs = append(errs, &ValidationError{Port: p.Key(), Reason: "required"})
			}
			continue
		}
		t, err := ParseType(p.Type)
		if err != nil {
			errs = append(errs, &ValidationError{Port: p.Key(), Reason: err.Error()})
			continue
		}
		if err := t.Validate(v); err != nil {
			errs = append(errs, &ValidationError{Port: p.Key(), Reason: err.Error(), Value: v})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// MustParse is ParseType for package-level declarations.
func MustParse(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return t
}
