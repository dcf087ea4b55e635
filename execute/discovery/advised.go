// Package discovery implements the field-advisor traversal producing the
// branching advice tree returned in discovery mode.
package discovery

import (
	"fmt"
	"reflect"
	"time"

	"github.com/earth2dfm/dfm/dfmerror"
)

type (
	// AdvisedValue constrains the values a field may take. Validate reports
	// whether a user-supplied value satisfies the constraint.
	AdvisedValue interface {
		Validate(v any) error
	}

	// Literal allows exactly one value. With BreakOnAdvice the edge is
	// marked partial: the client must commit the field and re-run
	// discovery.
	Literal struct {
		Value         any
		BreakOnAdvice bool
	}

	// OneOf allows exactly one element of a list. With SplitOnAdvice the
	// builder produces one branch per element; otherwise a single edge
	// carries the whole list.
	OneOf struct {
		Values        []any
		SplitOnAdvice bool
		BreakOnAdvice bool
	}

	// SubsetOf allows any subset of a set of elements.
	SubsetOf struct {
		Values        []any
		BreakOnAdvice bool
	}

	// DateRange allows timestamps within an inclusive interval.
	DateRange struct {
		Start         time.Time
		End           time.Time
		BreakOnAdvice bool
	}

	// Dict validates a structured mapping entry by entry.
	Dict struct {
		Entries       map[string]AdvisedValue
		AllowExtras   bool
		BreakOnAdvice bool
	}

	// ErrorAdvice marks the path infeasible.
	ErrorAdvice struct {
		Message string
	}

	// Okay accepts any value. It is used when validating a user-supplied
	// value that needs no constraint.
	Okay struct{}
)

// Validate reports whether v equals the literal.
func (a Literal) Validate(v any) error {
	if !looselyEqual(a.Value, v) {
		return dfmerror.Data("value %v is not the allowed value %v", v, a.Value)
	}
	return nil
}

// Validate reports whether v is one of the allowed elements.
func (a OneOf) Validate(v any) error {
	for _, allowed := range a.Values {
		if looselyEqual(allowed, v) {
			return nil
		}
	}
	return dfmerror.Data("value %v is not one of the %d allowed values", v, len(a.Values))
}

// Validate reports whether every element of v is allowed.
func (a SubsetOf) Validate(v any) error {
	items, err := asSlice(v)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := (OneOf{Values: a.Values}).Validate(item); err != nil {
			return dfmerror.Data("element %v is not in the allowed set", item)
		}
	}
	return nil
}

// Validate reports whether v is a timestamp inside the interval.
func (a DateRange) Validate(v any) error {
	t, err := asTime(v)
	if err != nil {
		return err
	}
	if t.Before(a.Start) || t.After(a.End) {
		return dfmerror.Data("timestamp %s is outside [%s, %s]",
			t.Format(time.RFC3339), a.Start.Format(time.RFC3339), a.End.Format(time.RFC3339))
	}
	return nil
}

// Validate checks each entry of a mapping value.
func (a Dict) Validate(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return dfmerror.Data("value %v is not a mapping", v)
	}
	for key, constraint := range a.Entries {
		val, present := m[key]
		if !present {
			return dfmerror.Data("missing entry %q", key)
		}
		if err := constraint.Validate(val); err != nil {
			return dfmerror.Data("entry %q: %v", key, err)
		}
	}
	if !a.AllowExtras {
		for key := range m {
			if _, known := a.Entries[key]; !known {
				return dfmerror.Data("unexpected entry %q", key)
			}
		}
	}
	return nil
}

// Validate always fails: the path is infeasible.
func (a ErrorAdvice) Validate(any) error {
	return dfmerror.Data("%s", a.Message)
}

// Validate always succeeds.
func (Okay) Validate(any) error { return nil }

// looselyEqual compares values modulo the numeric widening JSON decoding
// introduces.
func looselyEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, dfmerror.Data("value %v is not a list", v)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, dfmerror.Data("invalid timestamp %q: %v", t, err)
		}
		return parsed, nil
	default:
		return time.Time{}, dfmerror.Data("value %v is not a timestamp", fmt.Sprint(v))
	}
}
