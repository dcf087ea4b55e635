package api

import (
	"encoding/json"
)

// adviseMarker is the wire value of the "advise me" sentinel: a field set to
// {"advise": "Field"} asks discovery mode to advise on that field.
const adviseMarker = "Field"

// Advisable wraps a call field that may either carry a concrete value or the
// "advise me" marker used in discovery mode.
type Advisable[T any] struct {
	// Advise is true when the field carries the marker instead of a value.
	Advise bool
	// Value is the supplied value when Advise is false.
	Value T
}

// Advise constructs a field carrying the marker.
func Advise[T any]() Advisable[T] { return Advisable[T]{Advise: true} }

// Supplied constructs a field carrying a concrete value.
func Supplied[T any](v T) Advisable[T] { return Advisable[T]{Value: v} }

// MarshalJSON writes either the marker object or the plain value.
func (a Advisable[T]) MarshalJSON() ([]byte, error) {
	if a.Advise {
		return json.Marshal(map[string]string{"advise": adviseMarker})
	}
	return json.Marshal(a.Value)
}

// UnmarshalJSON recognizes the marker object and otherwise decodes the value.
func (a *Advisable[T]) UnmarshalJSON(data []byte) error {
	var probe struct {
		Advise *string `json:"advise"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.Advise != nil {
		*a = Advisable[T]{Advise: true}
		return nil
	}
	a.Advise = false
	return json.Unmarshal(data, &a.Value)
}
