package api

import (
	"encoding/json"
	"fmt"
)

// Advice tree discriminators.
const (
	ClassSingleFieldAdvice  = "dfm.api.discovery.SingleFieldAdvice"
	ClassBranchFieldAdvice  = "dfm.api.discovery.BranchFieldAdvice"
	ClassErrorFieldAdvice   = "dfm.api.discovery.ErrorFieldAdvice"
	ClassPartialFieldAdvice = "dfm.api.discovery.PartialFieldAdvice"
	ClassDiscoveryResponse  = "dfm.api.discovery.DiscoveryResponse"
)

type (
	// FieldAdvice is one node of the advice tree returned by discovery.
	FieldAdvice interface {
		AdviceClass() string
	}

	// AdviceEdge carries one allowed value and the advice that follows it.
	// A nil Next is a leaf: no further advice along this path.
	AdviceEdge struct {
		Value any         `json:"value"`
		Next  FieldAdvice `json:"next,omitempty"`
	}

	// SingleFieldAdvice advises exactly one value for a field.
	SingleFieldAdvice struct {
		Name string     `json:"name"`
		Edge AdviceEdge `json:"edge"`
	}

	// BranchFieldAdvice advises one of several values for a field, each
	// leading to its own subtree.
	BranchFieldAdvice struct {
		Name  string       `json:"name"`
		Edges []AdviceEdge `json:"edges"`
	}

	// ErrorFieldAdvice marks an infeasible path.
	ErrorFieldAdvice struct {
		Name    string `json:"name,omitempty"`
		Message string `json:"msg"`
	}

	// PartialFieldAdvice marks a path where the client must commit the
	// values advised so far and re-run discovery.
	PartialFieldAdvice struct {
		Name    string `json:"name,omitempty"`
		Partial string `json:"partial"`
	}

	// DiscoveryResponse maps each input node identifier to its advice tree
	// root, or null when the node has no advisors.
	DiscoveryResponse struct {
		Advice map[string]FieldAdvice `json:"advice"`
	}
)

func (SingleFieldAdvice) AdviceClass() string  { return ClassSingleFieldAdvice }
func (BranchFieldAdvice) AdviceClass() string  { return ClassBranchFieldAdvice }
func (ErrorFieldAdvice) AdviceClass() string   { return ClassErrorFieldAdvice }
func (PartialFieldAdvice) AdviceClass() string { return ClassPartialFieldAdvice }

// NewPartialFieldAdvice constructs the partial marker edge target.
func NewPartialFieldAdvice(name string) PartialFieldAdvice {
	return PartialFieldAdvice{Name: name, Partial: "partial"}
}

// MarshalFieldAdvice serializes an advice node with its discriminator.
func MarshalFieldAdvice(a FieldAdvice) ([]byte, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["api_class"] = a.AdviceClass()
	return json.Marshal(fields)
}

// DecodeFieldAdvice materializes an advice node from its discriminator.
func DecodeFieldAdvice(raw []byte) (FieldAdvice, error) {
	var head struct {
		APIClass string `json:"api_class"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode advice header: %w", err)
	}
	switch head.APIClass {
	case ClassSingleFieldAdvice:
		var a SingleFieldAdvice
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ClassBranchFieldAdvice:
		var a BranchFieldAdvice
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ClassErrorFieldAdvice:
		var a ErrorFieldAdvice
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	case ClassPartialFieldAdvice:
		var a PartialFieldAdvice
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown advice api_class %q", head.APIClass)
	}
}

// MarshalJSON injects discriminators into the nested advice.
func (e AdviceEdge) MarshalJSON() ([]byte, error) {
	type alias struct {
		Value any             `json:"value"`
		Next  json.RawMessage `json:"next,omitempty"`
	}
	out := alias{Value: e.Value}
	if e.Next != nil {
		next, err := MarshalFieldAdvice(e.Next)
		if err != nil {
			return nil, err
		}
		out.Next = next
	}
	return json.Marshal(out)
}

// UnmarshalJSON materializes the nested advice variant.
func (e *AdviceEdge) UnmarshalJSON(data []byte) error {
	type alias struct {
		Value any             `json:"value"`
		Next  json.RawMessage `json:"next"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	e.Value = tmp.Value
	e.Next = nil
	if len(tmp.Next) > 0 && string(tmp.Next) != "null" {
		next, err := DecodeFieldAdvice(tmp.Next)
		if err != nil {
			return err
		}
		e.Next = next
	}
	return nil
}

// MarshalJSON writes the discovery response with its discriminator and
// explicit nulls for nodes without advisors.
func (d DiscoveryResponse) MarshalJSON() ([]byte, error) {
	advice := make(map[string]json.RawMessage, len(d.Advice))
	for id, a := range d.Advice {
		if a == nil {
			advice[id] = json.RawMessage("null")
			continue
		}
		raw, err := MarshalFieldAdvice(a)
		if err != nil {
			return nil, err
		}
		advice[id] = raw
	}
	return json.Marshal(map[string]any{
		"api_class": ClassDiscoveryResponse,
		"advice":    advice,
	})
}

// UnmarshalJSON reads the discovery response, materializing each tree.
func (d *DiscoveryResponse) UnmarshalJSON(data []byte) error {
	var tmp struct {
		Advice map[string]json.RawMessage `json:"advice"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	d.Advice = make(map[string]FieldAdvice, len(tmp.Advice))
	for id, raw := range tmp.Advice {
		if len(raw) == 0 || string(raw) == "null" {
			d.Advice[id] = nil
			continue
		}
		a, err := DecodeFieldAdvice(raw)
		if err != nil {
			return err
		}
		d.Advice[id] = a
	}
	return nil
}
