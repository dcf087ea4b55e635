// Package api defines the DFM pipeline intermediate representation: typed
// function calls forming a dataflow graph, block scoping, the Process
// document, and the response models exchanged with clients.
package api

import (
	"github.com/google/uuid"
)

type (
	// NodeMeta is the common header carried by every FunctionCall variant.
	// Concrete call types embed it and the block builder fills in missing
	// identifiers at AddNode time.
	NodeMeta struct {
		// APIClass is the discriminator naming the concrete call type.
		APIClass string `json:"api_class"`
		// NodeID uniquely identifies the node within a process.
		NodeID uuid.UUID `json:"node_id"`
		// Provider names the provider tag the call is bound to. Empty during
		// discovery means "every provider declaring this call".
		Provider string `json:"provider,omitempty"`
		// IsOutput surfaces the node's yielded values to the client.
		IsOutput bool `json:"is_output,omitempty"`
		// ForceCompute bypasses the cache for this node.
		ForceCompute bool `json:"force_compute,omitempty"`
	}

	// InputRef names one dependency of a call: the field name under which the
	// referenced node(s) are bound, the node identifiers, and whether the
	// field is list-valued.
	InputRef struct {
		Name string
		IDs  []uuid.UUID
		List bool
	}

	// Call is one node of the dataflow graph.
	Call interface {
		// Class returns the canonical api_class discriminator.
		Class() string
		// Meta returns the mutable common header.
		Meta() *NodeMeta
		// InputRefs enumerates the call's dependencies by field name.
		InputRefs() []InputRef
	}

	// Adviseable is implemented by calls with fields that may carry the
	// "advise me" marker used in discovery mode.
	Adviseable interface {
		// AdvisedFields lists the fields currently carrying the marker.
		AdvisedFields() []string
	}

	// FieldSource is implemented by calls that expose field values to the
	// discovery engine by name. Only supplied (non-marker) values are visible.
	FieldSource interface {
		Field(name string) (any, bool)
	}
)

// Meta returns the header, making NodeMeta usable via embedding.
func (m *NodeMeta) Meta() *NodeMeta { return m }

// Normalize stamps the discriminator and assigns a fresh node identifier when
// none is set. It is idempotent.
func Normalize(c Call) Call {
	m := c.Meta()
	m.APIClass = c.Class()
	if m.NodeID == uuid.Nil {
		m.NodeID = uuid.New()
	}
	return c
}

// RefTo returns the node identifier of c, assigning one first if needed. It
// is the reference-rewriting primitive: fields holding dependencies store the
// identifier obtained here rather than the call itself.
func RefTo(c Call) uuid.UUID {
	return Normalize(c).Meta().NodeID
}

// RefsTo rewrites a list of calls to their node identifiers.
func RefsTo(calls ...Call) []uuid.UUID {
	ids := make([]uuid.UUID, len(calls))
	for i, c := range calls {
		ids[i] = RefTo(c)
	}
	return ids
}
