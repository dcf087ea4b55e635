package api

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/dfmerror"
)

// ClassExecute is the discriminator of the Execute block call.
const ClassExecute = "dfm.api.dfm.Execute"

func init() {
	Register(ClassExecute, func() Call { return &Execute{} })
}

type (
	// Body is the ordered collection of calls forming a block's subgraph.
	// Insertion order is preserved through serialization so that compilation
	// and replays are deterministic.
	Body struct {
		ids   []uuid.UUID
		calls map[uuid.UUID]Call
	}

	// Execute is a block-valued call: its body is a subgraph, and its
	// optional site routes the subgraph to another deployment.
	Execute struct {
		NodeMeta
		Site string `json:"site,omitempty"`
		Body Body   `json:"body"`
	}

	// Builder owns the explicit block stack used while constructing a
	// process graph. Nodes are added to the block currently on top; adding a
	// node with no active block fails unless AllowOutsideBlock was called.
	Builder struct {
		mu           sync.Mutex
		stack        []*Execute
		seen         map[uuid.UUID]bool
		allowOutside bool
	}
)

// Add appends a call to the body. The call's identifier must be unique.
func (b *Body) Add(c Call) error {
	Normalize(c)
	id := c.Meta().NodeID
	if b.calls == nil {
		b.calls = make(map[uuid.UUID]Call)
	}
	if _, ok := b.calls[id]; ok {
		return dfmerror.Data("duplicate node identifier %s", id)
	}
	b.ids = append(b.ids, id)
	b.calls[id] = c
	return nil
}

// Get returns the call registered under id.
func (b *Body) Get(id uuid.UUID) (Call, bool) {
	c, ok := b.calls[id]
	return c, ok
}

// IDs returns the node identifiers in insertion order.
func (b *Body) IDs() []uuid.UUID {
	out := make([]uuid.UUID, len(b.ids))
	copy(out, b.ids)
	return out
}

// Len returns the number of calls in the body.
func (b *Body) Len() int { return len(b.ids) }

// MarshalJSON writes the body as a JSON object keyed by node identifier,
// preserving insertion order.
func (b Body) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range b.ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id.String())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		raw, err := MarshalCall(b.calls[id])
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form, materializing each call through the
// registry and preserving key order.
func (b *Body) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return dfmerror.Data("block body must be a JSON object")
	}
	b.ids = nil
	b.calls = make(map[uuid.UUID]Call)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		id, err := uuid.Parse(key)
		if err != nil {
			return dfmerror.Data("invalid node identifier %q", key)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		call, err := DecodeCall(raw)
		if err != nil {
			return err
		}
		m := call.Meta()
		if m.NodeID == uuid.Nil {
			m.NodeID = id
		} else if m.NodeID != id {
			return dfmerror.Data("node %s stored under mismatched key %s", m.NodeID, id)
		}
		if err := b.Add(call); err != nil {
			return err
		}
	}
	_, err = dec.Token() // closing brace
	return err
}

// Class returns the Execute discriminator.
func (e *Execute) Class() string { return ClassExecute }

// InputRefs returns nil: an Execute block has no direct dependencies; its
// body carries its own.
func (e *Execute) InputRefs() []InputRef { return nil }

// NewBuilder constructs an empty block builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[uuid.UUID]bool)}
}

// AllowOutsideBlock permits AddNode calls while no block is active. The call
// is then normalized but not attached to any body.
func (b *Builder) AllowOutsideBlock() *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowOutside = true
	return b
}

// Push makes e the current block, normalizing it so the built tree carries
// its discriminator and identifier. Nested pushes form a stack.
func (b *Builder) Push(e *Execute) {
	Normalize(e)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen[e.NodeID] = true
	b.stack = append(b.stack, e)
}

// Pop removes e from the top of the stack. Popping a block that is not on
// top is a programming error.
func (b *Builder) Pop(e *Execute) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.stack) == 0 || b.stack[len(b.stack)-1] != e {
		return dfmerror.Server("popped block is not the current block")
	}
	b.stack = b.stack[:len(b.stack)-1]
	return nil
}

// AddNode normalizes the call, enforces process-wide identifier uniqueness,
// and appends it to the current block. With no active block it fails unless
// AllowOutsideBlock was called.
func (b *Builder) AddNode(c Call) (Call, error) {
	Normalize(c)
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Meta().NodeID
	if b.seen[id] {
		return nil, dfmerror.Data("duplicate node identifier %s", id)
	}
	if len(b.stack) == 0 {
		if !b.allowOutside {
			return nil, dfmerror.Server("no surrounding block for node %s", c.Class())
		}
		b.seen[id] = true
		return c, nil
	}
	if err := b.stack[len(b.stack)-1].Body.Add(c); err != nil {
		return nil, err
	}
	b.seen[id] = true
	return c, nil
}

// MustAddNode is AddNode for graph-construction code paths where the only
// failure modes are programming errors.
func (b *Builder) MustAddNode(c Call) Call {
	added, err := b.AddNode(c)
	if err != nil {
		panic(err)
	}
	return added
}
