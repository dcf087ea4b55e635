package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earth2dfm/dfm/dfmerror"
)

// echoCall is a minimal call variant used across the package tests.
type echoCall struct {
	NodeMeta
	Text  string      `json:"text,omitempty"`
	Input uuid.UUID   `json:"input,omitempty"`
	After []uuid.UUID `json:"after,omitempty"`
}

func (c *echoCall) Class() string { return "test.Echo" }

func (c *echoCall) InputRefs() []InputRef {
	var refs []InputRef
	if c.Input != uuid.Nil {
		refs = append(refs, InputRef{Name: "input", IDs: []uuid.UUID{c.Input}})
	}
	if len(c.After) > 0 {
		refs = append(refs, InputRef{Name: "after", IDs: c.After, List: true})
	}
	return refs
}

func init() {
	Register("test.Echo", func() Call { return &echoCall{} })
}

func TestBuilderAddNode(t *testing.T) {
	b := NewBuilder()
	root := &Execute{}
	b.Push(root)

	first, err := b.AddNode(&echoCall{Text: "one"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.Meta().NodeID)
	assert.Equal(t, "test.Echo", first.Meta().APIClass)

	second, err := b.AddNode(&echoCall{Text: "two", Input: RefTo(first)})
	require.NoError(t, err)
	assert.Equal(t, first.Meta().NodeID, second.(*echoCall).Input)

	require.NoError(t, b.Pop(root))
	assert.Equal(t, 2, root.Body.Len())
	assert.Equal(t, []uuid.UUID{first.Meta().NodeID, second.Meta().NodeID}, root.Body.IDs())
}

func TestBuilderNoSurroundingBlock(t *testing.T) {
	b := NewBuilder()
	_, err := b.AddNode(&echoCall{Text: "orphan"})
	require.Error(t, err)
	assert.Equal(t, 500, dfmerror.StatusCode(err))

	_, err = NewBuilder().AllowOutsideBlock().AddNode(&echoCall{Text: "orphan"})
	assert.NoError(t, err)
}

func TestBuilderDuplicateIdentifier(t *testing.T) {
	b := NewBuilder()
	root := &Execute{}
	b.Push(root)
	id := uuid.New()
	_, err := b.AddNode(&echoCall{NodeMeta: NodeMeta{NodeID: id}})
	require.NoError(t, err)
	_, err = b.AddNode(&echoCall{NodeMeta: NodeMeta{NodeID: id}})
	require.Error(t, err)
	assert.Equal(t, 400, dfmerror.StatusCode(err))
}

func TestBuilderPopWrongBlock(t *testing.T) {
	b := NewBuilder()
	outer, inner := &Execute{}, &Execute{}
	b.Push(outer)
	b.Push(inner)
	require.Error(t, b.Pop(outer))
	require.NoError(t, b.Pop(inner))
	require.NoError(t, b.Pop(outer))
}

func TestWellKnownIDDeterministic(t *testing.T) {
	a := WellKnownID("stop-node")
	b := WellKnownID("stop-node")
	c := WellKnownID("other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, uuid.Version(4), a.Version())
}

func TestBodyJSONRoundTripPreservesOrder(t *testing.T) {
	root := &Execute{}
	b := NewBuilder()
	b.Push(root)
	for _, text := range []string{"a", "b", "c", "d"} {
		_, err := b.AddNode(&echoCall{Text: text})
		require.NoError(t, err)
	}
	require.NoError(t, b.Pop(root))

	// Push must normalize the block or the marshaled root lacks its
	// discriminator and cannot be decoded.
	assert.Equal(t, ClassExecute, root.APIClass)
	assert.NotEqual(t, uuid.Nil, root.NodeID)

	raw, err := json.Marshal(root)
	require.NoError(t, err)

	decoded, err := DecodeCall(raw)
	require.NoError(t, err)
	got, ok := decoded.(*Execute)
	require.True(t, ok)
	assert.Equal(t, root.Body.IDs(), got.Body.IDs())
	for _, id := range root.Body.IDs() {
		want, _ := root.Body.Get(id)
		have, ok := got.Body.Get(id)
		require.True(t, ok)
		assert.Equal(t, want.(*echoCall).Text, have.(*echoCall).Text)
	}
}

func TestDecodeCallUnknownClass(t *testing.T) {
	_, err := DecodeCall([]byte(`{"api_class":"test.Missing"}`))
	require.Error(t, err)
	assert.Equal(t, 400, dfmerror.StatusCode(err))
}

func TestDeadlineRequiresZone(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"with offset", `"2026-01-02T15:04:05+02:00"`, false},
		{"utc", `"2026-01-02T15:04:05Z"`, false},
		{"naive", `"2026-01-02T15:04:05"`, true},
		{"naive fractional", `"2026-01-02T15:04:05.123"`, true},
		{"garbage", `"soon"`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var d Deadline
			err := json.Unmarshal([]byte(tc.payload), &d)
			if tc.wantErr {
				require.Error(t, err)
				assert.Equal(t, 400, dfmerror.StatusCode(err))
				return
			}
			require.NoError(t, err)
			assert.False(t, d.IsZero())
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	node := uuid.New()
	cases := []struct {
		name string
		body ResponseBody
	}{
		{"value", ValueResponse{Value: map[string]any{"greeting": "Hello Test"}}},
		{"status", StatusResponse{Site: "localhost", Message: "done"}},
		{"heartbeat", HeartbeatResponse{Site: "localhost"}},
		{"error", ErrorResponse{HTTPStatusCode: 400, Message: "bad field", Traceback: "stack"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := NewResponse(&node, tc.body)
			raw, err := json.Marshal(in)
			require.NoError(t, err)

			var out Response
			require.NoError(t, json.Unmarshal(raw, &out))
			assert.Equal(t, in.NodeID, out.NodeID)
			assert.Equal(t, tc.body.ResponseClass(), out.Body.ResponseClass())
		})
	}
}

func TestErrorResponseFromError(t *testing.T) {
	resp := ErrorResponseFromError(dfmerror.Data("bad date"))
	assert.Equal(t, 400, resp.HTTPStatusCode)
	assert.Empty(t, resp.Traceback)

	resp = ErrorResponseFromError(assert.AnError)
	assert.Equal(t, 500, resp.HTTPStatusCode)
	assert.NotEmpty(t, resp.Traceback)
}

func TestAdvisableJSON(t *testing.T) {
	raw, err := json.Marshal(Advise[string]())
	require.NoError(t, err)
	assert.JSONEq(t, `{"advise":"Field"}`, string(raw))

	var field Advisable[string]
	require.NoError(t, json.Unmarshal(raw, &field))
	assert.True(t, field.Advise)

	require.NoError(t, json.Unmarshal([]byte(`"textures/"`), &field))
	assert.False(t, field.Advise)
	assert.Equal(t, "textures/", field.Value)
}

func TestProcessJSONRoundTrip(t *testing.T) {
	root := &Execute{Site: "localhost"}
	b := NewBuilder()
	b.Push(root)
	_, err := b.AddNode(&echoCall{Text: "hi", NodeMeta: NodeMeta{IsOutput: true}})
	require.NoError(t, err)
	require.NoError(t, b.Pop(root))

	deadline := At(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	in := NewProcess(root, "localhost", deadline)

	raw, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeProcess(raw, false)
	require.NoError(t, err)
	assert.Equal(t, "localhost", out.Site)
	assert.True(t, deadline.Equal(out.Deadline.Time))
	assert.Equal(t, root.Body.IDs(), out.Execute.Body.IDs())
}

func TestAdviceTreeRoundTrip(t *testing.T) {
	tree := BranchFieldAdvice{
		Name: "path",
		Edges: []AdviceEdge{
			{Value: "a/", Next: SingleFieldAdvice{Name: "format", Edge: AdviceEdge{Value: "png"}}},
			{Value: "b/", Next: NewPartialFieldAdvice("format")},
			{Value: "c/", Next: ErrorFieldAdvice{Message: "empty folder"}},
		},
	}
	resp := DiscoveryResponse{Advice: map[string]FieldAdvice{
		uuid.New().String(): tree,
		uuid.New().String(): nil,
	}}

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var out DiscoveryResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Advice, 2)
	for _, advice := range out.Advice {
		if advice == nil {
			continue
		}
		branch, ok := advice.(BranchFieldAdvice)
		require.True(t, ok)
		require.Len(t, branch.Edges, 3)
		assert.Equal(t, "png", branch.Edges[0].Next.(SingleFieldAdvice).Edge.Value)
		assert.Equal(t, "partial", branch.Edges[1].Next.(PartialFieldAdvice).Partial)
		assert.Equal(t, "empty folder", branch.Edges[2].Next.(ErrorFieldAdvice).Message)
	}
}
