package discovery

import (
	"context"
	"time"

	"github.com/earth2dfm/dfm/api"
)

type (
	// edge is one path segment of the tree under construction. It remembers
	// the field assignment accumulated along its path so later advisors can
	// consult earlier choices.
	edge struct {
		value      any
		errMsg     string
		isErr      bool
		partial    bool
		assignment map[string]any
		next       *fieldNode
	}

	// fieldNode groups the outgoing edges advised for one field.
	fieldNode struct {
		field string
		edges []*edge
	}
)

// Build traverses the advisors in order and returns the advice tree root.
// supplied resolves user-provided field values; advised values extend the
// path assignment consulted by later advisors. A nil tree means every
// advised field was already supplied with a valid value.
func Build(ctx context.Context, advisors []FieldAdvisor, supplied func(field string) (any, bool)) (api.FieldAdvice, error) {
	if supplied == nil {
		supplied = func(string) (any, bool) { return nil, false }
	}
	root := &edge{assignment: map[string]any{}}
	frontier := []*edge{root}

	for _, advisor := range sortAdvisors(advisors) {
		var next []*edge
		for _, e := range frontier {
			ec := &EdgeContext{get: func(field string) (any, bool) {
				if v, ok := e.assignment[field]; ok {
					return v, true
				}
				return supplied(field)
			}}
			advice, err := advisor.Advise(ctx, ec)
			if err != nil {
				advice = ErrorAdvice{Message: err.Error()}
			}
			if value, ok := supplied(advisor.Field); ok {
				next = append(next, validateSupplied(e, advisor.Field, value, advice)...)
				continue
			}
			next = append(next, advise(e, advisor.Field, advice)...)
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	if root.next == nil {
		return nil, nil
	}
	return convertNode(root.next), nil
}

// validateSupplied checks a user-provided value against the advice. A valid
// value lets the edge continue unchanged; an invalid one attaches an error
// edge and stops the branch.
func validateSupplied(e *edge, field string, value any, advice AdvisedValue) []*edge {
	if err := advice.Validate(value); err != nil {
		node := &fieldNode{field: field}
		node.edges = append(node.edges, &edge{value: value, isErr: true, errMsg: err.Error()})
		e.next = node
		return nil
	}
	e.assignment[field] = value
	return []*edge{e}
}

// advise inserts a node for the field and fans out its edges per the advice
// kind. It returns the edges that remain active.
func advise(e *edge, field string, advice AdvisedValue) []*edge {
	if _, ok := advice.(Okay); ok {
		// No constraint: nothing to insert, the path continues.
		return []*edge{e}
	}
	node := &fieldNode{field: field}
	e.next = node

	var active []*edge
	// A partial edge stops the branch: the client must commit the field and
	// re-run discovery.
	attach := func(value any, assigned bool, partial bool) {
		child := &edge{value: value, partial: partial, assignment: extend(e.assignment, field, value, assigned)}
		node.edges = append(node.edges, child)
		if !partial {
			active = append(active, child)
		}
	}

	switch a := advice.(type) {
	case Literal:
		attach(a.Value, true, a.BreakOnAdvice)
	case OneOf:
		if a.SplitOnAdvice {
			for _, v := range a.Values {
				attach(v, true, a.BreakOnAdvice)
			}
		} else {
			attach(a.Values, false, a.BreakOnAdvice)
		}
	case SubsetOf:
		attach(a.Values, false, a.BreakOnAdvice)
	case DateRange:
		value := map[string]any{
			"start": a.Start.Format(time.RFC3339),
			"end":   a.End.Format(time.RFC3339),
		}
		attach(value, false, a.BreakOnAdvice)
	case Dict:
		entries := make(map[string]any, len(a.Entries))
		for k, v := range a.Entries {
			entries[k] = describe(v)
		}
		attach(entries, false, a.BreakOnAdvice)
	case ErrorAdvice:
		node.edges = append(node.edges, &edge{isErr: true, errMsg: a.Message})
	default:
		node.edges = append(node.edges, &edge{isErr: true, errMsg: "unsupported advice"})
	}
	return active
}

// describe renders a nested constraint as a plain value for the wire tree.
func describe(a AdvisedValue) any {
	switch v := a.(type) {
	case Literal:
		return v.Value
	case OneOf:
		return v.Values
	case SubsetOf:
		return v.Values
	case DateRange:
		return map[string]any{
			"start": v.Start.Format(time.RFC3339),
			"end":   v.End.Format(time.RFC3339),
		}
	default:
		return nil
	}
}

// extend copies the assignment, optionally binding the advised field.
func extend(assignment map[string]any, field string, value any, assigned bool) map[string]any {
	out := make(map[string]any, len(assignment)+1)
	for k, v := range assignment {
		out[k] = v
	}
	if assigned {
		out[field] = value
	}
	return out
}

// convertNode renders the mutable tree as the wire model.
func convertNode(n *fieldNode) api.FieldAdvice {
	if len(n.edges) == 1 {
		return api.SingleFieldAdvice{Name: n.field, Edge: convertEdge(n.field, n.edges[0])}
	}
	edges := make([]api.AdviceEdge, len(n.edges))
	for i, e := range n.edges {
		edges[i] = convertEdge(n.field, e)
	}
	return api.BranchFieldAdvice{Name: n.field, Edges: edges}
}

func convertEdge(field string, e *edge) api.AdviceEdge {
	out := api.AdviceEdge{Value: e.value}
	switch {
	case e.isErr:
		out.Next = api.ErrorFieldAdvice{Name: field, Message: e.errMsg}
	case e.partial:
		out.Next = api.NewPartialFieldAdvice(field)
	case e.next != nil:
		out.Next = convertNode(e.next)
	}
	return out
}
