package execute

import (
	"context"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/execute/discovery"
	"github.com/earth2dfm/dfm/request"
)

// Discover aggregates field advice for every node of a block body. Nodes
// without advisors map to null advice. A node with no bound provider and
// several candidates yields a branch over the provider field, each edge
// carrying that provider's advice subtree.
func Discover(ctx context.Context, req *request.Request, site *Site, body *api.Body) (*api.DiscoveryResponse, error) {
	out := &api.DiscoveryResponse{Advice: make(map[string]api.FieldAdvice, body.Len())}
	for _, id := range body.IDs() {
		call, _ := body.Get(id)
		advice, err := adviseNode(ctx, req, site, call)
		if err != nil {
			return nil, err
		}
		out.Advice[id.String()] = advice
	}
	return out, nil
}

// adviseNode computes the advice tree for one call.
func adviseNode(ctx context.Context, req *request.Request, site *Site, call api.Call) (api.FieldAdvice, error) {
	if tag := call.Meta().Provider; tag != "" {
		return adviseOnProvider(ctx, req, site, tag, call)
	}
	candidates := site.ProvidersFor(call.Class())
	switch len(candidates) {
	case 0:
		return api.ErrorFieldAdvice{
			Name:    "provider",
			Message: "no provider on site " + site.Name() + " serves " + call.Class(),
		}, nil
	case 1:
		return adviseOnProvider(ctx, req, site, candidates[0], call)
	}
	branch := api.BranchFieldAdvice{Name: "provider"}
	for _, tag := range candidates {
		sub, err := adviseOnProvider(ctx, req, site, tag, call)
		if err != nil {
			return nil, err
		}
		branch.Edges = append(branch.Edges, api.AdviceEdge{Value: tag, Next: sub})
	}
	return branch, nil
}

// adviseOnProvider builds the advice tree a single provider offers for the
// call, consulting the call's supplied field values.
func adviseOnProvider(ctx context.Context, req *request.Request, site *Site, tag string, call api.Call) (api.FieldAdvice, error) {
	p, err := site.Provider(tag)
	if err != nil {
		return api.ErrorFieldAdvice{Name: "provider", Message: err.Error()}, nil
	}
	ref, ok := p.AdapterFor(call.Class())
	if !ok {
		return api.ErrorFieldAdvice{
			Name:    "provider",
			Message: "provider " + tag + " does not serve " + call.Class(),
		}, nil
	}
	a, err := NewAdapter(req, p, ref, call, nil)
	if err != nil {
		return nil, err
	}
	advisors := a.Advisors()
	if len(advisors) == 0 {
		return nil, nil
	}
	var supplied func(string) (any, bool)
	if src, ok := call.(api.FieldSource); ok {
		supplied = src.Field
	}
	return discovery.Build(ctx, advisors, supplied)
}
