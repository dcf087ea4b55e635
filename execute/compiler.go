package execute

import (
	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute/adapter"
	"github.com/earth2dfm/dfm/request"
)

// Graph is a compiled block body: one wired adapter per node, in
// dependency order, plus the leaves nothing downstream consumes.
type Graph struct {
	adapters map[uuid.UUID]adapter.Adapter
	order    []uuid.UUID
	leaves   []adapter.Adapter
}

// Adapter returns the adapter compiled for a node.
func (g *Graph) Adapter(id uuid.UUID) (adapter.Adapter, bool) {
	a, ok := g.adapters[id]
	return a, ok
}

// Leaves returns the adapters of nodes no other node references. Pumping
// them to exhaustion drives the whole graph.
func (g *Graph) Leaves() []adapter.Adapter { return g.leaves }

// Len returns the number of compiled nodes.
func (g *Graph) Len() int { return len(g.order) }

// Compile wires a block body into an adapter graph. Each node is bound to a
// provider (its declared tag, or the unique provider serving its class) and
// to the adapter implementation that provider declares. References to
// unknown nodes and dependency cycles are rejected.
func Compile(req *request.Request, site *Site, body *api.Body) (*Graph, error) {
	order, err := topoOrder(body)
	if err != nil {
		return nil, err
	}

	referenced := make(map[uuid.UUID]bool)
	g := &Graph{adapters: make(map[uuid.UUID]adapter.Adapter, len(order)), order: order}
	for _, id := range order {
		call, _ := body.Get(id)
		inputs := make(adapter.Inputs)
		for _, ref := range call.InputRefs() {
			for _, depID := range ref.IDs {
				referenced[depID] = true
				dep, ok := g.adapters[depID]
				if !ok {
					return nil, dfmerror.Data("node %s references unknown node %s", id, depID)
				}
				inputs[ref.Name] = append(inputs[ref.Name], dep)
			}
		}
		a, err := compileNode(req, site, call, inputs)
		if err != nil {
			return nil, err
		}
		g.adapters[id] = a
	}

	for _, id := range body.IDs() {
		if !referenced[id] {
			g.leaves = append(g.leaves, g.adapters[id])
		}
	}
	return g, nil
}

// compileNode binds one call to its provider and adapter implementation.
func compileNode(req *request.Request, site *Site, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	tag, err := resolveProviderTag(site, call)
	if err != nil {
		return nil, err
	}
	p, err := site.Provider(tag)
	if err != nil {
		return nil, err
	}
	ref, ok := p.AdapterFor(call.Class())
	if !ok {
		return nil, dfmerror.MissingImplementation("provider %q does not serve %s", tag, call.Class())
	}
	return NewAdapter(req, p, ref, call, inputs)
}

// resolveProviderTag picks the provider for a call: its declared tag, or the
// single provider on the site declaring its class.
func resolveProviderTag(site *Site, call api.Call) (string, error) {
	if tag := call.Meta().Provider; tag != "" {
		return tag, nil
	}
	candidates := site.ProvidersFor(call.Class())
	switch len(candidates) {
	case 0:
		return "", dfmerror.MissingImplementation("no provider on site %s serves %s", site.Name(), call.Class())
	case 1:
		return candidates[0], nil
	default:
		return "", dfmerror.Data("call %s matches %d providers, bind one explicitly", call.Class(), len(candidates))
	}
}

// topoOrder returns the node identifiers in dependency order, preserving
// insertion order among independent nodes.
func topoOrder(body *api.Body) ([]uuid.UUID, error) {
	ids := body.IDs()
	indegree := make(map[uuid.UUID]int, len(ids))
	dependents := make(map[uuid.UUID][]uuid.UUID)
	for _, id := range ids {
		call, _ := body.Get(id)
		for _, ref := range call.InputRefs() {
			for _, depID := range ref.IDs {
				if _, ok := body.Get(depID); !ok {
					return nil, dfmerror.Data("node %s references unknown node %s", id, depID)
				}
				indegree[id]++
				dependents[depID] = append(dependents[depID], id)
			}
		}
	}

	var queue []uuid.UUID
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]uuid.UUID, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(ids) {
		return nil, dfmerror.Data("block body contains a dependency cycle")
	}
	return order, nil
}
