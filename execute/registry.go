package execute

import (
	"fmt"
	"sync"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute/adapter"
	"github.com/earth2dfm/dfm/request"
)

// AdapterFactory builds an adapter executing one call on one provider.
type AdapterFactory func(req *request.Request, p Provider, cfg config.AdapterConfig, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error)

// adapterFactories maps adapter class names to constructors.
var adapterFactories = struct {
	sync.RWMutex
	m map[string]AdapterFactory
}{m: make(map[string]AdapterFactory)}

// RegisterAdapter binds an adapter class name to its constructor.
func RegisterAdapter(className string, factory AdapterFactory) {
	adapterFactories.Lock()
	defer adapterFactories.Unlock()
	if _, ok := adapterFactories.m[className]; ok {
		panic(fmt.Sprintf("execute: duplicate adapter class %q", className))
	}
	adapterFactories.m[className] = factory
}

// NewAdapter constructs the adapter a provider declares for a call. The
// reference's embedded configuration, when present, is handed through.
func NewAdapter(req *request.Request, p Provider, ref config.AdapterRef, call api.Call, inputs adapter.Inputs) (adapter.Adapter, error) {
	adapterFactories.RLock()
	factory, ok := adapterFactories.m[ref.ClassName]
	adapterFactories.RUnlock()
	if !ok {
		return nil, dfmerror.MissingImplementation("no adapter implementation for %q", ref.ClassName)
	}
	a, err := factory(req, p, ref.Config, call, inputs)
	if err != nil {
		return nil, fmt.Errorf("construct adapter %s for %s: %w", ref.ClassName, call.Class(), err)
	}
	return a, nil
}
