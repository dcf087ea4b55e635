package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/earth2dfm/dfm/dfmerror"
)

// AdapterConfig is one variant of the adapter configuration union,
// discriminated by adapter_class. The discriminator doubles as the adapter
// implementation name resolved by the execute registry.
type AdapterConfig interface {
	Class() string
}

// adapterRegistry maps adapter_class discriminators to prototypes.
var adapterRegistry = struct {
	sync.RWMutex
	factories map[string]func() AdapterConfig
}{factories: make(map[string]func() AdapterConfig)}

// RegisterAdapterConfig binds an adapter_class to a configuration factory.
func RegisterAdapterConfig(class string, factory func() AdapterConfig) {
	adapterRegistry.Lock()
	defer adapterRegistry.Unlock()
	if _, ok := adapterRegistry.factories[class]; ok {
		panic(fmt.Sprintf("config: duplicate adapter_class %q", class))
	}
	adapterRegistry.factories[class] = factory
}

// DecodeAdapterConfig materializes an adapter configuration from JSON.
func DecodeAdapterConfig(raw []byte) (AdapterConfig, error) {
	var head struct {
		AdapterClass string `json:"adapter_class"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("decode adapter config header"), err)
	}
	if head.AdapterClass == "" {
		return nil, dfmerror.Data("adapter config is missing adapter_class")
	}
	adapterRegistry.RLock()
	factory, ok := adapterRegistry.factories[head.AdapterClass]
	adapterRegistry.RUnlock()
	if !ok {
		return nil, dfmerror.Data("unknown adapter_class %q", head.AdapterClass)
	}
	cfg := factory()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("decode adapter config %s", head.AdapterClass), err)
	}
	return cfg, nil
}

// MarshalAdapterConfig serializes an adapter configuration with its
// discriminator.
func MarshalAdapterConfig(cfg AdapterConfig) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["adapter_class"] = cfg.Class()
	return json.Marshal(fields)
}
