// Package config holds the declarative configuration records for DFM sites:
// polymorphic provider and adapter configurations, the site document loaded
// from YAML, and the environment-driven service settings.
package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/earth2dfm/dfm/dfmerror"
)

type (
	// ProviderConfig is one variant of the provider configuration union,
	// discriminated by provider_class.
	ProviderConfig interface {
		// Class returns the provider_class discriminator.
		Class() string
		// Common returns the fields shared by every provider configuration.
		Common() *ProviderCommon
	}

	// ProviderCommon is the shared shape of every provider configuration:
	// the discriminator, the interface map binding call discriminators to
	// adapter implementations, and the optional cache location.
	ProviderCommon struct {
		ProviderClass string `json:"provider_class"`
		// Interface maps a FunctionCall api_class to the adapter serving it.
		Interface map[string]AdapterRef `json:"interface,omitempty"`
		// CacheDir enables the cache substrate for this provider's adapters
		// when non-empty.
		CacheDir string `json:"cache_dir,omitempty"`
	}

	// AdapterRef is either a bare adapter class name or a full AdapterConfig
	// carrying per-adapter knobs.
	AdapterRef struct {
		ClassName string
		Config    AdapterConfig
	}
)

// Common returns the receiver, making ProviderCommon usable via embedding.
func (c *ProviderCommon) Common() *ProviderCommon { return c }

// providerRegistry maps provider_class discriminators to prototypes.
var providerRegistry = struct {
	sync.RWMutex
	factories map[string]func() ProviderConfig
}{factories: make(map[string]func() ProviderConfig)}

// RegisterProviderConfig binds a provider_class to a configuration factory.
func RegisterProviderConfig(class string, factory func() ProviderConfig) {
	providerRegistry.Lock()
	defer providerRegistry.Unlock()
	if _, ok := providerRegistry.factories[class]; ok {
		panic(fmt.Sprintf("config: duplicate provider_class %q", class))
	}
	providerRegistry.factories[class] = factory
}

// DecodeProviderConfig materializes a provider configuration from JSON.
func DecodeProviderConfig(raw []byte) (ProviderConfig, error) {
	var head struct {
		ProviderClass string `json:"provider_class"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("decode provider config header"), err)
	}
	providerRegistry.RLock()
	factory, ok := providerRegistry.factories[head.ProviderClass]
	providerRegistry.RUnlock()
	if !ok {
		return nil, dfmerror.Data("unknown provider_class %q", head.ProviderClass)
	}
	cfg := factory()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("decode provider config %s", head.ProviderClass), err)
	}
	cfg.Common().ProviderClass = head.ProviderClass
	return cfg, nil
}

// MarshalJSON writes either the bare class name or the full configuration.
func (r AdapterRef) MarshalJSON() ([]byte, error) {
	if r.Config == nil {
		return json.Marshal(r.ClassName)
	}
	return MarshalAdapterConfig(r.Config)
}

// UnmarshalJSON accepts a bare class name string or an AdapterConfig object.
func (r *AdapterRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.ClassName = name
		r.Config = nil
		return nil
	}
	cfg, err := DecodeAdapterConfig(data)
	if err != nil {
		return err
	}
	r.ClassName = cfg.Class()
	r.Config = cfg
	return nil
}
