package config

import (
	"encoding/json"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/earth2dfm/dfm/dfmerror"
)

// defaultHeartbeat is the interval between Heartbeat responses while a
// pipeline makes no progress.
const defaultHeartbeat = 15 * time.Second

type (
	// SiteConfig declares one deployment site: its name and the providers it
	// exposes, keyed by provider tag.
	SiteConfig struct {
		Site    string `json:"site"`
		Contact string `json:"contact,omitempty"`
		// HeartbeatIntervalSeconds overrides the heartbeat cadence.
		HeartbeatIntervalSeconds float64 `json:"heartbeat_interval,omitempty"`
		// Resources caps named resources available to adapters on this site.
		Resources map[string]int            `json:"resources,omitempty"`
		Providers map[string]ProviderConfig `json:"providers"`
	}

	// Secrets holds per-provider-tag secret material loaded from the secrets
	// file, kept out of the site configuration proper.
	Secrets map[string]map[string]string
)

// HeartbeatInterval returns the configured cadence or the default.
func (c *SiteConfig) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalSeconds > 0 {
		return time.Duration(c.HeartbeatIntervalSeconds * float64(time.Second))
	}
	return defaultHeartbeat
}

// UnmarshalJSON decodes the site document, materializing each provider
// configuration through the registry.
func (c *SiteConfig) UnmarshalJSON(data []byte) error {
	type alias struct {
		Site                     string                     `json:"site"`
		Contact                  string                     `json:"contact"`
		HeartbeatIntervalSeconds float64                    `json:"heartbeat_interval"`
		Resources                map[string]int             `json:"resources"`
		Providers                map[string]json.RawMessage `json:"providers"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return dfmerror.Wrap(dfmerror.Data("decode site config"), err)
	}
	c.Site = tmp.Site
	c.Contact = tmp.Contact
	c.HeartbeatIntervalSeconds = tmp.HeartbeatIntervalSeconds
	c.Resources = tmp.Resources
	c.Providers = make(map[string]ProviderConfig, len(tmp.Providers))
	for tag, raw := range tmp.Providers {
		cfg, err := DecodeProviderConfig(raw)
		if err != nil {
			return dfmerror.Wrap(dfmerror.Data("provider %q", tag), err)
		}
		c.Providers[tag] = cfg
	}
	return nil
}

// DecodeSiteConfigYAML parses a YAML site document. The YAML tree is
// re-encoded as JSON so the polymorphic provider registry applies.
func DecodeSiteConfigYAML(raw []byte) (*SiteConfig, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("parse site config YAML"), err)
	}
	jsonRaw, err := json.Marshal(tree)
	if err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("site config is not JSON-representable"), err)
	}
	var cfg SiteConfig
	if err := json.Unmarshal(jsonRaw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Site == "" {
		return nil, dfmerror.Data("site config requires a site name")
	}
	return &cfg, nil
}

// LoadSiteConfig reads and parses the YAML site document at path.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dfmerror.Wrap(dfmerror.Resource("read site config %s", path), err)
	}
	return DecodeSiteConfigYAML(raw)
}

// LoadSecrets reads the YAML secrets file at path. An empty path yields
// empty secrets.
func LoadSecrets(path string) (Secrets, error) {
	if path == "" {
		return Secrets{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dfmerror.Wrap(dfmerror.Resource("read site secrets %s", path), err)
	}
	var secrets Secrets
	if err := yaml.Unmarshal(raw, &secrets); err != nil {
		return nil, dfmerror.Wrap(dfmerror.Data("parse site secrets"), err)
	}
	if secrets == nil {
		secrets = Secrets{}
	}
	return secrets, nil
}

// For returns the secret material for a provider tag, never nil.
func (s Secrets) For(tag string) map[string]string {
	if m, ok := s[tag]; ok {
		return m
	}
	return map[string]string{}
}
