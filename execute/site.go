package execute

import (
	"sort"
	"sync"

	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/telemetry"
)

// Site holds the providers a deployment exposes. Provider instances are
// constructed lazily and memoized: a provider that fails to construct stays
// failed for the site's lifetime.
type Site struct {
	cfg     *config.SiteConfig
	secrets config.Secrets
	log     telemetry.Logger

	mu        sync.Mutex
	providers map[string]Provider
	failures  map[string]error
}

// NewSite wraps a site configuration with lazy provider construction.
func NewSite(cfg *config.SiteConfig, secrets config.Secrets, log telemetry.Logger) *Site {
	if secrets == nil {
		secrets = config.Secrets{}
	}
	return &Site{
		cfg:       cfg,
		secrets:   secrets,
		log:       telemetry.Or(log),
		providers: make(map[string]Provider),
		failures:  make(map[string]error),
	}
}

// Name returns the site name.
func (s *Site) Name() string { return s.cfg.Site }

// Config returns the site configuration.
func (s *Site) Config() *config.SiteConfig { return s.cfg }

// Provider returns the instance registered under tag, constructing it on
// first use.
func (s *Site) Provider(tag string) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.providers[tag]; ok {
		return p, nil
	}
	if err, ok := s.failures[tag]; ok {
		return nil, err
	}
	cfg, ok := s.cfg.Providers[tag]
	if !ok {
		return nil, dfmerror.Data("unknown provider %q on site %s", tag, s.cfg.Site)
	}
	p, err := NewProvider(tag, cfg, s.secrets.For(tag))
	if err != nil {
		s.failures[tag] = err
		return nil, err
	}
	s.providers[tag] = p
	return p, nil
}

// ProvidersFor returns the tags of every provider declaring the call
// discriminator, in deterministic order.
func (s *Site) ProvidersFor(apiClass string) []string {
	var tags []string
	for tag, cfg := range s.cfg.Providers {
		if _, ok := cfg.Common().Interface[apiClass]; ok {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags
}
