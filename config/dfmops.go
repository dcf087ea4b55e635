package config

// Built-in provider and adapter discriminators.
const (
	ProviderClassDfm  = "provider.DfmProvider"
	ProviderClassFile = "provider.FileProvider"

	AdapterClassGreetMe = "adapter.dfm.GreetMe"
)

// DefaultGreeting is used when a GreetMe adapter has no configured greeting.
const DefaultGreeting = "Hello"

func init() {
	RegisterProviderConfig(ProviderClassDfm, func() ProviderConfig {
		return &DfmProviderConfig{ProviderCommon: ProviderCommon{ProviderClass: ProviderClassDfm}}
	})
	RegisterProviderConfig(ProviderClassFile, func() ProviderConfig {
		return &FileProviderConfig{ProviderCommon: ProviderCommon{ProviderClass: ProviderClassFile}}
	})
	RegisterAdapterConfig(AdapterClassGreetMe, func() AdapterConfig { return &GreetMeConfig{} })
}

type (
	// DfmProviderConfig configures the built-in utility provider.
	DfmProviderConfig struct {
		ProviderCommon
	}

	// FileProviderConfig configures the filesystem-backed provider serving
	// texture listings.
	FileProviderConfig struct {
		ProviderCommon
		// Root is the directory the provider exposes.
		Root string `json:"root"`
	}

	// GreetMeConfig carries the greeting prefix for GreetMe adapters.
	GreetMeConfig struct {
		Greeting string `json:"greeting,omitempty"`
	}
)

func (c *DfmProviderConfig) Class() string  { return ProviderClassDfm }
func (c *FileProviderConfig) Class() string { return ProviderClassFile }
func (c *GreetMeConfig) Class() string      { return AdapterClassGreetMe }

// GreetingOrDefault returns the configured greeting or the default.
func (c *GreetMeConfig) GreetingOrDefault() string {
	if c == nil || c.Greeting == "" {
		return DefaultGreeting
	}
	return c.Greeting
}
