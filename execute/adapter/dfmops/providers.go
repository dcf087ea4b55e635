// Package dfmops implements the built-in providers and adapters: the utility
// operators of the dfm provider and the filesystem-backed texture listing of
// the file provider. Importing the package registers everything.
package dfmops

import (
	"github.com/spf13/afero"

	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/dfmerror"
	"github.com/earth2dfm/dfm/execute"
)

type (
	// DfmProvider serves the built-in utility operators.
	DfmProvider struct {
		execute.BaseProvider
	}

	// FileProvider serves filesystem-backed adapters. The filesystem is
	// swappable so tests can run against an in-memory one.
	FileProvider struct {
		execute.BaseProvider
		fs   afero.Fs
		root string
	}
)

// NewDfmProvider builds the utility provider.
func NewDfmProvider(tag string, cfg config.ProviderConfig, secrets map[string]string) (execute.Provider, error) {
	if _, ok := cfg.(*config.DfmProviderConfig); !ok {
		return nil, dfmerror.Server("provider %q: unexpected config type", tag)
	}
	return &DfmProvider{BaseProvider: execute.NewBaseProvider(tag, cfg, secrets)}, nil
}

// NewFileProvider builds a filesystem provider rooted at the configured
// directory.
func NewFileProvider(tag string, cfg config.ProviderConfig, secrets map[string]string) (execute.Provider, error) {
	fileCfg, ok := cfg.(*config.FileProviderConfig)
	if !ok {
		return nil, dfmerror.Server("provider %q: unexpected config type", tag)
	}
	if fileCfg.Root == "" {
		return nil, dfmerror.Data("provider %q requires a root directory", tag)
	}
	return &FileProvider{
		BaseProvider: execute.NewBaseProvider(tag, cfg, secrets),
		fs:           afero.NewOsFs(),
		root:         fileCfg.Root,
	}, nil
}

// Filesystem returns the provider's filesystem.
func (p *FileProvider) Filesystem() afero.Fs { return p.fs }

// Root returns the directory the provider exposes.
func (p *FileProvider) Root() string { return p.root }

// SetFilesystem swaps the filesystem; tests use an in-memory one.
func (p *FileProvider) SetFilesystem(fs afero.Fs) { p.fs = fs }
