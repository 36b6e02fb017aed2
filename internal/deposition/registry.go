package deposition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/astronomiahub/hub/internal/config"
)

// Adapter names known to FromConfig.
const (
	AdapterEmulator = "emulator"
	AdapterRemote   = "remote"
)

// Registry maps adapter names to Adapter implementations.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under the given name.
func (r *Registry) Register(name string, a Adapter) {
	r.adapters[name] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FromConfig registers the emulator and, when FAKENODO_URL is set, the
// remote client. The remote client is selected whenever it is registered.
func FromConfig(cfg *config.Config, emu *Emulator) (*Registry, Adapter, string) {
	reg := NewRegistry()
	reg.Register(AdapterEmulator, emu)

	if cfg.FakenodoURL == "" {
		return reg, emu, AdapterEmulator
	}

	remote := NewHTTPClient(cfg.FakenodoURL, cfg.DepositionTimeout)
	reg.Register(AdapterRemote, remote)
	return reg, remote, AdapterRemote
}

// ErrRemoteRequired is returned by RemoteFromConfig when FAKENODO_URL is unset.
var ErrRemoteRequired = errors.New("FAKENODO_URL is required")

// RemoteFromConfig returns the HTTP adapter for processes that share the
// server's archive. The server's emulator is process-local, so a separate
// process reaches it through /fakenodo/api/deposit/depositions.
func RemoteFromConfig(cfg *config.Config) (Adapter, error) {
	if cfg.FakenodoURL == "" {
		return nil, fmt.Errorf("%w: set it to the archive or to http://<server>/fakenodo/api/deposit/depositions", ErrRemoteRequired)
	}
	return NewHTTPClient(cfg.FakenodoURL, cfg.DepositionTimeout), nil
}
