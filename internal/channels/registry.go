package channels

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/letsgohq/letsgo/internal/bus"
	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/display"
	"github.com/letsgohq/letsgo/internal/store"
)

// ErrUnknownChannelType is returned when no factory exists for a type.
var ErrUnknownChannelType = errors.New("unknown channel type")

// Deps carries the shared collaborators handed to every adapter factory.
type Deps struct {
	Bus     *bus.MessageBus
	Pairing store.PairingStore
	Display *display.State
}

// Factory builds an adapter instance. name is the configured instance
// name; spec carries the channel-specific configuration.
type Factory func(name string, spec config.ChannelSpec, deps Deps) (Channel, error)

// Registry resolves channel-type strings to adapter factories. Built-ins
// register at daemon construction; external adapter packages register
// from init (the database/sql driver pattern) and take precedence over
// built-ins with the same type name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	pinned    map[string]bool // externally registered, wins over builtins
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		pinned:    make(map[string]bool),
	}
}

// Register installs an external factory for a type, overriding any
// built-in with the same name.
func (r *Registry) Register(channelType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[channelType] = factory
	r.pinned[channelType] = true
}

// RegisterBuiltin installs a compile-time factory. It never displaces an
// externally registered factory for the same type.
func (r *Registry) RegisterBuiltin(channelType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pinned[channelType] {
		return
	}
	r.factories[channelType] = factory
}

// Resolve returns the factory for a type.
func (r *Registry) Resolve(channelType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[channelType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannelType, channelType)
	}
	return f, nil
}

// Types lists the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// defaultRegistry receives init-time registrations from external adapter
// packages before the daemon installs built-ins.
var defaultRegistry = NewRegistry()

// Register installs a factory into the process-wide registry. Meant to
// be called from an adapter package's init.
func Register(channelType string, factory Factory) {
	defaultRegistry.Register(channelType, factory)
}

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }
