package dispatcher

import (
	"fmt"
	"slices"
	"sync"

	"github.com/downfa11-org/go-dispatcher/pkg/config"
	"github.com/downfa11-org/go-dispatcher/util"
)

// Registry hosts named dispatchers built from one configuration, e.g. a
// send buffer and a receive buffer in the same process.
type Registry struct {
	mu          sync.Mutex
	dispatchers map[string]*Dispatcher
	cfg         *config.Config
}

func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		dispatchers: make(map[string]*Dispatcher),
		cfg:         cfg,
	}
}

// Get returns the dispatcher with the given name or creates it if missing.
func (r *Registry) Get(name string) (*Dispatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.dispatchers[name]; ok {
		return d, nil
	}
	return r.open(r.cfg.DispatcherConfig(name))
}

// Config returns the configuration Get builds the named dispatcher from.
func (r *Registry) Config(name string) config.DispatcherConfig {
	return r.cfg.DispatcherConfig(name)
}

// Create opens a dispatcher from an explicit configuration and registers
// it under its configured name, which must not be in use yet.
func (r *Registry) Create(dc config.DispatcherConfig) (*Dispatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dispatchers[dc.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDispatcher, dc.Name)
	}
	return r.open(dc)
}

func (r *Registry) open(dc config.DispatcherConfig) (*Dispatcher, error) {
	d, err := New(dc)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher %s: %w", dc.Name, err)
	}
	r.dispatchers[dc.Name] = d
	return d, nil
}

// Names returns the names of all open dispatchers, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.dispatchers))
	for name := range r.dispatchers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Close(name string) error {
	r.mu.Lock()
	d, ok := r.dispatchers[name]
	delete(r.dispatchers, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown dispatcher %s", name)
	}
	return d.Close()
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, d := range r.dispatchers {
		util.Debug("Closing dispatcher %s", name)
		if err := d.Close(); err != nil {
			util.Warn("⚠️ Closing dispatcher %s: %v", name, err)
		}
		delete(r.dispatchers, name)
	}
}
