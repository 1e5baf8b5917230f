package backend

import (
	"sort"
	"sync"

	"github.com/danmuck/dutctl/internal/config"
	"github.com/danmuck/dutctl/internal/transport"
)

// Opener builds a transport from configuration.
type Opener func(cfg config.Config) (transport.Transport, error)

var (
	mu       sync.RWMutex
	registry = map[string]Opener{}
)

func init() {
	Register(config.BackendTi50, openTi50)
	Register(config.BackendTi50Emulator, openEmulator)
	Register(config.BackendHardware, openHardware)
}

// Register makes a backend available to Open under name, replacing any
// previous registration.
func Register(name string, open Opener) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = open
}

func lookup(name string) (Opener, bool) {
	mu.RLock()
	defer mu.RUnlock()
	open, ok := registry[name]
	return open, ok
}

// Names lists the registered backends in order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
