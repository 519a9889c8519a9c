package camera

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Backend opens capture devices by index.
type Backend interface {
	Name() string
	Open(ctx context.Context, index int, want Params) (Device, error)
}

// Device is an open capture handle. Read blocks until one frame is available.
type Device interface {
	Read() (Frame, error)
	Info() (width, height int, fps float64)
	Close() error
}

// Registry maps backend names to implementations.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry builds a registry holding the given backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds or replaces a backend under its lowercased name.
func (r *Registry) Register(b Backend) {
	if r == nil || b == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(b.Name()))
	if name == "" {
		return
	}
	r.mu.Lock()
	r.backends[name] = b
	r.mu.Unlock()
}

// Lookup returns the backend registered under name.
func (r *Registry) Lookup(name string) (Backend, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

// Names lists registered backend names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

var optional = NewRegistry()

// RegisterBackend makes an optional backend available to every registry
// built by BuiltinRegistry. Build-tagged backends call it from init.
func RegisterBackend(b Backend) { optional.Register(b) }

// LookupBackend returns an optional backend registered with RegisterBackend.
func LookupBackend(name string) (Backend, bool) { return optional.Lookup(name) }

// BackendNames lists the optional backends compiled into this binary.
func BackendNames() []string { return optional.Names() }

// BuiltinRegistry returns a registry with the ffmpeg profile backends for
// the current platform plus every optional backend.
func BuiltinRegistry(ffmpegBinary string) (*Registry, error) {
	profiles, err := LoadProfiles()
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	for _, p := range profiles.ForCurrentOS() {
		r.Register(NewFFmpegBackend(ffmpegBinary, p))
	}
	for _, name := range optional.Names() {
		if b, ok := optional.Lookup(name); ok {
			r.Register(b)
		}
	}
	return r, nil
}
