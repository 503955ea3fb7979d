// Package plugin is the registry of provider factories. Provider packages
// register themselves from init; the tutor picks one implementation per
// slot (STT, TTS, LLM, VAD) by name at startup.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chriscow/french-tutor-agent/pkg/ai/llm"
	"github.com/chriscow/french-tutor-agent/pkg/ai/stt"
	"github.com/chriscow/french-tutor-agent/pkg/ai/tts"
	"github.com/chriscow/french-tutor-agent/pkg/ai/vad"
)

// Provider kinds.
const (
	KindSTT = "stt"
	KindTTS = "tts"
	KindLLM = "llm"
	KindVAD = "vad"
)

// Factory creates a provider from configuration. The result must implement
// the interface of the plugin's kind.
type Factory func(cfg map[string]any) (any, error)

// Downloader fetches model files ahead of time so the first job does not
// pay for the download.
type Downloader interface {
	Download(ctx context.Context) error
}

// Plugin is a registered factory with its metadata.
type Plugin struct {
	Kind        string
	Name        string
	Factory     Factory
	Description string
	Version     string
	Config      map[string]any // option name -> description or default
	Downloader  Downloader
}

// Registry maps kind/name to plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Register adds a plugin to the global registry. It panics on a duplicate
// kind/name pair.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with metadata to the global registry.
// It panics on a duplicate kind/name pair.
func RegisterWithMetadata(p *Plugin) {
	globalRegistry.RegisterWithMetadata(p)
}

// Get retrieves a factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// List returns the global plugins of kind, or all of them when kind is empty.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// ListKinds returns the kinds present in the global registry.
func ListKinds() []string {
	return globalRegistry.ListKinds()
}

// Downloaders returns every global plugin that has model files to fetch.
func Downloaders() []*Plugin {
	var out []*Plugin
	for _, p := range globalRegistry.List("") {
		if p.Downloader != nil {
			out = append(out, p)
		}
	}
	return out
}

// NewSTT builds the named STT provider from the global registry.
func NewSTT(name string, cfg map[string]any) (stt.STT, error) {
	return build[stt.STT](globalRegistry, KindSTT, name, cfg)
}

// NewTTS builds the named TTS provider from the global registry.
func NewTTS(name string, cfg map[string]any) (tts.TTS, error) {
	return build[tts.TTS](globalRegistry, KindTTS, name, cfg)
}

// NewLLM builds the named LLM provider from the global registry.
func NewLLM(name string, cfg map[string]any) (llm.LLM, error) {
	return build[llm.LLM](globalRegistry, KindLLM, name, cfg)
}

// NewVAD builds the named VAD provider from the global registry.
func NewVAD(name string, cfg map[string]any) (vad.VAD, error) {
	return build[vad.VAD](globalRegistry, KindVAD, name, cfg)
}

func build[T any](r *Registry, kind, name string, cfg map[string]any) (T, error) {
	var zero T
	factory, ok := r.Get(kind, name)
	if !ok {
		return zero, fmt.Errorf("plugin: no %s provider named %q", kind, name)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	v, err := factory(cfg)
	if err != nil {
		return zero, fmt.Errorf("plugin: %s/%s: %w", kind, name, err)
	}
	p, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("plugin: %s/%s returned %T", kind, name, v)
	}
	return p, nil
}

// Register adds a plugin to r. It panics on a duplicate kind/name pair.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{
		Kind:    kind,
		Name:    name,
		Factory: factory,
	})
}

// RegisterWithMetadata adds a plugin with metadata to r.
func (r *Registry) RegisterWithMetadata(p *Plugin) {
	if p.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if p.Name == "" {
		panic("plugin name cannot be empty")
	}
	if p.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[p.Kind] == nil {
		r.plugins[p.Kind] = make(map[string]*Plugin)
	}
	if existing, exists := r.plugins[p.Kind][p.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			p.Kind, p.Name, existing.Version, p.Version))
	}
	r.plugins[p.Kind][p.Name] = p
}

// Get retrieves a factory from r.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind][name]
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// List returns the plugins of kind, or all of them when kind is empty,
// sorted by kind then name.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, byName := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, p := range byName {
			plugins = append(plugins, p)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// ListKinds returns the registered kinds in sorted order.
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Clear removes every plugin from r.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}

// String reads a string option, falling back to def when unset or empty.
func String(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float reads a numeric option, falling back to def.
func Float(cfg map[string]any, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}
