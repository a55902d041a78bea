package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxgate/voxgate/pkg/provider/embeddings"
	"github.com/voxgate/voxgate/pkg/provider/llm"
	"github.com/voxgate/voxgate/pkg/provider/stt"
	"github.com/voxgate/voxgate/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when the config
// names a provider no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factoryTable maps provider names to constructors for one provider kind.
type factoryTable[T any] struct {
	mu        sync.RWMutex
	factories map[string]func(ProviderEntry) (T, error)
}

// register stores factory under name, replacing an earlier registration.
func (t *factoryTable[T]) register(name string, factory func(ProviderEntry) (T, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.factories == nil {
		t.factories = make(map[string]func(ProviderEntry) (T, error))
	}
	t.factories[name] = factory
}

// create builds the provider entry.Name points at. kind only labels the
// error.
func (t *factoryTable[T]) create(kind string, entry ProviderEntry) (T, error) {
	t.mu.RLock()
	factory, ok := t.factories[entry.Name]
	t.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// Registry holds the provider factories main wires up, one table per
// provider kind. Safe for concurrent use.
type Registry struct {
	llm        factoryTable[llm.Provider]
	stt        factoryTable[stt.Provider]
	tts        factoryTable[tts.Provider]
	embeddings factoryTable[embeddings.Provider]
}

// NewRegistry returns an empty Registry; tables allocate on first use.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateLLM builds the reasoning provider entry names, or
// ErrProviderNotRegistered.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create("llm", entry)
}

func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create("stt", entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create("tts", entry)
}

func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create("embeddings", entry)
}
