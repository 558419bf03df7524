package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

// ErrRecognizerNotRegistered is returned by [Registry.CreateRecognizer] when
// no factory has been registered under the requested backend name.
var ErrRecognizerNotRegistered = errors.New("config: recognizer not registered")

// RecognizerFactory builds a recognition backend from its configuration.
// The whole [RecognizerConfig] is passed so factories can read both their
// own sub-section and shared fields like Language.
type RecognizerFactory func(cfg RecognizerConfig) (stt.Provider, error)

// Registry maps recognition backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers map[string]RecognizerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: make(map[string]RecognizerFactory),
	}
}

// RegisterRecognizer registers a backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory RecognizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers[name] = factory
}

// CreateRecognizer instantiates the backend registered under name. The name
// is passed explicitly because the same [RecognizerConfig] configures both
// the primary and the fallback backend.
// Returns [ErrRecognizerNotRegistered] if no factory is registered for name.
func (r *Registry) CreateRecognizer(name string, cfg RecognizerConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.recognizers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecognizerNotRegistered, name)
	}
	return factory(cfg)
}
