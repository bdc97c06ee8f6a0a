package memory

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/config"
)

var errDeveloperInduced = errors.New("in memory config: developer induced error")

// Store is a set of in memory config values, keyed the same way as their
// environment variable counterparts. It's used to drive components from
// tests, or from config sources that aren't the environment.
type Store struct {
	mu       sync.RWMutex
	values   map[string]interface{}
	err      error
	shutdown bool
}

// NewStore returns a store seeded with the provided values, which may be nil
func NewStore(values map[string]interface{}) *Store {
	s := &Store{
		values: make(map[string]interface{}),
	}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Config returns a view over the value at key. Values set on the store after
// the view is created are observed on the next Get.
func (s *Store) Config(key string) config.Config {
	return &keyedConfig{
		store: s,
		key:   key,
	}
}

// Set sets the value at key
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Clear makes subsequent Get calls for key return config.ErrNoValue
func (s *Store) Clear(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// InduceErrors simulates a failure fetching any value
func (s *Store) InduceErrors() {
	s.mu.Lock()
	s.err = errDeveloperInduced
	s.mu.Unlock()
}

// StopInducingErrors stops simulating failures
func (s *Store) StopInducingErrors() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
}

// Shutdown makes all views return config.ErrShutdown
func (s *Store) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}

func (s *Store) get(key string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shutdown {
		return nil, config.ErrShutdown
	}
	if s.err != nil {
		return nil, s.err
	}

	value, ok := s.values[key]
	if !ok || value == nil {
		return nil, config.ErrNoValue
	}
	return value, nil
}

type keyedConfig struct {
	store *Store
	key   string
}

// Get implements config.Config.Get
func (c *keyedConfig) Get(_ context.Context) (interface{}, error) {
	return c.store.get(c.key)
}

// Shutdown implements config.Config.Shutdown. Views don't own the store, so
// this is a no-op.
func (c *keyedConfig) Shutdown() {
}
