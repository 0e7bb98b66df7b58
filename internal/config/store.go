package config

import "sync/atomic"

// Store publishes the active Config to concurrent readers. Writers replace the
// whole value; readers never see a partially updated configuration.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a Store holding cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Load returns the active Config. Callers must not modify it.
func (s *Store) Load() *Config {
	return s.current.Load()
}

// Swap publishes cfg and returns the previously active Config.
func (s *Store) Swap(cfg *Config) *Config {
	return s.current.Swap(cfg)
}
