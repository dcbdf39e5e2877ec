package config

import (
	"sync/atomic"
	"time"
)

// Store holds the current configuration. Readers always see a complete copy;
// Swap replaces it atomically. It serves as the receiver's settings source, so
// a reload takes effect on the next read.
type Store struct {
	cur atomic.Pointer[Config]
}

// NewStore returns a store holding cfg, or the defaults when cfg is nil.
func NewStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = Default()
	}
	s := &Store{}
	s.cur.Store(cfg)
	return s
}

// Load returns the current configuration. Callers must not modify it.
func (s *Store) Load() *Config { return s.cur.Load() }

// Swap installs cfg and returns the previous configuration.
func (s *Store) Swap(cfg *Config) *Config { return s.cur.Swap(cfg) }

func (s *Store) StorageLimitEnabled() bool { return s.Load().Video.StorageLimitEnabled }
func (s *Store) MaxVideoSizeMB() int       { return s.Load().Video.MaxVideoSizeMB }
func (s *Store) RecordingFormat() int      { return s.Load().Video.RecordingFormat }
func (s *Store) SavePath() string          { return s.Load().Video.SavePath }

// RTSPTimeout returns the frame freshness limit.
func (s *Store) RTSPTimeout() time.Duration {
	return time.Duration(s.Load().Video.RTSPTimeoutS) * time.Second
}
