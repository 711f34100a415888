package cache

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/wordcast/tts"
)

// Store is the unit store. It is safe for concurrent use.
type Store struct {
	disk   *diskStore
	hot    *hotLayer
	logger *log.Logger

	closeOnce sync.Once
	closed    atomic.Bool

	hits       atomic.Int64
	misses     atomic.Int64
	writes     atomic.Int64
	duplicates atomic.Int64
}

// Open opens (or creates) the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory not set")
	}
	dir, err := homedir.Expand(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand cache directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("cache")

	disk, err := openDisk(dir, cfg.CompressionLevel, logger)
	if err != nil {
		return nil, err
	}
	hot, err := newHotLayer(cfg.HotEntries)
	if err != nil {
		disk.writeMu.Lock()
		disk.close()
		disk.writeMu.Unlock()
		return nil, err
	}

	s := &Store{disk: disk, hot: hot, logger: logger}
	entries, diskBytes, _ := disk.sizes()
	logger.Debug("Opened unit store", "dir", dir, "entries", entries, "bytes", diskBytes)
	return s, nil
}

// Get returns the artifact for key. A missing, unreadable or closed store
// reports a miss.
func (s *Store) Get(key tts.CacheKey) (Artifact, bool) {
	if key == "" || s.closed.Load() {
		return Artifact{}, false
	}

	if a, ok := s.hot.get(key); ok {
		s.hits.Add(1)
		return a, true
	}

	a, err := s.disk.read(key)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Unreadable artifact treated as miss", "key", key, "err", err)
		}
		s.misses.Add(1)
		return Artifact{}, false
	}

	s.hot.add(a)
	s.hits.Add(1)
	return a, true
}

// Put stores data under key. When the key already has an artifact the
// existing one is returned unchanged: the first writer wins.
func (s *Store) Put(key tts.CacheKey, surface string, data []byte) (Artifact, error) {
	if key == "" {
		return Artifact{}, tts.ErrEmptyKey
	}
	if s.closed.Load() {
		return Artifact{}, tts.ErrStoreClosed
	}

	a, written, err := s.disk.write(key, surface, data)
	if err != nil {
		return Artifact{}, err
	}
	if written {
		s.writes.Add(1)
		s.logger.Debug("Stored artifact", "key", key, "surface", surface, "bytes", len(data))
	} else {
		s.duplicates.Add(1)
	}
	s.hot.add(a)
	return a, nil
}

// Contains reports whether key has an artifact without reading it.
func (s *Store) Contains(key tts.CacheKey) bool {
	_, ok := s.disk.entry(key)
	return ok
}

// Len returns the number of stored artifacts.
func (s *Store) Len() int {
	n, _, _ := s.disk.sizes()
	return n
}

// Keys returns every stored key in sorted order.
func (s *Store) Keys() []tts.CacheKey {
	keys := s.disk.keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Surface returns the surface form recorded for key.
func (s *Store) Surface(key tts.CacheKey) (string, bool) {
	e, ok := s.disk.entry(key)
	return e.Surface, ok
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	entries, diskBytes, raw := s.disk.sizes()
	return Stats{
		Entries:    entries,
		HotEntries: s.hot.len(),
		DiskBytes:  diskBytes,
		RawBytes:   raw,
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Writes:     s.writes.Load(),
		Duplicates: s.duplicates.Load(),
	}
}

// Close releases the store. The on-disk state is already durable, so Close
// only drops memory and codec resources.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// Wait for an in-progress write before releasing the encoder.
		s.disk.writeMu.Lock()
		s.disk.close()
		s.disk.writeMu.Unlock()
		s.hot.purge()
		s.logger.Debug("Closed unit store", "stats", s.Stats().String())
	})
	return nil
}
