package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/wordcast/tts"
)

// ErrCorrupted is returned when an artifact on disk does not match its index
// entry.
var ErrCorrupted = errors.New("cache artifact corrupted")

// Artifact is one synthesized audio payload held by the store.
type Artifact struct {
	Key     tts.CacheKey
	Data    []byte
	Surface string    // Surface form of the unit that first populated the entry
	Created time.Time // When the artifact became durable
}

// Config controls where and how the store keeps artifacts.
type Config struct {
	// Dir is the root directory. Artifacts live under Dir/units and the
	// metadata index at Dir/index.gob.
	Dir string

	// HotEntries bounds the in-memory LRU layer. Zero disables it.
	HotEntries int

	// CompressionLevel is the zstd level (1-22). Zero stores artifacts raw.
	CompressionLevel int

	Logger *log.Logger
}

// DefaultConfig returns a store configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		HotEntries:       512,
		CompressionLevel: 3,
	}
}

// Stats holds store counters.
type Stats struct {
	Entries    int   // Indexed artifacts
	HotEntries int   // Artifacts held in memory
	DiskBytes  int64 // Bytes on disk
	RawBytes   int64 // Bytes before compression

	Hits       int64
	Misses     int64
	Writes     int64
	Duplicates int64 // Puts that lost to an existing entry
}

// HitRate returns hits / (hits + misses).
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// String formats the stats for humans.
func (s Stats) String() string {
	return fmt.Sprintf("%s units, %s on disk (%s raw), %d in memory, hit rate %.0f%%",
		humanize.Comma(int64(s.Entries)),
		humanize.Bytes(uint64(s.DiskBytes)),
		humanize.Bytes(uint64(s.RawBytes)),
		s.HotEntries,
		s.HitRate()*100,
	)
}
