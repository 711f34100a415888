package cache

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	"github.com/dgnsrekt/wordcast/tts"
)

const (
	unitsDir  = "units"
	indexFile = "index.gob"
)

// indexEntry is the persisted metadata for one artifact.
type indexEntry struct {
	File       string // Relative to the units directory
	Size       int64  // Bytes on disk
	RawSize    int64  // Bytes after decompression
	Compressed bool
	Surface    string
	Created    time.Time
}

// diskStore is the durable layer. Artifacts are immutable once indexed; the
// index only ever grows.
type diskStore struct {
	dir    string
	logger *log.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// writeMu serializes Puts so two writers never race on one artifact file.
	writeMu sync.Mutex
	closed  bool // guarded by writeMu

	mu    sync.RWMutex
	index map[tts.CacheKey]indexEntry
}

func openDisk(dir string, level int, logger *log.Logger) (*diskStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, unitsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	ds := &diskStore{
		dir:    dir,
		logger: logger,
		index:  make(map[tts.CacheKey]indexEntry),
	}

	if level > 0 {
		var err error
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}

	// The decoder is always available so artifacts written with compression
	// stay readable after compression is turned off.
	var err error
	ds.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := ds.loadIndex(); err != nil {
		// Non-fatal: artifacts without an entry are simply ignored and will be
		// rewritten on the next miss.
		logger.Warn("Discarding unreadable cache index", "path", ds.indexPath(), "err", err)
		ds.index = make(map[tts.CacheKey]indexEntry)
	}

	return ds, nil
}

func (ds *diskStore) indexPath() string {
	return filepath.Join(ds.dir, indexFile)
}

func (ds *diskStore) artifactPath(file string) string {
	return filepath.Join(ds.dir, unitsDir, file)
}

func (ds *diskStore) entry(key tts.CacheKey) (indexEntry, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	e, ok := ds.index[key]
	return e, ok
}

// read returns the decoded artifact for key. Files are immutable once indexed,
// so reads take no lock beyond the index lookup.
func (ds *diskStore) read(key tts.CacheKey) (Artifact, error) {
	e, ok := ds.entry(key)
	if !ok {
		return Artifact{}, os.ErrNotExist
	}

	data, err := os.ReadFile(ds.artifactPath(e.File))
	if err != nil {
		return Artifact{}, err
	}
	if int64(len(data)) != e.Size {
		return Artifact{}, fmt.Errorf("%w: %s has %d bytes, index says %d", ErrCorrupted, e.File, len(data), e.Size)
	}

	if e.Compressed {
		data, err = ds.decoder.DecodeAll(data, nil)
		if err != nil {
			return Artifact{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	}

	return Artifact{Key: key, Data: data, Surface: e.Surface, Created: e.Created}, nil
}

// write stores data under key unless an entry already exists, in which case
// the existing artifact wins. The artifact is durable before the index names
// it.
func (ds *diskStore) write(key tts.CacheKey, surface string, data []byte) (Artifact, bool, error) {
	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	if ds.closed {
		return Artifact{}, false, tts.ErrStoreClosed
	}

	var stale string
	if old, ok := ds.entry(key); ok {
		existing, err := ds.read(key)
		if err == nil {
			return existing, false, nil
		}
		// The indexed file is unusable; replace it.
		ds.logger.Warn("Replacing unreadable artifact", "key", key, "err", err)
		stale = old.File
	}

	payload := data
	compressed := false
	if ds.encoder != nil {
		if enc := ds.encoder.EncodeAll(data, nil); len(enc) < len(data) {
			payload = enc
			compressed = true
		}
	}

	file := string(key) + ".pcm"
	if compressed {
		file = string(key) + ".zst"
	}

	if err := writeFileSync(ds.artifactPath(file), payload); err != nil {
		return Artifact{}, false, fmt.Errorf("failed to write artifact: %w", err)
	}

	e := indexEntry{
		File:       file,
		Size:       int64(len(payload)),
		RawSize:    int64(len(data)),
		Compressed: compressed,
		Surface:    surface,
		Created:    time.Now(),
	}

	ds.mu.Lock()
	ds.index[key] = e
	snapshot := make(map[tts.CacheKey]indexEntry, len(ds.index))
	for k, v := range ds.index {
		snapshot[k] = v
	}
	ds.mu.Unlock()

	if err := ds.saveIndex(snapshot); err != nil {
		// The artifact is durable and served from memory for this process;
		// the next successful Put persists the entry.
		ds.logger.Error("Failed to save cache index", "err", err)
	}

	if stale != "" && stale != file {
		if err := os.Remove(ds.artifactPath(stale)); err != nil && !os.IsNotExist(err) {
			ds.logger.Warn("Failed to remove replaced artifact", "file", stale, "err", err)
		}
	}

	return Artifact{Key: key, Data: data, Surface: surface, Created: e.Created}, true, nil
}

func (ds *diskStore) keys() []tts.CacheKey {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	keys := make([]tts.CacheKey, 0, len(ds.index))
	for k := range ds.index {
		keys = append(keys, k)
	}
	return keys
}

func (ds *diskStore) sizes() (entries int, disk, raw int64) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	for _, e := range ds.index {
		disk += e.Size
		raw += e.RawSize
	}
	return len(ds.index), disk, raw
}

func (ds *diskStore) loadIndex() error {
	file, err := os.Open(ds.indexPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	loaded := make(map[tts.CacheKey]indexEntry)
	if err := gob.NewDecoder(file).Decode(&loaded); err != nil {
		return err
	}

	for key, e := range loaded {
		info, err := os.Stat(ds.artifactPath(e.File))
		if err != nil || info.Size() != e.Size {
			ds.logger.Debug("Dropping index entry without artifact", "key", key, "file", e.File)
			delete(loaded, key)
		}
	}

	ds.index = loaded
	return nil
}

func (ds *diskStore) saveIndex(index map[tts.CacheKey]indexEntry) error {
	file, err := os.CreateTemp(ds.dir, indexFile+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	if err := gob.NewEncoder(file).Encode(index); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	// Callers hold writeMu, so renames never interleave.
	if err := os.Rename(tempPath, ds.indexPath()); err != nil {
		os.Remove(tempPath)
		return err
	}
	syncDir(ds.dir)
	return nil
}

// writeFileSync writes data to a temp file in the target directory, syncs it
// and renames it into place.
func writeFileSync(path string, data []byte) error {
	dir := filepath.Dir(path)
	file, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir flushes a directory entry after a rename. Not every platform
// supports it, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

// close must be called with writeMu held.
func (ds *diskStore) close() {
	ds.closed = true
	if ds.encoder != nil {
		ds.encoder.Close()
	}
	ds.decoder.Close()
}
