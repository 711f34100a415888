package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dgnsrekt/wordcast/tts"
)

// hotLayer keeps recently served artifacts decoded in memory. A nil cache
// means the layer is disabled.
type hotLayer struct {
	cache *lru.Cache[tts.CacheKey, Artifact]
}

func newHotLayer(size int) (*hotLayer, error) {
	if size <= 0 {
		return &hotLayer{}, nil
	}
	c, err := lru.New[tts.CacheKey, Artifact](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory layer: %w", err)
	}
	return &hotLayer{cache: c}, nil
}

func (h *hotLayer) get(key tts.CacheKey) (Artifact, bool) {
	if h.cache == nil {
		return Artifact{}, false
	}
	return h.cache.Get(key)
}

func (h *hotLayer) add(a Artifact) {
	if h.cache == nil {
		return
	}
	h.cache.Add(a.Key, a)
}

func (h *hotLayer) len() int {
	if h.cache == nil {
		return 0
	}
	return h.cache.Len()
}

func (h *hotLayer) purge() {
	if h.cache != nil {
		h.cache.Purge()
	}
}
