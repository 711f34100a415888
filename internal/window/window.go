// Package window partitions text into fixed-size playback windows and
// resolves the units of a window into audio.
package window

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/wordcast/internal/cache"
	"github.com/dgnsrekt/wordcast/tts"
)

// DefaultConcurrency caps in-flight synthesis calls per window.
const DefaultConcurrency = 3

// Store is the subset of the unit store the generator needs.
type Store interface {
	Get(key tts.CacheKey) (cache.Artifact, bool)
	Put(key tts.CacheKey, surface string, data []byte) (cache.Artifact, error)
}

// Options configures a Generator.
type Options struct {
	Size        int // Units per window, defaults to tts.DefaultWindowSize
	Concurrency int // Synthesis calls in flight per window, defaults to DefaultConcurrency
	Logger      *log.Logger

	// Observe, if set, sees every terminal result.
	Observe func(Result)
}

// Result is the terminal outcome for one unit.
type Result struct {
	Unit       tts.Unit
	Key        tts.CacheKey
	Audio      []byte
	Cached     bool // Served without invoking the synthesizer for this request
	Decoration bool // Nothing to speak; no audio
	Pause      tts.PauseClass
	Err        error // *tts.UnitError when the unit could not be synthesized
}

// Generator resolves windows through the unit store, synthesizing misses.
// It is safe for concurrent use; concurrent misses for the same key share
// one synthesis call.
type Generator struct {
	store       Store
	synth       tts.Synthesizer
	size        int
	concurrency int
	logger      *log.Logger
	observe     func(Result)

	flight singleflight.Group
}

// New creates a Generator.
func New(store Store, synth tts.Synthesizer, opts Options) *Generator {
	if opts.Size <= 0 {
		opts.Size = tts.DefaultWindowSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Generator{
		store:       store,
		synth:       synth,
		size:        opts.Size,
		concurrency: opts.Concurrency,
		logger:      logger.WithPrefix("window"),
		observe:     opts.Observe,
	}
}

// Size returns the window size.
func (g *Generator) Size() int { return g.size }

// Resolve resolves window idx of units, calling emit once per unit as soon as
// that unit is terminal. emit calls are serialized but not ordered by index.
// Resolve returns tts.ErrOutOfRange before doing any work when idx is past
// the text, and otherwise returns once every unit of the window is terminal.
func (g *Generator) Resolve(ctx context.Context, units []tts.Unit, idx int, emit func(Result)) error {
	w, err := tts.WindowAt(idx, len(units), g.size)
	if err != nil {
		return fmt.Errorf("window %d of %d units: %w", idx, len(units), err)
	}

	g.logger.Debug("Resolving window", "window", idx, "start", w.Start, "end", w.End)

	var (
		eg errgroup.Group
		mu sync.Mutex
	)
	eg.SetLimit(g.concurrency)

	// Launch in index order so early units get the first synthesis slots.
	for i := w.Start; i < w.End; i++ {
		u := units[i]
		eg.Go(func() error {
			r := g.resolveUnit(ctx, u)
			if g.observe != nil {
				g.observe(r)
			}
			mu.Lock()
			defer mu.Unlock()
			emit(r)
			return nil
		})
	}

	return eg.Wait()
}

type synthesized struct {
	audio  []byte
	cached bool
}

func (g *Generator) resolveUnit(ctx context.Context, u tts.Unit) Result {
	r := Result{
		Unit:  u,
		Key:   tts.Key(u.Text),
		Pause: tts.PauseFor(u.Text),
	}
	if r.Key == "" {
		r.Decoration = true
		return r
	}

	if a, ok := g.store.Get(r.Key); ok {
		r.Audio = a.Data
		r.Cached = true
		return r
	}

	// Callers that joined another caller's flight were served, not synthesized.
	ran := false
	v, err, _ := g.flight.Do(string(r.Key), func() (any, error) {
		ran = true
		// Another caller may have finished between our lookup and now.
		if a, ok := g.store.Get(r.Key); ok {
			return synthesized{audio: a.Data, cached: true}, nil
		}

		audio, standIn, err := g.synthesize(ctx, tts.Speakable(u.Text))
		if err != nil {
			return nil, err
		}
		if standIn {
			g.logger.Debug("Not storing stand-in audio", "word", u.Text)
			return synthesized{audio: audio}, nil
		}

		a, err := g.store.Put(r.Key, u.Text, audio)
		if err != nil {
			g.logger.Warn("Failed to store artifact", "word", u.Text, "err", err)
			return synthesized{audio: audio}, nil
		}
		// The store keeps the first artifact written for a key.
		return synthesized{audio: a.Data}, nil
	})
	if err != nil {
		if !tts.IsUnitLevel(err) {
			err = fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err)
		}
		g.logger.Debug("Unit failed", "index", u.Index, "word", u.Text, "err", err)
		r.Err = &tts.UnitError{Index: u.Index, Err: err}
		return r
	}

	s := v.(synthesized)
	r.Audio = s.audio
	r.Cached = s.cached || !ran
	return r
}

func (g *Generator) synthesize(ctx context.Context, text string) ([]byte, bool, error) {
	if sub, ok := g.synth.(tts.Substituter); ok {
		return sub.SynthesizeOrSubstitute(ctx, text)
	}
	audio, err := g.synth.Synthesize(ctx, text)
	return audio, false, err
}

// ResolveWindow resolves window idx of text and returns the results in
// index order.
func (g *Generator) ResolveWindow(ctx context.Context, text string, idx int) ([]Result, error) {
	units := tts.Split(text)
	if len(units) == 0 {
		return nil, tts.ErrEmptyText
	}
	w, err := tts.WindowAt(idx, len(units), g.size)
	if err != nil {
		return nil, err
	}

	results := make([]Result, w.Len())
	err = g.Resolve(ctx, units, idx, func(r Result) {
		results[r.Unit.Index-w.Start] = r
	})
	return results, err
}

// ResolveAll resolves every window of text one after another and returns all
// results in index order. It backs the synchronous fallback interface.
func (g *Generator) ResolveAll(ctx context.Context, text string) ([]Result, error) {
	units := tts.Split(text)
	if len(units) == 0 {
		return nil, tts.ErrEmptyText
	}

	results := make([]Result, len(units))
	for idx := 0; idx < tts.WindowCount(len(units), g.size); idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := g.Resolve(ctx, units, idx, func(r Result) {
			results[r.Unit.Index] = r
		})
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
