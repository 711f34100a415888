package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/wordcast/internal/cache"
	"github.com/dgnsrekt/wordcast/internal/compose"
	"github.com/dgnsrekt/wordcast/internal/telemetry"
	"github.com/dgnsrekt/wordcast/internal/window"
	"github.com/dgnsrekt/wordcast/tts"
	"github.com/dgnsrekt/wordcast/tts/engines"
)

// backend is the server side of the engine: the unit store, the synthesizer
// and the window generator over them.
type backend struct {
	store     *cache.Store
	synth     tts.Synthesizer
	generator *window.Generator
}

// openStore opens the unit store named by the configuration.
func openStore(logger *log.Logger) (*cache.Store, error) {
	sc, err := cfg.StoreConfig(logger)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("unable to open unit store: %w", err)
	}
	return store, nil
}

// openBackend wires the store, the synthesizer and the generator. tel may be
// nil.
func openBackend(logger *log.Logger, tel *telemetry.Telemetry) (*backend, error) {
	store, err := openStore(logger)
	if err != nil {
		return nil, err
	}

	ec := cfg.EngineConfig(secrets)
	ec.Resilience.Logger = logger
	ec.Resilience.Observe = tel.SynthesisObserved
	synth, err := engines.New(ec, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("unable to create engine: %w", err)
	}

	generator := window.New(store, synth, window.Options{
		Size:        cfg.WindowSize,
		Concurrency: cfg.Synthesis.Concurrency,
		Logger:      logger,
		Observe: func(r window.Result) {
			tel.UnitResolved(telemetry.Outcome(r.Cached, r.Decoration, r.Err))
		},
	})

	return &backend{store: store, synth: synth, generator: generator}, nil
}

func (b *backend) Close() error {
	return b.store.Close()
}

// newComposer returns the Gemini collaborator when a key is configured and
// the canned stories with keyword icons otherwise.
func newComposer(ctx context.Context, logger *log.Logger) (compose.Composer, compose.Decorator) {
	g, err := compose.NewGemini(ctx, secrets.GeminiAPIKey, cfg.Compose.Model, logger)
	if err != nil {
		if !errors.Is(err, compose.ErrNotConfigured) {
			logger.Warn("Gemini unavailable, using canned stories", "err", err)
		} else {
			logger.Debug("No Gemini key, using canned stories")
		}
		return compose.Canned{}, compose.Keywords{}
	}
	return g, g
}
