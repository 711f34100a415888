// Package engines provides synthesizer adapters and the wrappers that make a
// remote synthesizer safe to call per word.
package engines

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/wordcast/tts"
	"github.com/dgnsrekt/wordcast/tts/engines/mock"
)

// Engine names accepted by New.
const (
	EngineElevenLabs = "elevenlabs"
	EngineMock       = "mock"
)

// Config selects and configures a synthesizer.
type Config struct {
	Engine     string
	ElevenLabs ElevenLabsConfig
	Resilience ResilientOptions

	// FallbackFailures, when positive, switches to the mock engine after that
	// many consecutive unavailable failures of the primary.
	FallbackFailures int
}

// New builds the synthesizer described by cfg. Remote engines are wrapped in
// Resilient.
func New(cfg Config, logger *log.Logger) (tts.Synthesizer, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Resilience.Logger == nil {
		cfg.Resilience.Logger = logger
	}

	switch cfg.Engine {
	case EngineMock:
		logger.Debug("Using mock engine")
		return mock.New(), nil

	case EngineElevenLabs, "":
		el, err := NewElevenLabs(cfg.ElevenLabs)
		if err != nil {
			return nil, err
		}
		var synth tts.Synthesizer = NewResilient(el, cfg.Resilience)
		if cfg.FallbackFailures > 0 {
			synth = NewFallback(synth, mock.New(), cfg.FallbackFailures, logger)
		}
		logger.Debug("Using elevenlabs engine", "voice", el.cfg.VoiceID, "model", el.cfg.ModelID)
		return synth, nil

	default:
		return nil, fmt.Errorf("unknown engine %q (want %s or %s)", cfg.Engine, EngineElevenLabs, EngineMock)
	}
}
