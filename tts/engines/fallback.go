package engines

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/wordcast/tts"
)

// Fallback wraps a primary synthesizer with automatic fallback to a secondary
// one when the primary is unavailable repeatedly.
type Fallback struct {
	primary     tts.Synthesizer
	secondary   tts.Synthesizer
	maxFailures int
	logger      *log.Logger

	mu             sync.Mutex
	failures       int
	usingSecondary bool
}

// NewFallback creates a synthesizer that switches to secondary after
// maxFailures consecutive unavailable failures of primary.
func NewFallback(primary, secondary tts.Synthesizer, maxFailures int, logger *log.Logger) *Fallback {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fallback{
		primary:     primary,
		secondary:   secondary,
		maxFailures: maxFailures,
		logger:      logger.WithPrefix("fallback"),
	}
}

// Name implements tts.Synthesizer and reports the active engine.
func (f *Fallback) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingSecondary {
		return f.secondary.Name()
	}
	return f.primary.Name()
}

// Synthesize implements tts.Synthesizer.
func (f *Fallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	audio, _, err := f.SynthesizeOrSubstitute(ctx, text)
	return audio, err
}

// SynthesizeOrSubstitute implements tts.Substituter. Audio produced by the
// secondary engine is reported as a substitute.
func (f *Fallback) SynthesizeOrSubstitute(ctx context.Context, text string) ([]byte, bool, error) {
	f.mu.Lock()
	using := f.usingSecondary
	f.mu.Unlock()

	if using {
		audio, err := f.secondary.Synthesize(ctx, text)
		return audio, err == nil, err
	}

	audio, err := f.primary.Synthesize(ctx, text)
	if err == nil {
		f.mu.Lock()
		if f.failures > 0 {
			f.logger.Info("Primary engine recovered", "failures", f.failures)
			f.failures = 0
		}
		f.mu.Unlock()
		return audio, false, nil
	}

	// A rejected word is not a reason to switch engines.
	if !errors.Is(err, tts.ErrAdapterUnavailable) {
		return nil, false, err
	}

	f.mu.Lock()
	f.failures++
	failures := f.failures
	switched := failures >= f.maxFailures && !f.usingSecondary
	if switched {
		f.usingSecondary = true
	}
	using = f.usingSecondary
	f.mu.Unlock()

	f.logger.Warn("Primary engine failed", "attempt", failures, "max", f.maxFailures, "err", err)
	if !using {
		return nil, false, err
	}
	if switched {
		f.logger.Warn("Switching to fallback engine", "engine", f.secondary.Name())
	}

	audio, err = f.secondary.Synthesize(ctx, text)
	if err != nil {
		return nil, false, fmt.Errorf("both engines failed: %w", err)
	}
	return audio, true, nil
}

// Reset returns to the primary engine.
func (f *Fallback) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
	f.usingSecondary = false
	f.logger.Info("Reset to primary engine")
}

// Status describes the active engine.
func (f *Fallback) Status() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usingSecondary {
		return fmt.Sprintf("Using fallback engine (primary failed %d times)", f.failures)
	}
	return fmt.Sprintf("Using primary engine (failures: %d/%d)", f.failures, f.maxFailures)
}
