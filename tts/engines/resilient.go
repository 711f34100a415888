package engines

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/wordcast/tts"
)

// ResilientOptions tunes the wrapper around a remote synthesizer.
type ResilientOptions struct {
	// RequestsPerMinute caps outbound calls. Zero disables the limiter.
	RequestsPerMinute int

	// Timeout bounds one synthesis attempt. An attempt that exceeds it fails
	// its unit with tts.ErrSynthesisFailed.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after an
	// tts.ErrAdapterUnavailable failure.
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BreakerThreshold consecutive unavailable failures open the circuit for
	// BreakerCooldown. Zero disables the breaker.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration

	Logger *log.Logger

	// Observe, if set, is called once per Synthesize with the total time
	// spent and the final error.
	Observe func(engine string, elapsed time.Duration, err error)
}

// DefaultResilientOptions returns the standard settings for a remote API.
func DefaultResilientOptions() ResilientOptions {
	return ResilientOptions{
		RequestsPerMinute: 300,
		Timeout:           30 * time.Second,
		MaxRetries:        2,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BreakerThreshold:  5,
		BreakerCooldown:   30 * time.Second,
	}
}

// Resilient wraps a synthesizer with rate limiting, a per-call timeout,
// retries for transient outages and a circuit breaker. Every error it returns
// is unit-level: it wraps tts.ErrSynthesisFailed or tts.ErrAdapterUnavailable.
type Resilient struct {
	inner   tts.Synthesizer
	opts    ResilientOptions
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *log.Logger
}

// NewResilient wraps inner.
func NewResilient(inner tts.Synthesizer, opts ResilientOptions) *Resilient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 250 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix(inner.Name())

	r := &Resilient{inner: inner, opts: opts, logger: logger}

	if opts.RequestsPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	if opts.BreakerThreshold > 0 {
		threshold := opts.BreakerThreshold
		r.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        inner.Name(),
			MaxRequests: 1,
			Timeout:     opts.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// A word the upstream rejects says nothing about its health.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, tts.ErrAdapterUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed", "engine", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return r
}

// Name implements tts.Synthesizer.
func (r *Resilient) Name() string { return r.inner.Name() }

// Synthesize implements tts.Synthesizer.
func (r *Resilient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxInterval = r.opts.MaxBackoff

	audio, err := backoff.Retry(ctx, func() ([]byte, error) {
		return r.attempt(ctx, text)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.opts.MaxRetries+1))

	if err != nil && !tts.IsUnitLevel(err) {
		err = fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err)
	}
	if r.opts.Observe != nil {
		r.opts.Observe(r.inner.Name(), time.Since(start), err)
	}
	return audio, err
}

func (r *Resilient) attempt(ctx context.Context, text string) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: rate limit wait cancelled: %v", tts.ErrSynthesisFailed, err))
		}
	}

	call := func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()

		audio, err := r.inner.Synthesize(callCtx, text)
		if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: timed out after %s", tts.ErrSynthesisFailed, r.opts.Timeout)
		}
		return audio, err
	}

	var (
		audio []byte
		err   error
	)
	if r.breaker != nil {
		audio, err = r.breaker.Execute(call)
	} else {
		audio, err = call()
	}

	switch {
	case err == nil:
		return audio, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", tts.ErrAdapterUnavailable, err))
	case errors.Is(err, tts.ErrAdapterUnavailable):
		r.logger.Debug("Synthesis attempt failed, retrying", "text", text, "err", err)
		return nil, err
	default:
		return nil, backoff.Permanent(err)
	}
}
