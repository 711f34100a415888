// Package mock provides a deterministic synthesizer for tests and offline use.
package mock

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/dgnsrekt/wordcast/tts"
)

// Engine produces a short sine tone per word. The pitch is derived from the
// normalized word, so equal words always yield identical audio.
type Engine struct {
	format tts.AudioFormat

	mu       sync.Mutex
	delay    time.Duration
	failures map[string]error // keyed by normalized word
	failAll  error
	calls    map[string]int
	total    int

	active        int
	maxConcurrent int
}

// New creates a mock engine with no delay.
func New() *Engine {
	return &Engine{
		format:   tts.DefaultAudioFormat,
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Name implements tts.Synthesizer.
func (e *Engine) Name() string { return "mock" }

// Synthesize implements tts.Synthesizer.
func (e *Engine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	word := tts.Normalize(text)

	e.mu.Lock()
	e.calls[word]++
	e.total++
	e.active++
	if e.active > e.maxConcurrent {
		e.maxConcurrent = e.active
	}
	delay := e.delay
	failErr := e.failAll
	if err, ok := e.failures[word]; ok {
		failErr = err
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	return e.tone(word), nil
}

func (e *Engine) tone(word string) []byte {
	h := fnv.New32a()
	h.Write([]byte(word))
	freq := 220 + float64(h.Sum32()%440)

	d := 150*time.Millisecond + time.Duration(len(word))*40*time.Millisecond
	samples := int(d.Seconds() * float64(e.format.SampleRate))
	buf := make([]byte, samples*2*e.format.Channels)

	for i := 0; i < samples; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(e.format.SampleRate)) * 8000)
		for c := 0; c < e.format.Channels; c++ {
			off := (i*e.format.Channels + c) * 2
			binary.LittleEndian.PutUint16(buf[off:], uint16(v))
		}
	}
	return buf
}

// Test control methods

// SetDelay sets the simulated synthesis latency.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	e.delay = d
	e.mu.Unlock()
}

// FailWord makes every synthesis of word fail with err.
func (e *Engine) FailWord(word string, err error) {
	e.mu.Lock()
	e.failures[tts.Normalize(word)] = err
	e.mu.Unlock()
}

// SetFailure makes every call fail with err. A nil err clears it.
func (e *Engine) SetFailure(err error) {
	e.mu.Lock()
	e.failAll = err
	e.mu.Unlock()
}

// ClearFailures removes all configured failures.
func (e *Engine) ClearFailures() {
	e.mu.Lock()
	e.failures = make(map[string]error)
	e.failAll = nil
	e.mu.Unlock()
}

// Calls returns how often word was synthesized.
func (e *Engine) Calls(word string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[tts.Normalize(word)]
}

// TotalCalls returns the number of Synthesize calls.
func (e *Engine) TotalCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// MaxConcurrent returns the highest number of overlapping calls seen.
func (e *Engine) MaxConcurrent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxConcurrent
}
