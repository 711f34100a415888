package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/wordcast/tts"
)

// MockPlayer implements tts.AudioPlayer without producing sound. Play blocks
// for the simulated duration of the audio.
type MockPlayer struct {
	format      tts.AudioFormat
	delayFactor float64 // < 1.0 plays faster

	mu        sync.Mutex
	fixed     time.Duration
	history   []PlaybackEvent
	playErr   error
	callbacks MockCallbacks

	active        atomic.Int32
	maxConcurrent atomic.Int32
	playCount     atomic.Int64
	haltCount     atomic.Int64
}

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnPlay func(audio []byte)
	OnHalt func(audio []byte)
	OnDone func(audio []byte)
}

// PlaybackEvent records one Play call.
type PlaybackEvent struct {
	Audio     []byte
	Started   time.Time
	Halted    bool
	Completed bool
}

// NewMockPlayer creates a mock player that times audio in the default format.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{format: tts.DefaultAudioFormat, delayFactor: 1.0}
}

// NewMockPlayerWithCallbacks creates a mock player with test hooks.
func NewMockPlayerWithCallbacks(callbacks MockCallbacks) *MockPlayer {
	mp := NewMockPlayer()
	mp.callbacks = callbacks
	return mp
}

// Play implements tts.AudioPlayer.
func (mp *MockPlayer) Play(ctx context.Context, audio []byte) error {
	mp.mu.Lock()
	if mp.playErr != nil {
		err := mp.playErr
		mp.mu.Unlock()
		return err
	}
	d := mp.fixed
	if d == 0 {
		d = time.Duration(float64(mp.format.Duration(len(audio))) * mp.delayFactor)
	}
	idx := len(mp.history)
	mp.history = append(mp.history, PlaybackEvent{
		Audio:   append([]byte(nil), audio...),
		Started: time.Now(),
	})
	callbacks := mp.callbacks
	mp.mu.Unlock()

	n := mp.active.Add(1)
	defer mp.active.Add(-1)
	for {
		peak := mp.maxConcurrent.Load()
		if n <= peak || mp.maxConcurrent.CompareAndSwap(peak, n) {
			break
		}
	}
	mp.playCount.Add(1)
	if callbacks.OnPlay != nil {
		callbacks.OnPlay(audio)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		mp.haltCount.Add(1)
		mp.mu.Lock()
		mp.history[idx].Halted = true
		mp.mu.Unlock()
		if callbacks.OnHalt != nil {
			callbacks.OnHalt(audio)
		}
		return ctx.Err()
	case <-timer.C:
		mp.mu.Lock()
		mp.history[idx].Completed = true
		mp.mu.Unlock()
		if callbacks.OnDone != nil {
			callbacks.OnDone(audio)
		}
		return nil
	}
}

// SetDuration makes every Play last d regardless of the audio length.
// Zero restores length-based timing.
func (mp *MockPlayer) SetDuration(d time.Duration) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.fixed = d
}

// SetDelayFactor scales length-based timing. 1.0 is real time.
func (mp *MockPlayer) SetDelayFactor(factor float64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.delayFactor = factor
}

// SetPlayError makes Play fail immediately with err. nil clears it.
func (mp *MockPlayer) SetPlayError(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.playErr = err
}

// History returns every Play call so far.
func (mp *MockPlayer) History() []PlaybackEvent {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return append([]PlaybackEvent(nil), mp.history...)
}

// Played returns the audio of every Play call that ran to completion.
func (mp *MockPlayer) Played() [][]byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	var out [][]byte
	for _, e := range mp.history {
		if e.Completed {
			out = append(out, e.Audio)
		}
	}
	return out
}

// PlayCount returns the number of Play calls that started.
func (mp *MockPlayer) PlayCount() int64 { return mp.playCount.Load() }

// HaltCount returns the number of Play calls cut short by cancellation.
func (mp *MockPlayer) HaltCount() int64 { return mp.haltCount.Load() }

// MaxConcurrent returns the highest number of overlapping Play calls.
func (mp *MockPlayer) MaxConcurrent() int { return int(mp.maxConcurrent.Load()) }
