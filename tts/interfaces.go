package tts

import (
	"context"
	"time"
)

// Synthesizer turns one unit of text into one audio artifact.
type Synthesizer interface {
	// Synthesize returns the raw audio for text. Implementations must honor
	// ctx cancellation.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Name identifies the engine in logs and health output.
	Name() string
}

// Substituter is implemented by synthesizers that may answer with a stand-in
// voice. Stand-in audio can be played but must never be stored under the
// word's key.
type Substituter interface {
	Synthesizer

	// SynthesizeOrSubstitute is Synthesize, also reporting whether the audio
	// came from a stand-in engine.
	SynthesizeOrSubstitute(ctx context.Context, text string) (audio []byte, substitute bool, err error)
}

// AudioPlayer plays one artifact at a time.
type AudioPlayer interface {
	// Play blocks until the audio has finished or ctx is done. A cancelled
	// context halts output immediately.
	Play(ctx context.Context, audio []byte) error
}

// WindowRequester asks the server side for a window of units.
type WindowRequester interface {
	RequestWindow(index int) error
}

// AudioFormat describes the PCM layout of synthesized artifacts.
type AudioFormat struct {
	SampleRate int // Hz
	Channels   int // 1 = mono
}

// DefaultAudioFormat is 22.05kHz mono signed 16-bit little endian PCM.
var DefaultAudioFormat = AudioFormat{SampleRate: 22050, Channels: 1}

// Duration returns how long n bytes of 16-bit PCM take to play.
func (f AudioFormat) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// PauseDurations holds the delay that follows each pause class.
type PauseDurations struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// DefaultPauseDurations returns the standard inter-unit pacing.
func DefaultPauseDurations() PauseDurations {
	return PauseDurations{
		Short:  200 * time.Millisecond,
		Medium: 400 * time.Millisecond,
		Long:   800 * time.Millisecond,
	}
}

// For returns the delay for a pause class.
func (p PauseDurations) For(class PauseClass) time.Duration {
	switch class {
	case PauseLong:
		return p.Long
	case PauseMedium:
		return p.Medium
	default:
		return p.Short
	}
}
