// Package audio plays synthesized units: Player drives the system audio
// device through oto, MockPlayer simulates timing for tests.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/wordcast/tts"
)

// ErrPlayerClosed is returned by Play after Close.
var ErrPlayerClosed = errors.New("player is closed")

// pollInterval is how often Play checks whether the device drained.
const pollInterval = 10 * time.Millisecond

// oto allows a single context per process.
var (
	deviceOnce   sync.Once
	device       *oto.Context
	deviceFormat tts.AudioFormat
	deviceErr    error
)

func openDevice(format tts.AudioFormat) (*oto.Context, error) {
	deviceOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			deviceErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		device = ctx
		deviceFormat = format
	})
	if deviceErr != nil {
		return nil, deviceErr
	}
	if deviceFormat != format {
		return nil, fmt.Errorf("audio device already opened at %d Hz/%d ch", deviceFormat.SampleRate, deviceFormat.Channels)
	}
	return device, nil
}

// Player implements tts.AudioPlayer on the system audio device. It plays one
// artifact at a time.
type Player struct {
	device *oto.Context
	format tts.AudioFormat

	mu     sync.Mutex // held for the duration of one artifact
	volume atomic.Uint64
	closed atomic.Bool
}

// NewPlayer opens the audio device for 16-bit PCM in the given format.
func NewPlayer(format tts.AudioFormat) (*Player, error) {
	if format.Channels != 1 && format.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", format.Channels)
	}
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", format.SampleRate)
	}

	device, err := openDevice(format)
	if err != nil {
		return nil, err
	}

	p := &Player{device: device, format: format}
	_ = p.SetVolume(1.0)
	return p, nil
}

// Play blocks until audio has drained from the device or ctx is done, in
// which case output halts immediately and ctx.Err() is returned.
func (p *Player) Play(ctx context.Context, audio []byte) error {
	if p.closed.Load() {
		return ErrPlayerClosed
	}
	if len(audio) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The device reads from this buffer asynchronously; it must not change
	// or be collected until playback ends.
	data := bytes.Clone(audio)
	player := p.device.NewPlayer(bytes.NewReader(data))
	defer func() {
		_ = player.Close()
		runtime.KeepAlive(data)
	}()

	player.SetVolume(p.Volume())
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Duration returns how long audio takes to play.
func (p *Player) Duration(audio []byte) time.Duration {
	return p.format.Duration(len(audio))
}

// SetVolume sets the playback volume (0.0 to 1.0) for subsequent units.
func (p *Player) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	p.volume.Store(uint64(volume * 1000000))
	return nil
}

// Volume returns the playback volume.
func (p *Player) Volume() float64 {
	return float64(p.volume.Load()) / 1000000.0
}

// Close stops accepting audio. The oto context lives for the process.
func (p *Player) Close() error {
	p.closed.Store(true)
	return nil
}
