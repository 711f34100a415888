// Package config holds the wordcast settings shared by the server and the
// listener, loaded from the YAML config file, WORDCAST_* environment
// variables and command line flags.
package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/wordcast/internal/cache"
	"github.com/dgnsrekt/wordcast/internal/compose"
	"github.com/dgnsrekt/wordcast/tts"
	"github.com/dgnsrekt/wordcast/tts/engines"
)

// AppName names the config file, the cache directory and the env prefix.
const AppName = "wordcast"

// Config contains every setting read from the config file.
type Config struct {
	Engine     string `yaml:"engine"`      // elevenlabs or mock
	Listen     string `yaml:"listen"`      // address the server binds
	Server     string `yaml:"server"`      // address the listener connects to
	WindowSize int    `yaml:"window_size"` // units per window
	SampleRate int    `yaml:"sample_rate"`

	Cache      CacheConfig      `yaml:"cache"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Compose    ComposeConfig    `yaml:"compose"`
	Playback   PlaybackConfig   `yaml:"playback"`
}

// CacheConfig contains unit store settings.
type CacheConfig struct {
	Dir         string `yaml:"dir"` // empty uses the user cache directory
	HotEntries  int    `yaml:"hot_entries"`
	Compression int    `yaml:"compression"` // zstd level, 0 stores raw PCM
}

// SynthesisConfig tunes calls to the synthesizer.
type SynthesisConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        uint          `yaml:"max_retries"`
	BreakerThreshold  uint32        `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	FallbackFailures  int           `yaml:"fallback_failures"`
}

// ElevenLabsConfig contains ElevenLabs engine settings. The API key is never
// read from the config file.
type ElevenLabsConfig struct {
	VoiceID string `yaml:"voice_id"`
	ModelID string `yaml:"model_id"`
	BaseURL string `yaml:"base_url"`
}

// ComposeConfig contains story composer settings.
type ComposeConfig struct {
	Model    string `yaml:"model"`
	AgeGroup string `yaml:"age_group"`
}

// PlaybackConfig contains listener settings.
type PlaybackConfig struct {
	ShortPause     time.Duration `yaml:"short_pause"`
	MediumPause    time.Duration `yaml:"medium_pause"`
	LongPause      time.Duration `yaml:"long_pause"`
	Continuous     bool          `yaml:"continuous"`
	Volume         float64       `yaml:"volume"`
	HighlightColor string        `yaml:"highlight_color"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	pauses := tts.DefaultPauseDurations()
	resilience := engines.DefaultResilientOptions()
	return Config{
		Engine:     engines.EngineElevenLabs,
		Listen:     ":8080",
		Server:     "http://localhost:8080",
		WindowSize: tts.DefaultWindowSize,
		SampleRate: tts.DefaultAudioFormat.SampleRate,

		Cache: CacheConfig{
			HotEntries:  512,
			Compression: 3,
		},
		Synthesis: SynthesisConfig{
			Concurrency:       3,
			RequestsPerMinute: resilience.RequestsPerMinute,
			Timeout:           resilience.Timeout,
			MaxRetries:        resilience.MaxRetries,
			BreakerThreshold:  resilience.BreakerThreshold,
			BreakerCooldown:   resilience.BreakerCooldown,
		},
		ElevenLabs: ElevenLabsConfig{
			VoiceID: engines.DefaultVoiceID,
			ModelID: engines.DefaultModelID,
			BaseURL: engines.DefaultElevenLabsURL,
		},
		Compose: ComposeConfig{
			Model:    compose.DefaultGeminiModel,
			AgeGroup: compose.DefaultAgeGroup,
		},
		Playback: PlaybackConfig{
			ShortPause:     pauses.Short,
			MediumPause:    pauses.Medium,
			LongPause:      pauses.Long,
			Volume:         1.0,
			HighlightColor: "212",
		},
	}
}

var (
	validEngines     = []string{engines.EngineElevenLabs, engines.EngineMock}
	validSampleRates = []int{16000, 22050, 24000, 44100}
	validAgeGroups   = []string{"4-6", "6-8", "8-10"}
)

// Validate checks if the configuration is valid. It normalizes the engine
// name.
func (c *Config) Validate() error {
	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if !slices.Contains(validEngines, c.Engine) {
		return fmt.Errorf("invalid engine %q: must be one of %v", c.Engine, validEngines)
	}

	if c.WindowSize < 1 || c.WindowSize > 50 {
		return fmt.Errorf("window_size must be between 1 and 50, got %d", c.WindowSize)
	}

	if !slices.Contains(validSampleRates, c.SampleRate) {
		return fmt.Errorf("invalid sample rate %d: must be one of %v", c.SampleRate, validSampleRates)
	}

	if c.Cache.HotEntries < 0 {
		return fmt.Errorf("cache hot_entries cannot be negative, got %d", c.Cache.HotEntries)
	}
	if c.Cache.Compression < 0 || c.Cache.Compression > 22 {
		return fmt.Errorf("cache compression must be between 0 and 22, got %d", c.Cache.Compression)
	}

	if c.Synthesis.Concurrency < 1 || c.Synthesis.Concurrency > 16 {
		return fmt.Errorf("synthesis concurrency must be between 1 and 16, got %d", c.Synthesis.Concurrency)
	}
	if c.Synthesis.Timeout <= 0 {
		return fmt.Errorf("synthesis timeout must be positive, got %s", c.Synthesis.Timeout)
	}

	if c.Compose.AgeGroup != "" && !slices.Contains(validAgeGroups, c.Compose.AgeGroup) {
		return fmt.Errorf("invalid age group %q: must be one of %v", c.Compose.AgeGroup, validAgeGroups)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	return nil
}

// Validate checks if the playback configuration is valid.
func (c *PlaybackConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"short_pause":  c.ShortPause,
		"medium_pause": c.MediumPause,
		"long_pause":   c.LongPause,
	} {
		if d < 0 || d > 10*time.Second {
			return fmt.Errorf("%s must be between 0s and 10s, got %s", name, d)
		}
	}
	if c.Volume < 0.0 || c.Volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %.2f", c.Volume)
	}
	return nil
}

// CacheDir returns the unit store directory with ~ expanded, falling back to
// the per-user cache directory.
func (c Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		dir, err := homedir.Expand(c.Cache.Dir)
		if err != nil {
			return "", fmt.Errorf("expand cache dir: %w", err)
		}
		return dir, nil
	}
	dir, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return "", fmt.Errorf("locate cache dir: %w", err)
	}
	return filepath.Join(dir, "units"), nil
}

// StoreConfig returns the unit store configuration.
func (c Config) StoreConfig(logger *log.Logger) (cache.Config, error) {
	dir, err := c.CacheDir()
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Dir:              dir,
		HotEntries:       c.Cache.HotEntries,
		CompressionLevel: c.Cache.Compression,
		Logger:           logger,
	}, nil
}

// EngineConfig returns the synthesizer configuration.
func (c Config) EngineConfig(secrets Secrets) engines.Config {
	resilience := engines.DefaultResilientOptions()
	resilience.RequestsPerMinute = c.Synthesis.RequestsPerMinute
	resilience.Timeout = c.Synthesis.Timeout
	resilience.MaxRetries = c.Synthesis.MaxRetries
	resilience.BreakerThreshold = c.Synthesis.BreakerThreshold
	resilience.BreakerCooldown = c.Synthesis.BreakerCooldown

	return engines.Config{
		Engine: c.Engine,
		ElevenLabs: engines.ElevenLabsConfig{
			APIKey:     secrets.ElevenLabsAPIKey,
			VoiceID:    c.ElevenLabs.VoiceID,
			ModelID:    c.ElevenLabs.ModelID,
			BaseURL:    c.ElevenLabs.BaseURL,
			SampleRate: c.SampleRate,
		},
		Resilience:       resilience,
		FallbackFailures: c.Synthesis.FallbackFailures,
	}
}

// Pauses returns the playback pacing.
func (c Config) Pauses() tts.PauseDurations {
	return tts.PauseDurations{
		Short:  c.Playback.ShortPause,
		Medium: c.Playback.MediumPause,
		Long:   c.Playback.LongPause,
	}
}

// AudioFormat returns the PCM layout produced by the engine.
func (c Config) AudioFormat() tts.AudioFormat {
	return tts.AudioFormat{SampleRate: c.SampleRate, Channels: 1}
}
