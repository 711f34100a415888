package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Secrets are read from the environment only.
type Secrets struct {
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	Debug            bool   `env:"WORDCAST_DEBUG"`
	LogFile          string `env:"WORDCAST_LOG_FILE"`
}

// LoadSecrets parses Secrets from the environment.
func LoadSecrets() (Secrets, error) {
	s, err := env.ParseAs[Secrets]()
	if err != nil {
		return Secrets{}, fmt.Errorf("error parsing environment: %w", err)
	}
	return s, nil
}

// Load builds the configuration from Viper on top of DefaultConfig.
func Load() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("engine") {
		cfg.Engine = viper.GetString("engine")
	}
	if viper.IsSet("listen") {
		cfg.Listen = viper.GetString("listen")
	}
	if viper.IsSet("server") {
		cfg.Server = viper.GetString("server")
	}
	if viper.IsSet("window_size") {
		cfg.WindowSize = viper.GetInt("window_size")
	}
	if viper.IsSet("sample_rate") {
		cfg.SampleRate = viper.GetInt("sample_rate")
	}

	cfg.Cache = loadCacheConfig(cfg.Cache)
	cfg.Synthesis = loadSynthesisConfig(cfg.Synthesis)
	cfg.ElevenLabs = loadElevenLabsConfig(cfg.ElevenLabs)
	cfg.Compose = loadComposeConfig(cfg.Compose)
	cfg.Playback = loadPlaybackConfig(cfg.Playback)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadCacheConfig(cfg CacheConfig) CacheConfig {
	if viper.IsSet("cache.dir") {
		cfg.Dir = viper.GetString("cache.dir")
	}
	if viper.IsSet("cache.hot_entries") {
		cfg.HotEntries = viper.GetInt("cache.hot_entries")
	}
	if viper.IsSet("cache.compression") {
		cfg.Compression = viper.GetInt("cache.compression")
	}
	return cfg
}

func loadSynthesisConfig(cfg SynthesisConfig) SynthesisConfig {
	if viper.IsSet("synthesis.concurrency") {
		cfg.Concurrency = viper.GetInt("synthesis.concurrency")
	}
	if viper.IsSet("synthesis.requests_per_minute") {
		cfg.RequestsPerMinute = viper.GetInt("synthesis.requests_per_minute")
	}
	if viper.IsSet("synthesis.timeout") {
		cfg.Timeout = viper.GetDuration("synthesis.timeout")
	}
	if viper.IsSet("synthesis.max_retries") {
		cfg.MaxRetries = viper.GetUint("synthesis.max_retries")
	}
	if viper.IsSet("synthesis.breaker_threshold") {
		cfg.BreakerThreshold = viper.GetUint32("synthesis.breaker_threshold")
	}
	if viper.IsSet("synthesis.breaker_cooldown") {
		cfg.BreakerCooldown = viper.GetDuration("synthesis.breaker_cooldown")
	}
	if viper.IsSet("synthesis.fallback_failures") {
		cfg.FallbackFailures = viper.GetInt("synthesis.fallback_failures")
	}
	return cfg
}

func loadElevenLabsConfig(cfg ElevenLabsConfig) ElevenLabsConfig {
	if viper.IsSet("elevenlabs.voice_id") {
		cfg.VoiceID = viper.GetString("elevenlabs.voice_id")
	}
	if viper.IsSet("elevenlabs.model_id") {
		cfg.ModelID = viper.GetString("elevenlabs.model_id")
	}
	if viper.IsSet("elevenlabs.base_url") {
		cfg.BaseURL = viper.GetString("elevenlabs.base_url")
	}
	return cfg
}

func loadComposeConfig(cfg ComposeConfig) ComposeConfig {
	if viper.IsSet("compose.model") {
		cfg.Model = viper.GetString("compose.model")
	}
	if viper.IsSet("compose.age_group") {
		cfg.AgeGroup = viper.GetString("compose.age_group")
	}
	return cfg
}

func loadPlaybackConfig(cfg PlaybackConfig) PlaybackConfig {
	if viper.IsSet("playback.short_pause") {
		cfg.ShortPause = viper.GetDuration("playback.short_pause")
	}
	if viper.IsSet("playback.medium_pause") {
		cfg.MediumPause = viper.GetDuration("playback.medium_pause")
	}
	if viper.IsSet("playback.long_pause") {
		cfg.LongPause = viper.GetDuration("playback.long_pause")
	}
	if viper.IsSet("playback.continuous") {
		cfg.Continuous = viper.GetBool("playback.continuous")
	}
	if viper.IsSet("playback.volume") {
		cfg.Volume = viper.GetFloat64("playback.volume")
	}
	if viper.IsSet("playback.highlight_color") {
		cfg.HighlightColor = viper.GetString("playback.highlight_color")
	}
	return cfg
}

// SetDefaults registers the defaults with Viper so they show up in the
// merged configuration.
func SetDefaults() {
	d := DefaultConfig()

	viper.SetDefault("engine", d.Engine)
	viper.SetDefault("listen", d.Listen)
	viper.SetDefault("server", d.Server)
	viper.SetDefault("window_size", d.WindowSize)
	viper.SetDefault("sample_rate", d.SampleRate)

	viper.SetDefault("cache.hot_entries", d.Cache.HotEntries)
	viper.SetDefault("cache.compression", d.Cache.Compression)

	viper.SetDefault("synthesis.concurrency", d.Synthesis.Concurrency)
	viper.SetDefault("synthesis.requests_per_minute", d.Synthesis.RequestsPerMinute)
	viper.SetDefault("synthesis.timeout", d.Synthesis.Timeout)
	viper.SetDefault("synthesis.max_retries", d.Synthesis.MaxRetries)
	viper.SetDefault("synthesis.breaker_threshold", d.Synthesis.BreakerThreshold)
	viper.SetDefault("synthesis.breaker_cooldown", d.Synthesis.BreakerCooldown)

	viper.SetDefault("elevenlabs.voice_id", d.ElevenLabs.VoiceID)
	viper.SetDefault("elevenlabs.model_id", d.ElevenLabs.ModelID)
	viper.SetDefault("elevenlabs.base_url", d.ElevenLabs.BaseURL)

	viper.SetDefault("compose.model", d.Compose.Model)
	viper.SetDefault("compose.age_group", d.Compose.AgeGroup)

	viper.SetDefault("playback.short_pause", d.Playback.ShortPause)
	viper.SetDefault("playback.medium_pause", d.Playback.MediumPause)
	viper.SetDefault("playback.long_pause", d.Playback.LongPause)
	viper.SetDefault("playback.volume", d.Playback.Volume)
	viper.SetDefault("playback.highlight_color", d.Playback.HighlightColor)
}
