package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgnsrekt/wordcast/tts"
)

// ElevenLabs defaults.
const (
	DefaultElevenLabsURL = "https://api.elevenlabs.io"
	DefaultVoiceID       = "JBFqnCBsd6RMkjVDRZzb"
	DefaultModelID       = "eleven_multilingual_v2"
)

// ElevenLabsConfig holds configuration for the ElevenLabs adapter.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string // defaults to DefaultVoiceID
	ModelID string // defaults to DefaultModelID
	BaseURL string // defaults to DefaultElevenLabsURL

	// SampleRate selects the pcm_<rate> output format (16000, 22050, 24000
	// or 44100). Defaults to 22050.
	SampleRate int

	// HTTPClient is used for requests. Defaults to a client with a 30s
	// timeout.
	HTTPClient *http.Client
}

type elevenLabsRequest struct {
	Text          string                `json:"text"`
	ModelID       string                `json:"model_id"`
	VoiceSettings elevenLabsVoiceConfig `json:"voice_settings"`
}

type elevenLabsVoiceConfig struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// enunciation favours a steady, clearly articulated delivery for single
// words over expressiveness.
var enunciation = elevenLabsVoiceConfig{
	Stability:       0.98,
	SimilarityBoost: 0.95,
	Style:           0,
	UseSpeakerBoost: true,
}

// ElevenLabs synthesizes words through the ElevenLabs REST API, returning raw
// signed 16-bit little endian mono PCM.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

// NewElevenLabs creates an ElevenLabs adapter.
func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("elevenlabs API key required (set ELEVENLABS_API_KEY)")
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultElevenLabsURL
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = tts.DefaultAudioFormat.SampleRate
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &ElevenLabs{cfg: cfg, client: client}, nil
}

// Name implements tts.Synthesizer.
func (e *ElevenLabs) Name() string { return "elevenlabs" }

// Format returns the PCM layout of the audio this adapter produces.
func (e *ElevenLabs) Format() tts.AudioFormat {
	return tts.AudioFormat{SampleRate: e.cfg.SampleRate, Channels: 1}
}

// Synthesize implements tts.Synthesizer. Unreachable or overloaded upstreams
// report tts.ErrAdapterUnavailable; rejected requests report
// tts.ErrSynthesisFailed.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", tts.ErrSynthesisFailed)
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       e.cfg.ModelID,
		VoiceSettings: enunciation,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		strings.TrimRight(e.cfg.BaseURL, "/"), url.PathEscape(e.cfg.VoiceID), e.cfg.SampleRate)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", tts.ErrSynthesisFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", tts.ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := tts.ErrSynthesisFailed
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			cause = tts.ErrAdapterUnavailable
		}
		return nil, fmt.Errorf("%w: elevenlabs status %d: %s", cause, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", tts.ErrAdapterUnavailable, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: elevenlabs returned no audio", tts.ErrSynthesisFailed)
	}

	// Keep whole 16-bit samples.
	return pcm[:len(pcm)&^1], nil
}
