package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/tts/playback"
)

// HTTP calls the server's request/response endpoints.
type HTTP struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTP creates an HTTP client for the server at base.
func NewHTTP(base string) *HTTP {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &HTTP{
		BaseURL: strings.TrimRight(base, "/"),
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// Words resolves the whole text in one call. It is the fallback when the
// streaming channel is unavailable: no progressive delivery, no prefetch.
func (h *HTTP) Words(ctx context.Context, text string) (protocol.WordsResponse, error) {
	var resp protocol.WordsResponse
	err := h.post(ctx, "/api/words", protocol.WordsRequest{Text: text}, &resp)
	return resp, err
}

// Story asks the server's composer for a text.
func (h *HTTP) Story(ctx context.Context, req protocol.StoryRequest) (string, error) {
	var resp protocol.StoryResponse
	if err := h.post(ctx, "/api/story", req, &resp); err != nil {
		return "", err
	}
	return resp.Story, nil
}

// Health fetches the server's health report.
func (h *HTTP) Health(ctx context.Context) (protocol.HealthResponse, error) {
	var resp protocol.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/health", nil)
	if err != nil {
		return resp, err
	}
	return resp, h.do(req, &resp)
}

// Deliveries converts a synchronous response into scheduler deliveries.
func Deliveries(resp protocol.WordsResponse) []playback.Delivery {
	out := make([]playback.Delivery, len(resp.WordAudioList))
	for i, w := range resp.WordAudioList {
		out[i] = playback.Delivery{
			Index:      w.Index,
			Word:       w.Word,
			Audio:      w.Audio,
			Pause:      protocol.ParsePause(w.Pause),
			Decoration: w.IsDecoration,
			Failed:     w.Error != "",
		}
	}
	return out
}

func (h *HTTP) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req, out)
}

// APIError is a non-200 reply.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (h *HTTP) do(req *http.Request, out any) error {
	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Message}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
