package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dgnsrekt/wordcast/internal/compose"
	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/internal/session"
	"github.com/dgnsrekt/wordcast/tts"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closing() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Debug("Upgrade failed", "err", err)
		return
	}

	c := newConn(ws, s.logger)
	c.onReject = s.cfg.Telemetry.RequestRejected
	c.sess = session.New(s.ctx, s.cfg.Resolver, c, session.Options{
		Decorator: s.cfg.Decorator,
		Logger:    s.logger,
		Telemetry: s.cfg.Telemetry,
	})
	c.logger = s.logger.With("session", c.sess.ID())
	if !s.add(c) {
		c.sess.Close()
		_ = ws.Close()
		return
	}
	s.logger.Debug("Listener joined", "session", c.sess.ID(), "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump()

	c.sess.Close()
	s.remove(c)
	go func() {
		defer s.wg.Done()
		// Requested windows still finish into the unit store.
		c.sess.Wait()
	}()
}

func (s *Server) handleWords(w http.ResponseWriter, r *http.Request) {
	var req protocol.WordsRequest
	if !s.decode(w, r, &req) {
		return
	}

	results, err := s.cfg.Resolver.ResolveAll(r.Context(), req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tts.ErrEmptyText) {
			status = http.StatusBadRequest
		}
		s.fail(w, status, err)
		return
	}

	resp := protocol.WordsResponse{
		WordAudioList: make([]protocol.WordAudio, len(results)),
		TotalWords:    len(results),
	}
	for i, res := range results {
		wa := protocol.WordAudio{
			Word:         res.Unit.Text,
			Audio:        res.Audio,
			Index:        res.Unit.Index,
			Cached:       res.Cached,
			IsEmoji:      res.Decoration,
			IsDecoration: res.Decoration,
			Pause:        res.Pause.String(),
		}
		if res.Err != nil {
			var ue *tts.UnitError
			if errors.As(res.Err, &ue) {
				wa.Error = ue.Reason()
			} else {
				wa.Error = res.Err.Error()
			}
		}
		resp.WordAudioList[i] = wa
	}

	s.logger.Debug("Resolved words", "units", len(results))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Composer == nil {
		s.fail(w, http.StatusServiceUnavailable, compose.ErrNotConfigured)
		return
	}

	var req protocol.StoryRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Code: "empty_prompt", Message: "prompt is required"})
		return
	}

	story, err := s.cfg.Composer.Compose(r.Context(), compose.Request{
		Prompt:   req.Prompt,
		AgeGroup: req.AgeGroup,
		Category: req.Category,
	})
	if err != nil {
		s.logger.Error("Story composition failed", "composer", s.cfg.Composer.Name(), "err", err)
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StoryResponse{Story: story})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := protocol.HealthResponse{
		Status:     "healthy",
		Engine:     s.cfg.Engine,
		Composer:   "none",
		WindowSize: s.cfg.Resolver.Size(),
		Sessions:   s.Sessions(),
	}
	if s.cfg.Composer != nil {
		resp.Composer = s.cfg.Composer.Name()
	}
	if s.cfg.Store != nil {
		stats := s.cfg.Store.Stats()
		resp.Cache = stats.String()
		resp.CacheUnits = stats.Entries
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body, replying with 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxTextBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.cfg.Telemetry.RequestRejected("invalid_request")
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Code: "invalid_request", Message: err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	code := tts.ErrorCode(err)
	if errors.Is(err, compose.ErrNotConfigured) {
		code = "not_configured"
	}
	s.cfg.Telemetry.RequestRejected(code)
	writeJSON(w, status, protocol.ErrorResponse{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
