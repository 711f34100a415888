// Package session implements the per-listener streaming session: it owns the
// listener's text, tracks the delivery state of every window and pushes
// events as units resolve.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"

	"github.com/dgnsrekt/wordcast/internal/compose"
	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/internal/telemetry"
	"github.com/dgnsrekt/wordcast/internal/window"
	"github.com/dgnsrekt/wordcast/tts"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateIdle is the state before any text was set.
	StateIdle State = iota
	// StateTextSet accepts window requests.
	StateTextSet
	// StateClosed emits nothing further.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTextSet:
		return "text_set"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateIdle:    {StateTextSet, StateClosed},
	StateTextSet: {StateClosed},
}

// WindowState tracks one window of the session's text.
type WindowState int

const (
	NotRequested WindowState = iota
	InFlight
	Complete
)

// String returns the string representation of the window state.
func (w WindowState) String() string {
	switch w {
	case NotRequested:
		return "not_requested"
	case InFlight:
		return "in_flight"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Sink receives the session's events in order. A Sink error stops further
// delivery; resolution continues into the unit store.
type Sink interface {
	Send(event any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event any) error

// Send implements Sink.
func (f SinkFunc) Send(event any) error { return f(event) }

// Resolver resolves windows of units. *window.Generator implements it.
type Resolver interface {
	Resolve(ctx context.Context, units []tts.Unit, idx int, emit func(window.Result)) error
	Size() int
}

// Options configures a Session.
type Options struct {
	ID              string            // defaults to a fresh xid
	Decorator       compose.Decorator // optional per-window decoration
	DecorateTimeout time.Duration     // defaults to 2s
	Logger          *log.Logger
	Telemetry       *telemetry.Telemetry
}

// Session is one listener's streaming state. All methods are safe for
// concurrent use.
type Session struct {
	id              string
	ctx             context.Context
	resolver        Resolver
	sink            Sink
	decorator       compose.Decorator
	decorateTimeout time.Duration
	logger          *log.Logger
	tel             *telemetry.Telemetry

	// sendMu orders events on the sink and fences Close.
	sendMu sync.Mutex

	mu         sync.Mutex
	sm         *tts.StateMachine[State]
	units      []tts.Unit
	windows    []WindowState
	playing    int
	sinkFailed bool
	queue      chan int
	done       chan struct{}
}

// New creates a session. ctx bounds background resolution and should outlive
// the listener's connection: closing the session does not cancel it, so work
// in flight still reaches the unit store.
func New(ctx context.Context, resolver Resolver, sink Sink, opts Options) *Session {
	if opts.ID == "" {
		opts.ID = xid.New().String()
	}
	if opts.DecorateTimeout <= 0 {
		opts.DecorateTimeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Session{
		id:              opts.ID,
		ctx:             ctx,
		resolver:        resolver,
		sink:            sink,
		decorator:       opts.Decorator,
		decorateTimeout: opts.DecorateTimeout,
		logger:          logger.With("session", opts.ID),
		tel:             opts.Telemetry,
		sm:              tts.NewStateMachine(StateIdle, transitions),
		playing:         -1,
		done:            make(chan struct{}),
	}
	s.tel.SessionOpened()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SetText stores the full text, emits text_ready and returns the unit count.
// Text can be set once per session.
func (s *Session) SetText(text string) (int, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	switch s.sm.Current() {
	case StateClosed:
		s.mu.Unlock()
		return 0, tts.ErrChannelClosed
	case StateTextSet:
		s.mu.Unlock()
		return 0, tts.ErrTextAlreadySet
	}

	units := tts.Split(text)
	if len(units) == 0 {
		s.mu.Unlock()
		return 0, tts.ErrEmptyText
	}

	if err := s.sm.Transition(StateTextSet); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	count := tts.WindowCount(len(units), s.resolver.Size())
	s.units = units
	s.windows = make([]WindowState, count)
	// Each window is queued at most once, so sends never block.
	s.queue = make(chan int, count)
	s.mu.Unlock()

	s.logger.Debug("Text set", "units", len(units), "windows", count)
	s.sendLocked(protocol.NewTextReady(len(units), count, s.resolver.Size()))

	go s.run()
	return len(units), nil
}

// RequestWindow starts resolving window idx. Requests for a window that is
// already in flight or complete are no-ops.
func (s *Session) RequestWindow(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.sm.Current() {
	case StateClosed:
		return tts.ErrChannelClosed
	case StateIdle:
		return tts.ErrNoText
	}
	if idx < 0 || idx >= len(s.windows) {
		return tts.ErrOutOfRange
	}
	if s.windows[idx] != NotRequested {
		s.logger.Debug("Duplicate window request ignored", "window", idx, "state", s.windows[idx])
		return nil
	}

	s.windows[idx] = InFlight
	s.queue <- idx
	return nil
}

// SetPlaying records the listener's current playback position.
func (s *Session) SetPlaying(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.sm.Current() {
	case StateClosed:
		return tts.ErrChannelClosed
	case StateIdle:
		return tts.ErrNoText
	}
	if idx < 0 || idx >= len(s.units) {
		return tts.ErrOutOfRange
	}
	s.playing = idx
	return nil
}

// Close stops event delivery. Windows already requested still resolve into
// the unit store; Wait blocks until they have. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.sm.Current() == StateClosed {
		s.mu.Unlock()
		return nil
	}
	_ = s.sm.Transition(StateClosed)
	if s.queue != nil {
		close(s.queue)
	} else {
		close(s.done)
	}
	s.mu.Unlock()

	// Wait out an event already being written.
	s.sendMu.Lock()
	s.sendMu.Unlock()

	s.tel.SessionClosed()
	s.logger.Debug("Session closed")
	return nil
}

// Wait blocks until the session is closed and its background work is done.
func (s *Session) Wait() {
	<-s.done
}

// Info is a snapshot of the session.
type Info struct {
	ID         string
	State      State
	TotalUnits int
	Windows    []WindowState
	Playing    int
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.id,
		State:      s.sm.Current(),
		TotalUnits: len(s.units),
		Windows:    append([]WindowState(nil), s.windows...),
		Playing:    s.playing,
	}
}

// Window returns the state of window idx.
func (s *Session) Window(idx int) WindowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.windows) {
		return NotRequested
	}
	return s.windows[idx]
}

// run serializes window starts for the session.
func (s *Session) run() {
	defer close(s.done)
	for idx := range s.queue {
		s.resolve(idx)
	}
}

func (s *Session) resolve(idx int) {
	s.mu.Lock()
	units := s.units
	s.mu.Unlock()

	w, err := tts.WindowAt(idx, len(units), s.resolver.Size())
	if err != nil {
		s.logger.Error("Queued window out of range", "window", idx, "err", err)
		return
	}

	start := time.Now()
	s.send(protocol.NewWindowStarted(w, s.decorate(units[w.Start:w.End])))

	terminal := make(map[int]bool, w.Len())
	err = s.resolver.Resolve(s.ctx, units, idx, func(r window.Result) {
		if terminal[r.Unit.Index] {
			return
		}
		terminal[r.Unit.Index] = true

		if r.Err != nil {
			reason := "synthesis_failed"
			var ue *tts.UnitError
			if errors.As(r.Err, &ue) {
				reason = ue.Reason()
			}
			s.logger.Warn("Unit failed", "index", r.Unit.Index, "word", r.Unit.Text, "reason", reason)
			s.send(protocol.NewUnitError(r.Unit, reason))
			return
		}
		s.send(protocol.NewUnitReady(r.Unit, r.Audio, r.Cached, r.Decoration, r.Pause))
	})
	if err != nil {
		s.logger.Error("Window resolution failed", "window", idx, "err", err)
	}

	if len(terminal) != w.Len() {
		// Not every unit reached a terminal state; allow a later retry.
		s.mu.Lock()
		s.windows[idx] = NotRequested
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.windows[idx] = Complete
	s.mu.Unlock()

	s.send(protocol.NewWindowComplete(idx))
	s.tel.WindowCompleted()
	s.logger.Debug("Window complete", "window", idx, "elapsed", time.Since(start))
}

func (s *Session) decorate(units []tts.Unit) string {
	if s.decorator == nil {
		return ""
	}
	words := make([]string, len(units))
	for i, u := range units {
		words[i] = u.Text
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.decorateTimeout)
	defer cancel()
	d, err := s.decorator.Decorate(ctx, strings.Join(words, " "))
	if err != nil {
		s.logger.Debug("Decoration failed", "err", err)
		return ""
	}
	return d
}

// send delivers an event unless the session is closed or the sink failed.
func (s *Session) send(event any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.sendLocked(event)
}

func (s *Session) sendLocked(event any) {
	s.mu.Lock()
	skip := s.sm.Current() == StateClosed || s.sinkFailed
	s.mu.Unlock()
	if skip {
		return
	}

	if err := s.sink.Send(event); err != nil {
		s.mu.Lock()
		s.sinkFailed = true
		s.mu.Unlock()
		s.logger.Debug("Sink failed, suppressing further events", "err", err)
	}
}
