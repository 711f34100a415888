package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/wordcast/internal/cache"
	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/internal/window"
	"github.com/dgnsrekt/wordcast/tts"
	"github.com/dgnsrekt/wordcast/tts/engines/mock"
)

// recorder is a Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []any
	fail   error
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1024)}
}

func (r *recorder) Send(event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, event)
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

// waitFor blocks until n window_complete events have been seen.
func (r *recorder) waitFor(t *testing.T, n int) []any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		events := r.snapshot()
		if countType[protocol.WindowComplete](events) >= n {
			return events
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d window_complete events, got %v", n, events)
		}
	}
}

func countType[T any](events []any) int {
	n := 0
	for _, e := range events {
		if _, ok := e.(T); ok {
			n++
		}
	}
	return n
}

type fixture struct {
	engine *mock.Engine
	store  *cache.Store
	gen    *window.Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := cache.Open(cache.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	engine := mock.New()
	return &fixture{
		engine: engine,
		store:  store,
		gen:    window.New(store, engine, window.Options{Logger: log.New(io.Discard)}),
	}
}

func (f *fixture) session(t *testing.T, sink Sink, opts Options) *Session {
	t.Helper()
	opts.Logger = log.New(io.Discard)
	s := New(context.Background(), f.gen, sink, opts)
	t.Cleanup(func() {
		s.Close()
		s.Wait()
	})
	return s
}

func TestSetText(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	s := f.session(t, rec, Options{})

	n, err := s.SetText("Once upon a time there was a fox.")
	if err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if n != 8 {
		t.Errorf("got %d units, want 8", n)
	}

	events := rec.snapshot()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ready, ok := events[0].(protocol.TextReady)
	if !ok {
		t.Fatalf("first event is %T, want TextReady", events[0])
	}
	if ready.TotalUnits != 8 || ready.TotalWindows != 2 || ready.WindowSize != 5 {
		t.Errorf("unexpected text_ready: %+v", ready)
	}
	if got := s.Snapshot().State; got != StateTextSet {
		t.Errorf("state = %v, want text_set", got)
	}
}

func TestSetText_Errors(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, newRecorder(), Options{})

	if _, err := s.SetText("   \n\t"); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: got %v, want ErrEmptyText", err)
	}
	if got := s.Snapshot().State; got != StateIdle {
		t.Errorf("state after empty text = %v, want idle", got)
	}
	if err := s.RequestWindow(0); !errors.Is(err, tts.ErrNoText) {
		t.Errorf("request before text: got %v, want ErrNoText", err)
	}

	if _, err := s.SetText("hello world"); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if _, err := s.SetText("again"); !errors.Is(err, tts.ErrTextAlreadySet) {
		t.Errorf("second text: got %v, want ErrTextAlreadySet", err)
	}
}

func TestRequestWindow_ScenarioA(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	s := f.session(t, rec, Options{})

	if _, err := s.SetText("The cat sat."); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if err := s.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}
	events := rec.waitFor(t, 1)

	if _, ok := events[0].(protocol.TextReady); !ok {
		t.Errorf("first event is %T, want TextReady", events[0])
	}
	if started, ok := events[1].(protocol.WindowStarted); !ok || started.StartIndex != 0 || started.EndIndex != 3 {
		t.Errorf("second event = %+v, want window_started 0..3", events[1])
	}
	if got := countType[protocol.UnitReady](events); got != 3 {
		t.Errorf("got %d unit_ready events, want 3", got)
	}
	if _, ok := events[len(events)-1].(protocol.WindowComplete); !ok {
		t.Errorf("last event is %T, want WindowComplete", events[len(events)-1])
	}
	if got := s.Window(0); got != Complete {
		t.Errorf("window state = %v, want complete", got)
	}

	for _, e := range events {
		if u, ok := e.(protocol.UnitReady); ok && u.Cached {
			t.Errorf("unit %d reported cached on first resolution", u.Index)
		}
	}
}

func TestRequestWindow_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.engine.SetDelay(20 * time.Millisecond)
	rec := newRecorder()
	s := f.session(t, rec, Options{})

	if _, err := s.SetText("one two three four five six"); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.RequestWindow(0); err != nil {
			t.Fatalf("RequestWindow failed: %v", err)
		}
	}
	events := rec.waitFor(t, 1)

	// Give a stray duplicate time to show up.
	time.Sleep(50 * time.Millisecond)
	events = rec.snapshot()

	if got := countType[protocol.WindowStarted](events); got != 1 {
		t.Errorf("got %d window_started events, want 1", got)
	}
	if got := countType[protocol.WindowComplete](events); got != 1 {
		t.Errorf("got %d window_complete events, want 1", got)
	}
	if got := countType[protocol.UnitReady](events); got != 5 {
		t.Errorf("got %d unit_ready events, want 5", got)
	}

	// Complete windows stay complete.
	if err := s.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}
	if got := s.Window(0); got != Complete {
		t.Errorf("window state = %v, want complete", got)
	}
}

func TestRequestWindow_OutOfRange(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	s := f.session(t, rec, Options{})

	if _, err := s.SetText("one two three"); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	for _, idx := range []int{-1, 1, 7} {
		if err := s.RequestWindow(idx); !errors.Is(err, tts.ErrOutOfRange) {
			t.Errorf("RequestWindow(%d): got %v, want ErrOutOfRange", idx, err)
		}
	}
	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("got %d events, want only text_ready", got)
	}
}

func TestRequestWindow_ScenarioC(t *testing.T) {
	f := newFixture(t)
	f.engine.FailWord("sat", tts.ErrSynthesisFailed)
	rec := newRecorder()
	s := f.session(t, rec, Options{})

	if _, err := s.SetText("The cat sat."); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if err := s.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}
	events := rec.waitFor(t, 1)

	if got := countType[protocol.UnitReady](events); got != 2 {
		t.Errorf("got %d unit_ready events, want 2", got)
	}
	var unitErr *protocol.UnitError
	for _, e := range events {
		if ue, ok := e.(protocol.UnitError); ok {
			unitErr = &ue
		}
	}
	if unitErr == nil {
		t.Fatal("no unit_error event")
	}
	if unitErr.Index != 2 || unitErr.Reason != "synthesis_failed" {
		t.Errorf("unexpected unit_error: %+v", unitErr)
	}
	if f.store.Contains(tts.Key("sat.")) {
		t.Error("failed unit was written to the store")
	}
}

func TestRequestWindow_Decoration(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	s := f.session(t, rec, Options{Decorator: staticDecorator("🦊")})

	if _, err := s.SetText("the fox 🌟 ran"); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if err := s.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}
	events := rec.waitFor(t, 1)

	for _, e := range events {
		switch ev := e.(type) {
		case protocol.WindowStarted:
			if ev.Decoration != "🦊" {
				t.Errorf("decoration = %q, want 🦊", ev.Decoration)
			}
		case protocol.UnitReady:
			if ev.Index == 2 && (!ev.IsDecoration || len(ev.Audio) != 0) {
				t.Errorf("emoji unit not delivered as decoration: %+v", ev)
			}
		}
	}
	if f.engine.TotalCalls() != 3 {
		t.Errorf("synthesizer called %d times, want 3", f.engine.TotalCalls())
	}
}

type staticDecorator string

func (d staticDecorator) Decorate(context.Context, string) (string, error) {
	return string(d), nil
}

func TestSharedStoreAcrossSessions(t *testing.T) {
	f := newFixture(t)
	text := "The cat sat on the mat."

	first := newRecorder()
	s1 := f.session(t, first, Options{})
	if _, err := s1.SetText(text); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if err := s1.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}
	first.waitFor(t, 1)
	calls := f.engine.TotalCalls()

	second := newRecorder()
	s2 := f.session(t, second, Options{})
	if _, err := s2.SetText(text); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if err := s2.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}
	events := second.waitFor(t, 1)

	for _, e := range events {
		if u, ok := e.(protocol.UnitReady); ok && !u.Cached {
			t.Errorf("unit %d not served from the store", u.Index)
		}
	}
	if f.engine.TotalCalls() != calls {
		t.Errorf("second session synthesized %d more units", f.engine.TotalCalls()-calls)
	}
}

func TestClose_StopsEvents(t *testing.T) {
	f := newFixture(t)
	f.engine.SetDelay(30 * time.Millisecond)
	rec := newRecorder()
	s := f.session(t, rec, Options{})

	if _, err := s.SetText("alpha beta gamma delta epsilon"); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if err := s.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	seen := len(rec.snapshot())
	s.Wait()

	if got := len(rec.snapshot()); got != seen {
		t.Errorf("%d events delivered after Close", got-seen)
	}

	// The in-flight window still reached the store.
	for _, w := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		if !f.store.Contains(tts.Key(w)) {
			t.Errorf("%q missing from store after close", w)
		}
	}

	if err := s.RequestWindow(0); !errors.Is(err, tts.ErrChannelClosed) {
		t.Errorf("request after close: got %v, want ErrChannelClosed", err)
	}
	if _, err := s.SetText("more"); !errors.Is(err, tts.ErrChannelClosed) {
		t.Errorf("text after close: got %v, want ErrChannelClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestClose_BeforeText(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, newRecorder(), Options{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on a session that never had text")
	}
}

func TestSinkFailure(t *testing.T) {
	f := newFixture(t)
	rec := newRecorder()
	s := f.session(t, rec, Options{})

	if _, err := s.SetText("one two three"); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}

	rec.mu.Lock()
	rec.fail = errors.New("connection reset")
	rec.mu.Unlock()

	if err := s.RequestWindow(0); err != nil {
		t.Fatalf("RequestWindow failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.Window(0) != Complete {
		if time.Now().After(deadline) {
			t.Fatal("window never completed after sink failure")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if f.store.Len() != 3 {
		t.Errorf("store has %d units, want 3", f.store.Len())
	}
	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("got %d recorded events, want only text_ready", got)
	}
}

func TestSetPlaying(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, newRecorder(), Options{})

	if err := s.SetPlaying(0); !errors.Is(err, tts.ErrNoText) {
		t.Errorf("before text: got %v, want ErrNoText", err)
	}
	if _, err := s.SetText("a b c"); err != nil {
		t.Fatalf("SetText failed: %v", err)
	}
	if err := s.SetPlaying(2); err != nil {
		t.Fatalf("SetPlaying failed: %v", err)
	}
	if got := s.Snapshot().Playing; got != 2 {
		t.Errorf("playing = %d, want 2", got)
	}
	if err := s.SetPlaying(3); !errors.Is(err, tts.ErrOutOfRange) {
		t.Errorf("past end: got %v, want ErrOutOfRange", err)
	}
}

func TestID(t *testing.T) {
	f := newFixture(t)
	a := f.session(t, newRecorder(), Options{})
	b := f.session(t, newRecorder(), Options{})
	c := f.session(t, newRecorder(), Options{ID: "fixed"})

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("generated IDs not unique: %q %q", a.ID(), b.ID())
	}
	if c.ID() != "fixed" {
		t.Errorf("ID = %q, want fixed", c.ID())
	}
}
