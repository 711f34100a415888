package playback

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/wordcast/tts"
	"github.com/dgnsrekt/wordcast/tts/audio"
)

// requests records window requests.
type requests struct {
	mu      sync.Mutex
	windows []int
	err     error
}

func (r *requests) RequestWindow(w int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.windows = append(r.windows, w)
	return nil
}

func (r *requests) list() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.windows...)
}

// events collects scheduler notifications.
type events struct {
	mu  sync.Mutex
	all []Event
	ch  chan Event
}

func newEvents() *events { return &events{ch: make(chan Event, 256)} }

func (e *events) on(ev Event) {
	e.mu.Lock()
	e.all = append(e.all, ev)
	e.mu.Unlock()
	e.ch <- ev
}

func (e *events) highlights() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int
	for _, ev := range e.all {
		if ev.Kind == EventHighlight {
			out = append(out, ev.Index)
		}
	}
	return out
}

// waitFor blocks until an event of kind arrives.
func (e *events) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-e.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

type harness struct {
	s      *Scheduler
	player *audio.MockPlayer
	req    *requests
	ev     *events
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	player := audio.NewMockPlayer()
	player.SetDuration(5 * time.Millisecond)
	h := &harness{player: player, req: &requests{}, ev: newEvents()}
	h.s = New(Options{
		WindowSize: 5,
		Pauses: tts.PauseDurations{
			Short:  time.Millisecond,
			Medium: 2 * time.Millisecond,
			Long:   3 * time.Millisecond,
		},
		SkipDelay: time.Millisecond,
		Player:    player,
		Requester: h.req,
		Logger:    log.New(io.Discard),
		OnEvent:   h.ev.on,
	})
	t.Cleanup(func() { h.s.Close() })
	return h
}

func unit(i int) Delivery {
	return Delivery{Index: i, Audio: []byte{byte(i), 0}}
}

func (h *harness) deliver(t *testing.T, idx ...int) {
	t.Helper()
	for _, i := range idx {
		if err := h.s.Deliver(unit(i)); err != nil {
			t.Fatalf("Deliver(%d) failed: %v", i, err)
		}
	}
}

// played returns the unit indices whose audio ran to completion.
func (h *harness) played() []int {
	var out []int
	for _, a := range h.player.Played() {
		out = append(out, int(a[0]))
	}
	return out
}

func equal(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScheduler_ScenarioD(t *testing.T) {
	h := newHarness(t)
	h.s.SetTotal(12)
	h.deliver(t, 0, 1, 2, 3, 4, 5, 6)

	if err := h.s.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	ev := h.ev.waitFor(t, EventBoundaryPause)
	if ev.Index != 4 {
		t.Errorf("boundary pause at %d, want 4", ev.Index)
	}

	snap := h.s.Snapshot()
	if snap.State != Paused || snap.Cursor != 4 || snap.Anchor != 0 {
		t.Errorf("after boundary: %+v", snap)
	}
	if got := h.played(); !equal(got, []int{0, 1, 2, 3, 4}) {
		t.Errorf("played %v, want [0 1 2 3 4]", got)
	}

	// Play replays the boundary unit rather than running into window 1.
	if err := h.s.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	h.ev.waitFor(t, EventBoundaryPause)
	if got := h.played(); !equal(got, []int{0, 1, 2, 3, 4, 4}) {
		t.Errorf("played %v, want [0 1 2 3 4 4]", got)
	}
	if got := h.s.Snapshot().Cursor; got != 4 {
		t.Errorf("cursor = %d, want 4", got)
	}
}

func TestScheduler_ScenarioC(t *testing.T) {
	h := newHarness(t)
	h.s.SetTotal(3)
	h.deliver(t, 0, 2)
	if err := h.s.Fail(1); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	h.s.Play()
	h.ev.waitFor(t, EventFinished)

	if got := h.played(); !equal(got, []int{0, 2}) {
		t.Errorf("played %v, want [0 2]", got)
	}
	if got := h.ev.highlights(); !equal(got, []int{0, 1, 2}) {
		t.Errorf("highlighted %v, want [0 1 2]", got)
	}
	if got := h.s.Snapshot().State; got != Stopped {
		t.Errorf("state = %v, want stopped", got)
	}
}

func TestScheduler_WaitsForDelivery(t *testing.T) {
	h := newHarness(t)
	h.s.SetTotal(2)
	h.s.Play()

	time.Sleep(30 * time.Millisecond)
	snap := h.s.Snapshot()
	if snap.State != Playing || !snap.Waiting || snap.Cursor != 0 {
		t.Errorf("before delivery: %+v", snap)
	}
	if h.player.PlayCount() != 0 {
		t.Error("played before any unit arrived")
	}

	// Out of order arrival still plays in index order.
	h.deliver(t, 1)
	time.Sleep(20 * time.Millisecond)
	if h.player.PlayCount() != 0 {
		t.Error("played unit 1 before unit 0")
	}
	h.deliver(t, 0)
	h.ev.waitFor(t, EventFinished)
	if got := h.played(); !equal(got, []int{0, 1}) {
		t.Errorf("played %v, want [0 1]", got)
	}
}

func TestScheduler_PauseHaltsAudio(t *testing.T) {
	h := newHarness(t)
	h.player.SetDuration(time.Second)
	h.s.SetTotal(3)
	h.deliver(t, 0, 1, 2)

	h.s.Play()
	h.ev.waitFor(t, EventHighlight)
	deadline := time.Now().Add(time.Second)
	for h.player.PlayCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	if err := h.s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	for h.player.HaltCount() == 0 {
		if time.Since(start) > 500*time.Millisecond {
			t.Fatal("audio not halted after Pause")
		}
		time.Sleep(time.Millisecond)
	}

	time.Sleep(30 * time.Millisecond)
	if got := h.player.PlayCount(); got != 1 {
		t.Errorf("%d units started, want 1", got)
	}
	if snap := h.s.Snapshot(); snap.State != Paused || snap.Cursor != 0 {
		t.Errorf("after pause: %+v", snap)
	}

	// Resume replays the interrupted unit.
	h.player.SetDuration(5 * time.Millisecond)
	h.s.Play()
	h.ev.waitFor(t, EventFinished)
	if got := h.played(); !equal(got, []int{0, 1, 2}) {
		t.Errorf("played %v, want [0 1 2]", got)
	}
}

func TestScheduler_PlayWhilePlaying(t *testing.T) {
	h := newHarness(t)
	h.player.SetDuration(20 * time.Millisecond)
	h.s.SetTotal(3)
	h.deliver(t, 0, 1, 2)

	for i := 0; i < 5; i++ {
		h.s.Play()
	}
	h.ev.waitFor(t, EventFinished)

	if h.player.MaxConcurrent() != 1 {
		t.Errorf("max concurrent playback = %d, want 1", h.player.MaxConcurrent())
	}
	if got := h.played(); !equal(got, []int{0, 1, 2}) {
		t.Errorf("played %v, want [0 1 2]", got)
	}
}

func TestScheduler_SeekWindow(t *testing.T) {
	h := newHarness(t)

	if h.s.SeekWindow(0) {
		t.Error("seek succeeded before the total was known")
	}
	h.s.SetTotal(12)

	for _, w := range []int{-1, 3, 10} {
		if h.s.SeekWindow(w) {
			t.Errorf("SeekWindow(%d) succeeded", w)
		}
	}
	if len(h.req.list()) != 0 {
		t.Errorf("rejected seeks requested windows %v", h.req.list())
	}

	h.deliver(t, 10, 11)
	if !h.s.SeekWindow(2) {
		t.Fatal("SeekWindow(2) failed")
	}
	h.ev.waitFor(t, EventFinished)

	if got := h.req.list(); !equal(got, []int{2}) {
		t.Errorf("requested %v, want [2]", got)
	}
	if got := h.played(); !equal(got, []int{10, 11}) {
		t.Errorf("played %v, want [10 11]", got)
	}

	h.deliver(t, 5, 6, 7, 8, 9)
	if !h.s.SeekWindow(1) {
		t.Fatal("SeekWindow(1) failed")
	}
	h.ev.waitFor(t, EventBoundaryPause)
	// Window 2 was already requested.
	if got := h.req.list(); !equal(got, []int{2, 1}) {
		t.Errorf("requested %v, want [2 1]", got)
	}
	if snap := h.s.Snapshot(); snap.Anchor != 5 || snap.Cursor != 9 || snap.Window != 1 {
		t.Errorf("after seek: %+v", snap)
	}
}

func TestScheduler_PlayRequestsWindows(t *testing.T) {
	h := newHarness(t)
	h.s.SetTotal(12)
	h.s.Play()

	deadline := time.Now().Add(time.Second)
	for len(h.req.list()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := h.req.list(); !equal(got, []int{0, 1}) {
		t.Errorf("requested %v, want [0 1]", got)
	}
}

func TestScheduler_RequestRetriedAfterFailure(t *testing.T) {
	h := newHarness(t)
	h.req.err = errors.New("not connected")
	h.s.SetTotal(3)
	h.s.Play()
	h.s.Pause()

	h.req.mu.Lock()
	h.req.err = nil
	h.req.mu.Unlock()

	h.s.Play()
	if got := h.req.list(); !equal(got, []int{0}) {
		t.Errorf("requested %v, want [0]", got)
	}
}

func TestScheduler_ReplayCurrentWindow(t *testing.T) {
	h := newHarness(t)
	h.s.SetTotal(5)
	h.deliver(t, 0, 1, 2, 3, 4)

	h.s.Play()
	h.ev.waitFor(t, EventFinished)

	if err := h.s.ReplayCurrentWindow(); err != nil {
		t.Fatalf("ReplayCurrentWindow failed: %v", err)
	}
	h.ev.waitFor(t, EventFinished)
	if got := h.played(); !equal(got, []int{0, 1, 2, 3, 4, 0, 1, 2, 3, 4}) {
		t.Errorf("played %v", got)
	}
}

func TestScheduler_Decorations(t *testing.T) {
	h := newHarness(t)
	h.s.SetTotal(3)
	h.deliver(t, 0, 2)
	h.s.Deliver(Delivery{Index: 1, Word: "🌟", Decoration: true})

	h.s.Play()
	h.ev.waitFor(t, EventFinished)
	if got := h.played(); !equal(got, []int{0, 2}) {
		t.Errorf("played %v, want [0 2]", got)
	}
}

func TestScheduler_PauseClasses(t *testing.T) {
	player := audio.NewMockPlayer()
	player.SetDuration(time.Millisecond)
	ev := newEvents()
	s := New(Options{
		Pauses: tts.PauseDurations{
			Short:  10 * time.Millisecond,
			Medium: 10 * time.Millisecond,
			Long:   150 * time.Millisecond,
		},
		Player:  player,
		Logger:  log.New(io.Discard),
		OnEvent: ev.on,
	})
	defer s.Close()

	s.SetTotal(2)
	s.Deliver(Delivery{Index: 0, Word: "end.", Audio: []byte{0, 0}, Pause: tts.PauseLong})
	s.Deliver(unit(1))
	s.Play()

	first := ev.waitFor(t, EventHighlight)
	start := time.Now()
	second := ev.waitFor(t, EventHighlight)
	if first.Index != 0 || second.Index != 1 {
		t.Fatalf("highlights %d, %d", first.Index, second.Index)
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("long pause lasted %v, want >= 150ms", elapsed)
	}
}

func TestScheduler_DeliverOnce(t *testing.T) {
	h := newHarness(t)
	h.s.SetTotal(2)
	h.deliver(t, 0)
	h.s.Deliver(Delivery{Index: 0, Audio: []byte{9, 9}})
	h.s.Deliver(Delivery{Index: 7, Audio: []byte{7, 7}})

	if got := h.s.Snapshot().Buffered; got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
}

func TestScheduler_Close(t *testing.T) {
	h := newHarness(t)
	h.player.SetDuration(time.Second)
	h.s.SetTotal(1)
	h.deliver(t, 0)
	h.s.Play()
	h.ev.waitFor(t, EventHighlight)

	if err := h.s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.s.Play(); !errors.Is(err, tts.ErrSchedulerClosed) {
		t.Errorf("Play after close: got %v", err)
	}
	if h.s.SeekWindow(0) {
		t.Error("SeekWindow succeeded after close")
	}
	if err := h.s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
