// Package playback sequences delivered units into audible, paced playback on
// the listener's side.
//
// A Scheduler owns a sparse buffer of delivered units, a cursor and the
// anchor of the active window. Every state change happens on one goroutine:
// public methods submit commands to it, and audio or pause completions come
// back as commands tagged with a generation token so work that was
// superseded by a pause or seek is ignored.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/wordcast/tts"
)

// State is the transport state of the scheduler.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Delivery is one unit as received from the server.
type Delivery struct {
	Index      int
	Word       string
	Audio      []byte
	Pause      tts.PauseClass
	Decoration bool
	Failed     bool
}

// silent reports whether the unit is passed over with the skip delay.
func (d Delivery) silent() bool {
	return d.Decoration || d.Failed || len(d.Audio) == 0
}

// EventKind identifies a scheduler notification.
type EventKind int

const (
	// EventHighlight fires as a unit starts; Index is the unit.
	EventHighlight EventKind = iota
	// EventBoundaryPause fires when playback stops at the end of a window.
	EventBoundaryPause
	// EventFinished fires after the last unit of the text.
	EventFinished
	// EventStateChanged fires on every transport state change.
	EventStateChanged
)

// Event is a scheduler notification.
type Event struct {
	Kind  EventKind
	Index int
	State State
}

// Options configures a Scheduler.
type Options struct {
	WindowSize int                // defaults to tts.DefaultWindowSize
	Pauses     tts.PauseDurations // defaults to tts.DefaultPauseDurations()
	SkipDelay  time.Duration      // delay for units without audio, defaults to 100ms
	Player     tts.AudioPlayer
	Requester  tts.WindowRequester // optional
	Logger     *log.Logger

	// OnEvent receives notifications in order on a dedicated goroutine. It
	// may call back into the Scheduler.
	OnEvent func(Event)
}

// Snapshot is the scheduler's observable state.
type Snapshot struct {
	State    State
	Cursor   int
	Anchor   int
	Window   int
	Total    int // 0 until SetTotal
	Buffered int
	Waiting  bool // playing but the unit at Cursor has not arrived
}

type command struct {
	fn    func()
	reply chan struct{}
}

// Scheduler plays units strictly in index order.
type Scheduler struct {
	opts   Options
	logger *log.Logger

	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Owned by the loop goroutine.
	state     State
	cursor    int
	anchor    int
	total     int
	buffer    map[int]Delivery
	requested map[int]bool
	waiting   bool
	gen       uint64
	halt      context.CancelFunc

	evMu     sync.Mutex
	evQueue  []Event
	evSignal chan struct{}
}

// New creates a Scheduler and starts its loop.
func New(opts Options) *Scheduler {
	if opts.WindowSize <= 0 {
		opts.WindowSize = tts.DefaultWindowSize
	}
	if opts.Pauses == (tts.PauseDurations{}) {
		opts.Pauses = tts.DefaultPauseDurations()
	}
	if opts.SkipDelay <= 0 {
		opts.SkipDelay = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Scheduler{
		opts:      opts,
		logger:    logger.WithPrefix("playback"),
		cmds:      make(chan command),
		done:      make(chan struct{}),
		buffer:    make(map[int]Delivery),
		requested: make(map[int]bool),
		evSignal:  make(chan struct{}, 1),
	}

	s.wg.Add(2)
	go s.run()
	go s.dispatch()
	return s
}

// Play starts playback at the anchor of the active window, or resumes a
// paused scheduler by replaying the unit at the cursor. Play while playing
// is a no-op.
func (s *Scheduler) Play() error {
	return s.do(s.play)
}

// Pause halts audio immediately. No further unit starts until Play.
func (s *Scheduler) Pause() error {
	return s.do(s.pause)
}

// SeekWindow moves to the first unit of window w, requests w and w+1 and
// plays. It reports false, changing nothing, when w is outside the text.
func (s *Scheduler) SeekWindow(w int) bool {
	var ok bool
	if err := s.do(func() { ok = s.seek(w) }); err != nil {
		return false
	}
	return ok
}

// ReplayCurrentWindow restarts playback at the anchor.
func (s *Scheduler) ReplayCurrentWindow() error {
	return s.do(s.replay)
}

// Deliver buffers a unit. The first delivery for an index wins.
func (s *Scheduler) Deliver(d Delivery) error {
	return s.do(func() { s.deliver(d) })
}

// Fail records that a unit will never arrive; playback skips it.
func (s *Scheduler) Fail(index int) error {
	return s.Deliver(Delivery{Index: index, Failed: true})
}

// SetTotal records the number of units in the text.
func (s *Scheduler) SetTotal(n int) error {
	return s.do(func() { s.setTotal(n) })
}

// Snapshot returns the current state. After Close it returns the zero value.
func (s *Scheduler) Snapshot() Snapshot {
	var snap Snapshot
	_ = s.do(func() {
		snap = Snapshot{
			State:    s.state,
			Cursor:   s.cursor,
			Anchor:   s.anchor,
			Window:   tts.WindowOf(s.anchor, s.opts.WindowSize),
			Total:    s.total,
			Buffered: len(s.buffer),
			Waiting:  s.waiting,
		}
	})
	return snap
}

// Close halts playback and stops the scheduler.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

// do runs fn on the loop goroutine and waits for it.
func (s *Scheduler) do(fn func()) error {
	reply := make(chan struct{})
	select {
	case s.cmds <- command{fn: fn, reply: reply}:
	case <-s.done:
		return tts.ErrSchedulerClosed
	}
	select {
	case <-reply:
		return nil
	case <-s.done:
		return tts.ErrSchedulerClosed
	}
}

// post queues fn without waiting. Used by audio and timer completions.
func (s *Scheduler) post(fn func()) {
	select {
	case s.cmds <- command{fn: fn}:
	case <-s.done:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case c := <-s.cmds:
			c.fn()
			if c.reply != nil {
				close(c.reply)
			}
		case <-s.done:
			s.gen++
			s.stopAudio()
			return
		}
	}
}

func (s *Scheduler) play() {
	if s.state == Playing {
		return
	}
	if s.state == Stopped {
		s.cursor = s.anchor
	}
	s.setState(Playing)
	s.prefetch(tts.WindowOf(s.anchor, s.opts.WindowSize))
	s.step()
}

func (s *Scheduler) pause() {
	if s.state != Playing {
		return
	}
	s.gen++
	s.stopAudio()
	s.waiting = false
	s.setState(Paused)
}

func (s *Scheduler) seek(w int) bool {
	start := w * s.opts.WindowSize
	if w < 0 || s.total <= 0 || start >= s.total {
		s.logger.Debug("Seek ignored", "window", w, "total", s.total)
		return false
	}

	s.gen++
	s.stopAudio()
	s.anchor = start
	s.cursor = start
	s.setState(Playing)
	s.prefetch(w)
	s.step()
	return true
}

func (s *Scheduler) replay() {
	s.gen++
	s.stopAudio()
	s.cursor = s.anchor
	s.setState(Playing)
	s.prefetch(tts.WindowOf(s.anchor, s.opts.WindowSize))
	s.step()
}

func (s *Scheduler) deliver(d Delivery) {
	if d.Index < 0 || (s.total > 0 && d.Index >= s.total) {
		s.logger.Warn("Delivery out of range", "index", d.Index, "total", s.total)
		return
	}
	if _, ok := s.buffer[d.Index]; ok {
		return
	}
	s.buffer[d.Index] = d

	if s.state == Playing && s.waiting && d.Index == s.cursor {
		s.step()
	}
}

func (s *Scheduler) setTotal(n int) {
	s.total = n
	if s.state != Playing {
		return
	}
	s.prefetch(tts.WindowOf(s.anchor, s.opts.WindowSize))
	if s.waiting && s.cursor >= s.total {
		s.finish()
	}
}

// step starts the unit at the cursor, or waits for it to arrive.
func (s *Scheduler) step() {
	s.gen++
	gen := s.gen

	if s.total > 0 && s.cursor >= s.total {
		s.finish()
		return
	}

	d, ok := s.buffer[s.cursor]
	if !ok {
		s.waiting = true
		s.logger.Debug("Waiting for unit", "index", s.cursor)
		return
	}
	s.waiting = false
	s.emit(Event{Kind: EventHighlight, Index: s.cursor, State: s.state})

	if d.silent() {
		s.after(gen, s.opts.SkipDelay)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.halt = cancel
	pause := s.opts.Pauses.For(d.Pause)
	index := s.cursor

	go func() {
		err := s.opts.Player.Play(ctx, d.Audio)
		s.post(func() {
			if gen != s.gen {
				return
			}
			s.stopAudio()
			if err != nil {
				s.logger.Warn("Playback failed, skipping unit", "index", index, "err", err)
			}
			s.after(gen, pause)
		})
	}()
}

// after advances past the current unit once d has elapsed, unless the
// generation moved on in the meantime.
func (s *Scheduler) after(gen uint64, d time.Duration) {
	time.AfterFunc(d, func() {
		s.post(func() {
			if gen == s.gen {
				s.advance()
			}
		})
	})
}

func (s *Scheduler) advance() {
	next := s.cursor + 1
	if s.total > 0 && next >= s.total {
		s.finish()
		return
	}
	if next-s.anchor >= s.opts.WindowSize {
		// Leave the cursor on the last played unit so Play replays the
		// boundary instead of running past it.
		s.setState(Paused)
		s.emit(Event{Kind: EventBoundaryPause, Index: s.cursor, State: s.state})
		return
	}
	s.cursor = next
	s.step()
}

func (s *Scheduler) finish() {
	s.waiting = false
	s.setState(Stopped)
	s.emit(Event{Kind: EventFinished, Index: s.cursor, State: s.state})
}

// prefetch requests window w and the one after it.
func (s *Scheduler) prefetch(w int) {
	if s.total <= 0 {
		return
	}
	count := tts.WindowCount(s.total, s.opts.WindowSize)
	for _, idx := range []int{w, w + 1} {
		if idx < count {
			s.request(idx)
		}
	}
}

func (s *Scheduler) request(w int) {
	if s.requested[w] || s.opts.Requester == nil {
		return
	}
	s.requested[w] = true
	if err := s.opts.Requester.RequestWindow(w); err != nil {
		s.logger.Warn("Window request failed", "window", w, "err", err)
		delete(s.requested, w)
	}
}

func (s *Scheduler) stopAudio() {
	if s.halt != nil {
		s.halt()
		s.halt = nil
	}
}

func (s *Scheduler) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("State change", "from", s.state, "to", st, "cursor", s.cursor)
	s.state = st
	s.emit(Event{Kind: EventStateChanged, Index: s.cursor, State: st})
}

func (s *Scheduler) emit(e Event) {
	if s.opts.OnEvent == nil {
		return
	}
	s.evMu.Lock()
	s.evQueue = append(s.evQueue, e)
	s.evMu.Unlock()
	select {
	case s.evSignal <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.evSignal:
		case <-s.done:
			return
		}
		for {
			s.evMu.Lock()
			if len(s.evQueue) == 0 {
				s.evMu.Unlock()
				break
			}
			e := s.evQueue[0]
			s.evQueue = s.evQueue[1:]
			s.evMu.Unlock()
			s.opts.OnEvent(e)
		}
	}
}
