package window

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/wordcast/internal/cache"
	"github.com/dgnsrekt/wordcast/tts"
	"github.com/dgnsrekt/wordcast/tts/engines"
	"github.com/dgnsrekt/wordcast/tts/engines/mock"
)

func newTestGenerator(t *testing.T, opts Options) (*Generator, *mock.Engine, *cache.Store) {
	t.Helper()
	store, err := cache.Open(cache.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	engine := mock.New()
	return New(store, engine, opts), engine, store
}

func TestResolve_ScenarioA(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{})
	units := tts.Split("The cat sat.")

	var events []Result
	if err := g.Resolve(context.Background(), units, 0, func(r Result) {
		events = append(events, r)
	}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d terminal events, want 3", len(events))
	}

	pauses := make([]tts.PauseClass, 3)
	for _, r := range events {
		if r.Err != nil {
			t.Errorf("unit %d failed: %v", r.Unit.Index, r.Err)
		}
		if r.Cached {
			t.Errorf("unit %d cached on first resolution", r.Unit.Index)
		}
		pauses[r.Unit.Index] = r.Pause
	}
	want := []tts.PauseClass{tts.PauseShort, tts.PauseShort, tts.PauseLong}
	for i := range want {
		if pauses[i] != want[i] {
			t.Errorf("pause[%d] = %v, want %v", i, pauses[i], want[i])
		}
	}
	if engine.TotalCalls() != 3 {
		t.Errorf("synthesizer called %d times, want 3", engine.TotalCalls())
	}
}

func TestResolve_ScenarioB(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{})
	ctx := context.Background()

	first, err := g.ResolveWindow(ctx, "The cat sat on the mat.", 0)
	if err != nil {
		t.Fatal(err)
	}
	calls := engine.TotalCalls()

	second, err := g.ResolveWindow(ctx, "The cat sat on the mat. A dog!", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range second {
		if !r.Cached {
			t.Errorf("unit %d %q not cached on second resolution", r.Unit.Index, r.Unit.Text)
		}
	}
	if engine.TotalCalls() != calls {
		t.Errorf("second resolution synthesized %d more units", engine.TotalCalls()-calls)
	}

	// "the" appears twice within the first window; case folding makes it one key.
	if engine.Calls("the") != 1 {
		t.Errorf("\"the\" synthesized %d times, want 1", engine.Calls("the"))
	}
	if len(first) != 5 || first[4].Unit.Text != "the" {
		t.Errorf("unexpected first window: %+v", first)
	}

	// Window 1 holds "mat." plus "A dog!", none of which were resolved before.
	third, err := g.ResolveWindow(ctx, "The cat sat on the mat. A dog!", 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range third {
		if r.Cached {
			t.Errorf("%q cached before it was ever resolved", r.Unit.Text)
		}
	}
}

func TestResolve_ScenarioC(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{})
	engine.FailWord("cat", tts.ErrSynthesisFailed)

	results, err := g.ResolveWindow(context.Background(), "The cat sat.", 0)
	if err != nil {
		t.Fatalf("a unit failure aborted the window: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	var ue *tts.UnitError
	if !errors.As(results[1].Err, &ue) || ue.Index != 1 {
		t.Fatalf("unit 1 error = %v, want UnitError for index 1", results[1].Err)
	}
	if ue.Reason() != "synthesis_failed" {
		t.Errorf("Reason = %q", ue.Reason())
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Error("neighbouring units failed")
	}
	if len(results[2].Audio) == 0 {
		t.Error("unit 2 has no audio")
	}
}

func TestResolve_FailureNotCached(t *testing.T) {
	g, engine, store := newTestGenerator(t, Options{})
	engine.FailWord("flaky", tts.ErrAdapterUnavailable)

	results, _ := g.ResolveWindow(context.Background(), "flaky", 0)
	if results[0].Err == nil {
		t.Fatal("expected failure")
	}
	if store.Contains(tts.Key("flaky")) {
		t.Error("failed unit was stored")
	}

	engine.ClearFailures()
	results, _ = g.ResolveWindow(context.Background(), "flaky", 0)
	if results[0].Err != nil || results[0].Cached {
		t.Errorf("retry after failure: %+v", results[0])
	}
}

func TestResolve_OutOfRange(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{})
	units := tts.Split("one two three")

	called := false
	err := g.Resolve(context.Background(), units, 1, func(Result) { called = true })
	if !errors.Is(err, tts.ErrOutOfRange) {
		t.Errorf("got %v, want ErrOutOfRange", err)
	}
	if called || engine.TotalCalls() != 0 {
		t.Error("out of range request did work")
	}

	if err := g.Resolve(context.Background(), units, -1, func(Result) {}); !errors.Is(err, tts.ErrOutOfRange) {
		t.Errorf("negative index: got %v", err)
	}
	if _, err := g.ResolveWindow(context.Background(), "   ", 0); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: got %v", err)
	}
}

func TestResolve_Decorations(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{})

	results, err := g.ResolveWindow(context.Background(), "Hello 🐱 world", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !results[1].Decoration || results[1].Audio != nil || results[1].Err != nil {
		t.Errorf("decoration result = %+v", results[1])
	}
	if engine.TotalCalls() != 2 {
		t.Errorf("synthesizer called %d times, want 2", engine.TotalCalls())
	}
}

func TestResolve_ConcurrencyCap(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{Size: 8, Concurrency: 2})
	engine.SetDelay(20 * time.Millisecond)

	if _, err := g.ResolveWindow(context.Background(), "a b c d e f g h", 0); err != nil {
		t.Fatal(err)
	}
	if got := engine.MaxConcurrent(); got > 2 {
		t.Errorf("MaxConcurrent = %d, want at most 2", got)
	}
	if got := engine.MaxConcurrent(); got < 2 {
		t.Errorf("MaxConcurrent = %d, synthesis never overlapped", got)
	}
}

func TestResolve_SharedMisses(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{})
	engine.SetDelay(30 * time.Millisecond)

	// Two listeners race on the same words.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		fresh   int
		results int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs, err := g.ResolveWindow(context.Background(), "Star star STAR!", 0)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range rs {
				results++
				if !r.Cached {
					fresh++
				}
			}
		}()
	}
	wg.Wait()

	if engine.TotalCalls() != 1 {
		t.Errorf("synthesizer called %d times, want 1", engine.TotalCalls())
	}
	if results != 6 || fresh != 1 {
		t.Errorf("results=%d fresh=%d, want 6 and 1", results, fresh)
	}
}

func TestResolve_RepeatedWordInWindow(t *testing.T) {
	g, engine, _ := newTestGenerator(t, Options{})
	engine.SetDelay(50 * time.Millisecond)

	results, err := g.ResolveWindow(context.Background(), "the the", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	fresh := 0
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("unit %d failed: %v", r.Unit.Index, r.Err)
		}
		if len(r.Audio) == 0 {
			t.Errorf("unit %d has no audio", r.Unit.Index)
		}
		if !r.Cached {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("%d units reported cached=false, want exactly 1", fresh)
	}
	if engine.TotalCalls() != 1 {
		t.Errorf("synthesizer called %d times, want 1", engine.TotalCalls())
	}
}

func TestResolve_SubstituteNotStored(t *testing.T) {
	store, err := cache.Open(cache.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	primary := mock.New()
	primary.SetFailure(tts.ErrAdapterUnavailable)
	g := New(store, engines.NewFallback(primary, mock.New(), 1, nil), Options{})

	results, err := g.ResolveWindow(context.Background(), "Hello", 0)
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.Err != nil {
		t.Fatalf("unit failed: %v", r.Err)
	}
	if len(r.Audio) == 0 || r.Cached {
		t.Errorf("result = cached %v, %d bytes; want fresh stand-in audio", r.Cached, len(r.Audio))
	}
	if _, ok := store.Get(tts.Key("Hello")); ok {
		t.Error("stand-in audio was stored under the word's key")
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d entries, want 0", store.Len())
	}
}

func TestResolveAll(t *testing.T) {
	g, _, _ := newTestGenerator(t, Options{Size: 2})

	results, err := g.ResolveAll(context.Background(), "one two three four five")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for i, r := range results {
		if r.Unit.Index != i {
			t.Errorf("results[%d] has index %d", i, r.Unit.Index)
		}
		if len(r.Audio) == 0 {
			t.Errorf("results[%d] has no audio", i)
		}
	}
}

func TestResolve_Observe(t *testing.T) {
	var (
		mu   sync.Mutex
		seen int
	)
	g, _, _ := newTestGenerator(t, Options{Observe: func(Result) {
		mu.Lock()
		seen++
		mu.Unlock()
	}})
	if _, err := g.ResolveWindow(context.Background(), "a b c", 0); err != nil {
		t.Fatal(err)
	}
	if seen != 3 {
		t.Errorf("observed %d results, want 3", seen)
	}
}
