package compose

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCanned_Compose(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"category from prompt", Request{Prompt: "a fluffy cat", AgeGroup: "4-6"}, stories["animals"]["4-6"]},
		{"explicit category", Request{Prompt: "anything", Category: "magic", AgeGroup: "8-10"}, stories["magic"]["8-10"]},
		{"default category", Request{Prompt: "a teacup", AgeGroup: "6-8"}, stories["adventure"]["6-8"]},
		{"unknown age", Request{Prompt: "friends", AgeGroup: "99"}, stories["friendship"]["6-8"]},
		{"unknown category", Request{Prompt: "a wizard", Category: "horror"}, stories["magic"]["6-8"]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canned{}.Compose(context.Background(), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeywordIcons(t *testing.T) {
	tests := []struct {
		words string
		want  string
	}{
		{"The cat sat.", "🐱😺"},
		{"Sun shone bright", "☀️🌞"},
		{"the teacup", DefaultDecoration},
		{"", DefaultDecoration},
		// Whole words only: "locate" does not contain a cat.
		{"locate", DefaultDecoration},
	}
	for _, tt := range tests {
		if got := KeywordIcons(tt.words); got != tt.want {
			t.Errorf("KeywordIcons(%q) = %q, want %q", tt.words, got, tt.want)
		}
	}

	got := KeywordIcons("cat dog bird fish bunny bear")
	if n := len([]rune(strings.ReplaceAll(got, "\ufe0f", ""))); n != maxIcons {
		t.Errorf("KeywordIcons returned %d icons (%q), want %d", n, got, maxIcons)
	}
}

func fakeGemini(reply string, err error) *Gemini {
	return &Gemini{
		model:  "test",
		logger: testLogger(),
		generate: func(ctx context.Context, prompt string, temperature float32, maxTokens int32) (string, error) {
			return reply, err
		},
	}
}

func TestGemini_Compose(t *testing.T) {
	g := fakeGemini("Story: Ember breathed bubbles.\n", nil)

	got, err := g.Compose(context.Background(), Request{Prompt: "a dragon"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Ember breathed bubbles." {
		t.Errorf("got %q", got)
	}

	g = fakeGemini("  ", nil)
	if _, err := g.Compose(context.Background(), Request{Prompt: "x"}); err == nil {
		t.Error("expected error for empty story")
	}

	boom := errors.New("boom")
	g = fakeGemini("", boom)
	if _, err := g.Compose(context.Background(), Request{Prompt: "x"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}

func TestGemini_Decorate(t *testing.T) {
	g := fakeGemini("Here: 🐱⚽😸", nil)
	got, _ := g.Decorate(context.Background(), "cat played ball")
	if got != "🐱⚽😸" {
		t.Errorf("got %q", got)
	}

	g = fakeGemini("", errors.New("quota"))
	got, err := g.Decorate(context.Background(), "cat")
	if err != nil || got != "🐱😺" {
		t.Errorf("fallback: got %q, %v", got, err)
	}

	g = fakeGemini("no icons here", nil)
	if got, _ := g.Decorate(context.Background(), "teacup"); got != DefaultDecoration {
		t.Errorf("text-only reply: got %q", got)
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), "", "", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}
