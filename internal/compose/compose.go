// Package compose holds the external collaborators of the engine: the story
// composer that produces the full text and the decorator that picks a few
// icons for each window. Both return opaque strings.
package compose

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by collaborators that lack credentials.
var ErrNotConfigured = errors.New("composer not configured")

// Default request values.
const (
	DefaultAgeGroup = "6-8"
	DefaultCategory = "adventure"
)

// Request asks for a story.
type Request struct {
	Prompt   string
	AgeGroup string // "4-6", "6-8" or "8-10"
	Category string // optional; derived from the prompt when empty
}

// Composer produces the full text for a session.
type Composer interface {
	Compose(ctx context.Context, req Request) (string, error)
	Name() string
}

// Decorator produces the decoration payload for the words of one window.
type Decorator interface {
	Decorate(ctx context.Context, words string) (string, error)
}
