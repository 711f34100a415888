package tts

import (
	"errors"
	"fmt"
)

// Common errors for the word streaming engine.
var (
	// Session and request errors, returned synchronously to the caller.
	ErrEmptyText      = errors.New("text contains no units")
	ErrOutOfRange     = errors.New("window index out of range")
	ErrTextAlreadySet = errors.New("text already set for this session")
	ErrNoText         = errors.New("no text set for this session")

	// Unit errors, reported per unit while the window completes around them.
	ErrSynthesisFailed    = errors.New("synthesis failed")
	ErrAdapterUnavailable = errors.New("synthesis adapter unavailable")

	// Channel errors
	ErrChannelClosed = errors.New("channel closed")

	// Store errors
	ErrStoreClosed = errors.New("unit store is closed")
	ErrEmptyKey    = errors.New("empty cache key")

	// Scheduler errors
	ErrSchedulerClosed = errors.New("playback scheduler is closed")
)

// UnitError is a failure confined to a single unit.
type UnitError struct {
	Index int   // Unit index within the full text
	Err   error // Underlying cause
}

// Error implements the error interface.
func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnitError) Unwrap() error {
	return e.Err
}

// Reason returns the short failure reason sent to listeners.
func (e *UnitError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrAdapterUnavailable):
		return "adapter_unavailable"
	case errors.Is(e.Err, ErrSynthesisFailed):
		return "synthesis_failed"
	default:
		return "synthesis_failed"
	}
}

// IsUnitLevel reports whether err only affects one unit and must not abort
// the surrounding window or session.
func IsUnitLevel(err error) bool {
	return errors.Is(err, ErrSynthesisFailed) || errors.Is(err, ErrAdapterUnavailable)
}

// ErrorCode maps request-level errors to the codes used on the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyText):
		return "empty_text"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrTextAlreadySet):
		return "text_already_set"
	case errors.Is(err, ErrNoText):
		return "no_text"
	case errors.Is(err, ErrChannelClosed):
		return "channel_closed"
	default:
		return "internal"
	}
}
