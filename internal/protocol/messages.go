package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgnsrekt/wordcast/tts"
)

// Type discriminates server messages on the streaming channel.
type Type string

const (
	TypeTextReady      Type = "text_ready"
	TypeWindowStarted  Type = "window_started"
	TypeUnitReady      Type = "unit_ready"
	TypeUnitError      Type = "unit_error"
	TypeWindowComplete Type = "window_complete"
	TypeError          Type = "error"
)

// ClientMessage is one listener request. Exactly one field is set.
type ClientMessage struct {
	SetText       *string `json:"set_text,omitempty"`
	RequestWindow *int    `json:"request_window,omitempty"`
	PlayingIndex  *int    `json:"playing_index,omitempty"`
}

// SetText builds a set_text request.
func SetText(text string) ClientMessage { return ClientMessage{SetText: &text} }

// RequestWindow builds a request_window request.
func RequestWindow(idx int) ClientMessage { return ClientMessage{RequestWindow: &idx} }

// PlayingIndex builds a playing_index report.
func PlayingIndex(idx int) ClientMessage { return ClientMessage{PlayingIndex: &idx} }

// ErrInvalidMessage is returned for frames that are not exactly one request.
var ErrInvalidMessage = errors.New("invalid message")

// DecodeClient parses and validates a client frame.
func DecodeClient(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	set := 0
	for _, ok := range []bool{m.SetText != nil, m.RequestWindow != nil, m.PlayingIndex != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return ClientMessage{}, fmt.Errorf("%w: want exactly one of set_text, request_window, playing_index", ErrInvalidMessage)
	}
	return m, nil
}

// TextReady announces the unit and window counts of the session's text.
type TextReady struct {
	Type         Type `json:"type"`
	TotalUnits   int  `json:"total_units"`
	TotalWindows int  `json:"total_windows"`
	WindowSize   int  `json:"window_size"`
}

// WindowStarted marks the start of a window's resolution. Decoration is the
// opaque icon payload for the window, if any.
type WindowStarted struct {
	Type        Type   `json:"type"`
	WindowIndex int    `json:"window_index"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
	Decoration  string `json:"decoration,omitempty"`
}

// UnitReady carries one resolved unit. Audio is base64 encoded on the wire
// and null for decorations.
type UnitReady struct {
	Type         Type   `json:"type"`
	Index        int    `json:"index"`
	Word         string `json:"word"`
	Audio        []byte `json:"audio_bytes_b64"`
	Cached       bool   `json:"cached"`
	IsDecoration bool   `json:"is_decoration"`
	Pause        string `json:"pause"`
}

// UnitError reports a unit that could not be synthesized.
type UnitError struct {
	Type   Type   `json:"type"`
	Index  int    `json:"index"`
	Word   string `json:"word,omitempty"`
	Reason string `json:"reason"`
}

// WindowComplete is sent once every unit of a window is terminal.
type WindowComplete struct {
	Type        Type `json:"type"`
	WindowIndex int  `json:"window_index"`
}

// Error reports a rejected request. No window event accompanies it.
type Error struct {
	Type    Type   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewTextReady builds a text_ready event.
func NewTextReady(units, windows, size int) TextReady {
	return TextReady{Type: TypeTextReady, TotalUnits: units, TotalWindows: windows, WindowSize: size}
}

// NewWindowStarted builds a window_started event.
func NewWindowStarted(w tts.Window, decoration string) WindowStarted {
	return WindowStarted{
		Type:        TypeWindowStarted,
		WindowIndex: w.Index,
		StartIndex:  w.Start,
		EndIndex:    w.End,
		Decoration:  decoration,
	}
}

// NewUnitReady builds a unit_ready event.
func NewUnitReady(u tts.Unit, audio []byte, cached, decoration bool, pause tts.PauseClass) UnitReady {
	return UnitReady{
		Type:         TypeUnitReady,
		Index:        u.Index,
		Word:         u.Text,
		Audio:        audio,
		Cached:       cached,
		IsDecoration: decoration,
		Pause:        pause.String(),
	}
}

// NewUnitError builds a unit_error event.
func NewUnitError(u tts.Unit, reason string) UnitError {
	return UnitError{Type: TypeUnitError, Index: u.Index, Word: u.Text, Reason: reason}
}

// NewWindowComplete builds a window_complete event.
func NewWindowComplete(idx int) WindowComplete {
	return WindowComplete{Type: TypeWindowComplete, WindowIndex: idx}
}

// NewError builds an error event for a rejected request.
func NewError(err error) Error {
	return Error{Type: TypeError, Code: ErrorCode(err), Message: err.Error()}
}

// ErrorCode extends tts.ErrorCode with protocol failures.
func ErrorCode(err error) string {
	if errors.Is(err, ErrInvalidMessage) {
		return "invalid_message"
	}
	return tts.ErrorCode(err)
}

// DecodeServer parses a server frame into its concrete event type.
func DecodeServer(data []byte) (any, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var v any
	switch head.Type {
	case TypeTextReady:
		v = &TextReady{}
	case TypeWindowStarted:
		v = &WindowStarted{}
	case TypeUnitReady:
		v = &UnitReady{}
	case TypeUnitError:
		v = &UnitError{}
	case TypeWindowComplete:
		v = &WindowComplete{}
	case TypeError:
		v = &Error{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, head.Type)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return v, nil
}

// ParsePause maps a wire pause name back to its class. Unknown names are
// short.
func ParsePause(s string) tts.PauseClass {
	switch s {
	case "long":
		return tts.PauseLong
	case "medium":
		return tts.PauseMedium
	default:
		return tts.PauseShort
	}
}
