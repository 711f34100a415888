package client

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/wordcast/internal/protocol"
	"github.com/dgnsrekt/wordcast/tts/playback"
)

// Sink is the part of the scheduler that consumes deliveries.
type Sink interface {
	SetTotal(n int) error
	Deliver(d playback.Delivery) error
	Fail(index int) error
}

// Feed routes server events into sink until events closes or ctx is done.
// Every event is also passed to observe, if set, after it was routed.
func Feed(ctx context.Context, events <-chan any, sink Sink, observe func(any), logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := route(ev, sink, logger); err != nil {
				return err
			}
			if observe != nil {
				observe(ev)
			}
		}
	}
}

func route(ev any, sink Sink, logger *log.Logger) error {
	var err error
	switch e := ev.(type) {
	case *protocol.TextReady:
		logger.Debug("Text ready", "units", e.TotalUnits, "windows", e.TotalWindows)
		err = sink.SetTotal(e.TotalUnits)
	case *protocol.UnitReady:
		err = sink.Deliver(DeliveryFromEvent(e))
	case *protocol.UnitError:
		logger.Debug("Unit failed", "index", e.Index, "word", e.Word, "reason", e.Reason)
		err = sink.Fail(e.Index)
	case *protocol.Error:
		logger.Warn("Request rejected", "code", e.Code, "message", e.Message)
	case *protocol.WindowStarted, *protocol.WindowComplete:
	default:
		logger.Debug("Unhandled event", "type", fmt.Sprintf("%T", ev))
	}
	return err
}

// DeliveryFromEvent converts a unit_ready event.
func DeliveryFromEvent(e *protocol.UnitReady) playback.Delivery {
	return playback.Delivery{
		Index:      e.Index,
		Word:       e.Word,
		Audio:      e.Audio,
		Pause:      protocol.ParsePause(e.Pause),
		Decoration: e.IsDecoration,
	}
}
