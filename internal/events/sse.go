package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiolens/masterqc/internal/errors"
	"github.com/audiolens/masterqc/internal/logging"
)

// Flusher is implemented by writers that can push buffered frames to the
// client immediately (http.ResponseWriter does).
type Flusher interface {
	Flush()
}

// StreamOptions tune one SSE client stream.
type StreamOptions struct {
	// ClientID identifies the stream in the connected greeting. A random
	// ID is generated when empty.
	ClientID string
	// HeartbeatInterval between keep-alive comments. Default 30s.
	HeartbeatInterval time.Duration
	// BufferSize is the per-client event buffer. Events beyond it are
	// dropped rather than blocking the publisher. Default 64.
	BufferSize int
}

func (o *StreamOptions) withDefaults() StreamOptions {
	opts := StreamOptions{}
	if o != nil {
		opts = *o
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	return opts
}

type connectedPayload struct {
	ClientID  string `json:"clientId"`
	Topic     string `json:"topic"`
	Timestamp int64  `json:"timestamp"`
}

// StreamTopic subscribes to one topic and writes its events to w as SSE
// frames until ctx is cancelled. The subscriber side never blocks the bus:
// events overflow into the void when the client cannot keep up, and the
// drop count is logged on exit.
//
// Frame format:
//
//	event: <type>\n
//	data: <json>\n\n
//
// with a ":heartbeat <unix-ms>" comment between events as keep-alive.
func StreamTopic(ctx context.Context, w io.Writer, bus *Bus, topic string, opt *StreamOptions) error {
	opts := opt.withDefaults()
	logger := logging.ForService("events")

	greeting, err := json.Marshal(connectedPayload{
		ClientID:  opts.ClientID,
		Topic:     topic,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return errors.New(err).Category(errors.CategoryBroadcast).Build()
	}
	if err := writeFrame(w, TypeConnected, greeting); err != nil {
		return err
	}

	ch := make(chan Event, opts.BufferSize)
	// Publishers may still be mid-dispatch when Unsubscribe returns, so
	// the drop counter stays atomic.
	var dropped atomic.Uint64
	sub := bus.Subscribe(topic, func(ev Event) {
		select {
		case ch <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer func() {
		sub.Unsubscribe()
		if n := dropped.Load(); n > 0 {
			logger.Warn("sse client dropped events",
				"client_id", opts.ClientID,
				"topic", topic,
				"dropped", n)
		}
	}()

	heartbeat := time.NewTicker(opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().UnixMilli()); err != nil {
				return errors.New(err).Category(errors.CategoryBroadcast).Context("client_id", opts.ClientID).Build()
			}
			flush(w)
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				return errors.New(err).Category(errors.CategoryBroadcast).Build()
			}
			if err := writeFrame(w, ev.Type, data); err != nil {
				return err
			}
		}
	}
}

func writeFrame(w io.Writer, eventType string, data []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return errors.New(err).Category(errors.CategoryBroadcast).Build()
	}
	flush(w)
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(Flusher); ok {
		f.Flush()
	}
}
