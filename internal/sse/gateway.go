// Package sse streams notification events to clients over Server-Sent
// Events. The gateway owns the subscriber registry; handlers register a
// connection and block until the client goes away.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/notify"
)

// ErrClosed is returned when the gateway has been shut down.
var ErrClosed = errors.New("sse gateway closed")

type subscriber struct {
	w     io.Writer
	flush http.Flusher
}

// Gateway fans events out to subscribers keyed by target id. All state is
// guarded by one mutex; writes to a connection happen under it so a single
// event's frame is never interleaved with another.
type Gateway struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewGateway constructs an empty gateway.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers a connection for the target and writes the stream
// preamble. The returned function removes the subscription; it is safe to
// call more than once.
func (g *Gateway) Subscribe(targetID string, w io.Writer, flusher http.Flusher) (func(), error) {
	sub := &subscriber{w: w, flush: flusher}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := g.subs[targetID]
	if !ok {
		set = make(map[*subscriber]struct{})
		g.subs[targetID] = set
	}
	set[sub] = struct{}{}

	// Open the stream so proxies and clients see bytes immediately.
	_, err := io.WriteString(w, "\n")
	if err == nil && flusher != nil {
		flusher.Flush()
	}
	g.mu.Unlock()

	if err != nil {
		g.unsubscribe(targetID, sub)
		return nil, fmt.Errorf("writing stream preamble: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.unsubscribe(targetID, sub) })
	}, nil
}

// Broadcast writes the event to every subscriber of its target. No
// subscribers is a successful no-op. A connection that fails to accept the
// write is dropped.
func (g *Gateway) Broadcast(event notify.Event) error {
	frame, err := encodeFrame(event)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	set := g.subs[event.TargetID]
	for sub := range set {
		if _, werr := sub.w.Write(frame); werr != nil {
			g.logger.Debug("dropping dead sse subscriber",
				zap.String("target_id", event.TargetID),
				zap.Error(werr))
			delete(set, sub)
			continue
		}
		if sub.flush != nil {
			sub.flush.Flush()
		}
	}
	if len(set) == 0 {
		delete(g.subs, event.TargetID)
	}
	return nil
}

// SubscriberCount reports how many connections are registered for a target.
func (g *Gateway) SubscriberCount(targetID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs[targetID])
}

// Close drops every subscription and rejects new ones.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.subs = make(map[string]map[*subscriber]struct{})
}

func (g *Gateway) unsubscribe(targetID string, sub *subscriber) {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.subs[targetID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(g.subs, targetID)
	}
}

// encodeFrame renders an event as a named SSE frame:
//
//	event: <type>
//	data: <json>
//
func encodeFrame(event notify.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	frame := make([]byte, 0, len(data)+len(event.Type)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, event.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
