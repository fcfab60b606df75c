package watch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/events"
	"github.com/kode4food/vigil/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var dialer = &websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// dial opens the event stream for an execution. The stream endpoint is
// derived from the engine's base URL by swapping the scheme to ws/wss
func (w *Watcher) dial(
	ctx context.Context, id api.ExecutionID,
) (*websocket.Conn, error) {
	endpoint, err := streamURL(w.config.EngineURL, id)
	if err != nil {
		return nil, err
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func streamURL(baseURL string, id api.ExecutionID) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") +
		"/executions/" + url.PathEscape(string(id)) + "/events"
	return u.String(), nil
}

// readLoop consumes frames until the connection drops, then reconnects
// with exponential backoff unless reconnection has been stopped. The
// generation token keeps a superseded loop from touching state that now
// belongs to a newer subscription
func (w *Watcher) readLoop(conn *websocket.Conn, id api.ExecutionID, gen int) {
	defer w.wg.Done()

	for {
		w.consume(conn, id, gen)

		if w.isStopped() || w.ctx.Err() != nil {
			return
		}
		w.mu.Lock()
		stale := w.generation != gen
		w.mu.Unlock()
		if stale {
			return
		}

		conn = w.reconnect(id, gen)
		if conn == nil {
			return
		}
	}
}

// consume reads frames off one connection until it fails. Pings keep
// the read deadline advancing while the stream is quiet
func (w *Watcher) consume(conn *websocket.Conn, id api.ExecutionID, gen int) {
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go pingLoop(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !w.isStopped() {
				slog.Debug("Stream read failed",
					log.ExecutionID(id),
					log.Error(err))
			}
			return
		}
		w.markConnected(gen)
		w.handleFrame(id, gen, message)
	}
}

func pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(
				websocket.PingMessage, nil,
			); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// reconnect retries the stream with exponential backoff until it
// succeeds, reconnection is stopped, or the subscription is superseded
func (w *Watcher) reconnect(id api.ExecutionID, gen int) *websocket.Conn {
	backoff := w.config.ReconnectInitBackoff

	for {
		w.mu.Lock()
		if w.stopped || w.generation != gen {
			w.mu.Unlock()
			return nil
		}
		w.status = api.StatusConnecting
		w.mu.Unlock()

		select {
		case <-w.ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := w.dial(w.ctx, id)
		if err == nil {
			w.mu.Lock()
			if w.stopped || w.generation != gen {
				w.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			w.conn = conn
			w.mu.Unlock()
			return conn
		}

		slog.Warn("Reconnect attempt failed",
			log.ExecutionID(id),
			log.Error(err))
		backoff *= 2
		if backoff > w.config.ReconnectMaxBackoff {
			backoff = w.config.ReconnectMaxBackoff
		}
	}
}

// handleFrame applies one stream frame. Transient events only affect
// connectivity; everything else is deduplicated by event id and raised
// into the watch aggregate. Teardown on terminal events is scoped to
// the generation that read the frame
func (w *Watcher) handleFrame(id api.ExecutionID, gen int, message []byte) {
	var se api.StreamEvent
	if err := json.Unmarshal(message, &se); err != nil {
		slog.Warn("Malformed stream frame",
			log.ExecutionID(id),
			log.Error(err))
		return
	}

	et := se.EventType
	if et.IsTransient() {
		w.handleTransient(id, gen, &se, et)
		return
	}

	if se.ID != "" && w.isProcessed(se.ID) {
		return
	}

	ev, err := se.Decode()
	if err != nil {
		if errors.Is(err, api.ErrUnknownEventType) {
			slog.Warn("Ignoring unknown event type",
				log.ExecutionID(id),
				log.EventType(et))
			return
		}
		slog.Warn("Failed to decode event",
			log.ExecutionID(id),
			log.EventType(et),
			log.Error(err))
		return
	}

	// only a successfully decoded frame consumes its event id; a clean
	// redelivery after a bad payload still applies
	if se.ID != "" {
		w.mu.Lock()
		w.processed.Add(se.ID)
		w.mu.Unlock()
	}

	if et.IsTerminal() {
		w.stopReconnecting(gen)
	}

	if err := w.raise(id, et, ev); err != nil {
		slog.Error("Failed to apply event",
			log.ExecutionID(id),
			log.EventType(et),
			log.Error(err))
	}

	if et.IsTerminal() {
		w.finish(id, gen)
	}
}

// handleTransient processes connectivity signals. A heartbeat promotes
// the displayed status to connected; connection_established carrying
// is_completed means the execution already finished, which stops
// reconnection before the terminal state is recorded
func (w *Watcher) handleTransient(
	id api.ExecutionID, gen int, se *api.StreamEvent, et api.EventType,
) {
	if et == api.EventTypeConnectionEstablished && se.IsCompleted() {
		w.stopReconnecting(gen)
		err := w.raise(
			id, api.EventTypeExecutionCompleted,
			api.ExecutionCompletedEvent{},
		)
		if err != nil {
			slog.Error("Failed to mark execution finished",
				log.ExecutionID(id),
				log.Error(err))
		}
		w.finish(id, gen)
	}
}

func (w *Watcher) raise(
	id api.ExecutionID, et api.EventType, ev api.Event,
) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.RequestTimeout)
	defer cancel()

	_, err := w.exec.Exec(ctx, events.WatchKey(id),
		func(st *api.WatchState, ag *Aggregator) error {
			return events.Raise(ag, et, ev)
		},
	)
	return err
}
