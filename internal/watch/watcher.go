// Package watch owns the lifecycle of the live subscription to an
// execution's event stream and projects received events into watch
// state. At most one subscription is open at a time; connecting to a
// different execution closes the previous one first.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kode4food/vigil/internal/client"
	"github.com/kode4food/vigil/internal/config"
	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/events"
	"github.com/kode4food/vigil/pkg/log"
	"github.com/kode4food/vigil/pkg/util"
)

type (
	// Watcher tracks one execution at a time. It opens the event stream,
	// folds events into the projected state, and enforces the terminal
	// marker that keeps finished executions from being reconnected to
	Watcher struct {
		client  client.Client
		exec    *Executor
		hub     timebox.EventHub
		journal Journal
		config  *config.Config
		ctx     context.Context
		cancel  context.CancelFunc
		wg      sync.WaitGroup

		mu          sync.Mutex
		conn        *websocket.Conn
		executionID api.ExecutionID
		status      api.ConnectionStatus
		processed   util.Set[string]
		finished    util.Set[api.ExecutionID]
		stopped     bool
		generation  int
	}

	// Executor manages watch state persistence and event sourcing
	Executor = timebox.Executor[*api.WatchState]

	// Aggregator aggregates watch state from events
	Aggregator = timebox.Aggregator[*api.WatchState]

	// EventConsumer consumes projected events from the event hub
	EventConsumer = topic.Consumer[*timebox.Event]
)

var ErrNotWatching = errors.New("no execution is being watched")

// New creates a watcher over the given store, engine client, and journal
func New(
	store *timebox.Store, cli client.Client, hub timebox.EventHub,
	journal Journal, cfg *config.Config,
) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		exec: timebox.NewExecutor(
			store, events.NewWatchState, events.WatchAppliers,
		),
		client:    cli,
		hub:       hub,
		journal:   journal,
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		status:    api.StatusDisconnected,
		processed: util.Set[string]{},
		finished:  util.Set[api.ExecutionID]{},
	}
}

// Start begins a new run of the given flow and watches it
func (w *Watcher) Start(
	ctx context.Context, req *api.StartExecutionRequest,
) (api.ExecutionID, error) {
	res, err := w.client.StartExecution(ctx, req)
	if err != nil {
		return "", err
	}
	if err := w.Connect(ctx, res.ExecutionID, true); err != nil {
		return "", err
	}
	return res.ExecutionID, nil
}

// Connect opens a subscription to an execution's event stream. It is a
// no-op when the execution is already finished or when a subscription
// to the same execution is already open or opening. Connecting to a
// different execution closes the previous subscription, and a new
// execution clears the processed event set
func (w *Watcher) Connect(
	ctx context.Context, id api.ExecutionID, isNew bool,
) error {
	w.mu.Lock()

	if w.finished.Contains(id) {
		w.mu.Unlock()
		return nil
	}
	if w.executionID == id && w.status != api.StatusDisconnected {
		w.mu.Unlock()
		return nil
	}

	done, err := w.journal.IsFinished(ctx, id)
	if err != nil {
		slog.Warn("Journal lookup failed",
			log.ExecutionID(id),
			log.Error(err))
	}
	if done {
		w.finished.Add(id)
		w.mu.Unlock()
		return nil
	}

	w.closeConn()
	if isNew || w.executionID != id {
		w.processed.Clear()
	}
	w.executionID = id
	w.status = api.StatusConnecting
	w.stopped = false
	w.generation++
	gen := w.generation
	w.mu.Unlock()

	conn, err := w.dial(ctx, id)
	if err != nil {
		w.mu.Lock()
		if w.generation == gen {
			w.status = api.StatusDisconnected
		}
		w.mu.Unlock()
		slog.Warn("Connection issue",
			log.ExecutionID(id),
			log.Error(err))
		return err
	}

	w.mu.Lock()
	if w.generation != gen {
		w.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	w.conn = conn
	w.mu.Unlock()

	w.wg.Add(1)
	go w.readLoop(conn, id, gen)
	return nil
}

// ResumeLatest looks for a recent in-flight execution of the flow and
// reconnects to it. Executions whose last update is older than the
// staleness threshold are skipped. Returns the resumed execution id, or
// empty when nothing was resumable
func (w *Watcher) ResumeLatest(
	ctx context.Context, flowID api.FlowID,
) (api.ExecutionID, error) {
	digests, err := w.client.ListExecutions(ctx, flowID, 10)
	if err != nil {
		return "", err
	}

	cutoff := time.Now().Add(-w.config.StaleThreshold)
	for _, d := range digests {
		if !d.Status.IsInFlight() {
			continue
		}
		if d.LastUpdated.Before(cutoff) {
			slog.Debug("Skipping stale execution",
				log.ExecutionID(d.ID))
			continue
		}
		if err := w.Connect(ctx, d.ID, false); err != nil {
			return "", err
		}
		return d.ID, nil
	}
	return "", nil
}

// Cancel requests cancellation of the watched execution. The terminal
// state is reached when the execution_cancelled event arrives, but the
// caller may stop watching without waiting for it
func (w *Watcher) Cancel(ctx context.Context) error {
	w.mu.Lock()
	id := w.executionID
	w.mu.Unlock()
	if id == "" {
		return ErrNotWatching
	}
	return w.client.CancelExecution(ctx, id)
}

// Approve resumes the execution past its pending approval gate
func (w *Watcher) Approve(ctx context.Context, stepID api.StepID) error {
	return w.decide(ctx, &api.ApprovalDecisionRequest{
		StepID:   stepID,
		Approved: true,
	})
}

// Reject asks the engine to retry the step behind the approval gate
func (w *Watcher) Reject(
	ctx context.Context, stepID api.StepID, reason string,
) error {
	return w.decide(ctx, &api.ApprovalDecisionRequest{
		StepID: stepID,
		Reason: reason,
	})
}

func (w *Watcher) decide(
	ctx context.Context, req *api.ApprovalDecisionRequest,
) error {
	w.mu.Lock()
	id := w.executionID
	w.mu.Unlock()
	if id == "" {
		return ErrNotWatching
	}
	return w.client.SubmitApproval(ctx, id, req)
}

// StopReconnecting prevents any further reconnect attempt. It must be
// called before state is marked finished, otherwise the transport can
// race a reconnect against a completed execution
func (w *Watcher) StopReconnecting() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// Close closes the subscription and transitions to disconnected
func (w *Watcher) Close() {
	w.mu.Lock()
	w.stopped = true
	w.closeConn()
	w.mu.Unlock()
}

// Shutdown stops the watcher and waits for its read loop to drain
func (w *Watcher) Shutdown() {
	w.Close()
	w.cancel()
	w.wg.Wait()
}

// Status returns the transport state of the current subscription
func (w *Watcher) Status() api.ConnectionStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// ExecutionID returns the id of the execution currently being watched
func (w *Watcher) ExecutionID() api.ExecutionID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.executionID
}

// IsFinished reports whether an execution has a sticky terminal marker
func (w *Watcher) IsFinished(id api.ExecutionID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished.Contains(id)
}

// State returns the projected state of an execution
func (w *Watcher) State(
	ctx context.Context, id api.ExecutionID,
) (*api.WatchState, error) {
	return w.exec.Exec(ctx, events.WatchKey(id),
		func(st *api.WatchState, ag *Aggregator) error {
			return nil
		},
	)
}

// NewConsumer returns a consumer of projected watch events, used to
// observe state changes as they are applied
func (w *Watcher) NewConsumer() EventConsumer {
	return w.hub.NewConsumer()
}

// finish is the single path to the terminal state. Reconnection is
// stopped before anything else, then the terminal marker is recorded,
// then the subscription is closed. The stop and close are scoped to
// the generation that received the terminal, so a late terminal from a
// superseded subscription never tears down its successor
func (w *Watcher) finish(id api.ExecutionID, gen int) {
	w.stopReconnecting(gen)

	if err := w.journal.MarkFinished(w.ctx, id); err != nil {
		slog.Warn("Failed to journal finished execution",
			log.ExecutionID(id),
			log.Error(err))
	}

	w.mu.Lock()
	w.finished.Add(id)
	if w.generation == gen {
		w.closeConn()
	}
	w.mu.Unlock()
}

// stopReconnecting suppresses reconnection for one subscription
// generation; a stale generation is a no-op
func (w *Watcher) stopReconnecting(gen int) {
	w.mu.Lock()
	if w.generation == gen {
		w.stopped = true
	}
	w.mu.Unlock()
}

// closeConn closes the connection under the caller's lock
func (w *Watcher) closeConn() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.status = api.StatusDisconnected
}

func (w *Watcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

func (w *Watcher) isProcessed(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed.Contains(id)
}

func (w *Watcher) markConnected(gen int) {
	w.mu.Lock()
	if w.generation == gen && w.status != api.StatusConnected {
		w.status = api.StatusConnected
	}
	w.mu.Unlock()
}
