package helpers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kode4food/vigil/pkg/api"
)

type (
	// FakeEngine is an in-process stand-in for the orchestration engine.
	// It serves the command endpoints and replays scripted event frames
	// over the per-execution stream
	FakeEngine struct {
		server  *httptest.Server
		mu      sync.Mutex
		scripts map[api.ExecutionID][]api.StreamEvent
		digests []*api.ExecutionDigest
		started []*api.StartExecutionRequest

		Cancelled []api.ExecutionID
		Approvals []*api.ApprovalDecisionRequest
		NextID    api.ExecutionID
	}
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewFakeEngine starts a fake engine on an ephemeral port
func NewFakeEngine() *FakeEngine {
	e := &FakeEngine{
		scripts: map[api.ExecutionID][]api.StreamEvent{},
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	router.POST("/executions", e.handleStart)
	router.POST("/executions/:id/cancel", e.handleCancel)
	router.POST("/executions/:id/approval", e.handleApproval)
	router.GET("/executions", e.handleList)
	router.GET("/executions/:id/events", e.handleEvents)

	e.server = httptest.NewServer(router)
	return e
}

// URL returns the fake engine's base URL
func (e *FakeEngine) URL() string {
	return e.server.URL
}

// Close shuts the fake engine down
func (e *FakeEngine) Close() {
	e.server.Close()
}

// Script sets the event frames replayed when the stream for an
// execution is opened
func (e *FakeEngine) Script(id api.ExecutionID, evs ...api.StreamEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[id] = evs
}

// SetDigests sets the response of the executions listing endpoint
func (e *FakeEngine) SetDigests(digests ...*api.ExecutionDigest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.digests = digests
}

// Started returns the start requests received so far
func (e *FakeEngine) Started() []*api.StartExecutionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *FakeEngine) handleStart(c *gin.Context) {
	var req api.StartExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: err.Error(),
		})
		return
	}

	e.mu.Lock()
	e.started = append(e.started, &req)
	id := e.NextID
	e.mu.Unlock()
	if id == "" {
		id = api.ExecutionID(uuid.NewString())
	}

	c.JSON(http.StatusOK, api.StartExecutionResponse{
		ExecutionID: id,
		Message:     "execution started",
	})
}

func (e *FakeEngine) handleCancel(c *gin.Context) {
	e.mu.Lock()
	e.Cancelled = append(e.Cancelled, api.ExecutionID(c.Param("id")))
	e.mu.Unlock()
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "cancellation requested",
	})
}

func (e *FakeEngine) handleApproval(c *gin.Context) {
	var req api.ApprovalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error: err.Error(),
		})
		return
	}
	e.mu.Lock()
	e.Approvals = append(e.Approvals, &req)
	e.mu.Unlock()
	c.JSON(http.StatusOK, api.MessageResponse{
		Message: "decision recorded",
	})
}

func (e *FakeEngine) handleList(c *gin.Context) {
	flowID := api.FlowID(c.Query("flow_id"))

	e.mu.Lock()
	var res []*api.ExecutionDigest
	for _, d := range e.digests {
		if flowID == "" || d.FlowID == flowID {
			res = append(res, d)
		}
	}
	e.mu.Unlock()

	c.JSON(http.StatusOK, api.ExecutionsListResponse{
		Executions: res,
		Count:      len(res),
	})
}

func (e *FakeEngine) handleEvents(c *gin.Context) {
	id := api.ExecutionID(c.Param("id"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	e.mu.Lock()
	script := e.scripts[id]
	e.mu.Unlock()

	for _, ev := range script {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	// hold the stream open until the client goes away
	conn.SetPongHandler(func(string) error { return nil })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// RunningDigest builds a listing entry for an in-flight execution whose
// last update was age ago
func RunningDigest(
	id api.ExecutionID, flowID api.FlowID, age time.Duration,
) *api.ExecutionDigest {
	now := time.Now()
	return &api.ExecutionDigest{
		ID:          id,
		FlowID:      flowID,
		Status:      api.ExecutionRunning,
		StartedAt:   now.Add(-age - time.Minute),
		LastUpdated: now.Add(-age),
	}
}
