// Package client implements the command surface of the orchestration
// engine: starting, cancelling, approving, and listing executions over
// HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/vigil"
	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/log"
)

type (
	// Client is the set of engine commands the watch client issues.
	// Approval and cancel calls are fire-and-forget: their effect is
	// only confirmed by a later event on the stream
	Client interface {
		StartExecution(
			context.Context, *api.StartExecutionRequest,
		) (*api.StartExecutionResponse, error)
		CancelExecution(context.Context, api.ExecutionID) error
		SubmitApproval(
			context.Context, api.ExecutionID, *api.ApprovalDecisionRequest,
		) error
		ListExecutions(
			context.Context, api.FlowID, int,
		) ([]*api.ExecutionDigest, error)
	}

	// HTTPClient talks to the engine's REST endpoints
	HTTPClient struct {
		httpClient *http.Client
		baseURL    string
	}
)

var (
	ErrEngineError     = errors.New("engine returned HTTP error")
	ErrBadResponse     = errors.New("engine response could not be decoded")
	ErrExecutionIDGone = errors.New("engine did not return an execution id")
)

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a command client for the engine at baseURL
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

// StartExecution asks the engine to begin a run of the given flow and
// returns the new execution's identifier
func (c *HTTPClient) StartExecution(
	ctx context.Context, req *api.StartExecutionRequest,
) (*api.StartExecutionResponse, error) {
	var res api.StartExecutionResponse
	err := c.post(ctx, "/executions", req, &res)
	if err != nil {
		return nil, err
	}
	if res.ExecutionID == "" {
		return nil, ErrExecutionIDGone
	}
	return &res, nil
}

// CancelExecution requests cancellation. The terminal state is only
// reached when the execution_cancelled event arrives on the stream
func (c *HTTPClient) CancelExecution(
	ctx context.Context, id api.ExecutionID,
) error {
	path := "/executions/" + url.PathEscape(string(id)) + "/cancel"
	return c.post(ctx, path, struct{}{}, nil)
}

// SubmitApproval delivers an approve or reject decision for the paused
// approval gate of an execution
func (c *HTTPClient) SubmitApproval(
	ctx context.Context, id api.ExecutionID,
	decision *api.ApprovalDecisionRequest,
) error {
	path := "/executions/" + url.PathEscape(string(id)) + "/approval"
	return c.post(ctx, path, decision, nil)
}

// ListExecutions returns the engine's most recent executions for a flow,
// newest first, used to find an in-flight execution to resume
func (c *HTTPClient) ListExecutions(
	ctx context.Context, flowID api.FlowID, limit int,
) ([]*api.ExecutionDigest, error) {
	q := url.Values{}
	if flowID != "" {
		q.Set("flow_id", string(flowID))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res api.ExecutionsListResponse
	if err := c.get(ctx, path, &res); err != nil {
		return nil, err
	}
	return res.Executions, nil
}

func (c *HTTPClient) post(
	ctx context.Context, path string, payload, out any,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.baseURL+path, nil,
	)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", vigil.Name+"/"+vigil.Version)
	req.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	dur := time.Since(start)

	if err != nil {
		slog.Error("Engine request failed",
			slog.String("path", req.URL.Path),
			slog.Duration("duration", dur),
			log.Error(err))
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Failed to read engine response",
			slog.String("path", req.URL.Path),
			log.Error(err))
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Engine HTTP error",
			slog.String("path", req.URL.Path),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)))
		var engineErr api.ErrorResponse
		if json.Unmarshal(respBody, &engineErr) == nil &&
			engineErr.Error != "" {
			return fmt.Errorf("%w: %d: %s",
				ErrEngineError, resp.StatusCode, engineErr.Error)
		}
		return fmt.Errorf("%w: %d", ErrEngineError, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		slog.Error("Failed to unmarshal engine response",
			slog.String("path", req.URL.Path),
			log.Error(err))
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
