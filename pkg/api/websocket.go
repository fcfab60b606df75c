package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

type (
	// StreamEvent is the wire envelope for events on the execution stream.
	// ID is the event's identity for deduplication; transient events
	// (connection_established, heartbeat) are sent without one
	StreamEvent struct {
		ID        string          `json:"id,omitempty"`
		EventType EventType       `json:"event_type"`
		StepID    StepID          `json:"step_id,omitempty"`
		Message   string          `json:"message,omitempty"`
		Data      json.RawMessage `json:"data,omitempty"`
	}
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEventDecode      = errors.New("failed to decode event data")
)

// deprecatedOutputPath is the legacy location of step output, emitted by
// older engine backends. agent_output is canonical
const deprecatedOutputPath = "result.output"

// Decode parses the envelope's data payload into the typed event for its
// event_type. Unrecognized types return ErrUnknownEventType so callers can
// skip them for forward compatibility
func (e *StreamEvent) Decode() (Event, error) {
	var (
		ev  Event
		err error
	)

	switch e.EventType {
	case EventTypeConnectionEstablished:
		ev, err = decode[ConnectionEstablishedEvent](e)
	case EventTypeHeartbeat:
		ev, err = decode[HeartbeatEvent](e)
	case EventTypeExecutionStarted:
		ev, err = decode[ExecutionStartedEvent](e)
	case EventTypeStepStarted:
		ev, err = decode[StepStartedEvent](e)
	case EventTypeStepCompleted:
		ev, err = e.decodeStepCompleted()
	case EventTypeStepFailed:
		ev, err = decode[StepFailedEvent](e)
	case EventTypeApprovalRequired:
		ev, err = decode[ApprovalRequiredEvent](e)
	case EventTypeApprovalGranted:
		ev, err = decode[ApprovalGrantedEvent](e)
	case EventTypeApprovalRejected:
		ev, err = decode[ApprovalRejectedEvent](e)
	case EventTypeExecutionCompleted:
		ev, err = decode[ExecutionCompletedEvent](e)
	case EventTypeExecutionFailed:
		ev, err = decode[ExecutionFailedEvent](e)
	case EventTypeExecutionCancelled:
		ev, err = decode[ExecutionCancelledEvent](e)
	case EventTypeLLMStreamingChunk:
		ev, err = decode[LLMStreamingChunkEvent](e)
	case EventTypeLLMResponse:
		ev, err = decode[LLMResponseEvent](e)
	case EventTypeToolCallStarted:
		ev, err = decode[ToolCallStartedEvent](e)
	case EventTypeToolCallCompleted:
		ev, err = decode[ToolCallCompletedEvent](e)
	case EventTypeFeedbackStarted:
		ev, err = decode[FeedbackStartedEvent](e)
	case EventTypeFeedbackIteration:
		ev, err = decode[FeedbackIterationEvent](e)
	case EventTypeFeedbackCompleted:
		ev, err = decode[FeedbackCompletedEvent](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEventDecode, e.EventType, err)
	}
	return fillStepID(ev, e.StepID), nil
}

func decode[T Event](e *StreamEvent) (T, error) {
	var res T
	if len(e.Data) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(e.Data, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *StreamEvent) decodeStepCompleted() (Event, error) {
	res, err := decode[StepCompletedEvent](e)
	if err != nil {
		return nil, err
	}
	if res.AgentOutput == "" && len(e.Data) > 0 {
		// transitional shim for engines that still emit result.output
		if out := gjson.GetBytes(e.Data, deprecatedOutputPath); out.Exists() {
			res.AgentOutput = out.String()
		}
	}
	return res, nil
}

// fillStepID backfills a step-scoped payload whose data object omitted the
// step identifier with the envelope's step_id
func fillStepID(ev Event, id StepID) Event {
	if id == "" {
		return ev
	}
	switch e := ev.(type) {
	case StepStartedEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case StepCompletedEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case StepFailedEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case ApprovalRequiredEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case ApprovalGrantedEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case ApprovalRejectedEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case LLMStreamingChunkEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case LLMResponseEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case ToolCallStartedEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	case ToolCallCompletedEvent:
		if e.StepID == "" {
			e.StepID = id
		}
		return e
	default:
		return ev
	}
}

// IsCompleted inspects a connection_established payload without a full
// decode, for transport-level terminal detection
func (e *StreamEvent) IsCompleted() bool {
	if len(e.Data) == 0 {
		return false
	}
	return gjson.GetBytes(e.Data, "is_completed").Bool()
}
