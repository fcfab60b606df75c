// Package vigil is a client for watching flow executions on a remote
// orchestration engine. It validates feedback-loop cycles in a step graph,
// maintains a single live event-stream subscription per running execution,
// and projects the stream into a consistent in-memory view of step status,
// agent output, tool-call progress, feedback-loop iteration, and
// human-approval gating.
package vigil

const (
	Name    = "vigil"
	Version = "0.1.0"
)
