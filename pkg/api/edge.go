package api

import (
	"errors"
	"fmt"
	"time"
)

type (
	// EdgeMetadata configures a directed edge, in particular whether it is
	// a feedback loop and how the loop terminates. Created when a user
	// converts a forward edge into a feedback edge
	EdgeMetadata struct {
		IsFeedbackLoop      bool           `json:"is_feedback_loop"`
		MaxIterations       int            `json:"max_iterations"`
		QualityThreshold    float64        `json:"quality_threshold"`
		ConvergenceCriteria string         `json:"convergence_criteria,omitempty"`
		CurrentIteration    int            `json:"current_iteration,omitempty"`
		FeedbackHistory     []Iteration    `json:"feedback_history,omitempty"`
		QualityScores       []QualityScore `json:"quality_scores,omitempty"`
	}

	// QualityScore records one assessor score within a feedback loop
	QualityScore struct {
		Iteration int       `json:"iteration"`
		Score     float64   `json:"score"`
		Timestamp time.Time `json:"timestamp"`
	}

	// EdgeMap holds per-edge metadata, keyed by "{source}-{target}",
	// serialized alongside a flow's step list
	EdgeMap map[EdgeID]*EdgeMetadata
)

const (
	MinEdgeIterations = 1
	MaxEdgeIterations = 50
)

var (
	ErrEdgeMaxIterations = errors.New(
		"max_iterations must be between 1 and 50",
	)
	ErrEdgeQualityThreshold = errors.New(
		"quality_threshold must be between 0.0 and 1.0",
	)
	ErrEdgeIDMalformed = errors.New("malformed edge ID")
)

// Validate checks the feedback-loop invariants on edge metadata
func (m *EdgeMetadata) Validate(id EdgeID) error {
	if _, _, ok := id.Split(); !ok {
		return fmt.Errorf("%w: %q", ErrEdgeIDMalformed, id)
	}
	if !m.IsFeedbackLoop {
		return nil
	}
	if m.MaxIterations < MinEdgeIterations ||
		m.MaxIterations > MaxEdgeIterations {
		return fmt.Errorf("%w: %s has %d",
			ErrEdgeMaxIterations, id, m.MaxIterations)
	}
	if m.QualityThreshold < 0.0 || m.QualityThreshold > 1.0 {
		return fmt.Errorf("%w: %s has %f",
			ErrEdgeQualityThreshold, id, m.QualityThreshold)
	}
	return nil
}
