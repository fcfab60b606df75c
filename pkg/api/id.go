package api

import (
	"regexp"
	"strings"
)

type (
	// FlowID is a unique identifier for a flow definition
	FlowID string

	// ExecutionID is a server-issued identifier for one run of a flow
	ExecutionID string

	// StepID is a unique identifier for a step within a flow
	StepID string

	// EdgeID identifies a directed edge between two steps, formatted as
	// "{source}-{target}"
	EdgeID string

	// Role identifies which side of a feedback loop produced an iteration
	Role string
)

const (
	RoleAssessor Role = "assessor"
	RoleImprover Role = "improver"
)

// InvalidIDChars matches characters not permitted in flow and step IDs.
// Valid characters are: letters, digits, underscore, dot, plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.+ ]`)

// SanitizeID lowercases an ID, removes invalid characters, and replaces
// spaces with underscores. Hyphens are excluded because they delimit the
// two halves of an EdgeID
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	return T(strings.ReplaceAll(sanitized, " ", "_"))
}

// MakeEdgeID builds the canonical edge identifier for a source/target pair
func MakeEdgeID(source, target StepID) EdgeID {
	return EdgeID(string(source) + "-" + string(target))
}

// Split breaks an edge identifier into its source and target step IDs.
// Returns false if the identifier is not of the "{source}-{target}" form
func (id EdgeID) Split() (StepID, StepID, bool) {
	source, target, ok := strings.Cut(string(id), "-")
	if !ok || source == "" || target == "" {
		return "", "", false
	}
	return StepID(source), StepID(target), true
}

// IsValid reports whether r names a known feedback-loop role
func (r Role) IsValid() bool {
	return r == RoleAssessor || r == RoleImprover
}
