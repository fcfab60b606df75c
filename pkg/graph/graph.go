// Package graph provides the step-graph model used when editing flows:
// adjacency construction from step wiring and detection of the cycles
// that feedback-loop edges introduce.
package graph

import (
	"slices"

	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/util"
)

type (
	// Adjacency maps each step to the steps it links to
	Adjacency map[api.StepID][]api.StepID

	// Loop describes one detected feedback cycle and the path that
	// closes it, in traversal order from the edge's target back to its
	// source
	Loop struct {
		Edge api.EdgeID   `json:"edge_id"`
		Path []api.StepID `json:"path"`
	}
)

// MakeAdjacency builds an adjacency list from the steps' next_steps wiring
func MakeAdjacency(steps []*api.Step) Adjacency {
	res := make(Adjacency, len(steps))
	for _, s := range steps {
		res[s.ID] = slices.Clone(s.NextSteps)
	}
	return res
}

// WouldCreateFeedbackLoop reports whether adding the edge source->target
// to the graph creates a path from target back to source, and returns
// that path when it does. A self-referencing edge is a cycle of length
// one. The search copies its visited set per branch so that revisiting
// a shared join node on a different path is not mistaken for a cycle
func WouldCreateFeedbackLoop(
	steps []*api.Step, source, target api.StepID,
) (bool, []api.StepID) {
	if source == target {
		return true, []api.StepID{source}
	}
	adj := MakeAdjacency(steps)
	seen := util.SetOf(target)
	return findPath(adj, target, source, seen, []api.StepID{target})
}

// DetectAllFeedbackLoops classifies every existing edge in the graph,
// returning one Loop per edge whose target can reach its source. Used
// for bulk annotation when a flow definition is loaded
func DetectAllFeedbackLoops(steps []*api.Step) []Loop {
	var res []Loop
	for _, s := range steps {
		for _, next := range s.NextSteps {
			if ok, path := WouldCreateFeedbackLoop(steps, s.ID, next); ok {
				res = append(res, Loop{
					Edge: api.MakeEdgeID(s.ID, next),
					Path: path,
				})
			}
		}
	}
	return res
}

// findPath walks depth-first from curr toward goal. The visited set is
// cloned before descending into each neighbor, keeping it scoped to the
// current path rather than the whole traversal
func findPath(
	adj Adjacency, curr, goal api.StepID,
	seen util.Set[api.StepID], path []api.StepID,
) (bool, []api.StepID) {
	for _, next := range adj[curr] {
		if next == goal {
			return true, append(slices.Clone(path), next)
		}
		if seen.Contains(next) {
			continue
		}
		branch := seen.Clone()
		branch.Add(next)
		ok, found := findPath(
			adj, next, goal, branch, append(slices.Clone(path), next),
		)
		if ok {
			return true, found
		}
	}
	return false, nil
}
