package collate

import (
	"fmt"

	"github.com/creastat/collate/core"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Message string
	Details string
}

func (e ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// reentrancyReporter is implemented by stages whose state must not be shared
// between concurrently running nodes
type reentrancyReporter interface {
	Reentrant() bool
}

// ValidateGraph performs comprehensive validation on a pipeline graph
func ValidateGraph(graph *PipelineGraph) error {
	if graph.GetEntryNode() == nil {
		return ValidationError{
			Message: "graph validation failed",
			Details: "no entry node defined",
		}
	}

	if len(graph.GetExitNodes()) == 0 {
		return ValidationError{
			Message: "graph validation failed",
			Details: "no exit node defined",
		}
	}

	if err := detectCycles(graph); err != nil {
		return err
	}

	if err := checkReachability(graph); err != nil {
		return err
	}

	if err := checkSharedStages(graph); err != nil {
		return err
	}

	return validateTypeCompatibility(graph)
}

// detectCycles uses depth-first search to detect cycles in the graph
func detectCycles(graph *PipelineGraph) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, node := range graph.AllNodes() {
		if !visited[node.Name()] && hasCycle(node, visited, recStack) {
			return ValidationError{
				Message: "graph validation failed",
				Details: "cycle detected in pipeline graph",
			}
		}
	}

	return nil
}

// hasCycle performs DFS to detect cycles
func hasCycle(node *graphNode, visited, recStack map[string]bool) bool {
	visited[node.Name()] = true
	recStack[node.Name()] = true

	for _, edge := range node.Outputs() {
		neighbor := edge.To()
		if !visited[neighbor.Name()] {
			if hasCycle(neighbor, visited, recStack) {
				return true
			}
		} else if recStack[neighbor.Name()] {
			return true
		}
	}

	recStack[node.Name()] = false
	return false
}

// checkReachability verifies that all nodes are reachable from the entry node
func checkReachability(graph *PipelineGraph) error {
	reachable := make(map[string]bool)
	dfsReachability(graph.GetEntryNode(), reachable)

	for _, node := range graph.AllNodes() {
		if !reachable[node.Name()] {
			return ValidationError{
				Message: "graph validation failed",
				Details: fmt.Sprintf("stage %q is unreachable from entry node", node.Name()),
			}
		}
	}

	return nil
}

// dfsReachability performs DFS to mark all reachable nodes
func dfsReachability(node *graphNode, reachable map[string]bool) {
	if reachable[node.Name()] {
		return
	}
	reachable[node.Name()] = true

	for _, edge := range node.Outputs() {
		dfsReachability(edge.To(), reachable)
	}
}

// checkSharedStages rejects a non-reentrant stage instance used by more than one node
func checkSharedStages(graph *PipelineGraph) error {
	owners := make(map[reentrancyReporter]string)
	for _, node := range graph.AllNodes() {
		stage, ok := node.Stage().(reentrancyReporter)
		if !ok || stage.Reentrant() {
			continue
		}
		if owner, seen := owners[stage]; seen {
			return ValidationError{
				Message: "graph validation failed",
				Details: fmt.Sprintf("stage %q is not reentrant and is shared by nodes %q and %q", node.Stage().Name(), owner, node.Name()),
			}
		}
		owners[stage] = node.Name()
	}
	return nil
}

// validateTypeCompatibility checks that connected stages have compatible types
func validateTypeCompatibility(graph *PipelineGraph) error {
	for _, node := range graph.AllNodes() {
		outputTypes := node.Stage().OutputTypes()

		for _, edge := range node.Outputs() {
			downstream := edge.To()
			inputTypes := downstream.Stage().InputTypes()

			// Empty type lists mean "anything"
			if len(inputTypes) == 0 || len(outputTypes) == 0 {
				continue
			}

			if !hasCompatibleType(outputTypes, inputTypes, edge.EventFilter()) {
				return ValidationError{
					Message: "graph validation failed",
					Details: fmt.Sprintf(
						"incompatible types between stage %q (outputs: %v) and stage %q (inputs: %v)",
						node.Name(), outputTypes,
						downstream.Name(), inputTypes,
					),
				}
			}
		}
	}

	return nil
}

// hasCompatibleType checks if at least one forwarded upstream type is accepted downstream
func hasCompatibleType(upstreamTypes, downstreamTypes []core.EventType, filter map[core.EventType]bool) bool {
	forwarded := make(map[core.EventType]bool)
	for _, t := range upstreamTypes {
		if filter == nil || filter[t] {
			forwarded[t] = true
		}
	}

	for _, t := range downstreamTypes {
		if t == core.EventTypeWildcard || forwarded[t] {
			return true
		}
	}
	return false
}
