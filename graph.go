package collate

import (
	"fmt"

	"github.com/creastat/collate/core"
)

// PipelineGraph is the compiled pipeline topology, a directed acyclic graph of stages
type PipelineGraph struct {
	// nodes maps stage names to their graph nodes
	nodes map[string]*graphNode

	// order keeps node names in insertion order for deterministic iteration
	order []string

	entryNode string
	exitNodes []string
}

// graphNode is a stage in the pipeline graph
type graphNode struct {
	name    string
	stage   core.Stage
	outputs []*graphEdge
	inputs  []*graphEdge
}

// graphEdge is a directed edge between two nodes
type graphEdge struct {
	from *graphNode
	to   *graphNode

	// eventFilter lists the event types forwarded along this edge;
	// nil forwards everything
	eventFilter map[core.EventType]bool
}

// NewPipelineGraph creates a new empty pipeline graph
func NewPipelineGraph() *PipelineGraph {
	return &PipelineGraph{
		nodes: make(map[string]*graphNode),
	}
}

// AddNode adds a stage node to the graph
func (pg *PipelineGraph) AddNode(name string, stage core.Stage) error {
	if _, exists := pg.nodes[name]; exists {
		return fmt.Errorf("node %q already exists in graph", name)
	}
	if stage == nil {
		return fmt.Errorf("node %q has no stage", name)
	}

	pg.nodes[name] = &graphNode{
		name:  name,
		stage: stage,
	}
	pg.order = append(pg.order, name)
	return nil
}

// AddEdge adds a directed edge with optional event type filtering
func (pg *PipelineGraph) AddEdge(fromName, toName string, eventFilter []core.EventType) error {
	fromNode, exists := pg.nodes[fromName]
	if !exists {
		return fmt.Errorf("source node %q does not exist", fromName)
	}

	toNode, exists := pg.nodes[toName]
	if !exists {
		return fmt.Errorf("destination node %q does not exist", toName)
	}

	var filterMap map[core.EventType]bool
	if len(eventFilter) > 0 {
		filterMap = make(map[core.EventType]bool, len(eventFilter))
		for _, et := range eventFilter {
			filterMap[et] = true
		}
	}

	edge := &graphEdge{
		from:        fromNode,
		to:          toNode,
		eventFilter: filterMap,
	}
	fromNode.outputs = append(fromNode.outputs, edge)
	toNode.inputs = append(toNode.inputs, edge)
	return nil
}

// SetEntryNode sets the entry point for the pipeline
func (pg *PipelineGraph) SetEntryNode(name string) error {
	if _, exists := pg.nodes[name]; !exists {
		return fmt.Errorf("entry node %q does not exist", name)
	}
	pg.entryNode = name
	return nil
}

// AddExitNode marks a node as a terminal node whose output leaves the pipeline
func (pg *PipelineGraph) AddExitNode(name string) error {
	if _, exists := pg.nodes[name]; !exists {
		return fmt.Errorf("exit node %q does not exist", name)
	}
	pg.exitNodes = append(pg.exitNodes, name)
	return nil
}

// GetNode retrieves a node by name
func (pg *PipelineGraph) GetNode(name string) *graphNode {
	return pg.nodes[name]
}

// GetEntryNode returns the entry node
func (pg *PipelineGraph) GetEntryNode() *graphNode {
	if pg.entryNode == "" {
		return nil
	}
	return pg.nodes[pg.entryNode]
}

// GetExitNodes returns all exit nodes
func (pg *PipelineGraph) GetExitNodes() []*graphNode {
	exitNodes := make([]*graphNode, 0, len(pg.exitNodes))
	for _, name := range pg.exitNodes {
		exitNodes = append(exitNodes, pg.nodes[name])
	}
	return exitNodes
}

// AllNodes returns all nodes in insertion order
func (pg *PipelineGraph) AllNodes() []*graphNode {
	nodes := make([]*graphNode, 0, len(pg.order))
	for _, name := range pg.order {
		nodes = append(nodes, pg.nodes[name])
	}
	return nodes
}

// Name returns the node's name
func (n *graphNode) Name() string {
	return n.name
}

// Stage returns the stage associated with this node
func (n *graphNode) Stage() core.Stage {
	return n.stage
}

// Outputs returns all outgoing edges
func (n *graphNode) Outputs() []*graphEdge {
	return n.outputs
}

// Inputs returns all incoming edges
func (n *graphNode) Inputs() []*graphEdge {
	return n.inputs
}

// From returns the source node
func (e *graphEdge) From() *graphNode {
	return e.from
}

// To returns the destination node
func (e *graphEdge) To() *graphNode {
	return e.to
}

// ShouldForwardEvent checks if an event type should be forwarded on this edge
func (e *graphEdge) ShouldForwardEvent(eventType core.EventType) bool {
	if e.eventFilter == nil {
		return true
	}
	return e.eventFilter[eventType]
}

// EventFilter returns the event filter map
func (e *graphEdge) EventFilter() map[core.EventType]bool {
	return e.eventFilter
}
