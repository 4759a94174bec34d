package collate

import (
	"fmt"

	"github.com/creastat/collate/core"
)

// GraphBuilder constructs pipeline DAGs with a fluent API
type GraphBuilder struct {
	graph     *PipelineGraph
	stages    []namedStage
	edges     []edgeConfig
	entryNode string
	exitNodes []string
}

type namedStage struct {
	name  string
	stage core.Stage
}

// edgeConfig holds configuration for an edge
type edgeConfig struct {
	from        string
	to          string
	eventFilter []core.EventType
}

// NewBuilder creates a new graph-based pipeline builder
func NewBuilder() *GraphBuilder {
	return &GraphBuilder{
		graph: NewPipelineGraph(),
	}
}

// AddStage adds a stage node to the pipeline
func (b *GraphBuilder) AddStage(name string, stage core.Stage) *GraphBuilder {
	b.stages = append(b.stages, namedStage{name: name, stage: stage})
	return b
}

// Connect creates an edge from one node to another with optional event filtering
func (b *GraphBuilder) Connect(from, to string, eventFilter ...core.EventType) *GraphBuilder {
	b.edges = append(b.edges, edgeConfig{
		from:        from,
		to:          to,
		eventFilter: eventFilter,
	})
	return b
}

// Chain connects the named stages one after another without filters
func (b *GraphBuilder) Chain(names ...string) *GraphBuilder {
	for i := 1; i < len(names); i++ {
		b.Connect(names[i-1], names[i])
	}
	return b
}

// SetEntryNode sets the entry point for the pipeline
func (b *GraphBuilder) SetEntryNode(name string) *GraphBuilder {
	b.entryNode = name
	return b
}

// AddExitNode marks a node as a terminal/exit node
func (b *GraphBuilder) AddExitNode(name string) *GraphBuilder {
	b.exitNodes = append(b.exitNodes, name)
	return b
}

// Build creates and validates the pipeline graph
func (b *GraphBuilder) Build() (*Pipeline, error) {
	if len(b.stages) == 0 {
		return nil, fmt.Errorf("pipeline must have at least one stage")
	}
	if b.entryNode == "" {
		return nil, fmt.Errorf("entry node must be set")
	}

	for _, s := range b.stages {
		if err := b.graph.AddNode(s.name, s.stage); err != nil {
			return nil, fmt.Errorf("failed to add node %q: %w", s.name, err)
		}
	}

	for _, edge := range b.edges {
		if err := b.graph.AddEdge(edge.from, edge.to, edge.eventFilter); err != nil {
			return nil, fmt.Errorf("failed to add edge from %q to %q: %w", edge.from, edge.to, err)
		}
	}

	if err := b.graph.SetEntryNode(b.entryNode); err != nil {
		return nil, fmt.Errorf("failed to set entry node: %w", err)
	}

	for _, exitNode := range b.exitNodes {
		if err := b.graph.AddExitNode(exitNode); err != nil {
			return nil, fmt.Errorf("failed to add exit node %q: %w", exitNode, err)
		}
	}

	if err := ValidateGraph(b.graph); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	return NewPipeline(b.graph), nil
}
