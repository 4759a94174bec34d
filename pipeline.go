package collate

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/creastat/collate/core"
)

// Pipeline is a composable record pipeline with graph-based execution
type Pipeline struct {
	graph  *PipelineGraph
	mu     sync.Mutex
	cancel context.CancelFunc
	err    error
}

// NewPipeline creates a new pipeline from a validated graph
func NewPipeline(graph *PipelineGraph) *Pipeline {
	return &Pipeline{
		graph: graph,
	}
}

// Execute runs the pipeline DAG starting from the entry node.
// It returns a channel that receives the events of all exit nodes and is
// closed when every stage has finished; the caller must drain it until then.
// Err reports the first stage failure.
func (p *Pipeline) Execute(ctx context.Context, input <-chan core.Event) core.PipelineOutput {
	outputChan := make(chan core.Event, 100)

	pipelineCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.err = nil
	p.mu.Unlock()

	go func() {
		defer close(outputChan)
		defer cancel()

		err := p.executeGraph(pipelineCtx, input, outputChan)
		p.mu.Lock()
		p.err = err
		p.cancel = nil
		p.mu.Unlock()
	}()

	return outputChan
}

// Err returns the error of the last execution once its output channel is closed
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// executeGraph executes the pipeline DAG with proper synchronization and error handling
func (p *Pipeline) executeGraph(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	pipelineCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	nodes := p.graph.AllNodes()
	state := &executionState{
		ctx:        pipelineCtx,
		cancel:     cancel,
		nodeStates: make(map[string]*nodeState, len(nodes)),
		errorChan:  make(chan error, len(nodes)),
	}

	entryNode := p.graph.GetEntryNode()
	for _, node := range nodes {
		feeders := len(node.Inputs())
		if node == entryNode {
			feeders++
		}
		state.nodeStates[node.Name()] = &nodeState{
			input:   make(chan core.Event, 100),
			output:  make(chan core.Event, 100),
			feeders: feeders,
		}
	}

	// Exit nodes that also feed other nodes need their output copied to both
	exitNodes := p.graph.GetExitNodes()
	exitOutputs := make(map[string]chan core.Event, len(exitNodes))
	for _, node := range exitNodes {
		exitOutputs[node.Name()] = make(chan core.Event, 100)
	}

	for _, node := range nodes {
		state.wg.Add(1)
		go p.runStage(node, state, exitOutputs[node.Name()])
	}

	state.wg.Add(1)
	go func() {
		defer state.wg.Done()
		defer state.upstreamDone(entryNode)
		for {
			select {
			case <-pipelineCtx.Done():
				return
			case event, ok := <-input:
				if !ok {
					return
				}
				select {
				case <-pipelineCtx.Done():
					return
				case state.nodeStates[entryNode.Name()].input <- event:
				}
			}
		}
	}()

	var collectWg sync.WaitGroup
	for _, node := range exitNodes {
		collectWg.Add(1)
		go func(ch <-chan core.Event) {
			defer collectWg.Done()
			for event := range ch {
				output <- event
			}
		}(exitOutputs[node.Name()])
	}

	state.wg.Wait()
	collectWg.Wait()

	close(state.errorChan)
	if err, ok := <-state.errorChan; ok {
		return err
	}
	return nil
}

// runStage executes a single stage and routes its output
func (p *Pipeline) runStage(node *graphNode, state *executionState, exitOutput chan core.Event) {
	defer state.wg.Done()

	ns := state.nodeStates[node.Name()]

	var routeWg sync.WaitGroup
	routeWg.Add(1)
	go func() {
		defer routeWg.Done()
		p.routeOutputs(node, state, exitOutput)
	}()

	defer routeWg.Wait()
	defer close(ns.output)

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err := fmt.Errorf("stage %s panicked: %v\nStack trace:\n%s", node.Name(), r, string(buf[:n]))
			state.fail(ns, err)
		}
	}()

	if err := node.Stage().Process(state.ctx, ns.input, ns.output); err != nil {
		state.fail(ns, fmt.Errorf("stage %s: %w", node.Name(), err))
	}
}

// routeOutputs forwards a stage's events to its downstream nodes and, for exit
// nodes, to the pipeline output. Downstream sends block until accepted or
// cancelled; exit events are always delivered.
func (p *Pipeline) routeOutputs(node *graphNode, state *executionState, exitOutput chan core.Event) {
	ns := state.nodeStates[node.Name()]

	defer func() {
		if exitOutput != nil {
			close(exitOutput)
		}
		for _, edge := range node.Outputs() {
			state.upstreamDone(edge.To())
		}
	}()

	for event := range ns.output {
		for _, edge := range node.Outputs() {
			if !edge.ShouldForwardEvent(event.EventType()) {
				continue
			}
			select {
			case <-state.ctx.Done():
			case state.nodeStates[edge.To().Name()].input <- event:
			}
		}
		if exitOutput != nil {
			exitOutput <- event
		}
	}
}

// Cancel cancels the pipeline execution
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
}

// executionState tracks runtime state during pipeline execution
type executionState struct {
	ctx        context.Context
	cancel     context.CancelFunc
	nodeStates map[string]*nodeState
	wg         sync.WaitGroup
	mu         sync.Mutex
	errorChan  chan error
}

// nodeState tracks the state of a single node during execution
type nodeState struct {
	input  chan core.Event
	output chan core.Event

	// feeders counts upstream producers that have not finished; the
	// pipeline input counts as a producer of the entry node
	feeders int
	closed  bool
}

// upstreamDone records that one producer of node finished and closes the
// node's input once all of them have
func (s *executionState) upstreamDone(node *graphNode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := s.nodeStates[node.Name()]
	if ns.closed {
		return
	}
	ns.feeders--
	if ns.feeders <= 0 {
		ns.closed = true
		close(ns.input)
	}
}

// fail emits an error event for the node, records the error and cancels the pipeline
func (s *executionState) fail(ns *nodeState, err error) {
	select {
	case <-s.ctx.Done():
	case ns.output <- core.ErrorEvent{Error: err, Retryable: false}:
	}
	select {
	case s.errorChan <- err:
	default:
	}
	s.cancel()
}
