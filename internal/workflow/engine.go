// Package workflow implements the graph-based WorkflowEngine (C9): a small
// agent-dispatch runtime executed either sequentially or with a single
// layer of fan-out concurrency, plus cron-driven scheduling.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/mclima/stock-intel-service/internal/domain"
)

// State is the mutable record threaded through node callbacks.
type State struct {
	WorkflowID  string
	ExecutionID string
	Context     map[string]any
	Results     map[string]any
	Errors      []string
}

func (s State) clone() State {
	ctx := make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		ctx[k] = v
	}
	results := make(map[string]any, len(s.Results))
	for k, v := range s.Results {
		results[k] = v
	}
	errs := make([]string, len(s.Errors))
	copy(errs, s.Errors)
	return State{WorkflowID: s.WorkflowID, ExecutionID: s.ExecutionID, Context: ctx, Results: results, Errors: errs}
}

// AgentFunc is a registered callable. It must return the (possibly
// mutated) state; returning the input unchanged is a valid identity
// passthrough.
type AgentFunc func(state State) (State, error)

func identity(state State) (State, error) { return state, nil }

// Engine owns the agent registry and executes WorkflowDefinition graphs
// against it.
type Engine struct {
	mu      sync.RWMutex
	agents  map[string]AgentFunc
	execTO  time.Duration // parallel-branch step timeout
}

// New builds an Engine. parallelStepTimeout bounds how long any single
// parallel branch may run before its result is treated as an error.
func New(parallelStepTimeout time.Duration) *Engine {
	return &Engine{agents: make(map[string]AgentFunc), execTO: parallelStepTimeout}
}

// RegisterAgent adds a callable to the registry under agentName. Unknown
// agent names at execution time resolve to identity passthrough.
func (e *Engine) RegisterAgent(name string, fn AgentFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[name] = fn
}

func (e *Engine) resolve(name string) AgentFunc {
	e.mu.RLock()
	fn, ok := e.agents[name]
	e.mu.RUnlock()
	if !ok {
		return identity
	}
	return fn
}

type graph struct {
	nodes    map[string]domain.WorkflowNode
	outEdges map[string][]string // declaration order preserved
}

func buildGraph(def domain.WorkflowDefinition) *graph {
	g := &graph{nodes: make(map[string]domain.WorkflowNode, len(def.Nodes)), outEdges: make(map[string][]string)}
	for _, n := range def.Nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range def.Edges {
		g.outEdges[e.From] = append(g.outEdges[e.From], e.To)
	}
	return g
}

func (g *graph) entryNode() (domain.WorkflowNode, bool) {
	for _, n := range g.nodes {
		if n.IsEntry {
			return n, true
		}
	}
	return domain.WorkflowNode{}, false
}

// runNode dispatches a single node: agent nodes call the registered (or
// identity) callable; tool/condition nodes are identity pass-through.
func (e *Engine) runNode(node domain.WorkflowNode, state State) (State, error) {
	if node.Type != domain.NodeTypeAgent {
		return identity(state)
	}
	fn := e.resolve(node.Agent)
	next, err := fn(state)
	if err != nil {
		return state, err
	}
	return next, nil
}

// Run executes def starting from its single entry node, following mode.
// reportProgress, if non-nil, is invoked with the id of each node as it
// begins so a caller can persist current_node.
func (e *Engine) Run(def domain.WorkflowDefinition, mode domain.WorkflowExecutionMode, initial State, reportProgress func(nodeID string)) State {
	if initial.Context == nil {
		initial.Context = make(map[string]any)
	}
	if initial.Results == nil {
		initial.Results = make(map[string]any)
	}

	g := buildGraph(def)
	entry, ok := g.entryNode()
	if !ok {
		return initial
	}

	if mode == domain.ExecutionModeParallel {
		successors := g.outEdges[entry.ID]
		if len(successors) > 1 {
			return e.runParallel(g, entry, successors, initial, reportProgress)
		}
	}
	return e.runSequential(g, entry, initial, reportProgress)
}

// runSequential walks declared edges one node at a time. On node error, the
// error is appended and the previous state retained, then traversal
// continues to the next edge.
func (e *Engine) runSequential(g *graph, start domain.WorkflowNode, state State, reportProgress func(nodeID string)) State {
	visited := make(map[string]struct{})
	node := start
	for {
		if _, seen := visited[node.ID]; seen {
			break
		}
		visited[node.ID] = struct{}{}
		if reportProgress != nil {
			reportProgress(node.ID)
		}

		next, err := e.runNode(node, state)
		if err != nil {
			state.Errors = append(state.Errors, fmt.Sprintf("node=%s: %v", node.ID, err))
		} else {
			state = next
		}

		if node.IsFinish {
			break
		}
		successors := g.outEdges[node.ID]
		if len(successors) == 0 {
			break
		}
		nextNode, ok := g.nodes[successors[0]]
		if !ok {
			break
		}
		node = nextNode
	}
	return state
}

// runParallel fans the entry node's multiple successors out concurrently,
// each operating on its own clone of state so branches never race on the
// same map; results are merged back in the order the branches finish, once
// all branches complete (or the step timeout elapses). A non-parallelizable
// fallback (single successor) is handled by the caller via runSequential.
func (e *Engine) runParallel(g *graph, entry domain.WorkflowNode, successors []string, state State, reportProgress func(nodeID string)) State {
	if reportProgress != nil {
		reportProgress(entry.ID)
	}
	entryResult, err := e.runNode(entry, state)
	if err != nil {
		state.Errors = append(state.Errors, fmt.Sprintf("node=%s: %v", entry.ID, err))
	} else {
		state = entryResult
	}

	type branchResult struct {
		id    string
		state State
		err   error
	}

	out := make(chan branchResult, len(successors))
	for _, succID := range successors {
		succID := succID
		branchState := state.clone()
		go func() {
			node, ok := g.nodes[succID]
			if !ok {
				out <- branchResult{id: succID, state: branchState, err: fmt.Errorf("unknown node %s", succID)}
				return
			}
			if reportProgress != nil {
				reportProgress(node.ID)
			}
			result := e.runSequential(g, node, branchState, nil)
			out <- branchResult{id: succID, state: result}
		}()
	}

	timeout := e.execTO
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.After(timeout)

	merged := state
	for i := 0; i < len(successors); i++ {
		select {
		case br := <-out:
			if br.err != nil {
				merged.Errors = append(merged.Errors, fmt.Sprintf("node=%s: %v", br.id, br.err))
				continue
			}
			for k, v := range br.state.Results {
				merged.Results[k] = v
			}
			merged.Errors = append(merged.Errors, br.state.Errors...)
		case <-deadline:
			merged.Errors = append(merged.Errors, "parallel step timed out before all branches completed")
			return merged
		}
	}
	return merged
}
