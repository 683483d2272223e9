package flow

import (
	"context"
	"fmt"
)

// edge tags returned by graph nodes. decide_transition's tagged result drives
// the conditional edges; every other node emits edgeNext.
const (
	edgeNext           = "next"
	edgeSameCompetency = "same_competency"
	edgeNextCompetency = "next_competency"
	edgeWrapup         = "wrapup"
	edgeClosing        = "closing"
	edgeDone           = "done"
)

// node is a pure step over the turn payload. It returns the edge tag that
// selects the next node.
type node func(ctx context.Context, p *turnPayload) (string, error)

// graph schedules nodes and makes edges explicit. Nodes mutate only the
// payload's working-copy context, so a failed run discards all effects.
type graph struct {
	entry string
	nodes map[string]node
	edges map[string]map[string]string
}

func newGraph(entry string) *graph {
	return &graph{
		entry: entry,
		nodes: make(map[string]node),
		edges: make(map[string]map[string]string),
	}
}

func (g *graph) addNode(name string, fn node) {
	g.nodes[name] = fn
}

// addEdge wires one tagged transition from a node to its successor. The
// special target edgeDone terminates the run.
func (g *graph) addEdge(from, tag, to string) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]string)
	}
	g.edges[from][tag] = to
}

// run executes nodes from the entry until a node routes to edgeDone.
func (g *graph) run(ctx context.Context, p *turnPayload) error {
	current := g.entry
	for {
		fn, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("flow graph missing node %q", current)
		}
		tag, err := fn(ctx, p)
		if err != nil {
			return fmt.Errorf("flow node %s: %w", current, err)
		}
		next, ok := g.edges[current][tag]
		if !ok {
			return fmt.Errorf("flow graph missing edge %s[%s]", current, tag)
		}
		if next == edgeDone {
			return nil
		}
		current = next
	}
}
