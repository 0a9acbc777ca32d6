package graph

import (
	"fmt"

	"github.com/batchgraph/engine/infrastructure/errors"
	"github.com/batchgraph/engine/pkg/entry"
)

// Edge connects one (source node, source port) to one (target node,
// target port). Plain integer indices into Graph.Nodes, no
// back-references.
type Edge struct {
	FromNode int
	FromPort int
	ToNode   int
	ToPort   int
}

// Graph is a compiled, executable pipeline: an ordered node list
// (determines pump order), its edges, and an optional tail node
// designating the public output sink.
type Graph struct {
	Nodes  []Node
	Edges  []Edge
	Tail   *int
	buffer *EdgeBuffer
}

// New builds a Graph from nodes and edges. It validates port arity and
// the single-outgoing-edge-per-source-port rule (a source port may fan
// out to more than one target only if the source node is a SplitOp).
func New(nodes []Node, edges []Edge, tail *int) (*Graph, error) {
	outgoing := map[portKey]int{}
	for _, e := range edges {
		if e.FromNode < 0 || e.FromNode >= len(nodes) {
			return nil, errors.TopologyError(fmt.Sprintf("edge references unknown source node %d", e.FromNode))
		}
		if e.ToNode < 0 || e.ToNode >= len(nodes) {
			return nil, errors.TopologyError(fmt.Sprintf("edge references unknown target node %d", e.ToNode))
		}
		from := nodes[e.FromNode]
		if e.FromPort < 0 || e.FromPort >= from.NOutPorts() {
			return nil, errors.TopologyError(fmt.Sprintf("node %s has no output port %d", from.Name(), e.FromPort))
		}
		to := nodes[e.ToNode]
		if e.ToPort < 0 || e.ToPort >= to.NInPorts() {
			return nil, errors.TopologyError(fmt.Sprintf("node %s has no input port %d", to.Name(), e.ToPort))
		}

		key := portKey{e.FromNode, e.FromPort}
		outgoing[key]++
		if outgoing[key] > 1 {
			if k, ok := from.(Kinded); !ok || k.Kind() != KindSplit {
				return nil, errors.TopologyError(fmt.Sprintf(
					"node %s output port %d fans out to multiple edges without being a split node", from.Name(), e.FromPort))
			}
		}
	}

	if tail != nil && (*tail < 0 || *tail >= len(nodes)) {
		return nil, errors.TopologyError(fmt.Sprintf("tail references unknown node %d", *tail))
	}

	return &Graph{Nodes: nodes, Edges: edges, Tail: tail, buffer: NewEdgeBuffer()}, nil
}

// incomingEdges returns the edges feeding node n's ports.
func (g *Graph) incomingEdges(n int) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.ToNode == n {
			out = append(out, e)
		}
	}
	return out
}

// collectInputs gathers a deep-copied snapshot of every input port for
// node n, merging multiple incoming edges onto the same port by
// rev-high-water (the higher-rev entry for a given idx wins).
func (g *Graph) collectInputs(n int) map[int]map[string]entry.Entry {
	inputs := map[int]map[string]entry.Entry{}
	for _, e := range g.incomingEdges(n) {
		src := g.buffer.Snapshot(e.FromNode, e.FromPort)
		if inputs[e.ToPort] == nil {
			inputs[e.ToPort] = map[string]entry.Entry{}
		}
		for idx, ent := range src {
			if existing, ok := inputs[e.ToPort][idx]; !ok || entry.CompareRev(ent, existing) > 0 {
				inputs[e.ToPort][idx] = ent
			}
		}
	}
	return inputs
}

// applyOutputs writes a node's emissions into the edge buffer under that
// node's own (node, port) key as source, and reports whether any of those
// writes was actually accepted (not rejected as a stale revision).
func (g *Graph) applyOutputs(n int, result PumpResult) (didEmit bool) {
	for port, entries := range result.Outputs {
		for _, e := range entries {
			if g.buffer.Write(n, port, e) {
				didEmit = true
			}
		}
	}
	return didEmit
}

// applyConsumption deletes consumed idx from the source buffers feeding
// node n's input ports (source-side deletion).
func (g *Graph) applyConsumption(n int, result PumpResult) {
	for _, e := range g.incomingEdges(n) {
		consumedOnPort := result.Consumed[e.ToPort]
		for idx := range consumedOnPort {
			g.buffer.Consume(e.FromNode, e.FromPort, idx)
		}
	}
}

// TailEntries returns the current contents of the tail node's output port 0, if
// a tail is configured.
func (g *Graph) TailEntries() map[string]entry.Entry {
	if g.Tail == nil {
		return nil
	}
	return g.buffer.Snapshot(*g.Tail, 0)
}

// Buffer exposes the underlying EdgeBuffer for tests and introspection.
func (g *Graph) Buffer() *EdgeBuffer {
	return g.buffer
}
