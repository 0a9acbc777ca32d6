// Package segment implements the fluent graph-composition layer: partial
// graphs with a designated head/tail, composable via .Then() chaining
// (Go has no operator overload for the spec's pipeline `|` operator), and
// compiled into an executable graph.Graph.
package segment

import (
	"github.com/batchgraph/engine/infrastructure/errors"
	"github.com/batchgraph/engine/pkg/graph"
)

// Segment is a partial graph under construction: an ordered node list,
// the edges connecting them so far, and the designated head/tail node
// indices (nil tail means the segment's last-added node has no single
// linear successor, e.g. a Split).
type Segment struct {
	nodes []graph.Node
	edges []graph.Edge
	head  int
	tail  *int
}

// New creates a single-node Segment.
func New(node graph.Node) *Segment {
	tail := 0
	return &Segment{nodes: []graph.Node{node}, head: 0, tail: &tail}
}

func kindOf(n graph.Node) (graph.Kind, bool) {
	k, ok := n.(graph.Kinded)
	if !ok {
		return 0, false
	}
	return k.Kind(), true
}

// Then concatenates other after s, connecting s's tail output port 0 to
// other's head input port 0, and returns the combined segment with
// other's tail propagated as the new tail. Raises a topology error if
// either side has no eligible head/tail, or if the two segments share any
// node.
func (s *Segment) Then(other *Segment) (*Segment, error) {
	if s.tail == nil {
		return nil, errors.TopologyError("left segment has no single tail output to concatenate from (e.g. ends in a SplitOp)")
	}
	if k, ok := kindOf(other.nodes[other.head]); ok && (k == graph.KindInput || k == graph.KindMerge) {
		return nil, errors.TopologyError("right segment's head node cannot be an InputOp or MergeOp (admits multiple/no predecessors)")
	}
	if overlaps(s.nodes, other.nodes) {
		return nil, errors.TopologyError("cannot concatenate two segments that share a node")
	}

	offset := len(s.nodes)
	combined := &Segment{
		nodes: append(append([]graph.Node{}, s.nodes...), other.nodes...),
		edges: append(append([]graph.Edge{}, s.edges...), offsetEdges(other.edges, offset)...),
		head:  s.head,
	}
	combined.edges = append(combined.edges, graph.Edge{
		FromNode: *s.tail, FromPort: 0,
		ToNode: offset + other.head, ToPort: 0,
	})
	if other.tail != nil {
		t := offset + *other.tail
		combined.tail = &t
	}
	return combined, nil
}

func overlaps(a, b []graph.Node) bool {
	seen := make(map[graph.Node]struct{}, len(a))
	for _, n := range a {
		seen[n] = struct{}{}
	}
	for _, n := range b {
		if _, ok := seen[n]; ok {
			return true
		}
	}
	return false
}

func offsetEdges(edges []graph.Edge, offset int) []graph.Edge {
	out := make([]graph.Edge, len(edges))
	for i, e := range edges {
		out[i] = graph.Edge{
			FromNode: e.FromNode + offset, FromPort: e.FromPort,
			ToNode: e.ToNode + offset, ToPort: e.ToPort,
		}
	}
	return out
}

// WithoutTail marks the segment as having no single linear tail, for
// nodes that break linearity (e.g. a SplitOp with multiple meaningful
// output ports the caller will wire explicitly via Join).
func (s *Segment) WithoutTail() *Segment {
	c := *s
	c.tail = nil
	return &c
}

// Join manually wires an explicit edge between two nodes already present
// in the segment (by index), for topologies .Then() can't express, such
// as a loop-back edge into a MergeOp's second input port.
func (s *Segment) Join(fromNode, fromPort, toNode, toPort int) (*Segment, error) {
	if fromNode < 0 || fromNode >= len(s.nodes) || toNode < 0 || toNode >= len(s.nodes) {
		return nil, errors.TopologyError("Join references a node outside this segment")
	}
	c := *s
	c.edges = append(append([]graph.Edge{}, s.edges...), graph.Edge{
		FromNode: fromNode, FromPort: fromPort, ToNode: toNode, ToPort: toPort,
	})
	return &c, nil
}

// Compile validates and builds an executable graph.Graph, designating the
// segment's tail (if any) as the graph's public output sink.
func (s *Segment) Compile() (*graph.Graph, error) {
	if s.tail != nil {
		if k, ok := kindOf(s.nodes[*s.tail]); ok && k == graph.KindSplit {
			return nil, errors.TopologyError("SplitOp cannot be a segment's tail (it has multiple meaningful outputs)")
		}
	}
	return graph.New(s.nodes, s.edges, s.tail)
}

// Nodes exposes the segment's current node list, for callers that need
// node indices to build explicit Join edges (e.g. a Repeat loop-back).
func (s *Segment) Nodes() []graph.Node { return s.nodes }

// TailIndex reports the segment's current tail node index, if any.
func (s *Segment) TailIndex() (int, bool) {
	if s.tail == nil {
		return 0, false
	}
	return *s.tail, true
}

// HeadIndex reports the segment's head node index.
func (s *Segment) HeadIndex() int { return s.head }
