package graph

import (
	"sync"

	"github.com/batchgraph/engine/pkg/entry"
)

// portKey identifies one (source node, source output port) pair.
type portKey struct {
	node int
	port int
}

// EdgeBuffer holds, per (source_node, source_port), a map idx->Entry plus
// a parallel rev high-water map used to reject stale re-emissions during a
// single run. Mutated only by the scheduler.
type EdgeBuffer struct {
	mu        sync.Mutex
	entries   map[portKey]map[string]entry.Entry
	highWater map[portKey]map[string]int64
}

// NewEdgeBuffer creates an empty EdgeBuffer.
func NewEdgeBuffer() *EdgeBuffer {
	return &EdgeBuffer{
		entries:   map[portKey]map[string]entry.Entry{},
		highWater: map[portKey]map[string]int64{},
	}
}

// Write attempts to store e on the given source port. It is rejected
// (a no-op) if e.Rev is below the recorded high-water mark for e.Idx;
// equal-rev arrivals overwrite. Returns whether the write was accepted.
func (b *EdgeBuffer) Write(node, port int, e entry.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := portKey{node, port}
	if b.entries[key] == nil {
		b.entries[key] = map[string]entry.Entry{}
		b.highWater[key] = map[string]int64{}
	}

	if hw, ok := b.highWater[key][e.Idx]; ok && e.Rev < hw {
		return false
	}

	b.entries[key][e.Idx] = e
	b.highWater[key][e.Idx] = e.Rev
	return true
}

// Snapshot returns a copy of the current live entries on the given source
// port, for handing to a downstream node's Pump.
func (b *EdgeBuffer) Snapshot(node, port int) map[string]entry.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.entries[portKey{node, port}]
	out := make(map[string]entry.Entry, len(src))
	for idx, e := range src {
		out[idx] = e.Clone()
	}
	return out
}

// Consume deletes idx from the given source port's buffer (source-side
// deletion: the buffer forgets an entry once any downstream consumer
// declares it consumed).
func (b *EdgeBuffer) Consume(node, port int, idx string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if m, ok := b.entries[portKey{node, port}]; ok {
		delete(m, idx)
	}
}

// Len reports how many live entries sit on the given source port.
func (b *EdgeBuffer) Len(node, port int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries[portKey{node, port}])
}
