package ops

import (
	"context"
	"math/rand"
	"sort"

	"github.com/batchgraph/engine/pkg/entry"
	"github.com/batchgraph/engine/pkg/graph"
)

// BatchOp sees the entire port-0 batch at once and applies a BatchFunc to
// it. ConsumeAllBatch declares whether every input entry is consumed
// regardless of whether it appears in the result (shuffle/sort/take-first-N
// reorder or drop entries without the dropped ones being an error) or only
// entries present in the result are consumed.
type BatchOp struct {
	name            string
	fn              BatchFunc
	barrierLevel    int
	consumeAllBatch bool
}

// NewBatchOp creates a BatchOp named name at the given barrier level.
func NewBatchOp(name string, fn BatchFunc, barrierLevel int, consumeAllBatch bool) *BatchOp {
	return &BatchOp{name: name, fn: fn, barrierLevel: barrierLevel, consumeAllBatch: consumeAllBatch}
}

func (op *BatchOp) Name() string      { return op.name }
func (op *BatchOp) NInPorts() int     { return 1 }
func (op *BatchOp) NOutPorts() int    { return 1 }
func (op *BatchOp) BarrierLevel() int { return op.barrierLevel }
func (op *BatchOp) Kind() graph.Kind  { return graph.KindBatch }

func (op *BatchOp) Pump(ctx context.Context, inputs map[int]map[string]entry.Entry, opts graph.PumpOptions) (graph.PumpResult, error) {
	r := graph.NewPumpResult()
	batch := inputs[0]
	if len(batch) == 0 {
		return r, nil
	}

	out, err := op.fn.ApplyBatch(batch)
	if err != nil {
		return r, err
	}
	for _, e := range out {
		r.Emit(0, e)
	}

	if op.consumeAllBatch {
		for idx := range batch {
			r.Consume(0, idx)
		}
	} else {
		for idx := range out {
			r.Consume(0, idx)
		}
	}
	return r, nil
}

type batchFunc func(batch map[string]entry.Entry) (map[string]entry.Entry, error)

func (f batchFunc) ApplyBatch(batch map[string]entry.Entry) (map[string]entry.Entry, error) {
	return f(batch)
}

// Shuffle deterministically reorders a batch by seed, grounded on
// original_source's Shuffle. Since an unordered map carries no order to
// disturb, the determinism is instead surfaced as a stable priority
// assigned to each idx from the seeded RNG, which TakeFirstN relies on.
func Shuffle(name string, seed int64, barrierLevel int) *BatchOp {
	fn := batchFunc(func(batch map[string]entry.Entry) (map[string]entry.Entry, error) {
		idxs := sortedIdxs(batch)
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(idxs), func(i, j int) { idxs[i], idxs[j] = idxs[j], idxs[i] })

		out := make(map[string]entry.Entry, len(batch))
		for priority, idx := range idxs {
			e := batch[idx]
			out[idx] = e.Set("__shuffle_priority__", priority)
		}
		return out, nil
	})
	return NewBatchOp(name, fn, barrierLevel, true)
}

// TakeFirstN keeps only the first n entries (by __shuffle_priority__ if
// present, else by idx) and discards the rest, grounded on
// original_source's TakeFirstN.
func TakeFirstN(name string, n int, barrierLevel int) *BatchOp {
	fn := batchFunc(func(batch map[string]entry.Entry) (map[string]entry.Entry, error) {
		idxs := sortedIdxs(batch)
		sort.SliceStable(idxs, func(i, j int) bool {
			pi, oki := batch[idxs[i]].Get("__shuffle_priority__")
			pj, okj := batch[idxs[j]].Get("__shuffle_priority__")
			if oki && okj {
				return toInt(pi) < toInt(pj)
			}
			return idxs[i] < idxs[j]
		})
		if n < len(idxs) {
			idxs = idxs[:n]
		}
		out := make(map[string]entry.Entry, len(idxs))
		for _, idx := range idxs {
			out[idx] = batch[idx]
		}
		return out, nil
	})
	return NewBatchOp(name, fn, barrierLevel, true)
}

// SortKeyFunc extracts a comparable key from an entry's data. Sort takes a
// less-than comparator and does not accept a SortKeyFunc.
type SortKeyFunc func(e entry.Entry) interface{}

// Sort reorders the batch by a custom less-than comparator, grounded on
// original_source's Sort. The result order is encoded the same way
// Shuffle encodes it, via __shuffle_priority__, so it composes with
// TakeFirstN.
func Sort(name string, less func(a, b entry.Entry) bool, barrierLevel int) *BatchOp {
	fn := batchFunc(func(batch map[string]entry.Entry) (map[string]entry.Entry, error) {
		idxs := sortedIdxs(batch)
		sort.SliceStable(idxs, func(i, j int) bool {
			return less(batch[idxs[i]], batch[idxs[j]])
		})
		out := make(map[string]entry.Entry, len(idxs))
		for priority, idx := range idxs {
			out[idx] = batch[idx].Set("__shuffle_priority__", priority)
		}
		return out, nil
	})
	return NewBatchOp(name, fn, barrierLevel, true)
}

func sortedIdxs(batch map[string]entry.Entry) []string {
	idxs := make([]string, 0, len(batch))
	for idx := range batch {
		idxs = append(idxs, idx)
	}
	sort.Strings(idxs)
	return idxs
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
