package graph

import (
	"context"
	"sort"
	"strconv"
	"time"

	engerrors "github.com/batchgraph/engine/infrastructure/errors"
	"github.com/batchgraph/engine/infrastructure/logging"
	"github.com/batchgraph/engine/infrastructure/metrics"
)

// ExecuteOptions mirrors spec's engine-facing configuration for one
// execute() run.
type ExecuteOptions struct {
	DispatchBrokers bool
	Mock            bool
	MaxIterations   int
	MaxBarrierLevel *int
	// ReloadInputs, if true, is honored on the first pump of this call
	// only (per-run, not sticky across calls).
	ReloadInputs bool

	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// GraphName labels log/metric entries; defaults to "graph".
	GraphName string
}

// ExecuteResult reports how the run ended.
type ExecuteResult struct {
	Iterations   int
	FinalLevel   int
	IterationCap bool
}

// Execute drives the graph to quiescence: it interleaves draining cheap
// (level-0) work with progressively higher barrier levels, falling back to
// the lowest level that produced work each time something emits, honoring
// dispatch_brokers only once current_level > 0, and stopping at
// max_iterations.
func (g *Graph) Execute(ctx context.Context, opts ExecuteOptions) (ExecuteResult, error) {
	graphName := opts.GraphName
	if graphName == "" {
		graphName = "graph"
	}
	ctx = logging.WithGraph(ctx, graphName)
	if logging.GetTraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	}

	levels := g.declaredLevels()
	if len(levels) == 0 {
		return ExecuteResult{}, nil
	}

	currentLevel := levels[0]
	firstPump := true
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1000
	}

	iteration := 0
	for iteration < maxIterations {
		iteration++

		dispatch := opts.DispatchBrokers && currentLevel > 0
		pumpOpts := PumpOptions{
			DispatchBrokers: dispatch,
			Mock:            opts.Mock,
			ReloadInputs:    firstPump && opts.ReloadInputs,
			MaxBarrierLevel: opts.MaxBarrierLevel,
		}
		firstPump = false

		iterStart := time.Now()
		emittedLevel, err := g.pumpSweep(ctx, currentLevel, pumpOpts, opts.Logger, opts.Metrics, graphName)
		if opts.Metrics != nil {
			opts.Metrics.RecordIteration(graphName, currentLevel, time.Since(iterStart))
		}
		if err != nil {
			return ExecuteResult{Iterations: iteration, FinalLevel: currentLevel}, err
		}

		if opts.Logger != nil {
			opts.Logger.LogIteration(ctx, iteration, currentLevel, emittedLevel)
		}

		if emittedLevel == nil {
			next, ok := nextLevel(levels, currentLevel, opts.MaxBarrierLevel)
			if !ok {
				return ExecuteResult{Iterations: iteration, FinalLevel: currentLevel}, nil
			}
			currentLevel = next
			continue
		}

		if *emittedLevel < currentLevel {
			currentLevel = *emittedLevel
		}
	}

	if opts.Logger != nil {
		opts.Logger.LogIterationCapExceeded(ctx, maxIterations)
	}
	if opts.Metrics != nil {
		opts.Metrics.RecordIterationCapHit()
	}
	return ExecuteResult{Iterations: iteration, FinalLevel: currentLevel, IterationCap: true},
		engerrors.IterationCapExceeded(maxIterations)
}

// declaredLevels returns the sorted, de-duplicated set of barrier levels
// present among the graph's nodes.
func (g *Graph) declaredLevels() []int {
	seen := map[int]struct{}{}
	for _, n := range g.Nodes {
		seen[n.BarrierLevel()] = struct{}{}
	}
	levels := make([]int, 0, len(seen))
	for l := range seen {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	return levels
}

// nextLevel returns the smallest declared level strictly greater than
// current, bounded by maxBarrierLevel if set. ok is false if there is no
// such level (quiescence).
func nextLevel(levels []int, current int, maxBarrierLevel *int) (int, bool) {
	for _, l := range levels {
		if l > current {
			if maxBarrierLevel != nil && l > *maxBarrierLevel {
				return 0, false
			}
			return l, true
		}
	}
	return 0, false
}

// pumpSweep pumps every node whose barrier level is <= maxLevel, in node
// order, and returns the highest barrier level at which any node's pump
// produced an accepted emission this sweep, or nil if none did.
func (g *Graph) pumpSweep(ctx context.Context, maxLevel int, opts PumpOptions, logger *logging.Logger, m *metrics.Metrics, graphName string) (*int, error) {
	var emittedLevel *int

	for i, node := range g.Nodes {
		if node.BarrierLevel() > maxLevel {
			continue
		}

		inputs := g.collectInputs(i)
		start := time.Now()
		result, err := node.Pump(ctx, inputs, opts)
		duration := time.Since(start)

		if err == nil {
			result.DidEmit = g.applyOutputs(i, result)
			g.applyConsumption(i, result)
		}
		if logger != nil {
			logger.LogPump(ctx, node.Name(), node.BarrierLevel(), result.DidEmit, duration)
		}
		if m != nil {
			m.RecordPump(node.Name(), result.DidEmit, duration)
		}
		if err != nil {
			return nil, engerrors.UserCodeFailure(node.Name(), err)
		}
		didEmit := result.DidEmit

		if m != nil {
			for port, entries := range result.Outputs {
				if len(entries) > 0 {
					m.RecordEntriesEmitted(node.Name(), strconv.Itoa(port), len(entries))
				}
			}
		}

		if didEmit {
			level := node.BarrierLevel()
			if emittedLevel == nil || level > *emittedLevel {
				l := level
				emittedLevel = &l
			}
		}
	}

	return emittedLevel, nil
}
