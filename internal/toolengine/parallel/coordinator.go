package parallel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

// Executor resolves one dispatched tool call to its raw result payload.
type Executor func(ctx context.Context, call openaiadapter.ToolCall) (json.RawMessage, error)

// SimulationExecutor is the default executor: it marks a call ready for
// execution without running anything. The gateway prepares calls for the
// client to resolve; it does not execute arbitrary code.
func SimulationExecutor(_ context.Context, call openaiadapter.ToolCall) (json.RawMessage, error) {
	marker, err := json.Marshal(map[string]string{
		"status": "ready_for_execution",
		"tool":   call.Function.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("encode execution marker: %w", err)
	}
	return marker, nil
}

// CallResult is the outcome of one dispatched call, tagged with its
// originating call id so callers can reconstruct correspondence regardless
// of completion order.
type CallResult struct {
	ToolCallID   string
	FunctionName string
	Output       json.RawMessage
	Err          *faults.CodedError
	Elapsed      time.Duration
}

// BatchResult aggregates a batch run. Success is true iff every individual
// call succeeded; failures are collected without suppressing other results.
type BatchResult struct {
	Success  bool
	Parallel bool
	Results  []CallResult
	Errors   []*faults.CodedError
}

// Options bounds a Coordinator.
type Options struct {
	// MaxParallelCalls is the largest batch eligible for parallel dispatch.
	MaxParallelCalls int
	// MaxInFlight caps concurrently executing calls (the sliding window).
	MaxInFlight int
	// CallTimeout is the per-call race deadline.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Coordinator dispatches tool-call batches under a bounded concurrency
// window. Stateless between invocations.
type Coordinator struct {
	maxParallel int
	maxInFlight int64
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewCoordinator creates a Coordinator; zero options fall back to defaults.
func NewCoordinator(opts Options) *Coordinator {
	if opts.MaxParallelCalls <= 0 {
		opts.MaxParallelCalls = 10
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 4
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		maxParallel: opts.MaxParallelCalls,
		maxInFlight: int64(opts.MaxInFlight),
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
	}
}

// CanProcessInParallel reports parallel eligibility: the batch must not
// exceed the maximum parallel-call count and must contain no pairwise
// write conflicts.
func (c *Coordinator) CanProcessInParallel(calls []openaiadapter.ToolCall) (bool, string) {
	if len(calls) > c.maxParallel {
		return false, fmt.Sprintf("batch of %d exceeds the parallel limit of %d", len(calls), c.maxParallel)
	}
	if conflicts := DetectConflicts(calls); len(conflicts) > 0 {
		return false, conflicts[0].Reason
	}
	return true, ""
}

// Process runs a batch. Ineligible batches are rejected when strict
// (TOO_MANY_PARALLEL_CALLS / CALL_CONFLICT, never silently truncated) and
// processed sequentially otherwise. Result order does not match dispatch
// order; each result carries its originating call id.
func (c *Coordinator) Process(ctx context.Context, calls []openaiadapter.ToolCall, executor Executor, strict bool) (BatchResult, error) {
	if executor == nil {
		executor = SimulationExecutor
	}
	if len(calls) == 0 {
		return BatchResult{Success: true}, nil
	}

	parallelOK := true
	if len(calls) > c.maxParallel {
		if strict {
			return BatchResult{}, faults.New(faults.TypeValidation, "TOO_MANY_PARALLEL_CALLS",
				"batch of %d exceeds the parallel limit of %d", len(calls), c.maxParallel)
		}
		parallelOK = false
	}
	if conflicts := DetectConflicts(calls); len(conflicts) > 0 {
		if strict {
			return BatchResult{}, faults.New(faults.TypeValidation, "CALL_CONFLICT", "%s", conflicts[0].Reason)
		}
		parallelOK = false
	}

	if !parallelOK {
		return c.processSequential(ctx, calls, executor), nil
	}
	return c.processParallel(ctx, calls, executor), nil
}

// processParallel dispatches under a sliding window: a weighted semaphore
// admits at most maxInFlight calls, and each new dispatch blocks until the
// earliest in-flight completion releases a slot.
func (c *Coordinator) processParallel(ctx context.Context, calls []openaiadapter.ToolCall, executor Executor) BatchResult {
	sem := semaphore.NewWeighted(c.maxInFlight)
	results := make([]CallResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = cancelledResult(call, err)
			continue
		}
		wg.Add(1)
		go func(i int, call openaiadapter.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = c.runOne(ctx, call, executor)
		}(i, call)
	}
	wg.Wait()

	return aggregate(results, true)
}

func (c *Coordinator) processSequential(ctx context.Context, calls []openaiadapter.ToolCall, executor Executor) BatchResult {
	results := make([]CallResult, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			results[i] = cancelledResult(call, ctx.Err())
			continue
		}
		results[i] = c.runOne(ctx, call, executor)
	}
	return aggregate(results, false)
}

// runOne races one call against the per-call timeout. A timed-out call is
// marked failed locally; the executor goroutine may still be running, but
// its eventual outcome is discarded.
func (c *Coordinator) runOne(ctx context.Context, call openaiadapter.ToolCall, executor Executor) CallResult {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()

	type outcome struct {
		output json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		output, err := executor(callCtx, call)
		done <- outcome{output: output, err: err}
	}()

	result := CallResult{ToolCallID: call.ID, FunctionName: call.Function.Name}

	select {
	case <-callCtx.Done():
		result.Elapsed = time.Since(start)
		if ctx.Err() != nil {
			result.Err = faults.New(faults.TypeProcessing, "BATCH_CANCELLED",
				"batch cancelled while %q was in flight", call.Function.Name).WithCall(call.ID, call.Function.Name)
		} else {
			c.logger.Warn("tool call timed out", "tool_call_id", call.ID, "function", call.Function.Name, "timeout", c.callTimeout)
			result.Err = faults.New(faults.TypeTimeout, "PROCESSING_TIMEOUT",
				"tool call %q exceeded the %s timeout", call.Function.Name, c.callTimeout).WithCall(call.ID, call.Function.Name)
		}
	case out := <-done:
		result.Elapsed = time.Since(start)
		if out.err != nil {
			var coded *faults.CodedError
			if !faults.AsCoded(out.err, &coded) {
				coded = faults.New(faults.TypeExecution, "EXECUTION_FAILED", "%v", out.err).WithCall(call.ID, call.Function.Name)
			}
			result.Err = coded
		} else {
			result.Output = out.output
		}
	}

	return result
}

func cancelledResult(call openaiadapter.ToolCall, cause error) CallResult {
	return CallResult{
		ToolCallID:   call.ID,
		FunctionName: call.Function.Name,
		Err: faults.New(faults.TypeProcessing, "BATCH_CANCELLED",
			"dispatch cancelled before %q started: %v", call.Function.Name, cause).WithCall(call.ID, call.Function.Name),
	}
}

func aggregate(results []CallResult, parallel bool) BatchResult {
	batch := BatchResult{Success: true, Parallel: parallel, Results: results}
	for _, result := range results {
		if result.Err != nil {
			batch.Success = false
			batch.Errors = append(batch.Errors, result.Err)
		}
	}
	return batch
}
