// Package toolengine implements the tool-call lifecycle: schema validation,
// OpenAI↔Claude format conversion, choice resolution, id tracking, state
// management, parallel coordination and error classification, behind one
// explicitly constructed Engine.
package toolengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/callid"
	"github.com/toolgate/toolgate/internal/toolengine/choice"
	"github.com/toolgate/toolgate/internal/toolengine/convert"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
	"github.com/toolgate/toolgate/internal/toolengine/format"
	"github.com/toolgate/toolgate/internal/toolengine/parallel"
	"github.com/toolgate/toolgate/internal/toolengine/schema"
	"github.com/toolgate/toolgate/internal/toolengine/state"
)

// Config bounds the engine. Zero values fall back to component defaults.
type Config struct {
	MaxParallelCalls    int
	MaxInFlight         int
	CallTimeout         time.Duration
	ChoiceBudget        time.Duration
	SchemaCacheCapacity int
	SchemaCacheTTL      time.Duration
	SchemaTimeBudget    time.Duration
	MaxIDsPerSession    int
	IDTrackBudget       time.Duration
	Logger              *slog.Logger
}

// ToolConfiguration is the per-request tool policy parsed by the HTTP layer
// from headers/flags. The engine consumes it as plain data and never reads
// environment variables or headers itself.
type ToolConfiguration struct {
	EnabledTools     []string
	DisallowedTools  []string
	PermissionMode   string
	MaxTurns         int
	MaxParallelCalls int
}

// Allows reports whether the configuration permits the named tool.
func (c ToolConfiguration) Allows(name string) bool {
	for _, disallowed := range c.DisallowedTools {
		if disallowed == name {
			return false
		}
	}
	if len(c.EnabledTools) == 0 {
		return true
	}
	for _, enabled := range c.EnabledTools {
		if enabled == name {
			return true
		}
	}
	return false
}

// Engine threads the lifecycle components together. All dependencies are
// constructed here and injected; there is no ambient global state.
type Engine struct {
	Schemas     *schema.Validator
	IDs         *callid.Tracker
	Converter   *convert.Converter
	Choices     *choice.Resolver
	Formatter   *format.Formatter
	Coordinator *parallel.Coordinator
	States      *state.Manager

	logger *slog.Logger
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Schemas: schema.NewValidator(schema.Options{
			CacheCapacity: cfg.SchemaCacheCapacity,
			CacheTTL:      cfg.SchemaCacheTTL,
			TimeBudget:    cfg.SchemaTimeBudget,
			Logger:        logger,
		}),
		IDs:       callid.NewTracker(cfg.MaxIDsPerSession, cfg.IDTrackBudget),
		Converter: convert.NewConverter(),
		Choices:   choice.NewResolver(cfg.ChoiceBudget),
		Formatter: format.NewFormatter(),
		Coordinator: parallel.NewCoordinator(parallel.Options{
			MaxParallelCalls: cfg.MaxParallelCalls,
			MaxInFlight:      cfg.MaxInFlight,
			CallTimeout:      cfg.CallTimeout,
			Logger:           logger,
		}),
		States: state.NewManager(),
		logger: logger,
	}
}

// PreparedRequest is the validated, Claude-shaped form of a request's tool
// surface, ready for the completion provider.
type PreparedRequest struct {
	Tools     []convert.ClaudeTool
	Choice    convert.ClaudeToolChoice
	Directive choice.ClaudeChoiceFormat
	Warnings  []string
}

// PrepareRequest validates tool schemas, resolves the tool_choice directive
// and converts the surviving tools to Claude format. Every failure here is
// resolved before any provider call is made.
func (e *Engine) PrepareRequest(tools []openaiadapter.Tool, toolChoice *openaiadapter.ToolChoice, toolCfg ToolConfiguration) (*PreparedRequest, error) {
	filtered := make([]openaiadapter.Tool, 0, len(tools))
	var warnings []string
	for _, tool := range tools {
		if !toolCfg.Allows(tool.Function.Name) {
			warnings = append(warnings, "tool "+tool.Function.Name+" is disabled by configuration")
			continue
		}
		filtered = append(filtered, tool)
	}

	for _, tool := range filtered {
		result := e.Schemas.ValidateTool(tool)
		if !result.Valid {
			first := result.Errors[0]
			return nil, faults.New(faults.TypeValidation, first.Code,
				"tool %q failed schema validation on %s: %s",
				tool.Function.Name, first.Field, first.Message).WithCall("", tool.Function.Name)
		}
	}

	resolution := e.Choices.Resolve(toolChoice, filtered)
	if !resolution.Valid {
		return nil, resolution.Err
	}

	conversion := e.Converter.ToClaude(filtered)
	if !conversion.Success {
		first := conversion.Errors[0]
		return nil, faults.New(faults.TypeFormat, first.Code,
			"tool conversion failed at index %d (%s): %s", first.Index, first.Field, first.Message)
	}
	warnings = append(warnings, conversion.Warnings...)

	claudeChoice, err := claudeChoiceFromDirective(resolution.Format)
	if err != nil {
		return nil, err
	}

	return &PreparedRequest{
		Tools:     conversion.Converted,
		Choice:    claudeChoice,
		Directive: resolution.Format,
		Warnings:  warnings,
	}, nil
}

func claudeChoiceFromDirective(directive choice.ClaudeChoiceFormat) (convert.ClaudeToolChoice, error) {
	switch directive.Mode {
	case choice.ModeNone:
		return convert.ClaudeToolChoice{Mode: convert.ClaudeChoiceDisabled}, nil
	case choice.ModeSpecific:
		return convert.ClaudeToolChoice{Mode: convert.ClaudeChoiceTool, Name: directive.ForceFunction}, nil
	case choice.ModeAuto:
		if directive.Restrictions.RequireCall {
			return convert.ClaudeToolChoice{Mode: convert.ClaudeChoiceRequired}, nil
		}
		return convert.ClaudeToolChoice{Mode: convert.ClaudeChoiceAllowed}, nil
	default:
		return convert.ClaudeToolChoice{}, faults.New(faults.TypeProcessing, "CHOICE_MODE_UNKNOWN",
			"unexpected resolved choice mode %q", directive.Mode)
	}
}

// RecordInvocations formats provider tool invocations to OpenAI shape,
// stamps and tracks their ids, and creates pending state entries. Formatting
// failures are reported per index; tracking failures demote the affected
// call to an error without discarding the rest of the batch.
func (e *Engine) RecordInvocations(sessionID string, calls []format.ClaudeToolCall, strict bool) (format.BatchResult, error) {
	batch := e.Formatter.FormatToolCalls(calls, strict)
	if strict && !batch.Success {
		return batch, batch.Errors[0].Err
	}

	tracked := batch.ToolCalls[:0]
	for i, call := range batch.ToolCalls {
		if err := e.IDs.Track(sessionID, call.ID); err != nil {
			batch.Errors = append(batch.Errors, trackFailure(i, call, err))
			batch.Success = false
			continue
		}
		if _, err := e.States.Create(sessionID, call, nil); err != nil {
			e.IDs.Remove(sessionID, call.ID)
			batch.Errors = append(batch.Errors, trackFailure(i, call, err))
			batch.Success = false
			continue
		}
		tracked = append(tracked, call)
	}
	batch.ToolCalls = tracked

	if strict && !batch.Success {
		return batch, batch.Errors[0].Err
	}
	return batch, nil
}

func trackFailure(index int, call openaiadapter.ToolCall, err error) format.IndexedError {
	var coded *faults.CodedError
	if !faults.AsCoded(err, &coded) {
		coded = faults.New(faults.TypeProcessing, "TRACKING_FAILED", "%v", err).WithCall(call.ID, call.Function.Name)
	}
	return format.IndexedError{Index: index, Err: coded}
}

// CorrelateResult checks that an inbound tool-result message refers to a
// tracked call. A result whose tool_call_id has no matching correlation is
// an error, never silently accepted.
func (e *Engine) CorrelateResult(sessionID, toolCallID string) error {
	if !e.IDs.Has(sessionID, toolCallID) {
		return faults.New(faults.TypeValidation, "TOOL_CALL_NOT_FOUND",
			"tool result references unknown tool_call_id %q", toolCallID).WithCall(toolCallID, "")
	}
	return nil
}

// ProcessBatch dispatches recorded calls through the coordinator, driving
// each call's state machine: in_progress on dispatch, terminal on outcome.
// A call already terminal (e.g. failed by timeout) is never resurrected by a
// late result; the state manager rejects the transition and the outcome is
// dropped with a log line.
func (e *Engine) ProcessBatch(ctx context.Context, sessionID string, calls []openaiadapter.ToolCall, strict bool) (parallel.BatchResult, error) {
	for _, call := range calls {
		if _, err := e.States.UpdateState(sessionID, state.Update{ToolCallID: call.ID, NewState: state.StateInProgress}); err != nil {
			return parallel.BatchResult{}, err
		}
	}

	batch, err := e.Coordinator.Process(ctx, calls, nil, strict)
	if err != nil {
		for _, call := range calls {
			if _, stateErr := e.States.UpdateState(sessionID, state.Update{
				ToolCallID: call.ID,
				NewState:   state.StateCancelled,
			}); stateErr != nil {
				e.logger.Warn("failed to cancel rejected call", "tool_call_id", call.ID, "error", stateErr)
			}
		}
		return parallel.BatchResult{}, err
	}

	for _, result := range batch.Results {
		update := state.Update{ToolCallID: result.ToolCallID, NewState: state.StateCompleted, Result: result.Output}
		if result.Err != nil {
			update.NewState = state.StateFailed
			update.Error = result.Err.Message
		}
		if _, stateErr := e.States.UpdateState(sessionID, update); stateErr != nil {
			e.logger.Warn("dropping late outcome for terminal call",
				"tool_call_id", result.ToolCallID, "error", stateErr)
		}
	}

	return batch, nil
}

// CleanupReport summarizes one expiry sweep across state and id tracking.
type CleanupReport struct {
	StatesRemoved int
	BytesFreed    int64
	IDsRemoved    int
}

// Cleanup removes terminal state entries and tracked ids older than maxAge.
func (e *Engine) Cleanup(maxAge time.Duration) CleanupReport {
	stateReport := e.States.CleanupExpired(maxAge)
	idsRemoved := e.IDs.RemoveOlderThan(time.Now().Add(-maxAge))
	return CleanupReport{
		StatesRemoved: stateReport.Removed,
		BytesFreed:    stateReport.BytesFreed,
		IDsRemoved:    idsRemoved,
	}
}
