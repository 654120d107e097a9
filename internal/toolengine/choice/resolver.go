// Package choice interprets the tool_choice parameter into the behavior
// descriptor consumed by the completion request builder.
package choice

import (
	"time"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

// Mode is the resolved tool-availability mode.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeNone     Mode = "none"
	ModeSpecific Mode = "specific"
)

// Restrictions qualifies a resolved mode.
type Restrictions struct {
	// SpecificFunction is set when the model is pinned to a single function.
	SpecificFunction bool
	// RequireCall is set for tool_choice "required": the model must call
	// some tool, but may pick which.
	RequireCall bool
}

// ClaudeChoiceFormat is the behavior descriptor handed to the completion
// request builder.
type ClaudeChoiceFormat struct {
	Mode          Mode
	AllowTools    bool
	ForceFunction string
	Restrictions  Restrictions
}

// Result is the outcome of one resolution. On failure Err carries the coded
// cause; the zero Format must not be used.
type Result struct {
	Valid  bool
	Format ClaudeChoiceFormat
	Err    *faults.CodedError
}

// Resolver resolves tool_choice directives against the accompanying tool
// list. Resolution happens before any provider call is issued, so a bad
// directive never reaches the SDK.
type Resolver struct {
	// budget bounds a single resolution; exceeding it is reported as
	// CHOICE_PROCESSING_TIMEOUT, a normal validation failure.
	budget time.Duration
	now    func() time.Time
}

// NewResolver creates a Resolver with the given processing-time budget.
func NewResolver(budget time.Duration) *Resolver {
	if budget <= 0 {
		budget = 5 * time.Millisecond
	}
	return &Resolver{budget: budget, now: time.Now}
}

// Resolve interprets choice against tools. A nil choice resolves to auto.
func (r *Resolver) Resolve(choice *openaiadapter.ToolChoice, tools []openaiadapter.Tool) Result {
	start := r.now()
	result := r.resolve(choice, tools)
	if elapsed := r.now().Sub(start); elapsed > r.budget {
		return Result{Err: faults.New(faults.TypeTimeout, "CHOICE_PROCESSING_TIMEOUT",
			"tool choice resolution took %s, budget is %s", elapsed, r.budget)}
	}
	return result
}

func (r *Resolver) resolve(choice *openaiadapter.ToolChoice, tools []openaiadapter.Tool) Result {
	if choice == nil {
		return Result{Valid: true, Format: ClaudeChoiceFormat{Mode: ModeAuto, AllowTools: true}}
	}

	if choice.IsNamed() {
		name := choice.Function.Name
		if !hasFunction(tools, name) {
			return Result{Err: faults.New(faults.TypeValidation, "CHOICE_FUNCTION_NOT_FOUND",
				"tool_choice names function %q which is not among the provided tools", name)}
		}
		return Result{Valid: true, Format: ClaudeChoiceFormat{
			Mode:          ModeSpecific,
			AllowTools:    true,
			ForceFunction: name,
			Restrictions:  Restrictions{SpecificFunction: true},
		}}
	}

	switch choice.Value {
	case openaiadapter.ToolChoiceAuto:
		return Result{Valid: true, Format: ClaudeChoiceFormat{Mode: ModeAuto, AllowTools: true}}
	case openaiadapter.ToolChoiceNone:
		return Result{Valid: true, Format: ClaudeChoiceFormat{Mode: ModeNone, AllowTools: false}}
	case openaiadapter.ToolChoiceRequired:
		if len(tools) == 0 {
			return Result{Err: faults.New(faults.TypeValidation, "CHOICE_REQUIRES_TOOLS",
				"tool_choice \"required\" needs at least one tool")}
		}
		return Result{Valid: true, Format: ClaudeChoiceFormat{
			Mode:         ModeAuto,
			AllowTools:   true,
			Restrictions: Restrictions{RequireCall: true},
		}}
	default:
		return Result{Err: faults.New(faults.TypeValidation, "CHOICE_UNKNOWN_VALUE",
			"unsupported tool_choice value %q", choice.Value)}
	}
}

func hasFunction(tools []openaiadapter.Tool, name string) bool {
	for _, tool := range tools {
		if tool.Function.Name == name {
			return true
		}
	}
	return false
}
