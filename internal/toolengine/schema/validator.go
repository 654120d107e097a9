// Package schema validates tool definitions and their JSON Schema parameters
// against the subset the gateway supports, memoizing results by content hash.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/toolgate/toolgate/internal/openaiadapter"
)

// Severity grades a field error.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// FieldError is a field-scoped validation finding, enabling targeted client
// remediation instead of a flat string list.
type FieldError struct {
	Field    string   `json:"field"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of one validation. CacheHit marks results served
// from the memoization cache without re-running validation logic.
type Result struct {
	Valid    bool
	Errors   []FieldError
	CacheHit bool
	Elapsed  time.Duration
}

// Structural bounds for the supported JSON Schema subset.
const (
	maxNameLength    = 64
	maxSchemaDepth   = 5
	maxPropertyCount = 100
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// reservedNames are function names that collide with message roles or the
// tool-calling vocabulary itself.
var reservedNames = map[string]struct{}{
	"function":  {},
	"tool":      {},
	"system":    {},
	"user":      {},
	"assistant": {},
}

var allowedTypes = map[string]struct{}{
	"string": {}, "number": {}, "integer": {}, "boolean": {}, "object": {}, "array": {}, "null": {},
}

// Options configures a Validator.
type Options struct {
	CacheCapacity int
	CacheTTL      time.Duration
	// TimeBudget is advisory: overruns are logged, never failed.
	TimeBudget time.Duration
	Logger     *slog.Logger
}

// Validator validates tool definitions. Safe for concurrent use.
type Validator struct {
	cache  *resultCache
	budget time.Duration
	logger *slog.Logger
}

// NewValidator creates a Validator with the given cache bounds and advisory
// time budget. Zero options fall back to sensible defaults.
func NewValidator(opts Options) *Validator {
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = 5 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Validator{
		cache:  newResultCache(opts.CacheCapacity, opts.CacheTTL),
		budget: opts.TimeBudget,
		logger: opts.Logger,
	}
}

// ValidateTool validates a full tool definition. Results are memoized by the
// content hash of the definition; a hit returns the prior result unchanged
// apart from the CacheHit flag.
func (v *Validator) ValidateTool(tool openaiadapter.Tool) Result {
	key, keyErr := contentHash(tool)
	if keyErr == nil {
		if cached, ok := v.cache.get(key); ok {
			cached.CacheHit = true
			return cached
		}
	}

	start := time.Now()
	var errs []FieldError

	if tool.Type != openaiadapter.ToolTypeFunction {
		errs = append(errs, FieldError{
			Field:    "type",
			Code:     "UNSUPPORTED_TOOL_TYPE",
			Message:  fmt.Sprintf("tool type must be %q, got %q", openaiadapter.ToolTypeFunction, tool.Type),
			Severity: SeverityError,
		})
	}

	errs = append(errs, v.functionErrors(tool.Function)...)

	result := Result{
		Valid:   !hasError(errs),
		Errors:  errs,
		Elapsed: time.Since(start),
	}
	v.observeBudget(tool.Function.Name, result.Elapsed)

	if keyErr == nil {
		v.cache.put(key, result)
	}
	return result
}

// ValidateFunction validates the function block of a tool definition.
func (v *Validator) ValidateFunction(fn openaiadapter.FunctionDefinition) Result {
	start := time.Now()
	errs := v.functionErrors(fn)
	result := Result{Valid: !hasError(errs), Errors: errs, Elapsed: time.Since(start)}
	v.observeBudget(fn.Name, result.Elapsed)
	return result
}

// ValidateParameters validates a parameters schema in isolation.
func (v *Validator) ValidateParameters(params map[string]any) Result {
	start := time.Now()
	errs := parameterErrors("parameters", params)
	result := Result{Valid: !hasError(errs), Errors: errs, Elapsed: time.Since(start)}
	v.observeBudget("", result.Elapsed)
	return result
}

// CacheSize reports the number of memoized results, for observability.
func (v *Validator) CacheSize() int {
	return v.cache.len()
}

func (v *Validator) functionErrors(fn openaiadapter.FunctionDefinition) []FieldError {
	var errs []FieldError

	switch {
	case fn.Name == "":
		errs = append(errs, FieldError{
			Field: "function.name", Code: "NAME_EMPTY",
			Message: "function name cannot be empty", Severity: SeverityError,
		})
	case len(fn.Name) > maxNameLength:
		errs = append(errs, FieldError{
			Field: "function.name", Code: "NAME_TOO_LONG",
			Message:  fmt.Sprintf("function name exceeds %d characters", maxNameLength),
			Severity: SeverityError,
		})
	case !namePattern.MatchString(fn.Name):
		errs = append(errs, FieldError{
			Field: "function.name", Code: "NAME_PATTERN",
			Message:  "function name must match ^[A-Za-z0-9_-]+$",
			Severity: SeverityError,
		})
	}

	if _, reserved := reservedNames[fn.Name]; reserved {
		errs = append(errs, FieldError{
			Field: "function.name", Code: "NAME_RESERVED",
			Message:  fmt.Sprintf("function name %q is reserved", fn.Name),
			Severity: SeverityError,
		})
	}

	if fn.Parameters != nil {
		errs = append(errs, parameterErrors("function.parameters", fn.Parameters)...)
	}

	return errs
}

// parameterErrors walks a parameters schema, enforcing object shape, the
// depth and property-count bounds, and the type whitelist.
func parameterErrors(field string, params map[string]any) []FieldError {
	var errs []FieldError

	if typ, ok := params["type"]; ok {
		if s, isString := typ.(string); !isString || s != "object" {
			errs = append(errs, FieldError{
				Field: field + ".type", Code: "PARAMETERS_NOT_OBJECT",
				Message:  "parameters schema must have type \"object\"",
				Severity: SeverityError,
			})
		}
	}

	propertyCount := 0
	errs = append(errs, walkSchema(field, params, 1, &propertyCount)...)

	if propertyCount > maxPropertyCount {
		errs = append(errs, FieldError{
			Field: field, Code: "TOO_MANY_PROPERTIES",
			Message:  fmt.Sprintf("schema declares %d properties, maximum is %d", propertyCount, maxPropertyCount),
			Severity: SeverityError,
		})
	}

	return errs
}

func walkSchema(field string, node map[string]any, depth int, propertyCount *int) []FieldError {
	if depth > maxSchemaDepth {
		return []FieldError{{
			Field: field, Code: "SCHEMA_TOO_DEEP",
			Message:  fmt.Sprintf("schema nesting exceeds maximum depth of %d", maxSchemaDepth),
			Severity: SeverityError,
		}}
	}

	var errs []FieldError

	if typ, ok := node["type"]; ok {
		if s, isString := typ.(string); isString {
			if _, allowed := allowedTypes[s]; !allowed {
				errs = append(errs, FieldError{
					Field: field + ".type", Code: "UNSUPPORTED_TYPE",
					Message:  fmt.Sprintf("unsupported schema type %q", s),
					Severity: SeverityError,
				})
			}
		} else {
			errs = append(errs, FieldError{
				Field: field + ".type", Code: "TYPE_NOT_STRING",
				Message:  "schema type must be a string",
				Severity: SeverityError,
			})
		}
	}

	if rawProps, ok := node["properties"]; ok {
		props, isMap := rawProps.(map[string]any)
		if !isMap {
			errs = append(errs, FieldError{
				Field: field + ".properties", Code: "PROPERTIES_NOT_OBJECT",
				Message:  "properties must be an object",
				Severity: SeverityError,
			})
		} else {
			*propertyCount += len(props)
			for name, rawProp := range props {
				propField := field + ".properties." + name
				prop, isMap := rawProp.(map[string]any)
				if !isMap {
					errs = append(errs, FieldError{
						Field: propField, Code: "PROPERTY_NOT_OBJECT",
						Message:  "property schema must be an object",
						Severity: SeverityError,
					})
					continue
				}
				errs = append(errs, walkSchema(propField, prop, depth+1, propertyCount)...)
			}
		}
	}

	if rawItems, ok := node["items"]; ok {
		if items, isMap := rawItems.(map[string]any); isMap {
			errs = append(errs, walkSchema(field+".items", items, depth+1, propertyCount)...)
		}
	}

	return errs
}

// contentHash computes the stable cache key for a tool definition. Go's JSON
// encoder writes map keys in sorted order, so marshaling is already the
// normalized (sorted-keys) form.
func contentHash(tool openaiadapter.Tool) (string, error) {
	encoded, err := json.Marshal(tool)
	if err != nil {
		return "", fmt.Errorf("hash tool definition: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func (v *Validator) observeBudget(name string, elapsed time.Duration) {
	if elapsed > v.budget {
		v.logger.Warn("schema validation exceeded time budget",
			"function", name, "elapsed", elapsed, "budget", v.budget)
	}
}

func hasError(errs []FieldError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}
