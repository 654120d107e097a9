// Package parallel coordinates multi-call tool batches: cross-call conflict
// detection, parallel-eligibility analysis, and concurrency-capped dispatch.
package parallel

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/toolgate/toolgate/internal/openaiadapter"
)

// writeClassTools are tools that mutate their target path. Two write-class
// calls against the same path must not run concurrently.
var writeClassTools = map[string]struct{}{
	"write_file":  {},
	"edit_file":   {},
	"delete_file": {},
	"move_file":   {},
}

// pathArgumentKeys are scanned in order; the first present string value is
// taken as the call's target path.
var pathArgumentKeys = []string{"path", "file_path", "file", "directory"}

// Conflict is a pair of calls that must not run concurrently.
type Conflict struct {
	FirstIndex  int
	SecondIndex int
	Path        string
	Reason      string
}

// targetPath extracts and normalizes the filesystem path a call targets,
// if any. Unparseable arguments yield no path rather than an error here;
// argument validity is the formatter's concern.
func targetPath(call openaiadapter.ToolCall) (string, bool) {
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "", false
	}
	for _, key := range pathArgumentKeys {
		if raw, ok := args[key]; ok {
			if s, isString := raw.(string); isString && s != "" {
				return filepath.Clean(s), true
			}
		}
	}
	return "", false
}

func isWriteClass(call openaiadapter.ToolCall) bool {
	_, ok := writeClassTools[call.Function.Name]
	return ok
}

// DetectConflicts scans a batch pairwise for write-class calls targeting the
// same resolved path.
func DetectConflicts(calls []openaiadapter.ToolCall) []Conflict {
	type target struct {
		index int
		path  string
	}

	var writes []target
	for i, call := range calls {
		if !isWriteClass(call) {
			continue
		}
		if path, ok := targetPath(call); ok {
			writes = append(writes, target{index: i, path: path})
		}
	}

	var conflicts []Conflict
	for i := 0; i < len(writes); i++ {
		for j := i + 1; j < len(writes); j++ {
			if writes[i].path == writes[j].path {
				conflicts = append(conflicts, Conflict{
					FirstIndex:  writes[i].index,
					SecondIndex: writes[j].index,
					Path:        writes[i].path,
					Reason: fmt.Sprintf("calls %d and %d both write %q",
						writes[i].index, writes[j].index, writes[i].path),
				})
			}
		}
	}
	return conflicts
}
