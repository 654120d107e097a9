// Package callid generates OpenAI-style tool call identifiers and tracks
// them per conversation session to detect collisions and support cleanup.
package callid

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

// DefaultSession scopes ids tracked without an explicit session.
const DefaultSession = "default"

// idPattern is the fixed wire format: call_ prefix plus 32 lowercase hex
// characters (a hyphen-stripped UUID).
var idPattern = regexp.MustCompile(`^call_[0-9a-f]{32}$`)

// NewID generates a unique tool call identifier.
func NewID() string {
	return "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValidID reports whether id matches the generated format.
func IsValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Tracker records live tool call ids per session. Duplicate tracking within
// a session is rejected, never overwritten; a per-session cap fails closed
// instead of evicting old entries. Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	sessions   map[string]map[string]time.Time
	maxPerSess int
	// budget bounds a single tracker operation; overruns fail that
	// operation with ID_TRACKING_TIMEOUT rather than killing anything.
	budget time.Duration

	now func() time.Time
}

// NewTracker creates a Tracker capped at maxPerSession ids per session.
func NewTracker(maxPerSession int, budget time.Duration) *Tracker {
	if maxPerSession <= 0 {
		maxPerSession = 1000
	}
	if budget <= 0 {
		budget = time.Millisecond
	}
	return &Tracker{
		sessions:   make(map[string]map[string]time.Time),
		maxPerSess: maxPerSession,
		budget:     budget,
		now:        time.Now,
	}
}

// Track registers id under sessionID. Fails with ID_INVALID_FORMAT,
// ID_ALREADY_TRACKED or SESSION_ID_LIMIT_EXCEEDED; a tracked entry is rolled
// back if the operation overruns its budget.
func (t *Tracker) Track(sessionID, id string) error {
	sessionID = normalizeSession(sessionID)
	if !IsValidID(id) {
		return faults.New(faults.TypeValidation, "ID_INVALID_FORMAT", "tool call id %q does not match the required format", id)
	}

	start := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, ok := t.sessions[sessionID]
	if !ok {
		ids = make(map[string]time.Time)
		t.sessions[sessionID] = ids
	}

	if _, exists := ids[id]; exists {
		return faults.New(faults.TypeValidation, "ID_ALREADY_TRACKED", "tool call id %q is already tracked in session %q", id, sessionID)
	}
	if len(ids) >= t.maxPerSess {
		return faults.New(faults.TypeValidation, "SESSION_ID_LIMIT_EXCEEDED", "session %q reached the limit of %d tracked ids", sessionID, t.maxPerSess)
	}

	ids[id] = t.now()

	if elapsed := t.now().Sub(start); elapsed > t.budget {
		delete(ids, id)
		return faults.New(faults.TypeTimeout, "ID_TRACKING_TIMEOUT", "tracking id %q took %s, budget is %s", id, elapsed, t.budget)
	}
	return nil
}

// Has reports whether id is tracked under sessionID.
func (t *Tracker) Has(sessionID, id string) bool {
	sessionID = normalizeSession(sessionID)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[sessionID][id]
	return ok
}

// IDs returns the ids tracked under sessionID, oldest first.
func (t *Tracker) IDs(sessionID string) []string {
	sessionID = normalizeSession(sessionID)
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.sessions[sessionID]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := ids[out[i]], ids[out[j]]
		if ti.Equal(tj) {
			return out[i] < out[j]
		}
		return ti.Before(tj)
	})
	return out
}

// Remove untracks id. Removing an unknown id is a no-op returning false.
func (t *Tracker) Remove(sessionID, id string) bool {
	sessionID = normalizeSession(sessionID)
	t.mu.Lock()
	defer t.mu.Unlock()

	ids, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	if _, exists := ids[id]; !exists {
		return false
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(t.sessions, sessionID)
	}
	return true
}

// ClearSession drops every id tracked under sessionID, returning the count removed.
func (t *Tracker) ClearSession(sessionID string) int {
	sessionID = normalizeSession(sessionID)
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := len(t.sessions[sessionID])
	delete(t.sessions, sessionID)
	return removed
}

// RemoveOlderThan drops ids tracked before cutoff across all sessions,
// returning the count removed. Supports expiry sweeps alongside state cleanup.
func (t *Tracker) RemoveOlderThan(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for sessionID, ids := range t.sessions {
		for id, trackedAt := range ids {
			if trackedAt.Before(cutoff) {
				delete(ids, id)
				removed++
			}
		}
		if len(ids) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	return removed
}

func normalizeSession(sessionID string) string {
	if sessionID == "" {
		return DefaultSession
	}
	return sessionID
}
