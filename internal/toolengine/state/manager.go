// Package state tracks every tool call of a session through a fixed state
// machine, from creation to terminal state, with snapshotting and
// expiry-based cleanup.
package state

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/openaiadapter"
	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

// State is a tool call lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// transitions is the only legal transition table. The three outcome states
// are terminal: they have no outgoing edges, so a terminal entry can never
// be mutated again (a late completion cannot resurrect a timed-out call).
var transitions = map[State][]State{
	StatePending:    {StateInProgress, StateCancelled},
	StateInProgress: {StateCompleted, StateFailed, StateCancelled},
	StateCompleted:  {},
	StateFailed:     {},
	StateCancelled:  {},
}

// IsTerminal reports whether s permits no further transitions.
func IsTerminal(s State) bool {
	return len(transitions[s]) == 0 && s != ""
}

func transitionAllowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entry is the tracked record of one tool call. The manager owns entries
// exclusively; accessors return copies.
type Entry struct {
	ID          string                 `json:"id"`
	ToolCall    openaiadapter.ToolCall `json:"tool_call"`
	State       State                  `json:"state"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      json.RawMessage        `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`

	seq uint64
}

// Update describes a requested state transition.
type Update struct {
	ToolCallID string
	NewState   State
	Result     json.RawMessage
	Error      string
	Metadata   map[string]any
}

// Snapshot is the derived view of one session, recomputed on every mutation
// request. Entries are ordered by CreatedAt ascending, deterministically.
type Snapshot struct {
	SessionID        string
	PendingCalls     int
	CompletedCalls   int
	TotalCalls       int
	ConversationTurn int
	Entries          []Entry
}

// CleanupReport summarizes an expiry sweep.
type CleanupReport struct {
	Removed int
	// BytesFreed is an estimate based on the serialized entry sizes,
	// reported for observability.
	BytesFreed int64
}

type session struct {
	entries map[string]*Entry
}

// Manager is the per-session tool-call state machine. Safe for concurrent
// use; the session maps are the only shared mutable state in the engine and
// are guarded here.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	seq      uint64

	now func() time.Time
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Create inserts a new entry at pending. Duplicate creation for an existing
// id within the same session is rejected.
func (m *Manager) Create(sessionID string, call openaiadapter.ToolCall, metadata map[string]any) (Entry, error) {
	if call.ID == "" {
		return Entry{}, faults.New(faults.TypeValidation, "STATE_CALL_ID_MISSING", "tool call has no id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &session{entries: make(map[string]*Entry)}
		m.sessions[sessionID] = sess
	}

	if _, exists := sess.entries[call.ID]; exists {
		return Entry{}, faults.New(faults.TypeValidation, "STATE_DUPLICATE_CALL",
			"tool call %q already exists in session %q", call.ID, sessionID).WithCall(call.ID, call.Function.Name)
	}

	now := m.now()
	m.seq++
	entry := &Entry{
		ID:        call.ID,
		ToolCall:  call,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
		seq:       m.seq,
	}
	sess.entries[call.ID] = entry
	return *entry, nil
}

// UpdateState validates and applies a transition. Illegal transitions are
// rejected with the attempted transition named in the error, and the stored
// entry is left unchanged.
func (m *Manager) UpdateState(sessionID string, update Update) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Entry{}, faults.New(faults.TypeValidation, "TOOL_CALL_NOT_FOUND",
			"no tool call %q in session %q", update.ToolCallID, sessionID).WithCall(update.ToolCallID, "")
	}
	entry, ok := sess.entries[update.ToolCallID]
	if !ok {
		return Entry{}, faults.New(faults.TypeValidation, "TOOL_CALL_NOT_FOUND",
			"no tool call %q in session %q", update.ToolCallID, sessionID).WithCall(update.ToolCallID, "")
	}

	if !transitionAllowed(entry.State, update.NewState) {
		return Entry{}, faults.New(faults.TypeValidation, "STATE_INVALID_TRANSITION",
			"transition %s -> %s is not allowed for tool call %q",
			entry.State, update.NewState, update.ToolCallID).WithCall(update.ToolCallID, entry.ToolCall.Function.Name)
	}

	now := m.now()
	entry.State = update.NewState
	entry.UpdatedAt = now
	if update.Result != nil {
		entry.Result = update.Result
	}
	if update.Error != "" {
		entry.Error = update.Error
	}
	for k, v := range update.Metadata {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]any)
		}
		entry.Metadata[k] = v
	}
	// CompletedAt is set exactly when the state becomes terminal.
	if IsTerminal(update.NewState) {
		completed := now
		entry.CompletedAt = &completed
	}

	return *entry, nil
}

// Get returns a copy of the entry, if tracked.
func (m *Manager) Get(sessionID, toolCallID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Entry{}, false
	}
	entry, ok := sess.entries[toolCallID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// GetSnapshot recomputes the session view: call counts per bucket plus the
// derived conversation turn (terminal calls, +1 if any non-terminal call is
// outstanding).
func (m *Manager) GetSnapshot(sessionID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := Snapshot{SessionID: sessionID}
	sess, ok := m.sessions[sessionID]
	if !ok {
		return snapshot
	}

	snapshot.Entries = make([]Entry, 0, len(sess.entries))
	for _, entry := range sess.entries {
		snapshot.Entries = append(snapshot.Entries, *entry)
		snapshot.TotalCalls++
		if IsTerminal(entry.State) {
			snapshot.CompletedCalls++
		} else {
			snapshot.PendingCalls++
		}
	}

	sort.Slice(snapshot.Entries, func(i, j int) bool {
		a, b := snapshot.Entries[i], snapshot.Entries[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.seq < b.seq
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	snapshot.ConversationTurn = snapshot.CompletedCalls
	if snapshot.PendingCalls > 0 {
		snapshot.ConversationTurn++
	}
	return snapshot
}

// CleanupExpired removes terminal entries older than maxAge, age measured
// from CompletedAt (falling back to UpdatedAt). Active entries are never
// evicted by this path regardless of age.
func (m *Manager) CleanupExpired(maxAge time.Duration) CleanupReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	var report CleanupReport

	for sessionID, sess := range m.sessions {
		for id, entry := range sess.entries {
			if !IsTerminal(entry.State) {
				continue
			}
			reference := entry.UpdatedAt
			if entry.CompletedAt != nil {
				reference = *entry.CompletedAt
			}
			if reference.After(cutoff) {
				continue
			}
			if encoded, err := json.Marshal(entry); err == nil {
				report.BytesFreed += int64(len(encoded))
			}
			delete(sess.entries, id)
			report.Removed++
		}
		if len(sess.entries) == 0 {
			delete(m.sessions, sessionID)
		}
	}

	return report
}

// SessionCount reports the number of sessions with live entries.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
