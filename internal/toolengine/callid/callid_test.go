package callid

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/internal/toolengine/faults"
)

func TestNewID_FormatAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.True(t, IsValidID(id), "generated id %q must match the wire format", id)

		_, dup := seen[id]
		require.False(t, dup, "generated ids must be unique, got %q twice", id)
		seen[id] = struct{}{}
	}
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{name: "generated", id: NewID(), valid: true},
		{name: "empty", id: "", valid: false},
		{name: "missing prefix", id: "0123456789abcdef0123456789abcdef", valid: false},
		{name: "wrong prefix", id: "tool_0123456789abcdef0123456789abcdef", valid: false},
		{name: "too short", id: "call_0123456789abcdef", valid: false},
		{name: "uppercase hex", id: "call_0123456789ABCDEF0123456789ABCDEF", valid: false},
		{name: "hyphens kept", id: "call_0123456789ab-cdef0123456789abcd", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidID(tt.id))
		})
	}
}

func TestTracker_TrackAndHas(t *testing.T) {
	tracker := NewTracker(0, 0)
	id := NewID()

	require.NoError(t, tracker.Track("sess", id))
	assert.True(t, tracker.Has("sess", id))
	assert.False(t, tracker.Has("other", id), "tracking is per session")
}

func TestTracker_DuplicateRejected(t *testing.T) {
	tracker := NewTracker(0, 0)
	id := NewID()

	require.NoError(t, tracker.Track("sess", id))
	err := tracker.Track("sess", id)

	require.Error(t, err)
	var coded *faults.CodedError
	require.True(t, faults.AsCoded(err, &coded))
	assert.Equal(t, "ID_ALREADY_TRACKED", coded.Code)

	// The same id in a different session is fine.
	assert.NoError(t, tracker.Track("other", id))
}

func TestTracker_InvalidFormatRejected(t *testing.T) {
	tracker := NewTracker(0, 0)

	err := tracker.Track("sess", "not-a-call-id")

	require.Error(t, err)
	var coded *faults.CodedError
	require.True(t, faults.AsCoded(err, &coded))
	assert.Equal(t, "ID_INVALID_FORMAT", coded.Code)
}

func TestTracker_SessionCap(t *testing.T) {
	tracker := NewTracker(3, 0)

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Track("sess", NewID()))
	}

	err := tracker.Track("sess", NewID())
	require.Error(t, err)
	var coded *faults.CodedError
	require.True(t, faults.AsCoded(err, &coded))
	assert.Equal(t, "SESSION_ID_LIMIT_EXCEEDED", coded.Code)

	// The cap is per session, not global.
	assert.NoError(t, tracker.Track("other", NewID()))
}

func TestTracker_IDsOldestFirst(t *testing.T) {
	tracker := NewTracker(0, time.Hour)
	current := time.Unix(1_700_000_000, 0)
	tracker.now = func() time.Time { return current }

	var tracked []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("call_%032d", i)
		require.NoError(t, tracker.Track("sess", id))
		tracked = append(tracked, id)
		current = current.Add(time.Second)
	}

	assert.Equal(t, tracked, tracker.IDs("sess"))
}

func TestTracker_RemoveAndClear(t *testing.T) {
	tracker := NewTracker(0, 0)
	a, b := NewID(), NewID()
	require.NoError(t, tracker.Track("sess", a))
	require.NoError(t, tracker.Track("sess", b))

	assert.True(t, tracker.Remove("sess", a))
	assert.False(t, tracker.Remove("sess", a), "removing an unknown id is a no-op")
	assert.False(t, tracker.Has("sess", a))
	assert.True(t, tracker.Has("sess", b))

	assert.Equal(t, 1, tracker.ClearSession("sess"))
	assert.False(t, tracker.Has("sess", b))
}

func TestTracker_RemoveOlderThan(t *testing.T) {
	tracker := NewTracker(0, time.Hour)
	current := time.Unix(1_700_000_000, 0)
	tracker.now = func() time.Time { return current }

	old := NewID()
	require.NoError(t, tracker.Track("sess", old))

	current = current.Add(10 * time.Minute)
	recent := NewID()
	require.NoError(t, tracker.Track("sess", recent))

	removed := tracker.RemoveOlderThan(current.Add(-5 * time.Minute))

	assert.Equal(t, 1, removed)
	assert.False(t, tracker.Has("sess", old))
	assert.True(t, tracker.Has("sess", recent))
}

func TestTracker_DefaultSession(t *testing.T) {
	tracker := NewTracker(0, 0)
	id := NewID()

	require.NoError(t, tracker.Track("", id))
	assert.True(t, tracker.Has(DefaultSession, id))
}
