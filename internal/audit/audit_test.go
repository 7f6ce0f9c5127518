package audit

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEnvelope(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(zerolog.New(&buf)).
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) })

	rec.Event(ActionPermissionGrant, "admin-1", "user-2", map[string]string{
		"permission": "admin:read_all_users",
	})

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, true, got["audit"])
	assert.Equal(t, "permission.grant", got["action"])
	assert.Equal(t, "admin-1", got["actor_id"])
	assert.Equal(t, "user-2", got["target_id"])
	assert.Equal(t, "admin:read_all_users", got["permission"])
	assert.NotEmpty(t, got["occurred_at"])
}

func TestEventOmitsEmptyParticipants(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(zerolog.New(&buf))

	rec.Event(ActionCleanupRun, "", "", nil)

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	_, hasActor := got["actor_id"]
	_, hasTarget := got["target_id"]
	assert.False(t, hasActor)
	assert.False(t, hasTarget)
}
