// Package audit emits structured security events for account lifecycle
// and authorization decisions. Events go to the shared log stream as JSON
// with a fixed envelope, so they can be filtered out downstream by the
// audit marker.
package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// Action identifies what happened.
type Action string

const (
	ActionRegister          Action = "account.register"
	ActionLogin             Action = "account.login"
	ActionLoginFailed       Action = "account.login_failed"
	ActionTokenRefresh      Action = "account.token_refresh"
	ActionSoftDelete        Action = "account.soft_delete"
	ActionRecover           Action = "account.recover"
	ActionHardDelete        Action = "account.hard_delete"
	ActionPermissionGrant   Action = "permission.grant"
	ActionPermissionRevoke  Action = "permission.revoke"
	ActionPermissionDenied  Action = "permission.denied"
	ActionCleanupRun        Action = "cleanup.run"
	ActionSessionsRevoked   Action = "account.sessions_revoked"
	ActionManualCleanupCall Action = "cleanup.manual"
)

// Recorder writes audit events.
type Recorder struct {
	log zerolog.Logger
	now func() time.Time
}

// NewRecorder wraps a logger. Every event carries the audit marker.
func NewRecorder(log zerolog.Logger) *Recorder {
	return &Recorder{
		log: log.With().Bool("audit", true).Logger(),
		now: time.Now,
	}
}

// WithClock overrides the event timestamp source.
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Event records one audit entry. actorID is who did it, targetID who or
// what it was done to; either may be empty when not applicable.
func (r *Recorder) Event(action Action, actorID, targetID string, fields map[string]string) {
	ev := r.log.Info().
		Str("action", string(action)).
		Time("occurred_at", r.now().UTC())
	if actorID != "" {
		ev = ev.Str("actor_id", actorID)
	}
	if targetID != "" {
		ev = ev.Str("target_id", targetID)
	}
	for k, v := range fields {
		ev = ev.Str(k, v)
	}
	ev.Msg("audit event")
}
