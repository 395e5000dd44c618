package auth

import (
	"context"
	"time"
)

// ActivityEventType names an auditable auth action
type ActivityEventType string

const (
	ActivityEventRegister          ActivityEventType = "auth.register"
	ActivityEventLoginSuccess      ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure      ActivityEventType = "auth.login.failure"
	ActivityEventRefreshSuccess    ActivityEventType = "auth.refresh.success"
	ActivityEventRefreshFailure    ActivityEventType = "auth.refresh.failure"
	ActivityEventRevoke            ActivityEventType = "auth.revoke"
	ActivityEventRevokeAll         ActivityEventType = "auth.revoke_all"
	ActivityEventPasswordChanged   ActivityEventType = "auth.password.changed"
	ActivityEventUserStatusChanged ActivityEventType = "user.status.changed"
	ActivityEventUserDeleted       ActivityEventType = "user.deleted"
	ActivityEventUserRestored      ActivityEventType = "user.restored"
)

// ActivityEvent is one audit record. UserID is empty when the actor is
// unknown, e.g. a login with an unregistered email. Metadata never holds secrets.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Outcome    ErrorKind
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink receives events after each workflow. Errors are logged and
// never fail the workflow.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc lets a plain function act as a sink
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink fans an event out to every sink, returning the first error.
type MultiActivitySink []ActivitySink

// Record implements ActivitySink.
func (m MultiActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sinkOrDiscard(s ActivitySink) ActivitySink {
	if s == nil {
		return ActivitySinkFunc(func(context.Context, ActivityEvent) error { return nil })
	}
	return s
}
