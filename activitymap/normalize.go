package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-blog-auth"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "principal"
	anonymousActorID  = "anonymous"
	outcomeOK         = "ok"
)

// Normalized is the flat audit record written for every auth event.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	Outcome    string         `json:"outcome"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Failed reports whether the event records a rejected workflow
func (n Normalized) Failed() bool {
	return n.Outcome != outcomeOK
}

// Args flattens the record into slog style key/value pairs
func (n Normalized) Args() []any {
	args := []any{
		"actor_id", n.ActorID,
		"verb", n.Verb,
		"outcome", n.Outcome,
		"channel", n.Channel,
		"occurred_at", n.OccurredAt,
	}
	if n.ObjectID != "" {
		args = append(args, "object_type", n.ObjectType, "object_id", n.ObjectID)
	}
	if len(n.Metadata) > 0 {
		args = append(args, "metadata", n.Metadata)
	}
	return args
}

type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel    string
	objectType string
	clock      func() time.Time
}

// Normalize converts an auth.ActivityEvent into a Normalized record. Events
// without a principal, such as a login for an unknown email, are attributed
// to an anonymous actor.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:    defaultChannel,
		objectType: defaultObjectType,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	userID := strings.TrimSpace(event.UserID)
	actorID := userID
	if actorID == "" {
		actorID = anonymousActorID
	}

	outcome := string(event.Outcome)
	if outcome == "" {
		outcome = outcomeOK
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.clock()
	}

	out := Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		Outcome:    outcome,
		Channel:    options.channel,
		Metadata:   cloneMap(event.Metadata),
		OccurredAt: occurredAt.UTC(),
	}
	if userID != "" {
		out.ObjectType = options.objectType
		out.ObjectID = userID
	}
	return out
}

// WithDefaultChannel sets the channel of normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

// WithDefaultObjectType sets the object type used when the event names a principal.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if objectType = strings.TrimSpace(objectType); objectType != "" {
			opts.objectType = objectType
		}
	}
}

// WithClock sets the time used for events that carry no timestamp
func WithClock(clock func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
