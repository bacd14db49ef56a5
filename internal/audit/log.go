package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"accessgate.dev/internal/ids"
	"accessgate.dev/internal/obs"
)

// Action names an access-relevant event.
type Action string

const (
	ActionView           Action = "view"
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionOTPRequested   Action = "otp_requested"
	ActionOTPVerified    Action = "otp_verified"
	ActionSessionIssued  Action = "session_issued"
	ActionSessionRevoked Action = "session_revoked"
	ActionLinkRevoked    Action = "link_revoked"
	ActionAccessDenied   Action = "access_denied"
	ActionRoleChanged    Action = "role_changed"
)

const externalActorPrefix = "external:"

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// ExternalActor formats the actor string for a stakeholder identified by email.
func ExternalActor(email string) string {
	return externalActorPrefix + strings.TrimSpace(strings.ToLower(email))
}

// IsExternalActor reports whether actor denotes an external stakeholder.
func IsExternalActor(actor string) bool {
	return strings.HasPrefix(actor, externalActorPrefix)
}

// Source describes where a request came from.
type Source struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Event is an immutable audit record.
type Event struct {
	ID         string            `json:"id"`
	Subject    string            `json:"subject"`
	ResourceID string            `json:"resource_id,omitempty"`
	Actor      string            `json:"actor"`
	Action     Action            `json:"action"`
	OccurredAt time.Time         `json:"occurred_at"`
	Source     Source            `json:"source"`
	Details    map[string]string `json:"details,omitempty"`
}

// Filter selects events. Exactly one of Subject, ResourceID or Actor is expected.
type Filter struct {
	Subject    string
	ResourceID string
	Actor      string
	Limit      int
}

// Sink persists events. Implementations never update or delete.
type Sink interface {
	Append(ctx context.Context, ev Event) error
	Query(ctx context.Context, f Filter) ([]Event, error)
}

type ctxKey string

const sourceKey ctxKey = "audit_source"

// WithSource attaches request origin metadata for events recorded under ctx.
func WithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceKey, src)
}

// WithRequestID attaches the request identifier, keeping any other source fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	src := SourceFromContext(ctx)
	src.RequestID = requestID
	return WithSource(ctx, src)
}

// SourceFromContext returns the source attached with WithSource, if any.
func SourceFromContext(ctx context.Context) Source {
	if ctx == nil {
		return Source{}
	}
	if v, ok := ctx.Value(sourceKey).(Source); ok {
		return v
	}
	return Source{}
}

// Recorder appends events to a sink on a best-effort basis.
// A nil *Recorder is valid and drops everything.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stamps and appends ev. Sink failures are logged and counted but
// never surface to the caller, so the triggering operation proceeds.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = ids.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}
	if ev.Source == (Source{}) {
		ev.Source = SourceFromContext(ctx)
	}
	if ev.Details != nil {
		details := make(map[string]string, len(ev.Details))
		for k, v := range ev.Details {
			details[k] = v
		}
		ev.Details = details
	}
	logEvent(ev)

	if r.sink == nil {
		return
	}
	if err := r.sink.Append(ctx, ev); err != nil {
		obs.ObserveAuditSinkFailure()
		obs.Error("audit sink unavailable", map[string]any{
			"event_id": ev.ID,
			"action":   string(ev.Action),
			"subject":  ev.Subject,
			"error":    err.Error(),
		})
	}
}

// QueryByResource returns events for a resource, newest first.
func (r *Recorder) QueryByResource(ctx context.Context, resourceID string, limit int) ([]Event, error) {
	return r.query(ctx, Filter{ResourceID: strings.TrimSpace(resourceID), Limit: limit})
}

// QueryByActor returns events performed by actor, newest first.
func (r *Recorder) QueryByActor(ctx context.Context, actor string, limit int) ([]Event, error) {
	return r.query(ctx, Filter{Actor: strings.TrimSpace(actor), Limit: limit})
}

// QueryBySubject returns events about a subject (link or record id), newest first.
func (r *Recorder) QueryBySubject(ctx context.Context, subject string, limit int) ([]Event, error) {
	return r.query(ctx, Filter{Subject: strings.TrimSpace(subject), Limit: limit})
}

func (r *Recorder) query(ctx context.Context, f Filter) ([]Event, error) {
	if r == nil || r.sink == nil {
		return nil, errors.New("audit: no sink configured")
	}
	if f.Subject == "" && f.ResourceID == "" && f.Actor == "" {
		return nil, errors.New("audit: a subject, resource or actor is required")
	}
	f.Limit = NormalizeLimit(f.Limit)
	return r.sink.Query(ctx, f)
}

// NormalizeLimit clamps a caller-supplied page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// logEvent writes the event as one JSON line so the log stream carries
// the audit trail even while the sink is down.
func logEvent(ev Event) {
	entry := map[string]any{
		"ts":       ev.OccurredAt.Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    string(ev.Action),
		"event_id": ev.ID,
		"subject":  ev.Subject,
		"actor":    ev.Actor,
	}
	if ev.ResourceID != "" {
		entry["resource_id"] = ev.ResourceID
	}
	if ev.Source.RequestID != "" {
		entry["request_id"] = ev.Source.RequestID
	}
	fields := make(map[string]any, len(ev.Details))
	for k, v := range ev.Details {
		fields[k] = v
	}
	entry["fields"] = fields
	obs.LogRequest(entry)
}
