package domain

import "time"

// AuditLogEntry records an administrative action for later review.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Severity  string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	RequestID string
	CreatedAt time.Time
}
