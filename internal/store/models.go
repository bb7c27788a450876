package store

import "time"

const (
	// Default sentinel for profile fields that were never set.
	ProfileFieldUnset = "unset"

	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"

	OutcomeApproved = "APPROVED"
	OutcomeRejected = "REJECTED"
)

type Profile struct {
	UserID    string
	Name      string
	Bio       string
	Aura      int64
	Followers int64
	Following int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Submission is the durable record behind a pending moderation unit. It is
// keyed by the hash of the correlation token; the raw token exists only in
// the moderation card's button payloads.
type Submission struct {
	TokenHash   string
	SubmitterID string
	Body        string
	Status      string
	CardRef     string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

type Publication struct {
	Number      int64
	TokenHash   string
	Body        string
	PublishedAt time.Time
}

type DecisionLogEntry struct {
	ID                int64
	TokenHash         string
	Outcome           string
	DecidedBy         string
	PublicationNumber *int64
	DecidedAt         time.Time
}
