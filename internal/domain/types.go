package domain

import "time"

// Ticket is one record pulled from the external tracker. Key is the composite
// "<PROJECT>-<seq>" string and is globally unique in storage.
type Ticket struct {
	ID        int64
	Key       string
	Project   string
	Seq       int64
	Summary   string
	Status    string
	Priority  string
	Assignee  string
	CreatedAt *time.Time
	UpdatedAt *time.Time

	// Mapped custom attributes. The storage column is fixed; the source field
	// identifier is discovered per tenant at sync time.
	CustomerPriority string
	InternalPriority string
	SLA              string
	Severity         string
}

// Assignment links a person to a ticket. (TicketKey, PersonID) is unique;
// re-assignment updates hours in place. Open assignments (CompletedAt nil)
// count toward current load.
type Assignment struct {
	ID            int64
	TicketKey     string
	PersonID      int64
	ClientID      int64
	AssignedHours float64
	AssignedAt    time.Time
	CompletedAt   *time.Time
}

type Person struct {
	ID             int64
	Name           string
	WeeklyCapacity float64
	Specialties    []string
}

// ExpertiseTier is the ordered classification derived from assignment history.
type ExpertiseTier string

const (
	TierNovice       ExpertiseTier = "Novice"
	TierIntermediate ExpertiseTier = "Intermediate"
	TierExpert       ExpertiseTier = "Expert"
)

type ClientExpertise struct {
	PersonID    int64         `json:"person_id"`
	ClientID    int64         `json:"client_id"`
	HoursWorked float64       `json:"hours_worked"`
	Tier        ExpertiseTier `json:"tier"`
}

type PersonLoad struct {
	PersonID           int64   `json:"person_id"`
	CurrentLoadHours   float64 `json:"current_load_hours"`
	WeeklyCapacity     float64 `json:"weekly_capacity"`
	UtilizationPercent int     `json:"utilization_percent"`
}

// SyncOptions narrows one ingestion run.
type SyncOptions struct {
	UpdatedSince  *time.Time `json:"updated_since,omitempty"`
	Filter        string     `json:"filter,omitempty"`
	ExcludedTypes []string   `json:"excluded_types,omitempty"`
}

type SessionState string

const (
	StatePending   SessionState = "pending"
	StateRunning   SessionState = "running"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
)

// ProgressEvent is published to subscribers of a running session. Seq is
// strictly increasing per session.
type ProgressEvent struct {
	SessionID       string       `json:"session_id"`
	Seq             int64        `json:"seq"`
	State           SessionState `json:"state"`
	CurrentProject  string       `json:"current_project"`
	Fetched         int          `json:"fetched"`
	Upserted        int          `json:"upserted"`
	Errored         int          `json:"errored"`
	PercentComplete float64      `json:"percent_complete"`
	Error           string       `json:"error,omitempty"`
}

// RecordError is one skipped record inside an otherwise successful session.
type RecordError struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}
