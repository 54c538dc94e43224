package acteon

import "time"

// ApprovalStatus is the ApprovalRecord's lifecycle state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRecord is a pending (or decided) human-in-the-loop approval gate.
type ApprovalRecord struct {
	Action           Action
	Token            string // UUIDv4
	Rule             string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Status           ApprovalStatus
	DecidedBy        string
	DecidedAt        *time.Time
	Message          string
	NotificationSent bool
}

// EventGroup is a batch of events accumulated under one group key.
type EventGroup struct {
	GroupID  string
	GroupKey string
	Events   []Action
	NotifyAt time.Time
	Size     int
}
