// Package audit captures structured audit events for identity resolution.
// Events are emitted from domain logic, persisted through a Store, and
// relayed to Kafka by the outbox worker. Contact identifiers are hashed
// before they leave the service so the audit trail stays free of raw PII.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and downstream routing.
type EventCategory string

const (
	// CategoryCompliance covers events that change durable identity state.
	// These require long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Action identifies what happened to the contact graph.
type Action string

const (
	// ActionContactCreated records the creation of a new primary contact.
	ActionContactCreated Action = "contact_created"
	// ActionSecondaryLinked records a new secondary attached to an existing cluster.
	ActionSecondaryLinked Action = "secondary_linked"
	// ActionClustersMerged records two clusters unified under the older primary.
	ActionClustersMerged Action = "clusters_merged"
	// ActionIdentifyFailed records a submission rejected with an error.
	ActionIdentifyFailed Action = "identify_failed"
)

// actionCategories maps each action to its category. Mutations of the contact
// graph are compliance events; failures are operational.
var actionCategories = map[Action]EventCategory{
	ActionContactCreated:  CategoryCompliance,
	ActionSecondaryLinked: CategoryCompliance,
	ActionClustersMerged:  CategoryCompliance,
	ActionIdentifyFailed:  CategoryOperations,
}

// Category returns the EventCategory for this action. Unknown actions default
// to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Action    Action

	// PrimaryContactID is the resolved primary of the affected cluster.
	PrimaryContactID int64
	// ContactID is the record created or demoted by the action, when any.
	ContactID int64

	// SubmissionHash is a SHA-256 hash of the submitted identity fields.
	// Used for traceability without storing raw emails or phone numbers.
	SubmissionHash string

	Reason    string // failure reason for identify_failed
	RequestID string // correlation ID from the HTTP request context
	ClientIP  string
	UserAgent string
}

// HashSubmission derives the traceability hash for a submission. Absent
// fields hash as empty strings so the same pair always yields the same hash.
func HashSubmission(email, phoneNumber string) string {
	sum := sha256.Sum256([]byte(email + "\x00" + phoneNumber))
	return hex.EncodeToString(sum[:])
}
