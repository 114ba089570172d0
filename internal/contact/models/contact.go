// Package models defines the contact record and the derived cluster view.
package models

import "time"

// ContactID is the store-assigned identifier of a contact record. Numeric
// order carries no meaning beyond deterministic tie-breaking; CreatedAt is
// the ordering key for precedence decisions.
type ContactID int64

// LinkPrecedence marks a record as the canonical representative of its
// cluster or as a later observation linked to one.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is a partial identity observation. Email and PhoneNumber are
// optional; an empty string means the field was absent from the submission.
type Contact struct {
	ID             ContactID
	Email          string
	PhoneNumber    string
	LinkPrecedence LinkPrecedence
	// LinkedID points at the cluster's primary. Set if and only if
	// LinkPrecedence is secondary.
	LinkedID  ContactID
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// IsPrimary reports whether this record is its cluster's canonical representative.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// OlderThan imposes the total order used for precedence decisions: earlier
// CreatedAt wins, equal timestamps fall back to the lower store-assigned ID
// so merges stay deterministic under retried execution.
func (c *Contact) OlderThan(other *Contact) bool {
	if c.CreatedAt.Equal(other.CreatedAt) {
		return c.ID < other.ID
	}
	return c.CreatedAt.Before(other.CreatedAt)
}

// Covers reports whether this record matches every supplied field of a
// submission. Absent submission fields act as wildcards, so a record covering
// a submission means re-submitting it adds no new information.
func (c *Contact) Covers(email, phoneNumber string) bool {
	if email != "" && c.Email != email {
		return false
	}
	if phoneNumber != "" && c.PhoneNumber != phoneNumber {
		return false
	}
	return true
}

// ClusterView is the canonical representation of a cluster returned to
// callers: the primary's fields first, then each secondary's in ascending
// creation order.
type ClusterView struct {
	PrimaryContactID    ContactID
	Emails              []string
	PhoneNumbers        []string
	SecondaryContactIDs []ContactID
}
