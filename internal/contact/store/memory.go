// Package store provides the contact persistence implementations: an
// in-memory store for tests and dev mode, a PostgreSQL store for production,
// and a Redis-backed cluster view cache.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"contactlink/internal/contact/models"
	"contactlink/pkg/platform/sentinel"
)

// Error contract, all store methods:
// - Return sentinel.ErrNotFound (wrapped) when the requested record does not exist
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemory stores contacts in memory with sequential IDs.
type InMemory struct {
	mu       sync.RWMutex
	contacts map[models.ContactID]*models.Contact
	nextID   models.ContactID
}

// NewInMemory constructs an empty in-memory contact store.
func NewInMemory() *InMemory {
	return &InMemory{
		contacts: make(map[models.ContactID]*models.Contact),
		nextID:   1,
	}
}

func (s *InMemory) FindExact(_ context.Context, email, phoneNumber string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var match *models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil || c.Email != email || c.PhoneNumber != phoneNumber {
			continue
		}
		// Oldest exact match wins, same as the ordered SQL query.
		if match == nil || c.OlderThan(match) {
			match = c
		}
	}
	if match == nil {
		return nil, fmt.Errorf("exact contact match: %w", sentinel.ErrNotFound)
	}
	return copyContact(match), nil
}

func (s *InMemory) FindByEmailOrPhone(_ context.Context, email, phoneNumber string) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if (email != "" && c.Email == email) || (phoneNumber != "" && c.PhoneNumber == phoneNumber) {
			out = append(out, copyContact(c))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemory) FindByID(_ context.Context, id models.ContactID) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return nil, fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
	}
	return copyContact(c), nil
}

func (s *InMemory) FindByLinkedID(_ context.Context, id models.ContactID) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Contact
	for _, c := range s.contacts {
		if c.DeletedAt == nil && c.LinkedID == id && c.LinkPrecedence == models.LinkPrecedenceSecondary {
			out = append(out, copyContact(c))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *InMemory) Create(_ context.Context, contact *models.Contact) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyContact(contact)
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.contacts[stored.ID] = stored
	return copyContact(stored), nil
}

func (s *InMemory) Demote(_ context.Context, id, linkedID models.ContactID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
	}
	c.LinkPrecedence = models.LinkPrecedenceSecondary
	c.LinkedID = linkedID
	c.UpdatedAt = now
	return nil
}

func (s *InMemory) RelinkAll(_ context.Context, oldLinkedID, newLinkedID models.ContactID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.DeletedAt == nil && c.LinkedID == oldLinkedID && c.LinkPrecedence == models.LinkPrecedenceSecondary {
			c.LinkedID = newLinkedID
			c.UpdatedAt = now
		}
	}
	return nil
}

// LockSubmission is a no-op: the in-memory transaction boundary is a coarse
// lock, so submissions are already serialized.
func (s *InMemory) LockSubmission(context.Context, string, string) error {
	return nil
}

// SoftDelete marks a record deleted so it vanishes from matching and views.
// Administrative concern, not used by the resolution engine itself.
func (s *InMemory) SoftDelete(_ context.Context, id models.ContactID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return fmt.Errorf("contact %d: %w", id, sentinel.ErrNotFound)
	}
	deleted := now
	c.DeletedAt = &deleted
	c.UpdatedAt = now
	return nil
}

func copyContact(c *models.Contact) *models.Contact {
	clone := *c
	if c.DeletedAt != nil {
		deleted := *c.DeletedAt
		clone.DeletedAt = &deleted
	}
	return &clone
}

func sortByCreation(contacts []*models.Contact) {
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].OlderThan(contacts[j])
	})
}
