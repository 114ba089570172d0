package handler

import (
	"contactlink/internal/contact/models"
)

// IdentifyResponse is the HTTP response for POST /identify.
type IdentifyResponse struct {
	Contact ContactView `json:"contact"`
}

// ContactView is the wire form of a resolved cluster. The first element of
// each list belongs to the primary contact when it carries that field.
type ContactView struct {
	PrimaryContactID    int64    `json:"primaryContactId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// FromView converts a domain ClusterView to an HTTP response.
func FromView(view *models.ClusterView) *IdentifyResponse {
	secondaryIDs := make([]int64, len(view.SecondaryContactIDs))
	for i, id := range view.SecondaryContactIDs {
		secondaryIDs[i] = int64(id)
	}
	emails := view.Emails
	if emails == nil {
		emails = []string{}
	}
	phoneNumbers := view.PhoneNumbers
	if phoneNumbers == nil {
		phoneNumbers = []string{}
	}
	return &IdentifyResponse{
		Contact: ContactView{
			PrimaryContactID:    int64(view.PrimaryContactID),
			Emails:              emails,
			PhoneNumbers:        phoneNumbers,
			SecondaryContactIDs: secondaryIDs,
		},
	}
}
