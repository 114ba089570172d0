package handler

import (
	"strings"

	dErrors "contactlink/pkg/domain-errors"
)

// Field length caps keep pathological payloads out of the store.
const (
	maxEmailLen = 254
	maxPhoneLen = 32
)

// IdentifyRequest is the HTTP request body for POST /identify.
type IdentifyRequest struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

// Validate normalizes and validates the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *IdentifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Email = strings.TrimSpace(r.Email)
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)

	if r.Email == "" && r.PhoneNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "at least one of email or phoneNumber is required")
	}
	if len(r.Email) > maxEmailLen {
		return dErrors.New(dErrors.CodeValidation, "email must be at most 254 characters")
	}
	if len(r.PhoneNumber) > maxPhoneLen {
		return dErrors.New(dErrors.CodeValidation, "phoneNumber must be at most 32 characters")
	}
	if r.Email != "" && !strings.Contains(r.Email, "@") {
		return dErrors.New(dErrors.CodeValidation, "email must contain @")
	}
	return nil
}
