// Package handler wires the identify endpoint to the contact service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"contactlink/internal/contact/models"
	"contactlink/pkg/platform/httputil"
	"contactlink/pkg/requestcontext"
)

// Service defines the interface for contact resolution operations.
type Service interface {
	Identify(ctx context.Context, email, phoneNumber string) (*models.ClusterView, error)
}

// Handler is the thin HTTP layer over the contact service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a contact handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts contact endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/identify", h.HandleIdentify)
}

// HandleIdentify handles POST /identify requests.
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[IdentifyRequest](w, r, h.logger, requestID)
	if !ok {
		return
	}

	view, err := h.service.Identify(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		h.logger.ErrorContext(ctx, "identify failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "identify resolved",
		"request_id", requestID,
		"primary_contact_id", view.PrimaryContactID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}
