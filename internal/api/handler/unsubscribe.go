package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/mailsweep/internal/api/request"
	"github.com/nhle/mailsweep/internal/api/response"
	"github.com/nhle/mailsweep/internal/apperr"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/unsubscribe"
)

// Unsubscriber executes and reports unsubscribe attempts.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, messageID string) (*unsubscribe.Outcome, error)
	Bulk(ctx context.Context, messageIDs []string) ([]unsubscribe.BulkItem, error)
	Latest(ctx context.Context, messageID string) (*model.UnsubscribeAttempt, error)
}

type Unsubscribe struct {
	svc Unsubscriber
}

func NewUnsubscribe(svc Unsubscriber) *Unsubscribe {
	return &Unsubscribe{svc: svc}
}

// Run unsubscribes from the sender of one message. A failed attempt is
// still a completed request and the outcome says what happened. A page
// that needs a human answers 409 and an unconfirmed click answers 202.
func (h *Unsubscribe) Run(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.svc.Unsubscribe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteAppError(w, err)
		return
	}

	status := http.StatusOK
	switch outcome.Kind {
	case apperr.KindBlocked, apperr.KindAmbiguous:
		status = apperr.KindStatus(outcome.Kind)
	}
	response.WriteJSON(w, status, outcome)
}

func (h *Unsubscribe) Bulk(w http.ResponseWriter, r *http.Request) {
	var req request.BulkUnsubscribe
	if err := request.Decode(r, &req); err != nil {
		response.WriteAppError(w, err)
		return
	}

	items, err := h.svc.Bulk(r.Context(), req.MessageIDs)
	if err != nil {
		response.WriteAppError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (h *Unsubscribe) Latest(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.svc.Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteAppError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, attempt)
}
