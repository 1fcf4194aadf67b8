package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/mailsweep/internal/api/request"
	"github.com/nhle/mailsweep/internal/api/response"
	"github.com/nhle/mailsweep/internal/model"
	"github.com/nhle/mailsweep/internal/store"
)

// MessageStore is the message persistence the API reads and edits.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessages(ctx context.Context, filter store.MessageFilter) ([]model.Message, error)
	SetCategory(ctx context.Context, id string, categoryID *string) error
	DeleteMessage(ctx context.Context, id string) error
}

type Messages struct {
	store MessageStore
}

func NewMessages(s MessageStore) *Messages {
	return &Messages{store: s}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (h *Messages) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.MessageFilter{Limit: defaultPageSize}

	if v := q.Get("accountId"); v != "" {
		filter.AccountID = &v
	}
	if v := q.Get("categoryId"); v != "" {
		filter.CategoryID = &v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			response.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			response.WriteError(w, http.StatusBadRequest, "offset must not be negative")
			return
		}
		filter.Offset = n
	}

	msgs, err := h.store.GetMessages(r.Context(), filter)
	if err != nil {
		response.WriteAppError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

func (h *Messages) Get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.store.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.WriteAppError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, msg)
}

func (h *Messages) SetCategory(w http.ResponseWriter, r *http.Request) {
	var req request.SetCategory
	if err := request.Decode(r, &req); err != nil {
		response.WriteAppError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.SetCategory(r.Context(), id, req.CategoryID); err != nil {
		response.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Messages) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		response.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
