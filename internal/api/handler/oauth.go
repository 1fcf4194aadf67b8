package handler

import (
	"context"
	"net/http"

	"github.com/nhle/mailsweep/internal/api/request"
	"github.com/nhle/mailsweep/internal/api/response"
	"github.com/nhle/mailsweep/internal/model"
)

// Connector runs the authorization-code flow for new accounts.
type Connector interface {
	AuthURL(kind model.ProviderKind, state string) (string, error)
	Connect(ctx context.Context, kind model.ProviderKind, userID, code string) (*model.Account, error)
}

type OAuth struct {
	connector Connector
}

func NewOAuth(connector Connector) *OAuth {
	return &OAuth{connector: connector}
}

// URL returns the consent URL for ?provider=...&state=....
func (h *OAuth) URL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := q.Get("provider")
	if provider == "" {
		provider = string(model.ProviderGmail)
	}
	if q.Get("state") == "" {
		response.WriteError(w, http.StatusBadRequest, "state is required")
		return
	}

	url, err := h.connector.AuthURL(model.ProviderKind(provider), q.Get("state"))
	if err != nil {
		response.WriteAppError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

// Callback exchanges the authorization code and stores the account.
func (h *OAuth) Callback(w http.ResponseWriter, r *http.Request) {
	var req request.OAuthCallback
	if err := request.Decode(r, &req); err != nil {
		response.WriteAppError(w, err)
		return
	}

	account, err := h.connector.Connect(r.Context(), model.ProviderKind(req.Provider), req.UserID, req.Code)
	if err != nil {
		response.WriteAppError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, account)
}
