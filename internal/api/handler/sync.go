package handler

import (
	"context"
	"net/http"

	"github.com/nhle/mailsweep/internal/api/response"
	mailsync "github.com/nhle/mailsweep/internal/sync"
)

// Syncer runs a sync of every active account.
type Syncer interface {
	SyncAll(ctx context.Context) (*mailsync.Summary, error)
}

type Sync struct {
	syncer Syncer
}

func NewSync(syncer Syncer) *Sync {
	return &Sync{syncer: syncer}
}

// syncResponse is the reply of the cron trigger.
type syncResponse struct {
	Success bool `json:"success"`
	*mailsync.Summary
}

// All syncs every active account and reports per-account outcomes. Account
// failures are part of a successful reply.
func (h *Sync) All(w http.ResponseWriter, r *http.Request) {
	summary, err := h.syncer.SyncAll(r.Context())
	if err != nil {
		response.WriteAppError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, syncResponse{Success: true, Summary: summary})
}
