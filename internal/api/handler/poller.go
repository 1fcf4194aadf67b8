package handler

import (
	"net/http"

	"github.com/nhle/mailsweep/internal/api/response"
	mailsync "github.com/nhle/mailsweep/internal/sync"
)

// SyncPoller is the background sync loop.
type SyncPoller interface {
	Trigger()
	Statuses() []mailsync.SyncStatus
}

type Poller struct {
	poller SyncPoller
}

func NewPoller(p SyncPoller) *Poller {
	return &Poller{poller: p}
}

// Trigger queues a run on the poller without waiting for it.
func (h *Poller) Trigger(w http.ResponseWriter, r *http.Request) {
	h.poller.Trigger()
	response.WriteJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

// Status lists the latest sync state of every account, ordered by email.
func (h *Poller) Status(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]any{"accounts": h.poller.Statuses()})
}
