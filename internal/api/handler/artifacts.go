package handler

import (
	"context"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsweep/internal/api/response"
)

// ArtifactOpener reads stored evidence by reference.
type ArtifactOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

type Artifacts struct {
	store ArtifactOpener
}

func NewArtifacts(s ArtifactOpener) *Artifacts {
	return &Artifacts{store: s}
}

// Get streams the artifact named by the path after /artifacts/.
func (h *Artifacts) Get(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "*")

	rc, err := h.store.Open(r.Context(), ref)
	if err != nil {
		response.WriteAppError(w, err)
		return
	}
	defer rc.Close()

	// Captured pages are third-party markup and are never rendered here.
	contentType := "application/octet-stream"
	switch path.Ext(ref) {
	case ".png":
		contentType = "image/png"
	case ".html":
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("artifact", ref).Msg("streaming artifact")
	}
}
