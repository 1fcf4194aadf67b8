package response

import (
	"encoding/json"
	"net/http"

	"github.com/nhle/mailsweep/internal/apperr"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteAppError reports err with the status its kind maps to. Only the
// human-readable message is exposed.
func WriteAppError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperr.HTTPStatus(err), ErrorResponse{
		Error: apperr.UserMessage(err),
		Kind:  string(apperr.KindOf(err)),
	})
}
