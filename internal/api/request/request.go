package request

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/mailsweep/internal/apperr"
)

var validate = validator.New()

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Decode reads a JSON body into v and validates it. Failures are format
// errors.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindFormat, "request.Decode", "invalid JSON", err)
	}
	if err := validate.Struct(v); err != nil {
		return apperr.Wrap(apperr.KindFormat, "request.Decode", fmt.Sprintf("validation error: %v", err), err)
	}
	return nil
}

// BulkUnsubscribe is the body of a bulk unsubscribe request.
type BulkUnsubscribe struct {
	MessageIDs []string `json:"messageIds" validate:"required,min=1,max=100,dive,required"`
}

// OAuthCallback completes an account connection.
type OAuthCallback struct {
	Provider string `json:"provider" validate:"required,oneof=gmail imap"`
	UserID   string `json:"userId" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

// SetCategory reassigns a message. A null category clears it.
type SetCategory struct {
	CategoryID *string `json:"categoryId" validate:"omitempty,min=1"`
}
