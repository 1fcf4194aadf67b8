package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindAuth, "refresh", "token rejected")
	wrapped := fmt.Errorf("getting client: %w", base)

	assert.True(t, Is(wrapped, KindAuth))
	assert.False(t, Is(wrapped, KindTransient))
	assert.Equal(t, KindAuth, KindOf(wrapped))
	assert.Equal(t, "token rejected", UserMessage(wrapped))
}

func TestErrorString(t *testing.T) {
	err := Wrap(KindTransient, "gmail.get", "provider unavailable", errors.New("502"))
	assert.Equal(t, "gmail.get: provider unavailable: 502", err.Error())
	assert.True(t, IsTransient(err))
}

func TestPlainErrorsHaveNoKind(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, Kind(""), KindOf(err))
	assert.False(t, Is(nil, KindConfig))
	assert.Equal(t, "boom", UserMessage(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindAuth, http.StatusUnauthorized},
		{KindAccountInactive, http.StatusConflict},
		{KindFormat, http.StatusBadRequest},
		{KindIntegrity, http.StatusInternalServerError},
		{KindBlocked, http.StatusConflict},
		{KindAmbiguous, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "op", "msg")))
			assert.Equal(t, tt.want, KindStatus(tt.kind))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, KindStatus(""))
}
