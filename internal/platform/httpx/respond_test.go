package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("role 9: %w", ErrNotFound): http.StatusNotFound,
		ErrDuplicate:                          http.StatusConflict,
		ErrValidation:                         http.StatusBadRequest,
		ErrForbidden:                          http.StatusForbidden,
		ErrUnauthorized:                       http.StatusUnauthorized,
		ErrUnavailable:                        http.StatusServiceUnavailable,
		errors.New("boom"):                    http.StatusInternalServerError,
	}
	for err, status := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, httptest.NewRequest(http.MethodGet, "/roles/9/permissions/", nil), err)
		assert.Equal(t, status, rec.Code, err.Error())
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, status, body.Status)
		assert.Equal(t, "/roles/9/permissions/", body.Instance)
		if status == http.StatusInternalServerError {
			assert.Empty(t, body.Detail)
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c","admin":true}`))
	err := DecodeJSON(httptest.NewRecorder(), req, &target)
	assert.ErrorIs(t, err, ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"} {}`))
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, &target), ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.c"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &target))
	assert.Equal(t, "a@b.c", target.Email)
}
