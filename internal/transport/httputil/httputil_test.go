package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	dErrors "bastion/pkg/domain-errors"
)

func TestWriteError_TranslatesDomainCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "bad request",
			err:        dErrors.New(dErrors.CodeBadRequest, "invalid JSON"),
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"bad_request","error_description":"invalid JSON"}`,
		},
		{
			name:       "not found",
			err:        dErrors.New(dErrors.CodeNotFound, ""),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"not_found"}`,
		},
		{
			name:       "unavailable",
			err:        dErrors.Wrap(errors.New("dial tcp: refused"), dErrors.CodeUnavailable, "store unreachable"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"unavailable","error_description":"store unreachable"}`,
		},
		{
			name:       "unexpected error hides detail",
			err:        errors.New("pq: relation does not exist"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal_error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]int{"count": 3})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"count":3}`, rec.Body.String())
}
