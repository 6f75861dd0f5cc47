package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/felipemaragno/hookline/internal/signature"
)

func TestHandler_VerifiesSignature(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newHandler("whsec_test", http.StatusOK, logger)
	body := `{"id":"evt_1","event":"match.started"}`

	tests := []struct {
		name     string
		sig      string
		expected int
	}{
		{"valid", signature.Sign([]byte(body), "whsec_test"), http.StatusOK},
		{"wrong secret", signature.Sign([]byte(body), "whsec_other"), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
			req.Header.Set(signature.HeaderSignature, tt.sig)
			rec := httptest.NewRecorder()

			h(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("status = %d, want %d", rec.Code, tt.expected)
			}
		})
	}
}

func TestHandler_ConfiguredStatus(t *testing.T) {
	h := newHandler("", http.StatusServiceUnavailable, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
