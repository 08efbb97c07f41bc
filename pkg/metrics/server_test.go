package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_Readyz(t *testing.T) {
	tests := []struct {
		name       string
		check      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"без проверки", nil, http.StatusOK, `{"status":"ready"}`},
		{"проверка успешна", func(context.Context) error { return nil }, http.StatusOK, `{"status":"ready"}`},
		{"зависимость недоступна", func(context.Context) error { return errors.New("mysql down") }, http.StatusServiceUnavailable, `{"status":"not_ready"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.check != nil {
				opts = append(opts, WithReadinessCheck(tt.check))
			}
			s := NewServer(":0", "test", opts...)

			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	s := NewServer(":0", "test")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	RecordWebhook("completed")
	s := NewServer(":0", "test")

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "payment_engine_webhook_total")
}
