package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestMiddleware_CountsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/fans/{fan}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Method(http.MethodGet, "/metrics", Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fans/3", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ecfan_http_requests_total{method="GET",route="/api/fans/{fan}",status="418"} 1`)
}

func TestGauges_Exposed(t *testing.T) {
	Temperature.WithLabelValues("CPU").Set(61)
	FullBlast.Set(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `ecfan_temperature_celsius{fan="CPU"} 61`)
	assert.Contains(t, body, "ecfan_full_blast 1")
}
