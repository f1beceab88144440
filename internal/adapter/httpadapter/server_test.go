package httpadapter_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/waterdata/internal/adapter/httpadapter"
	"github.com/couchcryptid/waterdata/internal/observability"
)

type readiness struct {
	err error
}

func (r readiness) CheckReadiness(_ context.Context) error { return r.err }

func TestHealthz(t *testing.T) {
	s := httpadapter.NewServer(":0", readiness{}, observability.NopLogger())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		s := httpadapter.NewServer(":0", readiness{}, observability.NopLogger())

		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		s := httpadapter.NewServer(":0", readiness{err: errors.New("no cycle yet")}, observability.NopLogger())

		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "no cycle yet")
	})
}

func TestMetrics(t *testing.T) {
	s := httpadapter.NewServer(":0", readiness{}, observability.NopLogger())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
