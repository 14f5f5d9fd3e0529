package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/growstore-bot/internal/features/livestock"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

type fakeLive struct{ st livestock.Status }

func (f fakeLive) Status() livestock.Status { return f.st }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewRouter(fakeDB{err: errors.New("down")}, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadyz(t *testing.T) {
	live := fakeLive{st: livestock.Status{Healthy: false, ErrorCount: 2, LastError: "edit failed", MessageID: 77}}
	rec := get(t, NewRouter(fakeDB{}, live), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body readiness
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Database)
	assert.Equal(t, live.st, body.LiveStock)
}

func TestReadyzDatabaseDown(t *testing.T) {
	rec := get(t, NewRouter(fakeDB{err: errors.New("database is locked")}, nil), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestUnknownRoute(t *testing.T) {
	rec := get(t, NewRouter(fakeDB{}, nil), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
