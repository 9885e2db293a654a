package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sbsched/sbs/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue"))
	require.NoError(t, err)
	return New(st, zap.NewNop(), Config{}), st
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Router(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListJobs(t *testing.T) {
	s, st := newTestServer(t)

	id, err := st.CreateJob([]byte("#!/bin/sh\ntrue\n"),
		store.Settings{store.SettingName: "demo", store.SettingProcs: "2"},
		store.StateHold)
	require.NoError(t, err)

	rec := get(t, s.Router(), "/api/jobs")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].ID)
	assert.Equal(t, "demo", views[0].Name)
	assert.Equal(t, "HOLD", views[0].State)
	assert.Equal(t, 2, views[0].Procs)
	assert.Empty(t, views[0].History)
}

func TestListJobs_EmptyStore(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Router(), "/api/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetJob(t *testing.T) {
	s, st := newTestServer(t)

	id, err := st.CreateJob([]byte("#!/bin/sh\ntrue\n"), store.Settings{}, store.StateHold)
	require.NoError(t, err)
	require.NoError(t, st.AppendStatus(id, store.StateQueued, time.Now()))
	require.NoError(t, st.AppendStatus(id, store.StateRunning, time.Now()))
	require.NoError(t, st.WritePID(id, 4242))

	rec := get(t, s.Router(), "/api/jobs/1")
	require.Equal(t, http.StatusOK, rec.Code)

	var view JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, "RUNNING", view.State)
	assert.Equal(t, 4242, view.PID)
	require.Len(t, view.History, 3)
	assert.Equal(t, "HOLD", view.History[0].State)
	assert.Equal(t, "RUNNING", view.History[2].State)
}

func TestGetJob_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Router(), "/api/jobs/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_BadID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s.Router(), "/api/jobs/zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "queue"))
	require.NoError(t, err)
	s := New(st, zap.NewNop(), Config{RateLimit: 1})
	router := s.Router()

	first := get(t, router, "/healthz")
	require.Equal(t, http.StatusOK, first.Code)

	// The burst is spent; an immediate second request is rejected.
	second := get(t, router, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
