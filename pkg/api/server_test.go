package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-dev/tachikoma/pkg/config"
	"github.com/tachikoma-dev/tachikoma/pkg/events"
	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/session"
)

func decodeJSON(t *testing.T, body []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, v))
}

func newTestServer(t *testing.T, starter MissionStarter) *Server {
	t.Helper()
	cfg := config.Default()
	sessionMgr := session.NewManager()
	connMgr := events.NewConnectionManager(nil)
	return NewServer(&cfg, nil, sessionMgr, connMgr, nil, starter)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartMissionHandler_NoStarterConfigured(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/missions", strings.NewReader(`{"task_id":"T-1"}`))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartMissionHandler_Validation(t *testing.T) {
	s := newTestServer(t, func(_ context.Context, taskID string) (*loop.Mission, *session.Session, error) {
		t.Fatal("starter should not be called for an invalid body")
		return nil, nil, nil
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/missions", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func newRunningMission(t *testing.T, sessionMgr *session.Manager, taskID string) (*loop.Mission, *session.Session) {
	t.Helper()
	mission := loop.NewMission(loop.DefaultConfig())
	require.NoError(t, mission.Start())
	sess := sessionMgr.Create(mission, taskID)
	return mission, sess
}

func TestStartAndGetMission(t *testing.T) {
	sessionMgr := session.NewManager()
	starter := func(_ context.Context, taskID string) (*loop.Mission, *session.Session, error) {
		mission, sess := newRunningMission(t, sessionMgr, taskID)
		return mission, sess, nil
	}

	cfg := config.Default()
	connMgr := events.NewConnectionManager(nil)
	s := NewServer(&cfg, nil, sessionMgr, connMgr, nil, starter)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/missions", strings.NewReader(`{"task_id":"T-1"}`))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created MissionResponse
	decodeJSON(t, rec.Body.Bytes(), &created)
	assert.Equal(t, "T-1", created.TaskID)
	assert.Equal(t, string(loop.MissionRunning), created.State)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/missions/"+created.ID.String(), nil)
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched MissionResponse
	decodeJSON(t, rec.Body.Bytes(), &fetched)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestGetMission_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missions/00000000-0000-0000-0000-000000000000", nil)
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMission_InvalidID(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missions/not-a-uuid", nil)
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissionPauseResumeStop(t *testing.T) {
	sessionMgr := session.NewManager()
	mission, _ := newRunningMission(t, sessionMgr, "T-2")

	cfg := config.Default()
	connMgr := events.NewConnectionManager(nil)
	s := NewServer(&cfg, nil, sessionMgr, connMgr, nil, nil)
	s.RegisterMission(mission)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"pause running mission succeeds", "/pause", http.StatusOK},
		{"pause already-paused mission conflicts", "/pause", http.StatusConflict},
		{"resume paused mission succeeds", "/resume", http.StatusOK},
		{"resume running mission conflicts", "/resume", http.StatusConflict},
		{"stop running mission succeeds", "/stop", http.StatusOK},
		{"stop is idempotent while the engine hasn't observed it yet", "/stop", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/missions/"+mission.ID.String()+tt.path, nil)
			s.Router().ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetForge_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/forge/00000000-0000-0000-0000-000000000000", nil)
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetForge_InvalidID(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/forge/not-a-uuid", nil)
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditVerify_NoEvents(t *testing.T) {
	// auditStore is nil in these lightweight handler tests; a real chain
	// round-trip is covered in pkg/audit's own tests.
	t.Skip("requires a live audit.Store; covered by pkg/audit integration tests")
}
