package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockDispatcher records dispatch calls and reports a fixed running set.
type MockDispatcher struct {
	mu      sync.Mutex
	running map[string]bool
	forced  []bool
	stopped []string
	err     error
}

func (m *MockDispatcher) Dispatch(_ context.Context, id string, force bool) (campaign.DispatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.forced = append(m.forced, force)
	if m.running[id] {
		return campaign.DispatchAlreadyRunning, nil
	}
	return campaign.DispatchStarted, nil
}

func (m *MockDispatcher) Stop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, id)
	return m.running[id]
}

func (m *MockDispatcher) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[id]
}

func setupTestRouter(t *testing.T) (http.Handler, *memory.Store, *MockDispatcher) {
	t.Helper()
	store := memory.NewStore()
	store.PutCampaign(domain.Campaign{ID: "c1", OwnerID: "owner-1", AccountID: "a1", Name: "Spring", Status: domain.CampaignDraft})
	store.PutCampaign(domain.Campaign{ID: "done", OwnerID: "owner-1", AccountID: "a1", Name: "Old", Status: domain.CampaignCompleted})

	disp := &MockDispatcher{running: map[string]bool{}}
	svc := campaign.NewService(store.Campaigns(), disp)
	return SetupRoutes(NewCampaignHandlers(svc), nil, []string{"http://localhost:5173"}), store, disp
}

func do(h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Status
}

func TestHandleGet(t *testing.T) {
	h, _, disp := setupTestRouter(t)
	disp.running["c1"] = true

	rec := do(h, http.MethodGet, "/api/campaigns/c1", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body campaignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Spring", body.Campaign.Name)
	assert.True(t, body.Running)
}

func TestHandleGet_Errors(t *testing.T) {
	h, _, _ := setupTestRouter(t)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/campaigns/nope", "owner-1", "").Code)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/api/campaigns/c1", "intruder", "").Code)
	// no owner header: internal caller, check skipped
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/campaigns/c1", "", "").Code)
}

func TestHandleDispatch(t *testing.T) {
	h, _, disp := setupTestRouter(t)

	rec := do(h, http.MethodPost, "/api/campaigns/c1/dispatch", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "started", decodeStatus(t, rec))

	rec = do(h, http.MethodPost, "/api/campaigns/c1/dispatch?force=true", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{false, true}, disp.forced)

	disp.running["c1"] = true
	rec = do(h, http.MethodPost, "/api/campaigns/c1/dispatch", "owner-1", "")
	assert.Equal(t, "already_running", decodeStatus(t, rec))

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/campaigns/c1/dispatch?force=maybe", "owner-1", "").Code)
}

func TestHandleDispatch_InternalErrorIsSanitized(t *testing.T) {
	h, _, disp := setupTestRouter(t)
	disp.err = errors.New("pq: connection refused to 10.0.0.5")

	rec := do(h, http.MethodPost, "/api/campaigns/c1/dispatch", "owner-1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestHandleResume(t *testing.T) {
	h, _, disp := setupTestRouter(t)

	rec := do(h, http.MethodPost, "/api/campaigns/c1/resume", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []bool{true}, disp.forced)
}

func TestHandlePause(t *testing.T) {
	h, store, disp := setupTestRouter(t)

	rec := do(h, http.MethodPost, "/api/campaigns/c1/pause", "owner-1", "")
	assert.Equal(t, "not_running", decodeStatus(t, rec))

	disp.running["c1"] = true
	rec = do(h, http.MethodPost, "/api/campaigns/c1/pause", "owner-1", "")
	assert.Equal(t, "pausing", decodeStatus(t, rec))

	disp.running["c1"] = false
	require.NoError(t, store.Campaigns().Schedule(context.Background(), "c1", time.Now().Add(time.Hour)))
	rec = do(h, http.MethodPost, "/api/campaigns/c1/pause", "owner-1", "")
	assert.Equal(t, "paused", decodeStatus(t, rec))
}

func TestHandleSchedule(t *testing.T) {
	h, store, disp := setupTestRouter(t)

	rec := do(h, http.MethodPost, "/api/campaigns/c1/schedule", "owner-1", `{"scheduled_at":"2026-11-01T09:00:00+02:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	c, err := store.Campaigns().Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, c.Status)
	require.NotNil(t, c.ScheduledAt)
	assert.True(t, c.ScheduledAt.Equal(time.Date(2026, 11, 1, 7, 0, 0, 0, time.UTC)))

	tests := []struct {
		name string
		id   string
		body string
		code int
	}{
		{"missing time", "c1", `{}`, http.StatusBadRequest},
		{"bad time", "c1", `{"scheduled_at":"tomorrow"}`, http.StatusBadRequest},
		{"bad json", "c1", `{`, http.StatusBadRequest},
		{"unknown field", "c1", `{"scheduled_at":"2026-11-01T09:00:00Z","when":1}`, http.StatusBadRequest},
		{"completed", "done", `{"scheduled_at":"2026-11-01T09:00:00Z"}`, http.StatusConflict},
		{"missing campaign", "nope", `{"scheduled_at":"2026-11-01T09:00:00Z"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/campaigns/"+tt.id+"/schedule", "owner-1", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	disp.running["c1"] = true
	rec = do(h, http.MethodPost, "/api/campaigns/c1/schedule", "owner-1", `{"scheduled_at":"2026-11-01T09:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleDelete(t *testing.T) {
	h, store, disp := setupTestRouter(t)

	disp.running["c1"] = true
	rec := do(h, http.MethodDelete, "/api/campaigns/c1", "owner-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []string{"c1"}, disp.stopped)

	disp.running["c1"] = false
	rec = do(h, http.MethodDelete, "/api/campaigns/c1", "owner-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err := store.Campaigns().Get(context.Background(), "c1")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestHealthWithoutTracking(t *testing.T) {
	h, _, _ := setupTestRouter(t)
	rec := do(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	h, _, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/campaigns/c1/dispatch", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
