package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/pipeline"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/store"
)

const testSecret = "test-secret"

type mockPipeline struct{ mock.Mock }

func (m *mockPipeline) RunCompareFacts(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(pipeline.Result), args.Error(1)
}

func (m *mockPipeline) RefreshVendorLane(ctx context.Context, orgID, vendorID string, lanes []string) []pipeline.LaneResult {
	args := m.Called(ctx, orgID, vendorID, lanes)
	return args.Get(0).([]pipeline.LaneResult)
}

func (m *mockPipeline) GetCompareRun(ctx context.Context, orgID, runID string) (*model.CompareRunDetail, error) {
	args := m.Called(ctx, orgID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CompareRunDetail), args.Error(1)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) GetVendor(ctx context.Context, orgID, vendorID string) (*model.Vendor, error) {
	args := m.Called(ctx, orgID, vendorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Vendor), args.Error(1)
}

func (m *mockStore) ListCompareRuns(ctx context.Context, orgID string, limit int) ([]model.CompareRun, error) {
	args := m.Called(ctx, orgID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CompareRun), args.Error(1)
}

func (m *mockStore) ListUpdateEvents(ctx context.Context, orgID, vendorID string, limit int) ([]model.UpdateEvent, error) {
	args := m.Called(ctx, orgID, vendorID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.UpdateEvent), args.Error(1)
}

func newTestServer(t *testing.T) (*httptest.Server, *mockPipeline, *mockStore) {
	t.Helper()
	p := &mockPipeline{}
	st := &mockStore{}
	srv := httptest.NewServer(NewServer(p, st).Router(Config{JWTSecret: testSecret}))
	t.Cleanup(srv.Close)
	return srv, p, st
}

func token(t *testing.T, orgID string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, "user-1", orgID, RoleMember, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, srv *httptest.Server, method, path, tok, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestRequestID_Propagated(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestIdentity(t *testing.T) {
	srv, _, _ := newTestServer(t)

	expired, err := IssueToken(testSecret, "user-1", "org-1", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other-secret", "user-1", "org-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
		reason string
	}{
		{"missing token", "", http.StatusUnauthorized, "unauthenticated"},
		{"garbage token", "not.a.token", http.StatusUnauthorized, "unauthenticated"},
		{"expired token", expired, http.StatusUnauthorized, "unauthenticated"},
		{"wrong key", wrongKey, http.StatusUnauthorized, "unauthenticated"},
		{"no org", token(t, ""), http.StatusForbidden, "no organization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, http.MethodGet, "/api/compare-runs", tt.token, "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.reason, body["reason"])
		})
	}
}

func TestIdentityFrom_DefaultsRole(t *testing.T) {
	var got Identity
	h := RequireIdentity(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFrom(r.Context())
	}))

	tok, err := IssueToken(testSecret, "user-9", "org-9", "owner", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, Identity{UserID: "user-9", OrgID: "org-9", Role: RoleMember}, got)
}

func TestCreateCompareRun(t *testing.T) {
	tests := []struct {
		name   string
		result pipeline.Result
		err    error
		status int
		reason string
	}{
		{"success", pipeline.Result{OK: true, RunID: "run-1"}, nil, http.StatusOK, ""},
		{"cooldown", pipeline.Result{Reason: pipeline.ReasonCooldown}, nil, http.StatusTooManyRequests, "cooldown"},
		{"resolution", pipeline.Result{Reason: `resolve "Acme": search failed`}, nil, http.StatusUnprocessableEntity, `resolve "Acme": search failed`},
		{"store failure", pipeline.Result{}, errors.New("disk full"), http.StatusInternalServerError, "persistence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, p, _ := newTestServer(t)
			p.On("RunCompareFacts", mock.Anything, pipeline.Request{OrgID: "org-1", YouName: "Acme", CompName: "Beta"}).
				Return(tt.result, tt.err).Once()

			resp, body := do(t, srv, http.MethodPost, "/api/compare-runs", token(t, "org-1"), `{"you":"Acme","competitor":"Beta"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.result.OK {
				assert.Equal(t, true, body["ok"])
				assert.Equal(t, "run-1", body["runId"])
			} else {
				assert.Equal(t, false, body["ok"])
				assert.Equal(t, tt.reason, body["reason"])
			}
			p.AssertExpectations(t)
		})
	}
}

func TestCreateCompareRun_BadBody(t *testing.T) {
	srv, p, _ := newTestServer(t)

	resp, body := do(t, srv, http.MethodPost, "/api/compare-runs", token(t, "org-1"), `{"you":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", body["reason"])
	p.AssertNotCalled(t, "RunCompareFacts", mock.Anything, mock.Anything)
}

func TestGetCompareRun(t *testing.T) {
	srv, p, _ := newTestServer(t)
	detail := &model.CompareRunDetail{
		Run: model.CompareRun{ID: "run-1", OrgID: "org-1", Version: 1, Status: model.RunStatusComplete},
		Rows: []model.CompareRow{
			{ID: "row-1", RunID: "run-1", Metric: model.LanePricing, YouText: "Pro: $49/month", YouCitations: []string{"s1"}, CompCitations: []string{}, AnswerScoreYou: 0.85},
		},
	}
	p.On("GetCompareRun", mock.Anything, "org-1", "run-1").Return(detail, nil)
	p.On("GetCompareRun", mock.Anything, "org-1", "run-2").Return(nil, eris.Wrap(store.ErrNotFound, "pipeline: get compare run run-2"))

	resp, body := do(t, srv, http.MethodGet, "/api/compare-runs/run-1", token(t, "org-1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := body["run"].(map[string]any)
	assert.Equal(t, "run-1", run["id"])
	rows := body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "pricing", rows[0].(map[string]any)["metric"])
	assert.Equal(t, 0.85, rows[0].(map[string]any)["answerScoreYou"])

	resp, body = do(t, srv, http.MethodGet, "/api/compare-runs/run-2", token(t, "org-1"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", body["reason"])
}

func TestListCompareRuns(t *testing.T) {
	srv, _, st := newTestServer(t)
	st.On("ListCompareRuns", mock.Anything, "org-1", 5).Return([]model.CompareRun{{ID: "run-1", Version: 2}}, nil).Once()
	st.On("ListCompareRuns", mock.Anything, "org-1", defaultListLimit).Return(nil, nil).Once()

	resp, body := do(t, srv, http.MethodGet, "/api/compare-runs?limit=5", token(t, "org-1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["runs"], 1)

	resp, body = do(t, srv, http.MethodGet, "/api/compare-runs?limit=abc", token(t, "org-1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["runs"])
	st.AssertExpectations(t)
}

func TestRefreshVendor(t *testing.T) {
	srv, p, st := newTestServer(t)
	site := "https://acme.io"
	st.On("GetVendor", mock.Anything, "org-1", "v-1").Return(&model.Vendor{ID: "v-1", OrgID: "org-1", Website: &site}, nil)
	p.On("RefreshVendorLane", mock.Anything, "org-1", "v-1", []string{"pricing", "weather"}).Return([]pipeline.LaneResult{
		{Lane: "pricing", Saved: 3},
		{Lane: "weather", Skipped: true, Reason: "Unknown lane"},
	}).Once()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/vendors/v-1/refresh", strings.NewReader(`{"lanes":["pricing","weather"]}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "org-1"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var results []pipeline.LaneResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	assert.Equal(t, []pipeline.LaneResult{
		{Lane: "pricing", Saved: 3},
		{Lane: "weather", Skipped: true, Reason: "Unknown lane"},
	}, results)
	p.AssertExpectations(t)
}

func TestRefreshVendor_EmptyBodyRefreshesAllLanes(t *testing.T) {
	srv, p, st := newTestServer(t)
	st.On("GetVendor", mock.Anything, "org-1", "v-1").Return(&model.Vendor{ID: "v-1", OrgID: "org-1"}, nil)

	all := make([]string, 0, len(model.AllLanes()))
	for _, l := range model.AllLanes() {
		all = append(all, string(l))
	}
	p.On("RefreshVendorLane", mock.Anything, "org-1", "v-1", all).Return([]pipeline.LaneResult{}).Once()

	resp, _ := do(t, srv, http.MethodPost, "/api/vendors/v-1/refresh", token(t, "org-1"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	p.AssertExpectations(t)
}

func TestRefreshVendor_NotInOrg(t *testing.T) {
	srv, p, st := newTestServer(t)
	st.On("GetVendor", mock.Anything, "org-2", "v-1").Return(nil, nil)

	resp, body := do(t, srv, http.MethodPost, "/api/vendors/v-1/refresh", token(t, "org-2"), `{"lanes":["pricing"]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Vendor not found", body["reason"])
	p.AssertNotCalled(t, "RefreshVendorLane", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListEvents(t *testing.T) {
	srv, _, st := newTestServer(t)
	st.On("ListUpdateEvents", mock.Anything, "org-1", "v-1", defaultListLimit).Return([]model.UpdateEvent{
		{ID: "e-1", VendorID: "v-1", Type: model.EventPriceChange, Severity: 2},
	}, nil)

	resp, body := do(t, srv, http.MethodGet, "/api/vendors/v-1/events", token(t, "org-1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "e-1", events[0].(map[string]any)["id"])
}

func TestRecoverer(t *testing.T) {
	srv, p, _ := newTestServer(t)
	p.On("GetCompareRun", mock.Anything, "org-1", "boom").Run(func(mock.Arguments) {
		panic("unexpected")
	}).Return(nil, nil)

	resp, body := do(t, srv, http.MethodGet, "/api/compare-runs/boom", token(t, "org-1"), "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", body["reason"])
}

func TestListLimit(t *testing.T) {
	for q, want := range map[string]int{"": defaultListLimit, "?limit=0": defaultListLimit, "?limit=7": 7, "?limit=9999": maxListLimit} {
		r := httptest.NewRequest(http.MethodGet, "/x"+q, nil)
		assert.Equal(t, want, listLimit(r), q)
	}
}
