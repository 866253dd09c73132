package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/absence-engine/store/sqlite"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	srv := httptest.NewServer(NewRouter(NewHandler(store, log)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createPlan(t *testing.T, srv *httptest.Server, id string, entitlement string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/plans", map[string]any{
		"id":                  id,
		"name":                "Annual Holiday",
		"type":                "holiday",
		"default_entitlement": entitlement,
		"effective_from":      "2020-01-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	createPlan(t, srv, "holiday", "25")

	// Submit a 3-day request.
	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/requests", map[string]any{
		"user_id":    "alice",
		"plan_id":    "holiday",
		"start_date": "2026-06-01",
		"end_date":   "2026-06-03",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, "3", created["calculated_days"])
	assert.Equal(t, "25", created["balance_before"])
	assert.Equal(t, "22", created["balance_after"])
	requestID := created["id"].(string)

	// It shows up in the approval queue.
	resp, err := http.Get(srv.URL + "/api/requests/pending")
	require.NoError(t, err)
	var queue []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&queue))
	resp.Body.Close()
	require.Len(t, queue, 1)
	assert.Equal(t, requestID, queue[0]["id"])

	// Approve it.
	resp, approved := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/requests/%s/approve", srv.URL, requestID),
		map[string]any{"approver_id": "boss", "comment": "enjoy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", approved["status"])
	assert.NotEmpty(t, approved["approved_at"])

	// The balance reflects the scheduled days.
	resp, balance := doJSON(t, http.MethodGet,
		srv.URL+"/api/users/alice/balance?plan=holiday&period=2026", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", balance["pending"])
	assert.Equal(t, "3", balance["scheduled"])
	assert.Equal(t, "22", balance["remaining"])

	// A second approval is a state conflict.
	resp, _ = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/requests/%s/approve", srv.URL, requestID),
		map[string]any{"approver_id": "boss"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Cancelling as the owner releases the days.
	resp, cancelled := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/requests/%s/cancel", srv.URL, requestID),
		map[string]any{"user_id": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELLED", cancelled["status"])

	resp, balance = doJSON(t, http.MethodGet,
		srv.URL+"/api/users/alice/balance?plan=holiday&period=2026", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "25", balance["available"])
}

func TestSubmitRequest_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	createPlan(t, srv, "holiday", "25")

	t.Run("unknown plan is 404", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/requests", map[string]any{
			"user_id":    "alice",
			"plan_id":    "nope",
			"start_date": "2026-06-01",
			"end_date":   "2026-06-03",
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad date is 400", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/requests", map[string]any{
			"user_id":    "alice",
			"plan_id":    "holiday",
			"start_date": "01/06/2026",
			"end_date":   "2026-06-03",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("inverted range is 400 with code", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/requests", map[string]any{
			"user_id":    "alice",
			"plan_id":    "holiday",
			"start_date": "2026-06-03",
			"end_date":   "2026-06-01",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_date_range", body["code"])
	})

	t.Run("missing approver is 400", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/requests/whatever/approve",
			map[string]any{"comment": "no approver"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestConflictsSurfaceInResponse(t *testing.T) {
	srv := newTestServer(t)
	createPlan(t, srv, "holiday", "2")

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/requests", map[string]any{
		"user_id":    "alice",
		"plan_id":    "holiday",
		"start_date": "2026-06-01",
		"end_date":   "2026-06-03",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, created["has_conflicts"])

	conflicts := created["conflicts"].([]any)
	require.Len(t, conflicts, 1)
	first := conflicts[0].(map[string]any)
	assert.Equal(t, "exceeds_balance", first["type"])
	assert.Equal(t, true, first["can_override"])
}

func TestAccrualPolicyAndRecalculateOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	createPlan(t, srv, "holiday", "0")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/plans/holiday/accrual", map[string]any{
		"method":             "monthly",
		"frequency":          "monthly",
		"annual_entitlement": "24",
		"accrual_rate":       "2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// A second active policy for the same plan is a conflict, not a crash.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/plans/holiday/accrual", map[string]any{
		"method":             "annual",
		"frequency":          "upfront",
		"annual_entitlement": "25",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, balance := doJSON(t, http.MethodPost,
		srv.URL+"/api/users/alice/balance/recalculate?plan=holiday&period=2026", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, balance, "accrued")
}

func TestEpisodeLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, opened := doJSON(t, http.MethodPost, srv.URL+"/api/episodes", map[string]any{
		"user_id":    "alice",
		"start_date": "2026-06-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "short_term", opened["type"])
	episodeID := opened["id"].(string)

	resp, closed := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/episodes/%s/close", srv.URL, episodeID),
		map[string]any{"end_date": "2026-06-09"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, closed["requires_rtw_interview"])

	resp, returned := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/episodes/%s/return", srv.URL, episodeID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, returned["is_returned_to_work"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/episodes/missing/close",
		map[string]any{"end_date": "2026-06-09"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHolidayEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/holidays", map[string]any{
		"date":      "2026-12-25",
		"name":      "Christmas Day",
		"recurring": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/holidays")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var holidays []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&holidays))
	require.Len(t, holidays, 1)
	assert.Equal(t, "Christmas Day", holidays[0]["name"])
}
