package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sozanskiy/vtx-new/bus"
	"github.com/sozanskiy/vtx-new/engine"
	"github.com/sozanskiy/vtx-new/plan"
	"github.com/sozanskiy/vtx-new/sdr"
	"github.com/sozanskiy/vtx-new/track"
)

func testRouter(t *testing.T) (*gin.Engine, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e, err := engine.New(engine.Options{Sampler: &sdr.Synthetic{Seed: 1}})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return newRouter(e), e
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := testRouter(t)
	w := do(router, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestScanLifecycle(t *testing.T) {
	router, _ := testRouter(t)

	w := do(router, http.MethodPost, "/api/v1/scan/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"running"}`, w.Body.String())

	// Starting again reports the same state instead of failing.
	w = do(router, http.MethodPost, "/api/v1/scan/start", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/scan/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scan_state":"running"`)

	w = do(router, http.MethodPost, "/api/v1/scan/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"stopped"}`, w.Body.String())
}

func TestCandidatesEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	w := do(router, http.MethodGet, "/api/v1/candidates", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/candidates?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/candidates.csv", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "FreqHz,"))
}

func TestFocusEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	w := do(router, http.MethodPost, "/api/v1/focus", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "freq_hz is required")

	w = do(router, http.MethodPost, "/api/v1/focus", `{"freq_hz":5806000000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"freq_hz":5806000000`)

	// A second session is refused while the first lives.
	w = do(router, http.MethodPost, "/api/v1/focus", `{"freq_hz":5658000000}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(router, http.MethodPost, "/api/v1/focus/record", `{"type":"iq","enable":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"iq":true`)

	w = do(router, http.MethodDelete, "/api/v1/focus", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// No session left to toggle recording on.
	w = do(router, http.MethodPost, "/api/v1/focus/record", `{"type":"iq","enable":true}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestConfigEndpoints(t *testing.T) {
	router, e := testRouter(t)

	w := do(router, http.MethodGet, "/api/v1/config", "")
	assert.Equal(t, http.StatusOK, w.Code)
	current := w.Body.String()
	assert.Contains(t, current, "Raceband")

	// Reloading the served config is accepted unchanged.
	w = do(router, http.MethodPut, "/api/v1/config", current)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, current, w.Body.String())

	w = do(router, http.MethodPut, "/api/v1/config", `{"bands":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []byte(current), e.Config(), "a rejected plan changes nothing")
}

func TestWaterfallWithoutHistory(t *testing.T) {
	router, _ := testRouter(t)
	w := do(router, http.MethodGet, "/api/v1/waterfall.png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSSEBody(t *testing.T) {
	body := sseBody(bus.Event{Type: bus.TypeScanState, Payload: map[string]any{"state": "running"}})
	assert.Equal(t, gin.H{"type": "scan_state", "state": "running"}, body)

	body = sseBody(bus.Event{Type: bus.TypeCandidates, Payload: []track.Snapshot{{FreqHz: 1}}})
	assert.Equal(t, "candidates", body["type"])
	assert.Len(t, body["items"], 1)
}

func TestValidatePlanUnchangedByServer(t *testing.T) {
	// The default plan the server falls back to must be valid.
	require.NoError(t, plan.Default().Validate())
}
