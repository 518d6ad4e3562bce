package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/fluxbridge/internal/runtime/jsoncodec"
)

func TestStatus(t *testing.T) {
	cfg := testConfig()
	cfg.ErrorPolicy = map[string]string{"write": "terminate"}
	svc, _ := newTestService(t, cfg)

	status := svc.Status()
	assert.Equal(t, "channel", status.Source)
	assert.Equal(t, "sensors", status.Topic)
	assert.Equal(t, "file", status.Sink)
	assert.Equal(t, "channel", status.Capabilities.Name)
	assert.False(t, status.Capabilities.Persistent)
	assert.False(t, status.Halted)
	assert.Empty(t, status.Uptime)
	assert.Equal(t, "terminate", status.Policy["write"])
	assert.Equal(t, "recover", status.Policy["parse"])
	assert.Zero(t, status.Payloads.Processed)
}

func TestRulesKeepConfigurationOrder(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	rules := svc.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "temperature", rules[0].Name)
	assert.Equal(t, "$.temp", rules[0].Path)
	assert.Equal(t, map[string]string{"room": "lab"}, rules[0].Tags)
	assert.Equal(t, "humidity", rules[1].Name)
	assert.Equal(t, "value / 100", rules[1].Expression)
	require.NotNil(t, rules[1].Stats)
	assert.Zero(t, rules[1].Stats.Produced)
}

func TestStatusHandlers(t *testing.T) {
	cfg := testConfig()
	cfg.StatusCORSAllowedOrigins = []string{"https://grafana.example.com"}
	svc, _ := newTestService(t, cfg)

	t.Run("serves status as json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "https://grafana.example.com")
		svc.handleGetStatus(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "https://grafana.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

		var body StatusResponse
		require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "sensors", body.Topic)
	})

	t.Run("serves rules as json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.handleGetRules(rec, httptest.NewRequest(http.MethodGet, "/api/rules", nil))

		var body []RuleStatus
		require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body, 2)
		assert.Equal(t, "temperature", body[0].Name)
	})

	t.Run("ignores unknown origins", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		svc.handleGetStatus(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("answers preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
		req.Header.Set("Origin", "https://grafana.example.com")
		svc.handleGetStatus(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("rejects other methods", func(t *testing.T) {
		rec := httptest.NewRecorder()
		svc.handleGetStatus(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, HEAD, OPTIONS", rec.Header().Get("Allow"))
	})
}

func TestWildcardCORSOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.StatusCORSAllowedOrigins = []string{"*"}
	svc, _ := newTestService(t, cfg)
	assert.Equal(t, "*", svc.getAllowedCORSOrigin("https://anything.example.com"))
}

func TestStartStatusServerRegistersRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.StatusEnabled = true
	svc, _ := newTestService(t, cfg)

	svc.StartStatusServer()
	require.Contains(t, svc.httpServers, DefaultStatusPort)
}
