package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReflectsComponents(t *testing.T) {
	RegisterComponent("chain", true, "")
	RegisterComponent("agent", true, "")
	RegisterComponent("api", true, "")

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Components["chain"])

	UpdateComponent("chain", false, "rpc unreachable")
	health = GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Contains(t, health.Components["chain"], "rpc unreachable")

	UpdateComponent("chain", true, "")
}

func TestReadinessRequiresCriticalComponents(t *testing.T) {
	RegisterComponent("chain", true, "")
	RegisterComponent("agent", true, "")
	RegisterComponent("api", true, "")

	ready := GetReadiness()
	assert.Equal(t, "ready", ready.Status)

	UpdateComponent("agent", false, "degraded")
	ready = GetReadiness()
	assert.Equal(t, "not_ready", ready.Status)
	assert.Contains(t, ready.Message, "agent")

	UpdateComponent("agent", true, "")
}

func TestHealthHandler(t *testing.T) {
	RegisterComponent("chain", true, "")
	RegisterComponent("agent", true, "")
	RegisterComponent("api", true, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	HealthHandler()(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
