package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	healthChecker = newHealthChecker()
}

func registerAllCritical() {
	RegisterComponent(ComponentConfig, true, "")
	RegisterComponent(ComponentPersistentData, true, "")
	RegisterComponent(ComponentManager, true, "")
}

func TestRegisterComponent(t *testing.T) {
	resetHealth(t)

	RegisterComponent(ComponentConfig, true, "validated")

	require.Len(t, healthChecker.components, 1)
	comp := healthChecker.components[ComponentConfig]
	assert.True(t, comp.Healthy)
	assert.Equal(t, "validated", comp.Message)
	assert.False(t, comp.Updated.IsZero())
}

func TestUpdateComponent(t *testing.T) {
	resetHealth(t)

	RegisterComponent(ComponentManager, true, "ok")
	UpdateComponent(ComponentManager, false, "dispatch failed")

	comp := healthChecker.components[ComponentManager]
	assert.False(t, comp.Healthy)
	assert.Equal(t, "dispatch failed", comp.Message)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{"no components", map[string]bool{}, "healthy"},
		{"all healthy", map[string]bool{ComponentConfig: true, ComponentManager: true}, "healthy"},
		{"one unhealthy", map[string]bool{ComponentConfig: true, ComponentManager: false}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			SetVersion("1.0.0")
			SetRole("master")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "broken")
			}

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "1.0.0", health.Version)
			assert.Equal(t, "master", health.Role)
		})
	}
}

func TestGetHealth_UnhealthyMessage(t *testing.T) {
	resetHealth(t)
	RegisterComponent(ComponentManager, false, "no role")

	health := GetHealth()
	assert.Equal(t, "unhealthy: no role", health.Components[ComponentManager])
}

func TestGetReadiness(t *testing.T) {
	t.Run("all critical ready", func(t *testing.T) {
		resetHealth(t)
		registerAllCritical()

		readiness := GetReadiness()
		assert.Equal(t, "ready", readiness.Status)
		assert.Empty(t, readiness.Message)
	})

	t.Run("missing critical component", func(t *testing.T) {
		resetHealth(t)
		RegisterComponent(ComponentConfig, true, "")
		RegisterComponent(ComponentPersistentData, true, "")

		readiness := GetReadiness()
		assert.Equal(t, "not_ready", readiness.Status)
		assert.Equal(t, "waiting for manager initialization", readiness.Message)
		assert.Equal(t, "not registered", readiness.Components[ComponentManager])
	})

	t.Run("critical component unhealthy", func(t *testing.T) {
		resetHealth(t)
		registerAllCritical()
		UpdateComponent(ComponentPersistentData, false, "parse failed")

		readiness := GetReadiness()
		assert.Equal(t, "not_ready", readiness.Status)
		assert.Equal(t, "not ready: parse failed", readiness.Components[ComponentPersistentData])
	})

	t.Run("custom critical set", func(t *testing.T) {
		resetHealth(t)
		SetCriticalComponents(ComponentConfig)
		RegisterComponent(ComponentConfig, true, "")

		assert.Equal(t, "ready", GetReadiness().Status)
	})
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		healthy  bool
		wantCode int
		want     string
	}{
		{"healthy", true, http.StatusOK, "healthy"},
		{"unhealthy", false, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			SetVersion("test")
			RegisterComponent(ComponentConfig, tt.healthy, "broken")

			w := httptest.NewRecorder()
			HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var health HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
			assert.Equal(t, tt.want, health.Status)
			assert.Equal(t, "test", health.Version)
		})
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth(t)
	RegisterComponent(ComponentConfig, true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	RegisterComponent(ComponentPersistentData, true, "")
	RegisterComponent(ComponentManager, true, "")

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	assert.Equal(t, "ready", readiness.Status)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth(t)

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/live", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
	assert.NotEmpty(t, response["uptime"])
}
