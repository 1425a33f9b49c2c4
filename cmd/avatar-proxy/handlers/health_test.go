package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker map[string]error

func (s stubChecker) Health(context.Context) map[string]error {
	return s
}

func getHealth(t *testing.T, checks ...HealthChecker) HealthResponse {
	t.Helper()
	e := echo.New()
	e.GET("/health", NewHealthHandler("avatar-proxy", checks...).GetHealth)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetHealth_OK(t *testing.T) {
	body := getHealth(t, stubChecker{"redis": nil, "blob:memory": nil})

	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "avatar-proxy", body.Service)
	assert.Equal(t, map[string]string{"redis": "ok", "blob:memory": "ok"}, body.Components)
	assert.Empty(t, body.Degraded)
}

func TestGetHealth_Degraded(t *testing.T) {
	body := getHealth(t,
		stubChecker{"redis": errors.New("connection refused")},
		stubChecker{"blob:s3": errors.New("forbidden"), "relay": nil},
	)

	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, []string{"blob:s3", "redis"}, body.Degraded)
	assert.Equal(t, "connection refused", body.Components["redis"])
	assert.Equal(t, "ok", body.Components["relay"])
}
