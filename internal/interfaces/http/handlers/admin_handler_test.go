package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/infrastructure/config"
	"github.com/openrelay/gateway/internal/infrastructure/credential"
	"github.com/openrelay/gateway/internal/infrastructure/eventbus"
	"github.com/openrelay/gateway/internal/infrastructure/persistence"
	"github.com/openrelay/gateway/internal/infrastructure/registry"
	"github.com/openrelay/gateway/internal/infrastructure/settingssync"
)

func newTestAdminRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db := openTestDB(t)

	providers := persistence.NewProviderRepository(db)
	configs := persistence.NewProviderConfigRepository(db)
	models := persistence.NewModelRepository(db)
	links := persistence.NewProviderModelRepository(db)
	sessions := persistence.NewSessionRepository(db)
	requests := persistence.NewRequestRepository(db)
	responses := persistence.NewResponseRepository(db)
	errs := persistence.NewErrorRepository(db)
	settingsRepo := persistence.NewSettingRepository(db)
	credRepo := persistence.NewCredentialRepository(db)

	bus := eventbus.NewInMemoryBus(zap.NewNop(), 16)
	reg := registry.New(providers, configs, bus, zap.NewNop(), nil, nil)
	settings := settingssync.New(&config.Config{}, settingsRepo, bus, zap.NewNop())
	creds := credential.New(credRepo, bus)

	h := NewAdminHandler(providers, configs, models, links, sessions, requests, responses, errs, settingsRepo, reg, settings, creds, zap.NewNop())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group("/admin"))
	return r
}

func TestAdmin_ProviderCRUD(t *testing.T) {
	router := newTestAdminRouter(t)

	body, _ := json.Marshal(map[string]any{"id": "p1", "name": "Provider One", "type": "openai", "enabled": false, "priority": 5})
	req := httptest.NewRequest(http.MethodPost, "/admin/providers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/providers/p1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listBody map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listBody))
	require.Len(t, listBody["data"], 1)
}

func TestAdmin_ProviderConfigRedactsSensitiveValues(t *testing.T) {
	router := newTestAdminRouter(t)

	create, _ := json.Marshal(map[string]any{"id": "p2", "type": "openai"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/providers", bytes.NewReader(create)))
	require.Equal(t, http.StatusCreated, w.Code)

	cfg, _ := json.Marshal(map[string]any{"key": "api_key", "value": `"sk-secret"`, "is_sensitive": true})
	req := httptest.NewRequest(http.MethodPut, "/admin/providers/p2/config", bytes.NewReader(cfg))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotContains(t, got["Value"], "sk-secret")
}

func TestAdmin_SettingsGetSet(t *testing.T) {
	router := newTestAdminRouter(t)

	body, _ := json.Marshal(map[string]any{"value": "p1", "value_type": "string"})
	req := httptest.NewRequest(http.MethodPut, "/admin/settings/active_provider", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/settings", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_Stats(t *testing.T) {
	router := newTestAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.EqualValues(t, 0, got["requests"])
	require.EqualValues(t, 0, got["responses"])
}

func TestAdmin_UpsertCredential(t *testing.T) {
	router := newTestAdminRouter(t)

	body, _ := json.Marshal(map[string]any{"backend": "qwen-web", "token": "t", "cookies": "c", "expires_at": 0})
	req := httptest.NewRequest(http.MethodPut, "/admin/credentials", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
