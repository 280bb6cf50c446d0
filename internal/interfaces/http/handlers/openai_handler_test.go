package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openrelay/gateway/internal/application"
	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/infrastructure/config"
	_ "github.com/openrelay/gateway/internal/infrastructure/llm/localopenai"
	"github.com/openrelay/gateway/internal/infrastructure/persistence"
	"github.com/openrelay/gateway/internal/infrastructure/registry"
	"github.com/openrelay/gateway/internal/infrastructure/settingssync"
)

// openTestDB opens a named in-memory database private to the test, so
// the fixture providers one test creates never collide with another's.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, persistence.Migrate(db))
	return db
}

func newTestDispatcher(t *testing.T, upstreamURL string) *application.Dispatcher {
	t.Helper()
	db := openTestDB(t)

	providers := persistence.NewProviderRepository(db)
	configs := persistence.NewProviderConfigRepository(db)
	links := persistence.NewProviderModelRepository(db)
	requests := persistence.NewRequestRepository(db)
	responses := persistence.NewResponseRepository(db)
	errs := persistence.NewErrorRepository(db)
	settingsRepo := persistence.NewSettingRepository(db)

	ctx := context.Background()
	require.NoError(t, providers.Create(ctx, &entity.Provider{
		ID: "local1", Name: "Local", Type: entity.ProviderTypeLocalOpenAI, Enabled: true, Priority: 10,
	}))
	require.NoError(t, configs.Upsert(ctx, &entity.ProviderConfig{ProviderID: "local1", Key: "base_url", Value: `"` + upstreamURL + `"`}))

	reg := registry.New(providers, configs, nil, zap.NewNop(), nil, nil)
	require.NoError(t, reg.LoadAll(ctx))

	settings := settingssync.New(&config.Config{}, settingsRepo, nil, zap.NewNop())
	_, err := settings.UpdateSetting(ctx, "active_provider", "local1", entity.SettingTypeString)
	require.NoError(t, err)

	return application.New(reg, providers, links, requests, responses, errs, settings, nil, zap.NewNop())
}

func newTestRouter(d *application.Dispatcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewOpenAIHandler(d, zap.NewNop())
	r.POST("/v1/chat/completions", h.ChatCompletions)
	r.GET("/v1/models", h.ListModels)
	r.GET("/health", h.Health)
	return r
}

func TestChatCompletions_Buffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","model":"m","choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	router := newTestRouter(newTestDispatcher(t, srv.URL))

	body, _ := json.Marshal(map[string]any{
		"model":    "m",
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	choices := resp["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	require.Equal(t, "hi there", msg["content"])
}

func TestChatCompletions_RejectsEmptyMessages(t *testing.T) {
	router := newTestRouter(newTestDispatcher(t, "http://unused"))

	body, _ := json.Marshal(map[string]any{"model": "m", "messages": []map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCompletions_MalformedJSON(t *testing.T) {
	router := newTestRouter(newTestDispatcher(t, "http://unused"))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte(`{"model": }`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp, "error")
}

func TestHealth(t *testing.T) {
	router := newTestRouter(newTestDispatcher(t, "http://unused"))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
