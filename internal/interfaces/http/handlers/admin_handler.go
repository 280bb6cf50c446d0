package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/domain/entity"
	"github.com/openrelay/gateway/internal/domain/repository"
	"github.com/openrelay/gateway/internal/infrastructure/credential"
	"github.com/openrelay/gateway/internal/infrastructure/registry"
	"github.com/openrelay/gateway/internal/infrastructure/settingssync"
	gerrors "github.com/openrelay/gateway/pkg/errors"
)

// AdminHandler implements the admin surface: provider and model
// CRUD, provider<->model linking, settings get/set, credential upsert, and
// read-only access to the request/response/session/error audit trail. It
// talks straight to the repositories and registry rather than through the
// dispatcher, since none of this is on the hot chat-completions path.
type AdminHandler struct {
	providers      repository.ProviderRepository
	configs        repository.ProviderConfigRepository
	models         repository.ModelRepository
	providerModels repository.ProviderModelRepository
	sessions       repository.SessionRepository
	requests       repository.RequestRepository
	responses      repository.ResponseRepository
	errors         repository.ErrorRepository
	settingsRepo   repository.SettingRepository

	registry    *registry.Registry
	settings    *settingssync.Sync
	credentials *credential.Store
	logger      *zap.Logger
}

func NewAdminHandler(
	providers repository.ProviderRepository,
	configs repository.ProviderConfigRepository,
	models repository.ModelRepository,
	providerModels repository.ProviderModelRepository,
	sessions repository.SessionRepository,
	requests repository.RequestRepository,
	responses repository.ResponseRepository,
	errs repository.ErrorRepository,
	settingsRepo repository.SettingRepository,
	reg *registry.Registry,
	settings *settingssync.Sync,
	credentials *credential.Store,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		providers:      providers,
		configs:        configs,
		models:         models,
		providerModels: providerModels,
		sessions:       sessions,
		requests:       requests,
		responses:      responses,
		errors:         errs,
		settingsRepo:   settingsRepo,
		registry:       reg,
		settings:       settings,
		credentials:    credentials,
		logger:         logger.With(zap.String("component", "admin-handler")),
	}
}

// RegisterRoutes mounts every admin endpoint under the given group.
func (h *AdminHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/status", h.Status)
	g.GET("/stats", h.Stats)

	providers := g.Group("/providers")
	providers.POST("", h.CreateProvider)
	providers.GET("", h.ListProviders)
	providers.GET("/:id", h.GetProvider)
	providers.PUT("/:id", h.UpdateProvider)
	providers.DELETE("/:id", h.DeleteProvider)
	providers.POST("/:id/enable", h.EnableProvider)
	providers.POST("/:id/disable", h.DisableProvider)
	providers.POST("/:id/reload", h.ReloadProvider)
	providers.POST("/:id/test", h.TestProvider)
	providers.GET("/:id/config", h.ListProviderConfig)
	providers.PUT("/:id/config", h.SetProviderConfig)
	providers.DELETE("/:id/config/:key", h.DeleteProviderConfig)
	providers.GET("/:id/models", h.ListProviderLinks)
	providers.POST("/:id/models", h.LinkModel)
	providers.DELETE("/:id/models/:model_id", h.UnlinkModel)

	models := g.Group("/models")
	models.POST("", h.CreateModel)
	models.GET("", h.ListModels)
	models.DELETE("/:id", h.DeleteModel)

	settings := g.Group("/settings")
	settings.GET("", h.GetSettings)
	settings.PUT("/:key", h.SetSetting)

	g.PUT("/credentials", h.UpsertCredential)

	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id", h.GetSession)
	g.GET("/requests", h.ListRequests)
	g.GET("/responses", h.ListResponses)
	g.GET("/errors", h.ListErrors)
}

func pageFrom(c *gin.Context) repository.Page {
	return repository.Page{
		Limit:  atoiOr(c.Query("limit"), 50),
		Offset: atoiOr(c.Query("offset"), 0),
	}
}

// --- providers ---

type providerBody struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
}

func (h *AdminHandler) CreateProvider(c *gin.Context) {
	var body providerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.ID == "" || body.Type == "" {
		writeError(c, gerrors.Validation("id and type are required"))
		return
	}
	now := time.Now()
	p := &entity.Provider{
		ID:          body.ID,
		Name:        body.Name,
		Type:        entity.ProviderType(body.Type),
		Enabled:     body.Enabled,
		Priority:    body.Priority,
		Description: body.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.providers.Create(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *AdminHandler) ListProviders(c *gin.Context) {
	rows, err := h.providers.FindAll(c.Request.Context(), nil, []repository.Order{{Column: "priority", Desc: true}}, pageFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *AdminHandler) GetProvider(c *gin.Context) {
	p, err := h.providers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *AdminHandler) UpdateProvider(c *gin.Context) {
	id := c.Param("id")
	existing, err := h.providers.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	var body providerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	existing.Name = body.Name
	existing.Enabled = body.Enabled
	existing.Priority = body.Priority
	existing.Description = body.Description
	existing.UpdatedAt = time.Now()
	if err := h.providers.Update(c.Request.Context(), existing); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, existing)
}

func (h *AdminHandler) DeleteProvider(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Unload(c.Request.Context(), id); err != nil {
		h.logger.Warn("unload before delete", zap.String("provider_id", id), zap.Error(err))
	}
	if err := h.providers.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) EnableProvider(c *gin.Context) { h.setEnabled(c, true) }
func (h *AdminHandler) DisableProvider(c *gin.Context) { h.setEnabled(c, false) }

func (h *AdminHandler) setEnabled(c *gin.Context, enabled bool) {
	id := c.Param("id")
	p, err := h.providers.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now()
	if err := h.providers.Update(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	if enabled {
		if err := h.registry.Load(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
	} else {
		if err := h.registry.Unload(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, p)
}

// ReloadProvider handles POST /admin/providers/:id/reload, rebuilding the
// live instance from its current stored config.
func (h *AdminHandler) ReloadProvider(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Reload(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": id, "status": "reloaded"})
}

// TestProvider handles POST /admin/providers/:id/test: a HealthCheck call
// against the live instance, not a chat turn, so it never touches the
// session or audit tables.
func (h *AdminHandler) TestProvider(c *gin.Context) {
	id := c.Param("id")
	inst, ok := h.registry.Get(id)
	if !ok {
		writeError(c, gerrors.NotFound("provider %q is not loaded", id))
		return
	}
	status, err := inst.HealthCheck(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// --- provider config ---

type configBody struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	IsSensitive bool   `json:"is_sensitive"`
}

func (h *AdminHandler) SetProviderConfig(c *gin.Context) {
	providerID := c.Param("id")
	var body configBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.Key == "" {
		writeError(c, gerrors.Validation("key is required"))
		return
	}
	cfg := &entity.ProviderConfig{ProviderID: providerID, Key: body.Key, Value: body.Value, IsSensitive: body.IsSensitive}
	if err := h.configs.Upsert(c.Request.Context(), cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, redactConfig(*cfg))
}

func (h *AdminHandler) ListProviderConfig(c *gin.Context) {
	rows, err := h.configs.FindByProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]entity.ProviderConfig, len(rows))
	for i, r := range rows {
		out[i] = redactConfig(r)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *AdminHandler) DeleteProviderConfig(c *gin.Context) {
	if err := h.configs.Delete(c.Request.Context(), c.Param("id"), c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// redactConfig masks sensitive values on egress; the raw value is only
// ever readable by the provider construction path inside the registry.
func redactConfig(c entity.ProviderConfig) entity.ProviderConfig {
	if c.IsSensitive {
		c.Value = `"••••••••"`
	}
	return c
}

// --- models ---

type modelBody struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

func (h *AdminHandler) CreateModel(c *gin.Context) {
	var body modelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.ID == "" {
		writeError(c, gerrors.Validation("id is required"))
		return
	}
	caps := make([]entity.Capability, len(body.Capabilities))
	for i, cp := range body.Capabilities {
		caps[i] = entity.Capability(cp)
	}
	m := &entity.Model{ID: body.ID, Name: body.Name, Description: body.Description, Capabilities: caps}
	if err := h.models.Create(c.Request.Context(), m); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *AdminHandler) ListModels(c *gin.Context) {
	rows, err := h.models.FindAll(c.Request.Context(), nil, nil, pageFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *AdminHandler) DeleteModel(c *gin.Context) {
	if err := h.models.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- provider<->model links ---

type linkBody struct {
	ModelID   string `json:"model_id"`
	IsDefault bool   `json:"is_default"`
	Config    string `json:"config"`
}

func (h *AdminHandler) LinkModel(c *gin.Context) {
	providerID := c.Param("id")
	var body linkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	link := &entity.ProviderModel{ProviderID: providerID, ModelID: body.ModelID, IsDefault: body.IsDefault, Config: body.Config}
	if err := h.providerModels.Link(c.Request.Context(), link); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, link)
}

func (h *AdminHandler) UnlinkModel(c *gin.Context) {
	if err := h.providerModels.Unlink(c.Request.Context(), c.Param("id"), c.Param("model_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListProviderLinks(c *gin.Context) {
	rows, err := h.providerModels.FindByProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// --- settings ---

func (h *AdminHandler) GetSettings(c *gin.Context) {
	out := make(map[string]entity.Setting, len(settingssync.RecognisedKeys))
	for _, key := range settingssync.RecognisedKeys {
		if v, ok := h.settings.Get(key); ok {
			out[key] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

type settingBody struct {
	Value     string                  `json:"value"`
	ValueType entity.SettingValueType `json:"value_type"`
}

func (h *AdminHandler) SetSetting(c *gin.Context) {
	key := c.Param("key")
	var body settingBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.ValueType == "" {
		body.ValueType = entity.SettingTypeString
	}
	requiresRestart, err := h.settings.UpdateSetting(c.Request.Context(), key, body.Value, body.ValueType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": body.Value, "requires_restart": requiresRestart})
}

// --- credentials ---

type credentialBody struct {
	Backend   string `json:"backend"`
	Token     string `json:"token"`
	Cookies   string `json:"cookies"`
	ExpiresAt int64  `json:"expires_at"`
}

// UpsertCredential handles the browser-extension scrape push.
func (h *AdminHandler) UpsertCredential(c *gin.Context) {
	var body credentialBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}
	if body.Backend == "" || body.Token == "" || body.Cookies == "" {
		writeError(c, gerrors.Validation("backend, token and cookies are required"))
		return
	}
	cred := &entity.Credential{
		Backend:   body.Backend,
		Token:     body.Token,
		Cookies:   body.Cookies,
		ExpiresAt: body.ExpiresAt,
		UpdatedAt: time.Now().UnixMilli(),
	}
	if err := h.credentials.Upsert(c.Request.Context(), cred); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backend": cred.Backend, "status": "ok"})
}

// --- read-only audit access ---

func (h *AdminHandler) ListSessions(c *gin.Context) {
	rows, err := h.sessions.FindAll(c.Request.Context(), nil, []repository.Order{{Column: "last_accessed", Desc: true}}, pageFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *AdminHandler) GetSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *AdminHandler) ListRequests(c *gin.Context) {
	f := repository.Filter{}
	if sid := c.Query("session_id"); sid != "" {
		f["session_id"] = sid
	}
	rows, err := h.requests.FindAll(c.Request.Context(), f, []repository.Order{{Column: "timestamp", Desc: true}}, pageFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *AdminHandler) ListResponses(c *gin.Context) {
	f := repository.Filter{}
	if sid := c.Query("session_id"); sid != "" {
		f["session_id"] = sid
	}
	rows, err := h.responses.FindAll(c.Request.Context(), f, []repository.Order{{Column: "timestamp", Desc: true}}, pageFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *AdminHandler) ListErrors(c *gin.Context) {
	f := repository.Filter{}
	if kind := c.Query("type"); kind != "" {
		f["error_type"] = kind
	}
	rows, err := h.errors.FindAll(c.Request.Context(), f, []repository.Order{{Column: "timestamp", Desc: true}}, pageFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

// Stats handles GET /admin/stats: aggregate audit counters — total
// requests/responses and error counts by kind. The CLI's stats command
// reads the request/response counts from the store itself.
func (h *AdminHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	requestCount, err := h.requests.Count(ctx, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	responseCount, err := h.responses.Count(ctx, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	kinds := []entity.ErrorKind{
		entity.ErrorKindHTTP, entity.ErrorKindStreaming, entity.ErrorKindUpstream,
		entity.ErrorKindStore, entity.ErrorKindValidation, entity.ErrorKindLifecycle,
	}
	errorsByKind := make(map[string]int64, len(kinds))
	for _, kind := range kinds {
		n, err := h.errors.Count(ctx, repository.Filter{"error_type": string(kind)})
		if err != nil {
			writeError(c, err)
			return
		}
		if n > 0 {
			errorsByKind[string(kind)] = n
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"requests":       requestCount,
		"responses":      responseCount,
		"errors_by_kind": errorsByKind,
	})
}

// Status handles GET /admin/status: a quick process-wide summary.
func (h *AdminHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"loaded_providers": h.registry.Loaded(),
		"active_provider":  h.settings.ActiveProvider(),
		"time":             time.Now().UTC().Format(time.RFC3339),
	})
}
