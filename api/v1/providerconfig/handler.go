package providerconfig

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"domainpilot/api/v1/middleware"
	"domainpilot/internal/httpx"
	"domainpilot/internal/model"
)

// UpdateRequest represents the provider configuration update body. The API
// token is write-only; omitting it keeps the stored one.
type UpdateRequest struct {
	APIToken         string          `json:"api_token"`
	AccountEmail     string          `json:"account_email"`
	Enabled          *bool           `json:"enabled"`
	CertMode         string          `json:"cert_mode"`
	ZoneSettings     json.RawMessage `json:"zone_settings"`
	AcmeEmail        string          `json:"acme_email"`
	AcmeDirectoryURL string          `json:"acme_directory_url"`
}

// ConfigResponse represents provider configuration in API responses
type ConfigResponse struct {
	AccountEmail string          `json:"account_email"`
	Enabled      bool            `json:"enabled"`
	CertMode     string          `json:"cert_mode"`
	ZoneSettings json.RawMessage `json:"zone_settings,omitempty"`
	AcmeEmail    string          `json:"acme_email,omitempty"`
	TokenSet     bool            `json:"token_set"`
}

// Handler serves the provider configuration endpoints
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a providerconfig Handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// Get handles GET /api/v1/provider-config
func (h *Handler) Get(c *gin.Context) {
	var cfg model.ProviderConfig
	err := h.db.Where("store_id = ?", middleware.StoreID(c)).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.FailErr(c, httpx.ErrNotFound("provider not configured"))
		return
	}
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load provider config", err))
		return
	}

	httpx.OK(c, toResponse(&cfg))
}

// Update handles PUT /api/v1/provider-config, creating the configuration on
// first call
func (h *Handler) Update(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}
	if req.CertMode != "" && req.CertMode != string(model.CertModeManaged) && req.CertMode != string(model.CertModeACME) {
		httpx.FailErr(c, httpx.ErrParamInvalid("cert_mode must be managed or acme"))
		return
	}
	if req.CertMode == string(model.CertModeACME) && req.AcmeEmail == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("acme_email is required for acme mode"))
		return
	}

	storeID := middleware.StoreID(c)

	var cfg model.ProviderConfig
	err := h.db.Where("store_id = ?", storeID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if req.APIToken == "" {
			httpx.FailErr(c, httpx.ErrParamMissing("api_token is required"))
			return
		}
		cfg = model.ProviderConfig{
			StoreID:  storeID,
			Enabled:  true,
			CertMode: model.CertModeManaged,
		}
	} else if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load provider config", err))
		return
	}

	if req.APIToken != "" {
		cfg.APIToken = req.APIToken
	}
	cfg.AccountEmail = req.AccountEmail
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.CertMode != "" {
		cfg.CertMode = model.CertMode(req.CertMode)
	}
	if req.ZoneSettings != nil {
		cfg.ZoneSettings = datatypes.JSON(req.ZoneSettings)
	}
	if req.AcmeEmail != "" {
		cfg.AcmeEmail = req.AcmeEmail
	}
	if req.AcmeDirectoryURL != "" {
		cfg.AcmeDirectoryURL = req.AcmeDirectoryURL
	}

	if err := h.db.Save(&cfg).Error; err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to save provider config", err))
		return
	}

	httpx.OK(c, toResponse(&cfg))
}

func toResponse(cfg *model.ProviderConfig) ConfigResponse {
	return ConfigResponse{
		AccountEmail: cfg.AccountEmail,
		Enabled:      cfg.Enabled,
		CertMode:     string(cfg.CertMode),
		ZoneSettings: json.RawMessage(cfg.ZoneSettings),
		AcmeEmail:    cfg.AcmeEmail,
		TokenSet:     cfg.APIToken != "",
	}
}
