package domains

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"domainpilot/api/v1/middleware"
	"domainpilot/internal/httpx"
	"domainpilot/internal/lifecycle"
	"domainpilot/internal/model"
	"domainpilot/internal/registry"
)

// Handler serves the domain management endpoints
type Handler struct {
	reg  *registry.Registry
	orch *lifecycle.Orchestrator
}

// NewHandler creates a domains Handler
func NewHandler(reg *registry.Registry, orch *lifecycle.Orchestrator) *Handler {
	return &Handler{reg: reg, orch: orch}
}

// Add handles POST /api/v1/domains
func (h *Handler) Add(c *gin.Context) {
	var req AddDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	domain, err := h.orch.AddDomain(middleware.StoreID(c), req.Hostname)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidHostname):
			httpx.FailErr(c, httpx.ErrInvalidHostname(err.Error()))
		case errors.Is(err, registry.ErrDuplicateHostname):
			httpx.FailErr(c, httpx.ErrDuplicateHostname(""))
		default:
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to register domain", err))
		}
		return
	}

	httpx.OK(c, toDomainResponse(domain, nil))
}

// List handles GET /api/v1/domains
func (h *Handler) List(c *gin.Context) {
	domains, err := h.reg.ListByStore(middleware.StoreID(c))
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list domains", err))
		return
	}

	items := make([]DomainResponse, 0, len(domains))
	for i := range domains {
		items = append(items, toDomainResponse(&domains[i], nil))
	}
	httpx.OK(c, items)
}

// Get handles GET /api/v1/domains/:id
func (h *Handler) Get(c *gin.Context) {
	domain, ok := h.ownedDomain(c)
	if !ok {
		return
	}

	cert, err := h.activeCertificate(domain.ID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load certificate", err))
		return
	}
	httpx.OK(c, toDomainResponse(domain, cert))
}

// Remove handles DELETE /api/v1/domains/:id. Removal is idempotent: deleting
// a domain that does not exist for this store succeeds.
func (h *Handler) Remove(c *gin.Context) {
	publicID := c.Param("id")
	if _, err := uuid.Parse(publicID); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("malformed domain id"))
		return
	}

	domain, err := h.reg.GetByPublicID(publicID)
	if errors.Is(err, registry.ErrNotFound) {
		httpx.OKMsg(c, "removed", nil)
		return
	}
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load domain", err))
		return
	}
	if domain.StoreID != middleware.StoreID(c) {
		// Another store's domain; nothing this caller can observe or remove
		httpx.OKMsg(c, "removed", nil)
		return
	}

	if err := h.orch.Remove(c.Request.Context(), publicID); err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to remove domain", err))
		return
	}
	httpx.OKMsg(c, "removed", nil)
}

// Retry handles POST /api/v1/domains/:id/retry
func (h *Handler) Retry(c *gin.Context) {
	domain, ok := h.ownedDomain(c)
	if !ok {
		return
	}

	retried, err := h.orch.Retry(domain.PublicID)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotRetryable):
			httpx.FailErr(c, httpx.ErrNotRetryable(""))
		case errors.Is(err, registry.ErrNotFound):
			httpx.FailErr(c, httpx.ErrNotFound("domain not found"))
		default:
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to retry domain", err))
		}
		return
	}

	httpx.OK(c, toDomainResponse(retried, nil))
}

// ownedDomain loads the :id domain and enforces store ownership. A domain
// belonging to another store reads as not found.
func (h *Handler) ownedDomain(c *gin.Context) (*model.Domain, bool) {
	publicID := c.Param("id")
	if _, err := uuid.Parse(publicID); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("malformed domain id"))
		return nil, false
	}

	domain, err := h.reg.GetByPublicID(publicID)
	if errors.Is(err, registry.ErrNotFound) {
		httpx.FailErr(c, httpx.ErrNotFound("domain not found"))
		return nil, false
	}
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load domain", err))
		return nil, false
	}
	if domain.StoreID != middleware.StoreID(c) || domain.Status == model.DomainStatusRemoved {
		httpx.FailErr(c, httpx.ErrNotFound("domain not found"))
		return nil, false
	}
	return domain, true
}

func (h *Handler) activeCertificate(domainID int) (*model.CertificateRecord, error) {
	var record model.CertificateRecord
	err := h.reg.DB().Where("domain_id = ? AND active = ?", domainID, true).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
