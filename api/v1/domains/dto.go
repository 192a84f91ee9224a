package domains

import (
	"time"

	"domainpilot/internal/model"
)

// AddDomainRequest represents the request body for registering a domain
type AddDomainRequest struct {
	Hostname string `json:"hostname" binding:"required"`
}

// CertificateInfo represents the active certificate in a domain response
type CertificateInfo struct {
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// DomainResponse represents a domain in API responses
type DomainResponse struct {
	ID          string           `json:"id"`
	Hostname    string           `json:"hostname"`
	Status      string           `json:"status"`
	DNSVerified bool             `json:"dns_verified"`
	SSLActive   bool             `json:"ssl_active"`
	LastError   *string          `json:"last_error"`
	Certificate *CertificateInfo `json:"certificate,omitempty"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`
}

func toDomainResponse(domain *model.Domain, cert *model.CertificateRecord) DomainResponse {
	resp := DomainResponse{
		ID:          domain.PublicID,
		Hostname:    domain.Hostname,
		Status:      string(domain.Status),
		DNSVerified: domain.DNSVerified,
		SSLActive:   domain.SSLActive,
		LastError:   domain.LastError,
		CreatedAt:   domain.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   domain.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if cert != nil {
		resp.Certificate = &CertificateInfo{
			IssuedAt:  cert.IssuedAt.UTC().Format(time.RFC3339),
			ExpiresAt: cert.ExpiresAt.UTC().Format(time.RFC3339),
		}
	}
	return resp
}
