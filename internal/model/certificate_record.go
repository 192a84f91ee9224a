package model

import "time"

// CertificateRecord represents a TLS certificate issued for a domain.
//
// At most one record per domain has Active=true at any instant. A renewal
// creates a new record whose RenewalOf points at the superseded one; the swap
// (deactivate old, activate new) happens in a single transaction.
type CertificateRecord struct {
	BaseModel
	DomainID       int        `gorm:"index;not null" json:"domain_id"`
	ProviderCertID string     `gorm:"type:varchar(128)" json:"provider_cert_id"`
	Active         bool       `gorm:"not null;default:false;index" json:"active"`
	IssuedAt       time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt      time.Time  `gorm:"not null;index" json:"expires_at"`
	RenewalOf      *int       `json:"renewal_of"`

	// PEM material is only populated in ACME mode; managed certificates
	// live entirely at the provider edge.
	CertPem  string `gorm:"type:text" json:"-"`
	KeyPem   string `gorm:"type:text" json:"-"`
	ChainPem string `gorm:"type:text" json:"-"`
}

// TableName specifies the table name for CertificateRecord
func (CertificateRecord) TableName() string {
	return "certificate_records"
}
