package model

import "time"

// DomainStatus represents a domain's position in the provisioning lifecycle
type DomainStatus string

const (
	DomainStatusPending             DomainStatus = "pending"
	DomainStatusAwaitingVerify      DomainStatus = "awaiting_verification"
	DomainStatusVerified            DomainStatus = "verified"
	DomainStatusIssuingCertificate  DomainStatus = "issuing_certificate"
	DomainStatusActive              DomainStatus = "active"
	DomainStatusVerificationFailed  DomainStatus = "verification_failed"
	DomainStatusCertificateFailed   DomainStatus = "certificate_failed"
	DomainStatusRemoved             DomainStatus = "removed"
)

// Domain represents one custom hostname bound to a store.
//
// Status transitions are owned by the lifecycle orchestrator; nothing else
// writes the status column. ZoneID is set exactly once, when the provider
// zone is created, and kept until the domain is removed.
type Domain struct {
	BaseModel
	PublicID string       `gorm:"type:varchar(36);uniqueIndex;not null" json:"public_id"`
	StoreID  int          `gorm:"index;not null" json:"store_id"`
	Hostname string       `gorm:"type:varchar(255);uniqueIndex;not null" json:"hostname"`
	Status   DomainStatus `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`

	ZoneID      string  `gorm:"type:varchar(128);index" json:"-"` // provider zone id, not exposed in API
	DNSVerified bool    `gorm:"not null;default:false" json:"dns_verified"`
	SSLActive   bool    `gorm:"column:ssl_active;not null;default:false" json:"ssl_active"`
	LastError   *string `gorm:"type:varchar(512)" json:"last_error"`

	// Certificate order tracking (managed mode)
	CertOrderID  string `gorm:"type:varchar(128)" json:"-"`
	CertAttempts int    `gorm:"not null;default:0" json:"-"`

	// Poll scheduling (persisted so a restart resumes backoff where it was)
	VerificationStartedAt *time.Time `json:"-"`
	PollIntervalSec       int        `gorm:"not null;default:0" json:"-"`
	NextPollAt            *time.Time `gorm:"index" json:"-"`
}

// TableName specifies the table name for Domain model
func (Domain) TableName() string {
	return "domains"
}

// Terminal reports whether the status accepts no further automatic transitions.
func (s DomainStatus) Terminal() bool {
	return s == DomainStatusRemoved
}
