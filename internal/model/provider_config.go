package model

import "gorm.io/datatypes"

// CertMode selects how certificates are obtained for a store's domains
type CertMode string

const (
	CertModeManaged CertMode = "managed" // provider-managed certificate packs
	CertModeACME    CertMode = "acme"    // DNS-01 issuance via ACME
)

// ProviderConfig holds a store's DNS provider credentials and settings.
// One row per store. Workers read a snapshot per claimed domain; a settings
// update never mutates an operation that is already in flight.
type ProviderConfig struct {
	BaseModel
	StoreID      int            `gorm:"uniqueIndex;not null" json:"store_id"`
	APIToken     string         `gorm:"type:varchar(255);not null" json:"-"`
	AccountEmail string         `gorm:"type:varchar(255)" json:"account_email"`
	Enabled      bool           `gorm:"not null;default:true" json:"enabled"`
	CertMode     CertMode       `gorm:"type:varchar(16);not null;default:'managed'" json:"cert_mode"`
	ZoneSettings datatypes.JSON `gorm:"type:json" json:"zone_settings"`

	// ACME account state, used only when CertMode is "acme"
	AcmeEmail           string `gorm:"type:varchar(255)" json:"acme_email"`
	AcmeDirectoryURL    string `gorm:"type:varchar(255)" json:"acme_directory_url"`
	AcmeAccountKeyPem   string `gorm:"type:text" json:"-"`
	AcmeRegistrationURI string `gorm:"type:varchar(255)" json:"-"`
}

// TableName specifies the table name for ProviderConfig model
func (ProviderConfig) TableName() string {
	return "provider_configs"
}
