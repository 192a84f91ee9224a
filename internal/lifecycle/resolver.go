package lifecycle

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"domainpilot/internal/model"
	"domainpilot/internal/provider"
	"domainpilot/internal/provider/cloudflare"
)

var (
	// ErrNoProviderConfig means the store never configured its DNS provider
	ErrNoProviderConfig = errors.New("store has no provider configuration")

	// ErrProviderDisabled means the store's provider configuration is
	// switched off; no new operations may start for its domains
	ErrProviderDisabled = errors.New("provider configuration is disabled")
)

// ClientSource resolves a store id to a provider client plus the credentials
// snapshot the client was built from. Workers resolve once per claimed domain
// and carry the snapshot through the whole step, so a concurrent settings
// update never affects an operation already in flight.
type ClientSource interface {
	ClientFor(storeID int) (provider.Client, *model.ProviderConfig, error)
}

// Resolver builds Cloudflare clients from per-store ProviderConfig rows
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a Resolver
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// ClientFor implements ClientSource
func (r *Resolver) ClientFor(storeID int) (provider.Client, *model.ProviderConfig, error) {
	var cfg model.ProviderConfig
	if err := r.db.Where("store_id = ?", storeID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNoProviderConfig
		}
		return nil, nil, fmt.Errorf("failed to load provider config: %w", err)
	}
	if !cfg.Enabled {
		return nil, nil, ErrProviderDisabled
	}
	return cloudflare.New(cfg.APIToken, cfg.AccountEmail), &cfg, nil
}

// DeleterFor implements ClientResolver for zone cleanup on removal
func (r *Resolver) DeleterFor(storeID int) (ZoneDeleter, error) {
	client, _, err := r.ClientFor(storeID)
	if err != nil {
		return nil, err
	}
	return client, nil
}
