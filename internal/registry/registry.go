// Package registry is the durable record of custom domains. It is the only
// consistency boundary in the system: workers and the orchestrator re-derive
// all state from it, and every multi-field status change is a single UPDATE.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"domainpilot/internal/hostname"
	"domainpilot/internal/model"
)

var (
	// ErrNotFound is returned when a domain does not exist
	ErrNotFound = errors.New("domain not found")

	// ErrDuplicateHostname is returned when the hostname is already registered
	ErrDuplicateHostname = errors.New("hostname already registered")

	// ErrInvalidHostname is returned when the hostname fails validation
	ErrInvalidHostname = errors.New("invalid hostname")
)

// Registry provides durable storage for domains
type Registry struct {
	db           *gorm.DB
	platformApex string
}

// New creates a Registry
func New(db *gorm.DB, platformApex string) *Registry {
	return &Registry{db: db, platformApex: platformApex}
}

// DB returns the underlying database handle
func (r *Registry) DB() *gorm.DB {
	return r.db
}

// AddDomain validates and registers a hostname for a store. The new domain
// starts in status pending. A previously removed row for the same hostname is
// purged first so the hostname can be reused.
func (r *Registry) AddDomain(storeID int, host string) (*model.Domain, error) {
	normalized, err := hostname.Normalize(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHostname, err)
	}
	if err := hostname.RejectPlatformApex(normalized, r.platformApex); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHostname, err)
	}

	domain := &model.Domain{
		PublicID: uuid.NewString(),
		StoreID:  storeID,
		Hostname: normalized,
		Status:   model.DomainStatusPending,
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		var existing model.Domain
		err := tx.Where("hostname = ?", normalized).First(&existing).Error
		switch {
		case err == nil:
			if existing.Status != model.DomainStatusRemoved {
				return ErrDuplicateHostname
			}
			// Removed rows release the hostname; purge the row and its
			// certificate history before re-registering.
			if err := tx.Where("domain_id = ?", existing.ID).Delete(&model.CertificateRecord{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&model.Domain{}, existing.ID).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := tx.Create(domain).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateHostname
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return domain, nil
}

// GetByPublicID returns a domain by its public id
func (r *Registry) GetByPublicID(publicID string) (*model.Domain, error) {
	var domain model.Domain
	if err := r.db.Where("public_id = ?", publicID).First(&domain).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &domain, nil
}

// GetByID returns a domain by its internal id
func (r *Registry) GetByID(id int) (*model.Domain, error) {
	var domain model.Domain
	if err := r.db.First(&domain, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &domain, nil
}

// ListByStore returns all non-removed domains for a store
func (r *Registry) ListByStore(storeID int) ([]model.Domain, error) {
	var domains []model.Domain
	err := r.db.
		Where("store_id = ? AND status <> ?", storeID, model.DomainStatusRemoved).
		Order("created_at ASC").
		Find(&domains).Error
	return domains, err
}

// UpdateGuarded applies updates to a domain only if its current status is one
// of allowedFrom. Returns false when another writer got there first; the
// caller must then discard its result. updated_at is bumped in the same
// UPDATE so there is never a partial write.
func (r *Registry) UpdateGuarded(domainID int, allowedFrom []model.DomainStatus, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	result := r.db.
		Model(&model.Domain{}).
		Where("id = ? AND status IN ?", domainID, allowedFrom).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DuePending returns domains in status pending. Most need a provider zone
// created; a retried domain may already carry its zone id.
func (r *Registry) DuePending(limit int) ([]model.Domain, error) {
	var domains []model.Domain
	err := r.db.
		Where("status = ?", model.DomainStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&domains).Error
	return domains, err
}

// DueForVerification returns awaiting_verification domains whose next poll
// time has arrived
func (r *Registry) DueForVerification(limit int, now time.Time) ([]model.Domain, error) {
	var domains []model.Domain
	err := r.db.
		Where("status = ? AND (next_poll_at IS NULL OR next_poll_at <= ?)", model.DomainStatusAwaitingVerify, now).
		Order("next_poll_at ASC").
		Limit(limit).
		Find(&domains).Error
	return domains, err
}

// DueForCertOrder returns verified domains ready for a certificate order.
// Failed orders wait out their linear retry delay via next_poll_at.
func (r *Registry) DueForCertOrder(limit int, now time.Time) ([]model.Domain, error) {
	var domains []model.Domain
	err := r.db.
		Where("status = ? AND (next_poll_at IS NULL OR next_poll_at <= ?)", model.DomainStatusVerified, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&domains).Error
	return domains, err
}

// DueForCertPoll returns domains with an open certificate order whose next
// poll time has arrived. Covers first issuance (issuing_certificate) and
// renewals, where the domain stays active while the new order is pending.
func (r *Registry) DueForCertPoll(limit int, now time.Time) ([]model.Domain, error) {
	var domains []model.Domain
	err := r.db.
		Where("(status = ? OR (status = ? AND cert_order_id <> '')) AND (next_poll_at IS NULL OR next_poll_at <= ?)",
			model.DomainStatusIssuingCertificate, model.DomainStatusActive, now).
		Order("next_poll_at ASC").
		Limit(limit).
		Find(&domains).Error
	return domains, err
}

// ActiveDomainsExpiringBefore returns active domains whose active certificate
// expires before the cutoff, that have no order in flight and are not inside
// a renewal backoff window
func (r *Registry) ActiveDomainsExpiringBefore(limit int, cutoff, now time.Time) ([]model.Domain, error) {
	var domains []model.Domain
	err := r.db.
		Joins("JOIN certificate_records ON certificate_records.domain_id = domains.id AND certificate_records.active = ?", true).
		Where("domains.status = ? AND certificate_records.expires_at < ?", model.DomainStatusActive, cutoff).
		Where("domains.cert_order_id = ''").
		Where("domains.next_poll_at IS NULL OR domains.next_poll_at <= ?", now).
		Order("certificate_records.expires_at ASC").
		Limit(limit).
		Find(&domains).Error
	return domains, err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	// MySQL 1062 and sqlite UNIQUE constraint messages
	return strings.Contains(msg, "duplicate entry") || strings.Contains(msg, "unique constraint")
}
