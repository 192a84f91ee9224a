// Package lifecycle owns the domain state machine. Every status write in the
// system goes through the Orchestrator, so the transition table in states.go
// is the single authority on what may follow what.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"domainpilot/internal/model"
	"domainpilot/internal/registry"
)

// ErrNotRetryable is returned when a retry is requested for a domain that is
// not in a failure state
var ErrNotRetryable = errors.New("domain state does not allow retry")

// Notifier receives every status transition for operator visibility.
// Implementations must not block.
type Notifier interface {
	DomainStatusChanged(domain *model.Domain)
}

// NopNotifier discards all notifications
type NopNotifier struct{}

func (NopNotifier) DomainStatusChanged(*model.Domain) {}

// ZoneDeleter is the subset of the provider client removal needs
type ZoneDeleter interface {
	DeleteZone(ctx context.Context, zoneID string) error
}

// ClientResolver builds a provider client from a store's credentials snapshot
type ClientResolver interface {
	// DeleterFor returns a zone deleter for the store, or an error if the
	// store has no usable provider configuration
	DeleterFor(storeID int) (ZoneDeleter, error)
}

// zoneCleanupTimeout bounds the background provider call after a removal
const zoneCleanupTimeout = 10 * time.Second

// Orchestrator drives domain lifecycle transitions
type Orchestrator struct {
	reg      *registry.Registry
	resolver ClientResolver
	notifier Notifier
	logger   *logrus.Entry

	cleanups sync.WaitGroup
}

// New creates an Orchestrator
func New(reg *registry.Registry, resolver ClientResolver, notifier Notifier, logger *logrus.Entry) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		reg:      reg,
		resolver: resolver,
		notifier: notifier,
		logger:   logger.WithField("component", "lifecycle"),
	}
}

// AddDomain registers a hostname for a store. The domain starts in status
// pending and the call returns immediately; provisioning happens in the
// background pollers.
func (o *Orchestrator) AddDomain(storeID int, host string) (*model.Domain, error) {
	domain, err := o.reg.AddDomain(storeID, host)
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"domain":   domain.Hostname,
		"store_id": storeID,
	}).Info("domain registered")
	o.notifier.DomainStatusChanged(domain)

	return domain, nil
}

// Remove transitions a domain to removed from any state. Idempotent: removing
// an unknown or already-removed domain succeeds silently. The provider zone
// is deleted best-effort in the background; certificate records are deleted
// with the domain.
func (o *Orchestrator) Remove(ctx context.Context, publicID string) error {
	domain, err := o.reg.GetByPublicID(publicID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if domain.Status == model.DomainStatusRemoved {
		return nil
	}

	applied, err := o.reg.UpdateGuarded(domain.ID, nonRemovedStatuses(), map[string]interface{}{
		"status":        model.DomainStatusRemoved,
		"ssl_active":    false,
		"dns_verified":  false,
		"cert_order_id": "",
		"next_poll_at":  nil,
	})
	if err != nil {
		return err
	}
	if !applied {
		// Another remove won the race; still a success for the caller.
		return nil
	}

	if err := o.reg.DB().Where("domain_id = ?", domain.ID).Delete(&model.CertificateRecord{}).Error; err != nil {
		o.logger.WithError(err).WithField("domain", domain.Hostname).Warn("failed to delete certificate records")
	}

	// The provider call happens off the request path; the caller gets its
	// success without waiting on the provider.
	if domain.ZoneID != "" {
		o.cleanups.Add(1)
		go func() {
			defer o.cleanups.Done()
			o.deleteZoneBestEffort(domain)
		}()
	}

	domain.Status = model.DomainStatusRemoved
	o.logger.WithField("domain", domain.Hostname).Info("domain removed")
	o.notifier.DomainStatusChanged(domain)

	return nil
}

// RemoveStoreDomains removes every domain of a store (store deactivation
// cascade)
func (o *Orchestrator) RemoveStoreDomains(ctx context.Context, storeID int) error {
	domains, err := o.reg.ListByStore(storeID)
	if err != nil {
		return err
	}
	for _, d := range domains {
		if err := o.Remove(ctx, d.PublicID); err != nil {
			return err
		}
	}
	return nil
}

// Retry re-enters a failed domain into the stage that failed:
// verification_failed goes back to pending, certificate_failed back to
// verified. Any other state is not retryable.
func (o *Orchestrator) Retry(publicID string) (*model.Domain, error) {
	domain, err := o.reg.GetByPublicID(publicID)
	if err != nil {
		return nil, err
	}

	target, ok := retrySource[domain.Status]
	if !ok {
		return nil, ErrNotRetryable
	}

	updates := map[string]interface{}{
		"status":            target,
		"last_error":        nil,
		"cert_order_id":     "",
		"cert_attempts":     0,
		"poll_interval_sec": 0,
		"next_poll_at":      nil,
	}
	if target == model.DomainStatusPending {
		updates["dns_verified"] = false
		updates["verification_started_at"] = nil
	}

	applied, err := o.reg.UpdateGuarded(domain.ID, []model.DomainStatus{domain.Status}, updates)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrNotRetryable
	}

	refreshed, err := o.reg.GetByID(domain.ID)
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"domain": refreshed.Hostname,
		"status": refreshed.Status,
	}).Info("domain retry accepted")
	o.notifier.DomainStatusChanged(refreshed)

	return refreshed, nil
}

// MarkZoneCreated records the provider zone and moves the domain to
// awaiting_verification. The zone id is written exactly once; a retried
// domain re-entering pending keeps the id it already has.
func (o *Orchestrator) MarkZoneCreated(domainID int, zoneID string) (bool, error) {
	now := time.Now()
	applied, err := o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusPending}, map[string]interface{}{
		"status":                  model.DomainStatusAwaitingVerify,
		"zone_id":                 zoneID,
		"verification_started_at": now,
		"poll_interval_sec":       0,
		"next_poll_at":            now,
	})
	if err != nil {
		return false, err
	}
	if applied {
		o.notifyByID(domainID)
	}
	return applied, nil
}

// ReschedulePoll bumps the backoff schedule without changing status
func (o *Orchestrator) ReschedulePoll(domainID int, status model.DomainStatus, intervalSec int, nextPollAt time.Time) error {
	_, err := o.reg.UpdateGuarded(domainID, []model.DomainStatus{status}, map[string]interface{}{
		"poll_interval_sec": intervalSec,
		"next_poll_at":      nextPollAt,
	})
	return err
}

// MarkVerified records DNS ownership verification
func (o *Orchestrator) MarkVerified(domainID int) (bool, error) {
	applied, err := o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusAwaitingVerify}, map[string]interface{}{
		"status":            model.DomainStatusVerified,
		"dns_verified":      true,
		"last_error":        nil,
		"poll_interval_sec": 0,
		"next_poll_at":      nil,
	})
	if err != nil {
		return false, err
	}
	if applied {
		o.notifyByID(domainID)
	}
	return applied, nil
}

// MarkVerificationFailed records a terminal verification failure. Reachable
// from pending too, for zone creation requests the provider rejected.
func (o *Orchestrator) MarkVerificationFailed(domainID int, cause string) (bool, error) {
	applied, err := o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusPending, model.DomainStatusAwaitingVerify}, map[string]interface{}{
		"status":       model.DomainStatusVerificationFailed,
		"last_error":   cause,
		"next_poll_at": nil,
	})
	if err != nil {
		return false, err
	}
	if applied {
		o.logger.WithFields(logrus.Fields{
			"domain_id": domainID,
			"cause":     cause,
		}).Error("domain verification failed")
		o.notifyByID(domainID)
	}
	return applied, nil
}

// BeginIssuance moves a verified domain into issuing_certificate with the
// provider order id recorded
func (o *Orchestrator) BeginIssuance(domainID int, orderID string, firstPollAt time.Time) (bool, error) {
	applied, err := o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusVerified}, map[string]interface{}{
		"status":            model.DomainStatusIssuingCertificate,
		"cert_order_id":     orderID,
		"poll_interval_sec": 0,
		"next_poll_at":      firstPollAt,
	})
	if err != nil {
		return false, err
	}
	if applied {
		o.notifyByID(domainID)
	}
	return applied, nil
}

// BeginRenewal records a renewal order on an active domain. The domain stays
// active; checkout routing keeps serving the old certificate until the new
// one supersedes it.
func (o *Orchestrator) BeginRenewal(domainID int, orderID string, firstPollAt time.Time) (bool, error) {
	return o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusActive}, map[string]interface{}{
		"cert_order_id":     orderID,
		"poll_interval_sec": 0,
		"next_poll_at":      firstPollAt,
	})
}

// RetryIssuance sends a failed order back to verified for another attempt
// after a linear backoff delay
func (o *Orchestrator) RetryIssuance(domainID int, attempts int, cause string, retryAt time.Time) (bool, error) {
	return o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusIssuingCertificate}, map[string]interface{}{
		"status":        model.DomainStatusVerified,
		"cert_order_id": "",
		"cert_attempts": attempts,
		"last_error":    cause,
		"next_poll_at":  retryAt,
	})
}

// DeferOrder records a rejected order request on a still-verified domain and
// schedules the next attempt
func (o *Orchestrator) DeferOrder(domainID int, attempts int, cause string, retryAt time.Time) (bool, error) {
	return o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusVerified}, map[string]interface{}{
		"cert_attempts": attempts,
		"last_error":    cause,
		"next_poll_at":  retryAt,
	})
}

// DeferRenewal clears a failed renewal order and schedules the next renewal
// attempt. The domain stays active.
func (o *Orchestrator) DeferRenewal(domainID int, cause string, retryAt time.Time) (bool, error) {
	return o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusActive}, map[string]interface{}{
		"cert_order_id": "",
		"last_error":    cause,
		"next_poll_at":  retryAt,
	})
}

// MarkCertificateIssued activates a new certificate record for the domain.
// Deactivating the prior record, inserting the new one and updating the
// domain happen in one transaction, so no observer ever sees two active
// records or an active domain without one.
func (o *Orchestrator) MarkCertificateIssued(domainID int, record *model.CertificateRecord) (bool, error) {
	applied := false
	err := o.reg.DB().Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Domain{}).
			Where("id = ? AND status IN ?", domainID, []model.DomainStatus{
				model.DomainStatusIssuingCertificate,
				model.DomainStatusActive,
			}).
			Updates(map[string]interface{}{
				"status":        model.DomainStatusActive,
				"ssl_active":    true,
				"cert_order_id": "",
				"cert_attempts": 0,
				"last_error":    nil,
				"next_poll_at":  nil,
				"updated_at":    time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Domain was removed while the order completed; drop the result.
			return nil
		}

		var prior model.CertificateRecord
		err := tx.Where("domain_id = ? AND active = ?", domainID, true).First(&prior).Error
		switch {
		case err == nil:
			if err := tx.Model(&model.CertificateRecord{}).
				Where("id = ?", prior.ID).
				Update("active", false).Error; err != nil {
				return err
			}
			record.RenewalOf = &prior.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		record.DomainID = domainID
		record.Active = true
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		o.notifyByID(domainID)
	}
	return applied, nil
}

// MarkCertificateFailed records a terminal certificate failure after order
// retries are exhausted. Reachable from verified too, when the provider
// rejects the order request itself.
func (o *Orchestrator) MarkCertificateFailed(domainID int, cause string) (bool, error) {
	applied, err := o.reg.UpdateGuarded(domainID, []model.DomainStatus{model.DomainStatusVerified, model.DomainStatusIssuingCertificate}, map[string]interface{}{
		"status":        model.DomainStatusCertificateFailed,
		"cert_order_id": "",
		"last_error":    cause,
		"next_poll_at":  nil,
	})
	if err != nil {
		return false, err
	}
	if applied {
		o.logger.WithFields(logrus.Fields{
			"domain_id": domainID,
			"cause":     cause,
		}).Error("certificate issuance failed")
		o.notifyByID(domainID)
	}
	return applied, nil
}

func (o *Orchestrator) deleteZoneBestEffort(domain *model.Domain) {
	ctx, cancel := context.WithTimeout(context.Background(), zoneCleanupTimeout)
	defer cancel()

	deleter, err := o.resolver.DeleterFor(domain.StoreID)
	if err != nil {
		o.logger.WithError(err).WithField("domain", domain.Hostname).Warn("no provider client for zone cleanup")
		return
	}
	if err := deleter.DeleteZone(ctx, domain.ZoneID); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"domain": domain.Hostname,
			"zone":   domain.ZoneID,
		}).Warn("failed to delete provider zone")
	}
}

func (o *Orchestrator) notifyByID(domainID int) {
	domain, err := o.reg.GetByID(domainID)
	if err != nil {
		o.logger.WithError(err).WithField("domain_id", domainID).Warn("failed to load domain for notification")
		return
	}
	o.notifier.DomainStatusChanged(domain)
}

func nonRemovedStatuses() []model.DomainStatus {
	return []model.DomainStatus{
		model.DomainStatusPending,
		model.DomainStatusAwaitingVerify,
		model.DomainStatusVerified,
		model.DomainStatusIssuingCertificate,
		model.DomainStatusActive,
		model.DomainStatusVerificationFailed,
		model.DomainStatusCertificateFailed,
	}
}
