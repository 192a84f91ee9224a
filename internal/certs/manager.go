// Package certs orders and tracks SSL certificates for verified domains, and
// renews the certificates of active ones.
package certs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"domainpilot/internal/acme"
	"domainpilot/internal/cache"
	"domainpilot/internal/lifecycle"
	"domainpilot/internal/model"
	"domainpilot/internal/provider"
	"domainpilot/internal/registry"
	"domainpilot/internal/verify"
)

const (
	lockTTL = 2 * time.Minute

	// acmeOrderID marks an open ACME issuance on the domain row. ACME has no
	// provider-side order to poll; the marker lets an interrupted issuance be
	// picked up again by the poll pass.
	acmeOrderID = "acme-dns01"

	// Managed certificate packs are ordered with 90-day validity. The
	// provider does not report expiry, so it is derived from issuance time.
	managedCertValidity = 90 * 24 * time.Hour

	// renewRetryDelay spaces out renewal attempts after a failure. The old
	// certificate keeps serving, so there is no rush.
	renewRetryDelay = 6 * time.Hour
)

// ManagerConfig defines certificate manager configuration
type ManagerConfig struct {
	Enabled        bool
	IntervalSec    int
	BatchSize      int
	MaxAttempts    int
	RetryBaseSec   int
	BackoffBaseSec int
	BackoffCapSec  int
}

// ACMEIssuer obtains a certificate over ACME DNS-01 using the store's
// provider client for the challenge records
type ACMEIssuer interface {
	Issue(ctx context.Context, client provider.Client, cfg *model.ProviderConfig, zoneID, hostname string) (*acme.Result, error)
}

// Manager is the certificate worker. Each tick places orders for verified
// domains and polls open orders, first issuance and renewals alike.
type Manager struct {
	reg         *registry.Registry
	orch        *lifecycle.Orchestrator
	clients     lifecycle.ClientSource
	locker      cache.Locker
	issuer      ACMEIssuer
	config      ManagerConfig
	logger      *logrus.Entry
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewManager creates a certificate manager
func NewManager(reg *registry.Registry, orch *lifecycle.Orchestrator, clients lifecycle.ClientSource, locker cache.Locker, issuer ACMEIssuer, config ManagerConfig, logger *logrus.Entry) *Manager {
	return &Manager{
		reg:         reg,
		orch:        orch,
		clients:     clients,
		locker:      locker,
		issuer:      issuer,
		config:      config,
		logger:      logger.WithField("component", "cert-manager"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker
func (m *Manager) Start() {
	if !m.config.Enabled {
		m.logger.Info("disabled, skipping")
		close(m.stoppedChan)
		return
	}

	m.logger.WithFields(logrus.Fields{
		"interval_sec": m.config.IntervalSec,
		"batch":        m.config.BatchSize,
	}).Info("starting")

	go m.run()
}

// Stop stops the worker and waits for the current tick to finish
func (m *Manager) Stop() {
	if !m.config.Enabled {
		return
	}
	close(m.stopChan)
	<-m.stoppedChan
	m.logger.Info("stopped")
}

func (m *Manager) run() {
	defer close(m.stoppedChan)

	ticker := time.NewTicker(time.Duration(m.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	// Run immediately on start
	m.Tick()

	for {
		select {
		case <-ticker.C:
			m.Tick()
		case <-m.stopChan:
			return
		}
	}
}

// Tick processes one batch of certificate orders and order polls
func (m *Manager) Tick() {
	ctx := context.Background()
	now := time.Now()

	orders, err := m.reg.DueForCertOrder(m.config.BatchSize, now)
	if err != nil {
		m.logger.WithError(err).Error("failed to query domains due for certificate order")
	} else {
		for i := range orders {
			m.withLock(ctx, &orders[i], m.processOrder)
		}
	}

	polls, err := m.reg.DueForCertPoll(m.config.BatchSize, now)
	if err != nil {
		m.logger.WithError(err).Error("failed to query open certificate orders")
		return
	}
	for i := range polls {
		m.withLock(ctx, &polls[i], m.processPoll)
	}
}

func (m *Manager) withLock(ctx context.Context, domain *model.Domain, fn func(context.Context, *model.Domain)) {
	key := fmt.Sprintf("domain:%d", domain.ID)
	ok, err := m.locker.TryLock(ctx, key, lockTTL)
	if err != nil {
		m.logger.WithError(err).WithField("domain", domain.Hostname).Warn("failed to acquire lock")
		return
	}
	if !ok {
		return
	}
	defer m.locker.Unlock(ctx, key)

	fn(ctx, domain)
}

// processOrder places a certificate order for one verified domain
func (m *Manager) processOrder(ctx context.Context, domain *model.Domain) {
	client, cfg, err := m.clients.ClientFor(domain.StoreID)
	if err != nil {
		m.skipForConfig(domain, err)
		return
	}

	if cfg.CertMode == model.CertModeACME {
		m.issueACME(ctx, domain, client, cfg, false)
		return
	}

	orderID, err := client.RequestCertificate(ctx, domain.ZoneID)
	if err != nil {
		if provider.IsRejected(err) {
			m.orderRejected(domain, fmt.Sprintf("certificate order rejected: %v", err))
			return
		}
		// Transient; back off without burning an attempt
		m.logger.WithError(err).WithField("domain", domain.Hostname).Warn("certificate order unavailable")
		m.reschedule(domain)
		return
	}

	applied, err := m.orch.BeginIssuance(domain.ID, orderID, time.Now().Add(time.Duration(m.config.BackoffBaseSec)*time.Second))
	if err != nil {
		m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to record certificate order")
		return
	}
	if !applied {
		m.logger.WithField("domain", domain.Hostname).Info("order placed for removed domain, discarding")
		return
	}

	m.logger.WithFields(logrus.Fields{
		"domain": domain.Hostname,
		"order":  orderID,
	}).Info("certificate ordered")
}

// processPoll checks one open certificate order. For active domains this is a
// renewal; the domain keeps serving its old certificate until the new one
// lands.
func (m *Manager) processPoll(ctx context.Context, domain *model.Domain) {
	renewal := domain.Status == model.DomainStatusActive

	client, cfg, err := m.clients.ClientFor(domain.StoreID)
	if err != nil {
		m.skipForConfig(domain, err)
		return
	}

	if domain.CertOrderID == acmeOrderID {
		// An ACME issuance interrupted by a restart; run it again
		m.issueACME(ctx, domain, client, cfg, renewal)
		return
	}

	status, err := client.GetCertificateStatus(ctx, domain.ZoneID, domain.CertOrderID)
	if err != nil {
		if provider.IsRejected(err) {
			m.certFailed(domain, renewal, fmt.Sprintf("certificate poll rejected: %v", err))
			return
		}
		m.logger.WithError(err).WithField("domain", domain.Hostname).Warn("certificate poll unavailable")
		m.reschedule(domain)
		return
	}

	switch status {
	case provider.CertificateIssued:
		now := time.Now()
		m.recordIssued(domain, &model.CertificateRecord{
			ProviderCertID: domain.CertOrderID,
			IssuedAt:       now,
			ExpiresAt:      now.Add(managedCertValidity),
		})
	case provider.CertificateFailed:
		m.certFailed(domain, renewal, "provider reported certificate issuance failed")
	default:
		m.reschedule(domain)
	}
}

// issueACME runs a full synchronous DNS-01 issuance. The order marker is
// written first so a crash mid-issuance leaves a row the poll pass resumes.
func (m *Manager) issueACME(ctx context.Context, domain *model.Domain, client provider.Client, cfg *model.ProviderConfig, renewal bool) {
	if domain.CertOrderID != acmeOrderID {
		var applied bool
		var err error
		if renewal {
			applied, err = m.orch.BeginRenewal(domain.ID, acmeOrderID, time.Now())
		} else {
			applied, err = m.orch.BeginIssuance(domain.ID, acmeOrderID, time.Now())
		}
		if err != nil {
			m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to record issuance")
			return
		}
		if !applied {
			return
		}
	}

	result, err := m.issuer.Issue(ctx, client, cfg, domain.ZoneID, domain.Hostname)
	if err != nil {
		m.certFailed(domain, renewal, fmt.Sprintf("acme issuance failed: %v", err))
		return
	}

	m.recordIssued(domain, &model.CertificateRecord{
		CertPem:   result.CertPem,
		KeyPem:    result.KeyPem,
		ChainPem:  result.ChainPem,
		IssuedAt:  time.Now(),
		ExpiresAt: result.ExpiresAt,
	})
}

func (m *Manager) recordIssued(domain *model.Domain, record *model.CertificateRecord) {
	applied, err := m.orch.MarkCertificateIssued(domain.ID, record)
	if err != nil {
		m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to record certificate")
		return
	}
	if !applied {
		m.logger.WithField("domain", domain.Hostname).Info("certificate issued for removed domain, discarding")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"domain":  domain.Hostname,
		"expires": record.ExpiresAt.Format(time.RFC3339),
	}).Info("certificate active")
}

// orderRejected handles a rejected order request while the domain is still
// verified. Attempts count the same as in-flight order failures.
func (m *Manager) orderRejected(domain *model.Domain, cause string) {
	attempts := domain.CertAttempts + 1
	if attempts >= m.config.MaxAttempts {
		if _, err := m.orch.MarkCertificateFailed(domain.ID, cause); err != nil {
			m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to mark certificate failed")
		}
		return
	}
	retryAt := time.Now().Add(time.Duration(attempts*m.config.RetryBaseSec) * time.Second)
	if _, err := m.orch.DeferOrder(domain.ID, attempts, cause, retryAt); err != nil {
		m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to defer order")
	}
}

// certFailed handles a failed in-flight order. First issuance retries with a
// linear delay up to the attempt limit; renewals defer and keep the domain
// active on its old certificate.
func (m *Manager) certFailed(domain *model.Domain, renewal bool, cause string) {
	if renewal {
		m.logger.WithField("domain", domain.Hostname).Warn(cause)
		if _, err := m.orch.DeferRenewal(domain.ID, cause, time.Now().Add(renewRetryDelay)); err != nil {
			m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to defer renewal")
		}
		return
	}

	attempts := domain.CertAttempts + 1
	if attempts >= m.config.MaxAttempts {
		if _, err := m.orch.MarkCertificateFailed(domain.ID, cause); err != nil {
			m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to mark certificate failed")
		}
		return
	}

	retryAt := time.Now().Add(time.Duration(attempts*m.config.RetryBaseSec) * time.Second)
	applied, err := m.orch.RetryIssuance(domain.ID, attempts, cause, retryAt)
	if err != nil {
		m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to schedule issuance retry")
		return
	}
	if applied {
		m.logger.WithFields(logrus.Fields{
			"domain":  domain.Hostname,
			"attempt": attempts,
		}).Warn("certificate attempt failed, will retry")
	}
}

// reschedule bumps the poll backoff without changing status
func (m *Manager) reschedule(domain *model.Domain) {
	interval := verify.NextInterval(domain.PollIntervalSec, m.config.BackoffBaseSec, m.config.BackoffCapSec)
	err := m.orch.ReschedulePoll(domain.ID, domain.Status, interval, time.Now().Add(time.Duration(interval)*time.Second))
	if err != nil {
		m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to reschedule poll")
	}
}

func (m *Manager) skipForConfig(domain *model.Domain, err error) {
	if errors.Is(err, lifecycle.ErrNoProviderConfig) || errors.Is(err, lifecycle.ErrProviderDisabled) {
		m.logger.WithField("domain", domain.Hostname).Debug("provider config unavailable, skipping")
		return
	}
	m.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to resolve provider client")
}
