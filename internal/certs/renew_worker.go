package certs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"domainpilot/internal/cache"
	"domainpilot/internal/lifecycle"
	"domainpilot/internal/model"
	"domainpilot/internal/provider"
	"domainpilot/internal/registry"
)

// ScannerConfig defines renewal scanner configuration
type ScannerConfig struct {
	Enabled         bool
	IntervalSec     int
	BatchSize       int
	RenewBeforeDays int
}

// RenewScanner finds active domains whose certificate is close to expiry and
// places renewal orders. The certificate manager's poll pass completes them;
// the domain stays active on its old certificate throughout.
type RenewScanner struct {
	reg         *registry.Registry
	orch        *lifecycle.Orchestrator
	mgr         *Manager
	clients     lifecycle.ClientSource
	locker      cache.Locker
	config      ScannerConfig
	logger      *logrus.Entry
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewRenewScanner creates a renewal scanner
func NewRenewScanner(reg *registry.Registry, orch *lifecycle.Orchestrator, mgr *Manager, clients lifecycle.ClientSource, locker cache.Locker, config ScannerConfig, logger *logrus.Entry) *RenewScanner {
	return &RenewScanner{
		reg:         reg,
		orch:        orch,
		mgr:         mgr,
		clients:     clients,
		locker:      locker,
		config:      config,
		logger:      logger.WithField("component", "renew-scanner"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the scanner
func (s *RenewScanner) Start() {
	if !s.config.Enabled {
		s.logger.Info("disabled, skipping")
		close(s.stoppedChan)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"interval_sec": s.config.IntervalSec,
		"before_days":  s.config.RenewBeforeDays,
	}).Info("starting")

	go s.run()
}

// Stop stops the scanner and waits for the current scan to finish
func (s *RenewScanner) Stop() {
	if !s.config.Enabled {
		return
	}
	close(s.stopChan)
	<-s.stoppedChan
	s.logger.Info("stopped")
}

func (s *RenewScanner) run() {
	defer close(s.stoppedChan)

	ticker := time.NewTicker(time.Duration(s.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	// Run immediately on start
	s.Tick()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.stopChan:
			return
		}
	}
}

// Tick scans one batch of expiring active domains and places renewal orders
func (s *RenewScanner) Tick() {
	ctx := context.Background()
	now := time.Now()
	cutoff := now.Add(time.Duration(s.config.RenewBeforeDays) * 24 * time.Hour)

	domains, err := s.reg.ActiveDomainsExpiringBefore(s.config.BatchSize, cutoff, now)
	if err != nil {
		s.logger.WithError(err).Error("failed to query expiring domains")
		return
	}

	for i := range domains {
		domain := &domains[i]
		key := fmt.Sprintf("domain:%d", domain.ID)
		ok, err := s.locker.TryLock(ctx, key, lockTTL)
		if err != nil {
			s.logger.WithError(err).WithField("domain", domain.Hostname).Warn("failed to acquire lock")
			continue
		}
		if !ok {
			continue
		}
		s.renew(ctx, domain)
		s.locker.Unlock(ctx, key)
	}
}

func (s *RenewScanner) renew(ctx context.Context, domain *model.Domain) {
	client, cfg, err := s.clients.ClientFor(domain.StoreID)
	if err != nil {
		s.mgr.skipForConfig(domain, err)
		return
	}

	if cfg.CertMode == model.CertModeACME {
		s.mgr.issueACME(ctx, domain, client, cfg, true)
		return
	}

	orderID, err := client.RequestCertificate(ctx, domain.ZoneID)
	if err != nil {
		if provider.IsRejected(err) {
			cause := fmt.Sprintf("renewal order rejected: %v", err)
			s.logger.WithField("domain", domain.Hostname).Warn(cause)
			if _, err := s.orch.DeferRenewal(domain.ID, cause, time.Now().Add(renewRetryDelay)); err != nil {
				s.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to defer renewal")
			}
			return
		}
		// Transient; the next scan picks the domain up again
		s.logger.WithError(err).WithField("domain", domain.Hostname).Warn("renewal order unavailable")
		return
	}

	applied, err := s.orch.BeginRenewal(domain.ID, orderID, time.Now().Add(time.Duration(s.mgr.config.BackoffBaseSec)*time.Second))
	if err != nil {
		s.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to record renewal order")
		return
	}
	if !applied {
		s.logger.WithField("domain", domain.Hostname).Info("renewal order for removed domain, discarding")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"domain": domain.Hostname,
		"order":  orderID,
	}).Info("renewal ordered")
}
