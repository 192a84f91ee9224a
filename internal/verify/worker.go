// Package verify drives pending domains through provider zone creation and
// DNS-ownership verification.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"domainpilot/internal/cache"
	"domainpilot/internal/lifecycle"
	"domainpilot/internal/model"
	"domainpilot/internal/provider"
	"domainpilot/internal/registry"
)

const lockTTL = 2 * time.Minute

// WorkerConfig defines verification poller configuration
type WorkerConfig struct {
	Enabled            bool
	IntervalSec        int
	BatchSize          int
	BackoffBaseSec     int
	BackoffCapSec      int
	VerifyTimeoutHours int
}

// Worker polls the provider for zone verification state. Each tick claims a
// batch of due domains; per-domain advisory locks keep polls for the same
// domain from overlapping across ticks or replicas.
type Worker struct {
	reg         *registry.Registry
	orch        *lifecycle.Orchestrator
	clients     lifecycle.ClientSource
	locker      cache.Locker
	config      WorkerConfig
	logger      *logrus.Entry
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a verification poller
func NewWorker(reg *registry.Registry, orch *lifecycle.Orchestrator, clients lifecycle.ClientSource, locker cache.Locker, config WorkerConfig, logger *logrus.Entry) *Worker {
	return &Worker{
		reg:         reg,
		orch:        orch,
		clients:     clients,
		locker:      locker,
		config:      config,
		logger:      logger.WithField("component", "verify-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker
func (w *Worker) Start() {
	if !w.config.Enabled {
		w.logger.Info("disabled, skipping")
		close(w.stoppedChan)
		return
	}

	w.logger.WithFields(logrus.Fields{
		"interval_sec": w.config.IntervalSec,
		"batch":        w.config.BatchSize,
	}).Info("starting")

	go w.run()
}

// Stop stops the worker and waits for the current tick to finish
func (w *Worker) Stop() {
	if !w.config.Enabled {
		return
	}
	close(w.stopChan)
	<-w.stoppedChan
	w.logger.Info("stopped")
}

func (w *Worker) run() {
	defer close(w.stoppedChan)

	ticker := time.NewTicker(time.Duration(w.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	// Run immediately on start
	w.Tick()

	for {
		select {
		case <-ticker.C:
			w.Tick()
		case <-w.stopChan:
			return
		}
	}
}

// Tick processes one batch of pending and awaiting_verification domains
func (w *Worker) Tick() {
	ctx := context.Background()
	now := time.Now()

	pending, err := w.reg.DuePending(w.config.BatchSize)
	if err != nil {
		w.logger.WithError(err).Error("failed to query pending domains")
	} else {
		for i := range pending {
			w.withLock(ctx, &pending[i], w.processPending)
		}
	}

	due, err := w.reg.DueForVerification(w.config.BatchSize, now)
	if err != nil {
		w.logger.WithError(err).Error("failed to query domains due for verification")
		return
	}
	for i := range due {
		w.withLock(ctx, &due[i], w.processVerification)
	}
}

func (w *Worker) withLock(ctx context.Context, domain *model.Domain, fn func(context.Context, *model.Domain)) {
	key := fmt.Sprintf("domain:%d", domain.ID)
	ok, err := w.locker.TryLock(ctx, key, lockTTL)
	if err != nil {
		w.logger.WithError(err).WithField("domain", domain.Hostname).Warn("failed to acquire lock")
		return
	}
	if !ok {
		return
	}
	defer w.locker.Unlock(ctx, key)

	fn(ctx, domain)
}

// processPending creates the provider zone for a pending domain. A domain
// retried out of verification_failed already has its zone; it moves straight
// to awaiting_verification.
func (w *Worker) processPending(ctx context.Context, domain *model.Domain) {
	if domain.ZoneID != "" {
		if _, err := w.orch.MarkZoneCreated(domain.ID, domain.ZoneID); err != nil {
			w.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to re-enter verification")
		}
		return
	}

	client, _, err := w.clients.ClientFor(domain.StoreID)
	if err != nil {
		w.skipForConfig(domain, err)
		return
	}

	zoneID, err := client.CreateZone(ctx, domain.Hostname)
	if err != nil {
		if provider.IsRejected(err) {
			w.fail(domain, fmt.Sprintf("zone creation rejected: %v", err))
			return
		}
		// Transient; left in pending, next tick retries
		w.logger.WithError(err).WithField("domain", domain.Hostname).Warn("zone creation unavailable, will retry")
		return
	}

	applied, err := w.orch.MarkZoneCreated(domain.ID, zoneID)
	if err != nil {
		w.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to record zone")
		return
	}
	if !applied {
		// Domain removed while the zone call was in flight; the zone will be
		// cleaned up by the next remove pass, nothing to record here.
		w.logger.WithField("domain", domain.Hostname).Info("zone created for removed domain, discarding")
		return
	}

	w.logger.WithFields(logrus.Fields{
		"domain": domain.Hostname,
		"zone":   zoneID,
	}).Info("zone created")
}

// processVerification polls one awaiting_verification domain
func (w *Worker) processVerification(ctx context.Context, domain *model.Domain) {
	if w.timedOut(domain) {
		w.fail(domain, fmt.Sprintf("verification timed out after %dh", w.config.VerifyTimeoutHours))
		return
	}

	client, _, err := w.clients.ClientFor(domain.StoreID)
	if err != nil {
		w.skipForConfig(domain, err)
		return
	}

	status, err := client.GetVerificationStatus(ctx, domain.ZoneID)
	if err != nil {
		if provider.IsRejected(err) {
			w.fail(domain, fmt.Sprintf("verification rejected: %v", err))
			return
		}
		// Transient provider failure never fails a domain on its own
		w.logger.WithError(err).WithField("domain", domain.Hostname).Warn("verification poll unavailable")
		w.reschedule(domain)
		return
	}

	switch status {
	case provider.VerificationActive:
		applied, err := w.orch.MarkVerified(domain.ID)
		if err != nil {
			w.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to mark verified")
			return
		}
		if applied {
			w.logger.WithField("domain", domain.Hostname).Info("domain verified")
		}
	case provider.VerificationFailed:
		w.fail(domain, "provider reported verification failed")
	default:
		w.reschedule(domain)
	}
}

func (w *Worker) timedOut(domain *model.Domain) bool {
	if domain.VerificationStartedAt == nil {
		return false
	}
	deadline := domain.VerificationStartedAt.Add(time.Duration(w.config.VerifyTimeoutHours) * time.Hour)
	return time.Now().After(deadline)
}

// reschedule bumps the domain's poll backoff: exponential from the base
// interval up to the cap
func (w *Worker) reschedule(domain *model.Domain) {
	interval := NextInterval(domain.PollIntervalSec, w.config.BackoffBaseSec, w.config.BackoffCapSec)
	err := w.orch.ReschedulePoll(domain.ID, model.DomainStatusAwaitingVerify, interval, time.Now().Add(time.Duration(interval)*time.Second))
	if err != nil {
		w.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to reschedule poll")
	}
}

func (w *Worker) fail(domain *model.Domain, cause string) {
	if _, err := w.orch.MarkVerificationFailed(domain.ID, cause); err != nil {
		w.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to mark verification failed")
	}
}

func (w *Worker) skipForConfig(domain *model.Domain, err error) {
	if errors.Is(err, lifecycle.ErrNoProviderConfig) || errors.Is(err, lifecycle.ErrProviderDisabled) {
		w.logger.WithField("domain", domain.Hostname).Debug("provider config unavailable, skipping")
		return
	}
	w.logger.WithError(err).WithField("domain", domain.Hostname).Error("failed to resolve provider client")
}

// NextInterval computes the next poll interval in seconds: base on the first
// poll, then doubling up to the cap
func NextInterval(currentSec, baseSec, capSec int) int {
	if currentSec <= 0 {
		return baseSec
	}
	next := currentSec * 2
	if next > capSec {
		return capSec
	}
	return next
}
