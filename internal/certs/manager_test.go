package certs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"domainpilot/internal/acme"
	"domainpilot/internal/cache"
	"domainpilot/internal/db"
	"domainpilot/internal/lifecycle"
	"domainpilot/internal/model"
	"domainpilot/internal/provider"
	"domainpilot/internal/registry"
)

type fakeClients struct {
	client *provider.Fake
	cfg    *model.ProviderConfig
	err    error
}

func (f *fakeClients) ClientFor(storeID int) (provider.Client, *model.ProviderConfig, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.client, f.cfg, nil
}

func (f *fakeClients) DeleterFor(storeID int) (lifecycle.ZoneDeleter, error) {
	client, _, err := f.ClientFor(storeID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type fakeIssuer struct {
	result *acme.Result
	err    error
	calls  int
}

func (f *fakeIssuer) Issue(_ context.Context, _ provider.Client, _ *model.ProviderConfig, _ string, _ string) (*acme.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fixture struct {
	mgr     *Manager
	scanner *RenewScanner
	reg     *registry.Registry
	fake    *provider.Fake
	clients *fakeClients
	issuer  *fakeIssuer
}

func testConfig() ManagerConfig {
	return ManagerConfig{
		Enabled:        true,
		IntervalSec:    15,
		BatchSize:      20,
		MaxAttempts:    3,
		RetryBaseSec:   60,
		BackoffBaseSec: 30,
		BackoffCapSec:  1800,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	l := logrus.New()
	l.SetOutput(io.Discard)
	logger := logrus.NewEntry(l)

	reg := registry.New(gdb, "checkout.example")
	fake := provider.NewFake()
	clients := &fakeClients{client: fake, cfg: &model.ProviderConfig{StoreID: 1, Enabled: true, CertMode: model.CertModeManaged}}
	orch := lifecycle.New(reg, clients, nil, logger)
	locker := cache.NewMemoryLocker()
	issuer := &fakeIssuer{}

	mgr := NewManager(reg, orch, clients, locker, issuer, testConfig(), logger)
	scanner := NewRenewScanner(reg, orch, mgr, clients, locker, ScannerConfig{
		Enabled:         true,
		IntervalSec:     3600,
		BatchSize:       50,
		RenewBeforeDays: 15,
	}, logger)

	return &fixture{mgr: mgr, scanner: scanner, reg: reg, fake: fake, clients: clients, issuer: issuer}
}

func (f *fixture) seed(t *testing.T, domain *model.Domain) *model.Domain {
	t.Helper()
	if domain.PublicID == "" {
		domain.PublicID = fmt.Sprintf("pub-%s", domain.Hostname)
	}
	if err := f.reg.DB().Create(domain).Error; err != nil {
		t.Fatalf("failed to seed domain %s: %v", domain.Hostname, err)
	}
	return domain
}

func (f *fixture) seedZone(t *testing.T) string {
	t.Helper()
	zoneID, err := f.fake.CreateZone(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("failed to seed zone: %v", err)
	}
	return zoneID
}

func (f *fixture) reload(t *testing.T, id int) *model.Domain {
	t.Helper()
	domain, err := f.reg.GetByID(id)
	if err != nil {
		t.Fatalf("failed to reload domain %d: %v", id, err)
	}
	return domain
}

func TestTick_OrdersCertificate(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusVerified, DNSVerified: true, ZoneID: zoneID})

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusIssuingCertificate {
		t.Fatalf("status = %q, want issuing_certificate", got.Status)
	}
	if got.CertOrderID == "" {
		t.Fatal("CertOrderID not recorded")
	}
}

func TestTick_CertificateIssued(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusIssuingCertificate, DNSVerified: true, ZoneID: zoneID, CertOrderID: "order-1"})
	f.fake.SetCertStatus("order-1", provider.CertificateIssued)

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusActive || !got.SSLActive {
		t.Fatalf("status = %q ssl = %v, want active with SSL", got.Status, got.SSLActive)
	}
	if got.CertOrderID != "" {
		t.Errorf("CertOrderID = %q, want cleared", got.CertOrderID)
	}

	var record model.CertificateRecord
	if err := f.reg.DB().Where("domain_id = ? AND active = ?", domain.ID, true).First(&record).Error; err != nil {
		t.Fatalf("no active certificate record: %v", err)
	}
	if record.ProviderCertID != "order-1" {
		t.Errorf("ProviderCertID = %q, want order-1", record.ProviderCertID)
	}
	days := time.Until(record.ExpiresAt).Hours() / 24
	if days < 89 || days > 91 {
		t.Errorf("expiry %v days out, want about 90", days)
	}
}

func TestTick_CertificatePendingBacksOff(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusIssuingCertificate, ZoneID: zoneID, CertOrderID: "order-1"})
	f.fake.SetCertStatus("order-1", provider.CertificatePending)

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusIssuingCertificate {
		t.Fatalf("status = %q, want issuing_certificate", got.Status)
	}
	if got.PollIntervalSec != 30 {
		t.Errorf("PollIntervalSec = %d, want base 30", got.PollIntervalSec)
	}
	if got.NextPollAt == nil || !got.NextPollAt.After(time.Now()) {
		t.Error("NextPollAt not pushed into the future")
	}
}

func TestTick_CertificateFailedRetries(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusIssuingCertificate, DNSVerified: true, ZoneID: zoneID, CertOrderID: "order-1"})
	f.fake.SetCertStatus("order-1", provider.CertificateFailed)

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerified {
		t.Fatalf("status = %q, want verified for retry", got.Status)
	}
	if got.CertAttempts != 1 {
		t.Errorf("CertAttempts = %d, want 1", got.CertAttempts)
	}
	if got.CertOrderID != "" {
		t.Errorf("CertOrderID = %q, want cleared", got.CertOrderID)
	}
	if got.NextPollAt == nil || !got.NextPollAt.After(time.Now()) {
		t.Error("retry not delayed")
	}
}

func TestTick_CertificateFailedExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusIssuingCertificate, ZoneID: zoneID, CertOrderID: "order-1", CertAttempts: 2})
	f.fake.SetCertStatus("order-1", provider.CertificateFailed)

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusCertificateFailed {
		t.Fatalf("status = %q, want certificate_failed after last attempt", got.Status)
	}
	if got.LastError == nil {
		t.Error("LastError not recorded")
	}
}

func TestTick_OrderRejected(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusVerified, ZoneID: zoneID})
	f.fake.RequestCertErr = provider.Rejected("order certificate", errors.New("quota exceeded"))

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerified {
		t.Fatalf("status = %q, want verified with attempt recorded", got.Status)
	}
	if got.CertAttempts != 1 {
		t.Errorf("CertAttempts = %d, want 1", got.CertAttempts)
	}
}

func TestTick_OrderRejectedExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusVerified, ZoneID: zoneID, CertAttempts: 2})
	f.fake.RequestCertErr = provider.Rejected("order certificate", errors.New("quota exceeded"))

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusCertificateFailed {
		t.Fatalf("status = %q, want certificate_failed", got.Status)
	}
}

func TestTick_OrderUnavailable(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusVerified, ZoneID: zoneID})
	f.fake.RequestCertErr = provider.Unavailable("order certificate", errors.New("connection refused"))

	f.mgr.Tick()

	// An outage must not burn an attempt
	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerified || got.CertAttempts != 0 {
		t.Fatalf("status=%q attempts=%d, want verified with 0 attempts", got.Status, got.CertAttempts)
	}
	if got.NextPollAt == nil {
		t.Error("NextPollAt not set for backoff")
	}
}

func TestTick_RenewalCompletes(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusActive, SSLActive: true, ZoneID: zoneID, CertOrderID: "order-2"})
	old := &model.CertificateRecord{DomainID: domain.ID, ProviderCertID: "order-1", Active: true, IssuedAt: time.Now().Add(-80 * 24 * time.Hour), ExpiresAt: time.Now().Add(10 * 24 * time.Hour)}
	if err := f.reg.DB().Create(old).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	f.fake.SetCertStatus("order-2", provider.CertificateIssued)

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusActive || got.CertOrderID != "" {
		t.Fatalf("status=%q order=%q, want active with order cleared", got.Status, got.CertOrderID)
	}

	var active []model.CertificateRecord
	if err := f.reg.DB().Where("domain_id = ? AND active = ?", domain.ID, true).Find(&active).Error; err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(active) != 1 || active[0].ProviderCertID != "order-2" {
		t.Fatalf("active records = %+v, want only the renewal", active)
	}
	if active[0].RenewalOf == nil || *active[0].RenewalOf != old.ID {
		t.Errorf("RenewalOf = %v, want %d", active[0].RenewalOf, old.ID)
	}
}

func TestTick_RenewalFailureDefers(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusActive, SSLActive: true, ZoneID: zoneID, CertOrderID: "order-2"})
	old := &model.CertificateRecord{DomainID: domain.ID, ProviderCertID: "order-1", Active: true, IssuedAt: time.Now(), ExpiresAt: time.Now().Add(10 * 24 * time.Hour)}
	if err := f.reg.DB().Create(old).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	f.fake.SetCertStatus("order-2", provider.CertificateFailed)

	f.mgr.Tick()

	// The old certificate keeps serving; the renewal is retried later
	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusActive || !got.SSLActive {
		t.Fatalf("status=%q ssl=%v, want still active", got.Status, got.SSLActive)
	}
	if got.CertOrderID != "" {
		t.Errorf("CertOrderID = %q, want cleared", got.CertOrderID)
	}
	if got.NextPollAt == nil || !got.NextPollAt.After(time.Now()) {
		t.Error("renewal retry not deferred")
	}

	var record model.CertificateRecord
	if err := f.reg.DB().Where("domain_id = ? AND active = ?", domain.ID, true).First(&record).Error; err != nil {
		t.Fatalf("old record lost: %v", err)
	}
	if record.ID != old.ID {
		t.Errorf("active record = %d, want the old one %d", record.ID, old.ID)
	}
}

func TestTick_ACMEIssuance(t *testing.T) {
	f := newFixture(t)
	f.clients.cfg.CertMode = model.CertModeACME
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusVerified, DNSVerified: true, ZoneID: zoneID})
	f.issuer.result = &acme.Result{
		CertPem:   "cert-pem",
		KeyPem:    "key-pem",
		ChainPem:  "chain-pem",
		ExpiresAt: time.Now().Add(90 * 24 * time.Hour),
	}

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusActive || !got.SSLActive {
		t.Fatalf("status=%q ssl=%v, want active", got.Status, got.SSLActive)
	}
	if f.issuer.calls != 1 {
		t.Errorf("issuer calls = %d, want 1", f.issuer.calls)
	}

	var record model.CertificateRecord
	if err := f.reg.DB().Where("domain_id = ? AND active = ?", domain.ID, true).First(&record).Error; err != nil {
		t.Fatalf("no active certificate record: %v", err)
	}
	if record.CertPem != "cert-pem" || record.KeyPem != "key-pem" {
		t.Errorf("PEM material not stored: %+v", record)
	}
}

func TestTick_ACMEFailureRetries(t *testing.T) {
	f := newFixture(t)
	f.clients.cfg.CertMode = model.CertModeACME
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusVerified, DNSVerified: true, ZoneID: zoneID})
	f.issuer.err = errors.New("dns propagation timeout")

	f.mgr.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerified {
		t.Fatalf("status = %q, want verified for retry", got.Status)
	}
	if got.CertAttempts != 1 {
		t.Errorf("CertAttempts = %d, want 1", got.CertAttempts)
	}
}

func TestRenewScanner_PlacesOrder(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusActive, SSLActive: true, ZoneID: zoneID})
	if err := f.reg.DB().Create(&model.CertificateRecord{DomainID: domain.ID, Active: true, IssuedAt: time.Now().Add(-85 * 24 * time.Hour), ExpiresAt: time.Now().Add(5 * 24 * time.Hour)}).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	f.scanner.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusActive {
		t.Fatalf("status = %q, want still active", got.Status)
	}
	if got.CertOrderID == "" {
		t.Fatal("renewal order not recorded")
	}
}

func TestRenewScanner_SkipsDistantExpiry(t *testing.T) {
	f := newFixture(t)
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusActive, SSLActive: true, ZoneID: zoneID})
	if err := f.reg.DB().Create(&model.CertificateRecord{DomainID: domain.ID, Active: true, IssuedAt: time.Now(), ExpiresAt: time.Now().Add(60 * 24 * time.Hour)}).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	f.scanner.Tick()

	got := f.reload(t, domain.ID)
	if got.CertOrderID != "" {
		t.Errorf("CertOrderID = %q, want no renewal yet", got.CertOrderID)
	}
}

func TestRenewScanner_ACMERenewal(t *testing.T) {
	f := newFixture(t)
	f.clients.cfg.CertMode = model.CertModeACME
	zoneID := f.seedZone(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusActive, SSLActive: true, ZoneID: zoneID})
	old := &model.CertificateRecord{DomainID: domain.ID, Active: true, CertPem: "old-cert", IssuedAt: time.Now().Add(-85 * 24 * time.Hour), ExpiresAt: time.Now().Add(5 * 24 * time.Hour)}
	if err := f.reg.DB().Create(old).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
	f.issuer.result = &acme.Result{CertPem: "new-cert", KeyPem: "new-key", ExpiresAt: time.Now().Add(90 * 24 * time.Hour)}

	f.scanner.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusActive || got.CertOrderID != "" {
		t.Fatalf("status=%q order=%q, want active and settled", got.Status, got.CertOrderID)
	}

	var active []model.CertificateRecord
	if err := f.reg.DB().Where("domain_id = ? AND active = ?", domain.ID, true).Find(&active).Error; err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(active) != 1 || active[0].CertPem != "new-cert" {
		t.Fatalf("active records = %+v, want only the renewal", active)
	}
	if active[0].RenewalOf == nil || *active[0].RenewalOf != old.ID {
		t.Errorf("RenewalOf = %v, want %d", active[0].RenewalOf, old.ID)
	}
}
