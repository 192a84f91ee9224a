package verify

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

type fixture struct {
	worker *Worker
	reg    *registry.Registry
	fake   *provider.Fake
	locker *cache.MemoryLocker
}

func testConfig() WorkerConfig {
	return WorkerConfig{
		Enabled:            true,
		IntervalSec:        15,
		BatchSize:          20,
		BackoffBaseSec:     30,
		BackoffCapSec:      1800,
		VerifyTimeoutHours: 48,
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

	return &fixture{
		worker: NewWorker(reg, orch, clients, locker, testConfig(), logger),
		reg:    reg,
		fake:   fake,
		locker: locker,
	}
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

func (f *fixture) reload(t *testing.T, id int) *model.Domain {
	t.Helper()
	domain, err := f.reg.GetByID(id)
	if err != nil {
		t.Fatalf("failed to reload domain %d: %v", id, err)
	}
	return domain
}

func TestTick_CreatesZone(t *testing.T) {
	f := newFixture(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusPending})

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusAwaitingVerify {
		t.Fatalf("status = %q, want awaiting_verification", got.Status)
	}
	if got.ZoneID == "" {
		t.Fatal("ZoneID not recorded")
	}
	if f.fake.ZoneHostname(got.ZoneID) != "shop.example.com" {
		t.Errorf("zone created for %q, want shop.example.com", f.fake.ZoneHostname(got.ZoneID))
	}
	if got.VerificationStartedAt == nil {
		t.Error("VerificationStartedAt not set")
	}
}

func TestTick_ZoneCreationRejected(t *testing.T) {
	f := newFixture(t)
	f.fake.CreateZoneErr = provider.Rejected("create zone", errors.New("1049 invalid domain"))
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusPending})

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerificationFailed {
		t.Fatalf("status = %q, want verification_failed", got.Status)
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "rejected") {
		t.Errorf("LastError = %v, want rejection cause", got.LastError)
	}
}

func TestTick_ZoneCreationUnavailable(t *testing.T) {
	f := newFixture(t)
	f.fake.CreateZoneErr = provider.Unavailable("create zone", errors.New("connection refused"))
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusPending})

	f.worker.Tick()

	// Transient failures leave the domain pending for the next tick
	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.LastError != nil {
		t.Errorf("LastError = %v, want none", *got.LastError)
	}
}

func TestTick_RetriedDomainKeepsZone(t *testing.T) {
	f := newFixture(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusPending, ZoneID: "zone-kept"})

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusAwaitingVerify {
		t.Fatalf("status = %q, want awaiting_verification", got.Status)
	}
	if got.ZoneID != "zone-kept" {
		t.Errorf("ZoneID = %q, want the existing zone", got.ZoneID)
	}
	if f.fake.ZoneCount() != 0 {
		t.Errorf("zones created = %d, want 0", f.fake.ZoneCount())
	}
}

func TestTick_VerificationSucceeds(t *testing.T) {
	f := newFixture(t)
	started := time.Now().Add(-time.Hour)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusAwaitingVerify, ZoneID: "zone-1", VerificationStartedAt: &started})
	f.fake.SetZoneStatus("zone-1", provider.VerificationActive)

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerified {
		t.Fatalf("status = %q, want verified", got.Status)
	}
	if !got.DNSVerified {
		t.Error("DNSVerified = false, want true")
	}
}

func TestTick_VerificationPendingBacksOff(t *testing.T) {
	f := newFixture(t)
	started := time.Now().Add(-time.Hour)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusAwaitingVerify, ZoneID: "zone-1", VerificationStartedAt: &started})
	f.fake.SetZoneStatus("zone-1", provider.VerificationPending)

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusAwaitingVerify {
		t.Fatalf("status = %q, want awaiting_verification", got.Status)
	}
	if got.PollIntervalSec != 30 {
		t.Fatalf("PollIntervalSec = %d, want base 30", got.PollIntervalSec)
	}
	if got.NextPollAt == nil || !got.NextPollAt.After(time.Now()) {
		t.Fatal("NextPollAt not pushed into the future")
	}

	// Force the next poll due and check the interval doubles
	past := time.Now().Add(-time.Second)
	if err := f.reg.DB().Model(got).Update("next_poll_at", past).Error; err != nil {
		t.Fatalf("failed to force due: %v", err)
	}
	f.worker.Tick()

	got = f.reload(t, domain.ID)
	if got.PollIntervalSec != 60 {
		t.Errorf("PollIntervalSec = %d, want doubled to 60", got.PollIntervalSec)
	}
}

func TestTick_VerificationFailed(t *testing.T) {
	f := newFixture(t)
	started := time.Now().Add(-time.Hour)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusAwaitingVerify, ZoneID: "zone-1", VerificationStartedAt: &started})
	f.fake.SetZoneStatus("zone-1", provider.VerificationFailed)

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerificationFailed {
		t.Fatalf("status = %q, want verification_failed", got.Status)
	}
}

func TestTick_VerificationTimesOut(t *testing.T) {
	f := newFixture(t)
	started := time.Now().Add(-49 * time.Hour)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusAwaitingVerify, ZoneID: "zone-1", VerificationStartedAt: &started})
	f.fake.SetZoneStatus("zone-1", provider.VerificationPending)

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusVerificationFailed {
		t.Fatalf("status = %q, want verification_failed", got.Status)
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "timed out") {
		t.Errorf("LastError = %v, want timeout cause", got.LastError)
	}
}

func TestTick_ProviderUnavailableReschedules(t *testing.T) {
	f := newFixture(t)
	started := time.Now().Add(-time.Hour)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusAwaitingVerify, ZoneID: "zone-1", VerificationStartedAt: &started})
	f.fake.VerifyErr = provider.Unavailable("get zone", errors.New("502 from provider"))

	f.worker.Tick()

	// An outage is never a verification failure
	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusAwaitingVerify {
		t.Fatalf("status = %q, want awaiting_verification", got.Status)
	}
	if got.NextPollAt == nil {
		t.Fatal("NextPollAt not set after transient failure")
	}
}

func TestTick_NoProviderConfigSkips(t *testing.T) {
	f := newFixture(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusPending})
	clients := &fakeClients{err: lifecycle.ErrNoProviderConfig}
	f.worker.clients = clients

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusPending {
		t.Fatalf("status = %q, want pending until the store configures a provider", got.Status)
	}
}

func TestTick_LockedDomainSkipped(t *testing.T) {
	f := newFixture(t)
	domain := f.seed(t, &model.Domain{StoreID: 1, Hostname: "shop.example.com", Status: model.DomainStatusPending})

	key := fmt.Sprintf("domain:%d", domain.ID)
	if ok, _ := f.locker.TryLock(context.Background(), key, time.Minute); !ok {
		t.Fatal("failed to pre-acquire lock")
	}

	f.worker.Tick()

	got := f.reload(t, domain.ID)
	if got.Status != model.DomainStatusPending {
		t.Fatalf("status = %q, want pending while another holder works the domain", got.Status)
	}
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		current int
		want    int
	}{
		{0, 30},
		{30, 60},
		{60, 120},
		{960, 1800},
		{1800, 1800},
	}
	for _, tt := range tests {
		if got := NextInterval(tt.current, 30, 1800); got != tt.want {
			t.Errorf("NextInterval(%d) = %d, want %d", tt.current, got, tt.want)
		}
	}
}
