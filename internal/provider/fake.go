package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Fake is a scripted in-memory Client for tests. Zone and certificate
// statuses are set explicitly by the test; every method is safe for
// concurrent use.
type Fake struct {
	mu sync.Mutex

	zoneSeq   int
	certSeq   int
	recordSeq int

	zones        map[string]VerificationStatus // zoneID -> status
	zoneHostname map[string]string             // zoneID -> hostname
	certs        map[string]CertificateStatus  // orderID -> status
	records      map[string]TXTRecord          // recordID -> record

	DeletedZones   []string
	DeletedRecords []string

	// Errors to inject per operation; nil means success
	CreateZoneErr  error
	VerifyErr      error
	RequestCertErr error
	CertStatusErr  error
	DeleteZoneErr  error
}

// NewFake creates an empty scripted provider
func NewFake() *Fake {
	return &Fake{
		zones:        map[string]VerificationStatus{},
		zoneHostname: map[string]string{},
		certs:        map[string]CertificateStatus{},
		records:      map[string]TXTRecord{},
	}
}

func (f *Fake) CreateZone(_ context.Context, hostname string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateZoneErr != nil {
		return "", f.CreateZoneErr
	}
	f.zoneSeq++
	zoneID := fmt.Sprintf("zone-%d", f.zoneSeq)
	f.zones[zoneID] = VerificationPending
	f.zoneHostname[zoneID] = hostname
	return zoneID, nil
}

func (f *Fake) GetVerificationStatus(_ context.Context, zoneID string) (VerificationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.VerifyErr != nil {
		return "", f.VerifyErr
	}
	status, ok := f.zones[zoneID]
	if !ok {
		return "", Rejected("get zone", errors.New("zone not found"))
	}
	return status, nil
}

func (f *Fake) RequestCertificate(_ context.Context, zoneID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RequestCertErr != nil {
		return "", f.RequestCertErr
	}
	if _, ok := f.zones[zoneID]; !ok {
		return "", Rejected("order certificate", errors.New("zone not found"))
	}
	f.certSeq++
	orderID := fmt.Sprintf("order-%d", f.certSeq)
	f.certs[orderID] = CertificatePending
	return orderID, nil
}

func (f *Fake) GetCertificateStatus(_ context.Context, _ string, orderID string) (CertificateStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CertStatusErr != nil {
		return "", f.CertStatusErr
	}
	status, ok := f.certs[orderID]
	if !ok {
		return "", Rejected("get certificate order", errors.New("order not found"))
	}
	return status, nil
}

func (f *Fake) DeleteZone(_ context.Context, zoneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteZoneErr != nil {
		return f.DeleteZoneErr
	}
	// Not-found deletes succeed, matching real provider semantics
	delete(f.zones, zoneID)
	f.DeletedZones = append(f.DeletedZones, zoneID)
	return nil
}

func (f *Fake) EnsureTXTRecord(_ context.Context, zoneID string, record TXTRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[zoneID]; !ok {
		return "", Rejected("ensure record", errors.New("zone not found"))
	}
	f.recordSeq++
	recordID := fmt.Sprintf("rec-%d", f.recordSeq)
	f.records[recordID] = record
	return recordID, nil
}

func (f *Fake) DeleteTXTRecord(_ context.Context, _ string, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, recordID)
	f.DeletedRecords = append(f.DeletedRecords, recordID)
	return nil
}

// SetZoneStatus scripts the verification status of a zone
func (f *Fake) SetZoneStatus(zoneID string, status VerificationStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zones[zoneID] = status
}

// SetCertStatus scripts the status of a certificate order
func (f *Fake) SetCertStatus(orderID string, status CertificateStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.certs[orderID] = status
}

// ZoneHostname returns the hostname a zone was created for
func (f *Fake) ZoneHostname(zoneID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoneHostname[zoneID]
}

// ZoneCount returns the number of live zones
func (f *Fake) ZoneCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.zones)
}
