// Package provider defines the narrow interface to the external DNS/edge
// provider. Keeping every external call behind this interface lets the
// orchestrator and pollers run against a scripted fake in tests, and keeps
// provider-specific backoff and error classification in one place.
package provider

import "context"

// VerificationStatus is the provider's view of zone ownership verification
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationActive  VerificationStatus = "active"
	VerificationFailed  VerificationStatus = "failed"
)

// CertificateStatus is the provider's view of a certificate order
type CertificateStatus string

const (
	CertificatePending CertificateStatus = "pending"
	CertificateIssued  CertificateStatus = "issued"
	CertificateFailed  CertificateStatus = "failed"
)

// TXTRecord is a DNS TXT record, used for ACME DNS-01 challenges
type TXTRecord struct {
	Name  string
	Value string
	TTL   int
}

// Client is the interface to the DNS/edge provider's zone and certificate APIs
type Client interface {
	// CreateZone creates a zone for the hostname and returns its id
	CreateZone(ctx context.Context, hostname string) (string, error)

	// GetVerificationStatus reports the zone's ownership verification state
	GetVerificationStatus(ctx context.Context, zoneID string) (VerificationStatus, error)

	// RequestCertificate orders an edge certificate for the zone and returns
	// the provider's order id
	RequestCertificate(ctx context.Context, zoneID string) (string, error)

	// GetCertificateStatus reports the state of a certificate order
	GetCertificateStatus(ctx context.Context, zoneID, orderID string) (CertificateStatus, error)

	// DeleteZone deletes the zone. A zone that no longer exists is success.
	DeleteZone(ctx context.Context, zoneID string) error

	// EnsureTXTRecord creates or updates a TXT record in the zone and
	// returns the provider record id
	EnsureTXTRecord(ctx context.Context, zoneID string, record TXTRecord) (string, error)

	// DeleteTXTRecord deletes a TXT record by provider record id.
	// A record that no longer exists is success.
	DeleteTXTRecord(ctx context.Context, zoneID, recordID string) error
}
