// Package acme issues certificates over ACME DNS-01 for stores that bring
// their own certificates instead of provider-managed packs.
package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/certificate"
	legodns "github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"gorm.io/gorm"

	"domainpilot/internal/model"
	"domainpilot/internal/provider"
)

// Result holds an issued certificate chain
type Result struct {
	CertPem   string
	KeyPem    string
	ChainPem  string
	Issuer    string
	ExpiresAt time.Time
}

// Issuer obtains certificates via lego. The DNS-01 challenge TXT records are
// written through the store's provider client into the domain's zone.
type Issuer struct {
	db *gorm.DB
}

// NewIssuer creates an Issuer
func NewIssuer(db *gorm.DB) *Issuer {
	return &Issuer{db: db}
}

// user implements registration.User for lego
type user struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *user) GetEmail() string                        { return u.email }
func (u *user) GetRegistration() *registration.Resource { return u.registration }
func (u *user) GetPrivateKey() crypto.PrivateKey        { return u.key }

// Issue obtains a certificate for the hostname. The account key and
// registration URI live on the store's ProviderConfig row and are created on
// first use.
func (i *Issuer) Issue(ctx context.Context, client provider.Client, cfg *model.ProviderConfig, zoneID, hostname string) (*Result, error) {
	acct, err := i.ensureAccount(cfg)
	if err != nil {
		return nil, err
	}

	legoCfg := lego.NewConfig(acct)
	if cfg.AcmeDirectoryURL != "" {
		legoCfg.CADirURL = cfg.AcmeDirectoryURL
	}

	legoClient, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	dnsProvider := &challengeProvider{
		ctx:    ctx,
		client: client,
		zoneID: zoneID,
	}

	err = legoClient.Challenge.SetDNS01Provider(dnsProvider,
		legodns.AddRecursiveNameservers([]string{"8.8.8.8:53", "1.1.1.1:53"}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set DNS provider: %w", err)
	}

	certs, err := legoClient.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{hostname},
		Bundle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain certificate: %w", err)
	}

	certBlock, _ := pem.Decode(certs.Certificate)
	if certBlock == nil {
		return nil, errors.New("failed to decode certificate PEM")
	}
	parsed, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Result{
		CertPem:   string(certs.Certificate),
		KeyPem:    string(certs.PrivateKey),
		ChainPem:  string(certs.IssuerCertificate),
		Issuer:    parsed.Issuer.CommonName,
		ExpiresAt: parsed.NotAfter,
	}, nil
}

// ensureAccount loads or registers the store's ACME account
func (i *Issuer) ensureAccount(cfg *model.ProviderConfig) (*user, error) {
	if cfg.AcmeEmail == "" {
		return nil, errors.New("provider config has no ACME email")
	}

	if cfg.AcmeAccountKeyPem != "" && cfg.AcmeRegistrationURI != "" {
		key, err := parsePrivateKey(cfg.AcmeAccountKeyPem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse account key: %w", err)
		}
		return &user{
			email:        cfg.AcmeEmail,
			registration: &registration.Resource{URI: cfg.AcmeRegistrationURI},
			key:          key,
		}, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate account key: %w", err)
	}

	acct := &user{email: cfg.AcmeEmail, key: key}

	legoCfg := lego.NewConfig(acct)
	if cfg.AcmeDirectoryURL != "" {
		legoCfg.CADirURL = cfg.AcmeDirectoryURL
	}

	legoClient, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}

	reg, err := legoClient.Registration.Register(registration.RegisterOptions{
		TermsOfServiceAgreed: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register ACME account: %w", err)
	}

	keyPem, err := encodePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode account key: %w", err)
	}

	acct.registration = reg
	cfg.AcmeAccountKeyPem = keyPem
	cfg.AcmeRegistrationURI = reg.URI

	if err := i.db.Model(&model.ProviderConfig{}).
		Where("id = ?", cfg.ID).
		Updates(map[string]interface{}{
			"acme_account_key_pem":  keyPem,
			"acme_registration_uri": reg.URI,
		}).Error; err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	return acct, nil
}

func parsePrivateKey(keyPem string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPem))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, errors.New("unsupported private key type")
}

func encodePrivateKey(key crypto.PrivateKey) (string, error) {
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return "", errors.New("unsupported private key type")
	}
	keyBytes, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		return "", err
	}
	block := &pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyBytes,
	}
	return string(pem.EncodeToMemory(block)), nil
}
