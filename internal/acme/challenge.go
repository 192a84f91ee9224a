package acme

import (
	"context"
	"strings"
	"sync"

	legodns "github.com/go-acme/lego/v4/challenge/dns01"

	"domainpilot/internal/provider"
)

// challengeProvider answers DNS-01 challenges by writing TXT records through
// the store's DNS provider client.
type challengeProvider struct {
	ctx    context.Context
	client provider.Client
	zoneID string

	mu      sync.Mutex
	records map[string]string // fqdn -> provider record id
}

// Present creates the challenge TXT record
func (p *challengeProvider) Present(domain, token, keyAuth string) error {
	info := legodns.GetChallengeInfo(domain, keyAuth)

	recordID, err := p.client.EnsureTXTRecord(p.ctx, p.zoneID, provider.TXTRecord{
		Name:  strings.TrimSuffix(info.FQDN, "."),
		Value: info.Value,
		TTL:   120,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.records == nil {
		p.records = make(map[string]string)
	}
	p.records[info.FQDN] = recordID
	p.mu.Unlock()

	return nil
}

// CleanUp removes the challenge TXT record after validation
func (p *challengeProvider) CleanUp(domain, token, keyAuth string) error {
	info := legodns.GetChallengeInfo(domain, keyAuth)

	p.mu.Lock()
	recordID, ok := p.records[info.FQDN]
	delete(p.records, info.FQDN)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return p.client.DeleteTXTRecord(p.ctx, p.zoneID, recordID)
}
