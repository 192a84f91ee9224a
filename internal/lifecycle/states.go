package lifecycle

import "domainpilot/internal/model"

// transitions is the full transition table for the domain lifecycle.
// Removal is handled separately: removed is reachable from every state.
var transitions = map[model.DomainStatus][]model.DomainStatus{
	// Zone creation can be rejected outright, which fails verification
	// before the domain ever reaches awaiting_verification
	model.DomainStatusPending:            {model.DomainStatusAwaitingVerify, model.DomainStatusVerificationFailed},
	model.DomainStatusAwaitingVerify:     {model.DomainStatusVerified, model.DomainStatusVerificationFailed},
	// A certificate order the provider rejects outright can exhaust its
	// attempts without the domain ever reaching issuing_certificate
	model.DomainStatusVerified:           {model.DomainStatusIssuingCertificate, model.DomainStatusCertificateFailed},
	model.DomainStatusIssuingCertificate: {model.DomainStatusActive, model.DomainStatusCertificateFailed, model.DomainStatusVerified},
	model.DomainStatusActive:             {},
	// Manual retry re-enters the stage that failed
	model.DomainStatusVerificationFailed: {model.DomainStatusPending},
	model.DomainStatusCertificateFailed:  {model.DomainStatusVerified},
	model.DomainStatusRemoved:            {},
}

// CanTransition reports whether moving from one status to another is allowed
// by the lifecycle table
func CanTransition(from, to model.DomainStatus) bool {
	if to == model.DomainStatusRemoved {
		return from != model.DomainStatusRemoved
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// retrySource maps a failure status to the status a manual retry re-enters
var retrySource = map[model.DomainStatus]model.DomainStatus{
	model.DomainStatusVerificationFailed: model.DomainStatusPending,
	model.DomainStatusCertificateFailed:  model.DomainStatusVerified,
}
