// Package hostname normalizes and validates customer-supplied hostnames.
package hostname

import (
	"fmt"
	"net"
	"strings"
)

const (
	maxHostnameLen = 253
	maxLabelLen    = 63
)

// Normalize canonicalizes a hostname and validates it against RFC 1123
// label rules.
//
// Rules:
//   - lowercase, surrounding whitespace trimmed, trailing dot stripped
//   - total length <= 253, each label 1-63 chars of [a-z0-9-],
//     no leading/trailing hyphen
//   - at least two labels (a bare TLD is not a usable custom domain)
//   - IP literals (IPv4 and IPv6) are rejected
func Normalize(host string) (string, error) {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)

	if host == "" {
		return "", fmt.Errorf("hostname must not be empty")
	}

	if len(host) > maxHostnameLen {
		return "", fmt.Errorf("hostname exceeds %d characters", maxHostnameLen)
	}

	if net.ParseIP(host) != nil || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return "", fmt.Errorf("IP addresses are not allowed")
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("hostname must contain at least two labels")
	}

	for _, label := range labels {
		if err := validateLabel(label); err != nil {
			return "", err
		}
	}

	return host, nil
}

// RejectPlatformApex returns an error if host equals the platform's own apex
// domain or is a subdomain of it. Customers must bring their own domains.
func RejectPlatformApex(host, platformApex string) error {
	if platformApex == "" {
		return nil
	}
	platformApex = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(platformApex), "."))
	if host == platformApex || strings.HasSuffix(host, "."+platformApex) {
		return fmt.Errorf("hostname %s belongs to the platform domain", host)
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("hostname contains an empty label")
	}
	if len(label) > maxLabelLen {
		return fmt.Errorf("label %q exceeds %d characters", label, maxLabelLen)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fmt.Errorf("label %q must not start or end with a hyphen", label)
	}
	for _, c := range label {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
			return fmt.Errorf("label %q contains invalid character %q", label, c)
		}
	}
	return nil
}
