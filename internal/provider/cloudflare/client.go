// Package cloudflare implements provider.Client over the Cloudflare v4 API.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"domainpilot/internal/provider"
)

const (
	apiBase        = "https://api.cloudflare.com/client/v4"
	requestTimeout = 10 * time.Second
)

// Client is a Cloudflare API client scoped to one store's credentials
type Client struct {
	apiToken string
	email    string
	baseURL  string
	http     *http.Client
}

// New creates a Cloudflare client. If email is empty the token is sent as a
// Bearer token (API token auth), otherwise legacy X-Auth headers are used.
func New(apiToken, email string) *Client {
	return &Client{
		apiToken: apiToken,
		email:    email,
		baseURL:  apiBase,
		http: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// NewWithBaseURL creates a client against a non-default API endpoint (tests)
func NewWithBaseURL(apiToken, email, baseURL string) *Client {
	c := New(apiToken, email)
	c.baseURL = baseURL
	return c
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type zoneResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type certPackResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type recordResult struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// CreateZone creates a zone for the hostname
func (c *Client) CreateZone(ctx context.Context, hostname string) (string, error) {
	const op = "create zone"

	payload := map[string]interface{}{
		"name":       hostname,
		"type":       "full",
		"jump_start": false,
	}

	var zone zoneResult
	if err := c.do(ctx, op, "POST", "/zones", payload, &zone); err != nil {
		return "", err
	}
	return zone.ID, nil
}

// GetVerificationStatus maps the zone's status onto the verification states
func (c *Client) GetVerificationStatus(ctx context.Context, zoneID string) (provider.VerificationStatus, error) {
	const op = "get zone"

	var zone zoneResult
	if err := c.do(ctx, op, "GET", "/zones/"+zoneID, nil, &zone); err != nil {
		return "", err
	}

	switch zone.Status {
	case "active":
		return provider.VerificationActive, nil
	case "pending", "initializing":
		return provider.VerificationPending, nil
	default:
		// moved, deleted, deactivated
		return provider.VerificationFailed, nil
	}
}

// RequestCertificate orders an advanced certificate pack for the zone
func (c *Client) RequestCertificate(ctx context.Context, zoneID string) (string, error) {
	const op = "order certificate"

	payload := map[string]interface{}{
		"type":                  "advanced",
		"validation_method":     "txt",
		"validity_days":         90,
		"certificate_authority": "lets_encrypt",
	}

	var pack certPackResult
	if err := c.do(ctx, op, "POST", "/zones/"+zoneID+"/ssl/certificate_packs/order", payload, &pack); err != nil {
		return "", err
	}
	return pack.ID, nil
}

// GetCertificateStatus reports the state of a certificate pack order
func (c *Client) GetCertificateStatus(ctx context.Context, zoneID, orderID string) (provider.CertificateStatus, error) {
	const op = "get certificate order"

	var pack certPackResult
	if err := c.do(ctx, op, "GET", "/zones/"+zoneID+"/ssl/certificate_packs/"+orderID, nil, &pack); err != nil {
		return "", err
	}

	switch pack.Status {
	case "active":
		return provider.CertificateIssued, nil
	case "initializing", "pending_validation", "pending_issuance", "pending_deployment":
		return provider.CertificatePending, nil
	default:
		return provider.CertificateFailed, nil
	}
}

// DeleteZone deletes the zone; a missing zone is treated as success
func (c *Client) DeleteZone(ctx context.Context, zoneID string) error {
	const op = "delete zone"

	err := c.do(ctx, op, "DELETE", "/zones/"+zoneID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// EnsureTXTRecord creates or updates a TXT record in the zone
func (c *Client) EnsureTXTRecord(ctx context.Context, zoneID string, record provider.TXTRecord) (string, error) {
	const op = "ensure record"

	existingID, err := c.findTXTRecord(ctx, zoneID, record.Name, record.Value)
	if err != nil && !isNotFound(err) {
		return "", err
	}
	if existingID != "" {
		return existingID, nil
	}

	payload := map[string]interface{}{
		"type":    "TXT",
		"name":    record.Name,
		"content": record.Value,
		"ttl":     record.TTL,
	}

	var created recordResult
	if err := c.do(ctx, op, "POST", "/zones/"+zoneID+"/dns_records", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// DeleteTXTRecord deletes a TXT record; a missing record is treated as success
func (c *Client) DeleteTXTRecord(ctx context.Context, zoneID, recordID string) error {
	const op = "delete record"

	err := c.do(ctx, op, "DELETE", "/zones/"+zoneID+"/dns_records/"+recordID, nil, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) findTXTRecord(ctx context.Context, zoneID, name, value string) (string, error) {
	const op = "find record"

	query := url.Values{}
	query.Set("type", "TXT")
	query.Set("name", name)
	query.Set("content", value)
	path := "/zones/" + zoneID + "/dns_records?" + query.Encode()

	var records []recordResult
	if err := c.do(ctx, op, "GET", path, nil, &records); err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", notFoundError(op)
	}
	return records[0].ID, nil
}

// do performs one API call and decodes the result envelope. Errors are
// classified: transport failures, 5xx and 429 are retryable; everything else
// the provider said no to is a rejection.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return provider.Rejected(op, fmt.Errorf("failed to marshal payload: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return provider.Rejected(op, fmt.Errorf("failed to create request: %w", err))
	}

	if c.email != "" {
		req.Header.Set("X-Auth-Email", c.email)
		req.Header.Set("X-Auth-Key", c.apiToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return provider.Unavailable(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Unavailable(op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return provider.Unavailable(op, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body))
	}

	if resp.StatusCode == http.StatusNotFound {
		return notFoundError(op)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return provider.Unavailable(op, fmt.Errorf("failed to parse response: %w", err))
	}

	if !envelope.Success {
		for _, e := range envelope.Errors {
			// 81044/81043: record not found; 1061: zone already deleted
			if e.Code == 81044 || e.Code == 81043 || e.Code == 1061 {
				return notFoundError(op)
			}
		}
		return provider.Rejected(op, fmt.Errorf("cloudflare API error: %s", formatErrors(envelope.Errors)))
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return provider.Unavailable(op, fmt.Errorf("failed to parse result: %w", err))
		}
	}

	return nil
}

type cfNotFound struct{ op string }

func (e *cfNotFound) Error() string {
	return fmt.Sprintf("cloudflare: not found (%s)", e.op)
}

func notFoundError(op string) error {
	return provider.Rejected(op, &cfNotFound{op: op})
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *cfNotFound
	return errors.As(err, &nf)
}

func formatErrors(errs []apiError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return msg
}
