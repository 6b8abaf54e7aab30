// Package doh provides a DNS-over-HTTPS (DoH) client used to resolve a
// hostname to its address records against one configured provider at a
// time. Providers speaking the wire-format protocol from [RFC8484] and
// providers speaking the older JSON API are both supported, selected by
// the profile's [Kind].
//
// [RFC8484]: https://tools.ietf.org/html/rfc8484
package doh

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miekg/dns"
)

var (
	// ErrResolutionFailed is returned when a provider could not be queried:
	// a transport error, a non-success HTTP status, or a malformed body.
	ErrResolutionFailed = errors.New("doh: resolution failed")

	// ErrNoRecords is returned when a provider answered well-formed but
	// without any usable address records. Callers can distinguish an
	// unreachable resolver (ErrResolutionFailed) from a reachable one
	// that simply has no answer.
	ErrNoRecords = errors.New("doh: no address records")
)

// Kind selects the encoding a provider's endpoint speaks.
type Kind string

const (
	// KindStandard is the RFC 8484 wire-format protocol over HTTPS GET or POST.
	KindStandard Kind = "standard"

	// KindJSON is the pre-RFC 8484 JSON API ("application/dns-json")
	// still served by some providers on dedicated endpoints.
	KindJSON Kind = "json"
)

// Profile describes one configured DoH provider. Profiles are immutable
// and identify a provider uniquely among the configured set.
type Profile struct {
	ID       string
	Endpoint string
	Kind     Kind
}

// Record is one decoded address answer.
type Record struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"ttl"`
	Data string `json:"data"` // IPv4 or IPv6 literal
}

// Client resolves hostnames through DoH providers. The zero value is not
// usable; construct with New.
type Client struct {
	httpClient *http.Client
	method     string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMethod sets the HTTP method used for wire-format queries, either
// http.MethodGet (the default) or http.MethodPost.
func WithMethod(method string) Option {
	return func(c *Client) {
		c.method = method
	}
}

// WithTimeout bounds each Resolve call. Zero means the caller's context
// alone bounds the call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// New creates a Client that performs its HTTPS calls with httpClient.
func New(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		method:     http.MethodGet,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Resolve queries profile for qtype (dns.TypeA or dns.TypeAAAA) records of
// hostname and returns the decoded address records. Answers of other
// types (CNAME chains and the like) are discarded. It performs exactly
// one outbound call: retry policy belongs to the caller.
//
// A reachable provider with no usable answer fails with ErrNoRecords;
// everything else fails with ErrResolutionFailed.
func (c *Client) Resolve(ctx context.Context, hostname string, profile Profile, qtype uint16) ([]Record, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var (
		records []Record
		err     error
	)

	switch profile.Kind {
	case KindJSON:
		records, err = c.resolveJSON(ctx, hostname, profile.Endpoint, qtype)
	default:
		records, err = c.resolveWire(ctx, hostname, profile.Endpoint, qtype)
	}
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w for %q from %q", ErrNoRecords, hostname, profile.ID)
	}

	return records, nil
}

// resolveWire performs an RFC 8484 query: the packed DNS message travels
// base64url-encoded in the "dns" query parameter (GET) or as the raw
// request body (POST).
func (c *Client) resolveWire(ctx context.Context, hostname, endpoint string, qtype uint16) ([]Record, error) {
	dnsReq := dns.Msg{
		MsgHdr: dns.MsgHdr{
			RecursionDesired: true,
		},
		Question: []dns.Question{
			{
				Name:   dns.Fqdn(hostname),
				Qtype:  qtype,
				Qclass: dns.ClassINET,
			},
		},
	}

	dnsReqBytes, err := dnsReq.Pack()
	if err != nil {
		return nil, fmt.Errorf("%w: packing DNS request: %v", ErrResolutionFailed, err)
	}

	var httpReq *http.Request

	switch c.method {
	case http.MethodPost:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(dnsReqBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: creating HTTP request: %v", ErrResolutionFailed, err)
		}
		httpReq.Header.Set("Content-Type", "application/dns-message")
	default:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: creating HTTP request: %v", ErrResolutionFailed, err)
		}

		q := httpReq.URL.Query()
		q.Set("dns", base64.RawURLEncoding.EncodeToString(dnsReqBytes))
		httpReq.URL.RawQuery = q.Encode()
	}

	httpReq.Header.Set("Accept", "application/dns-message")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %q returned status code %d (%s)", ErrResolutionFailed, endpoint, httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading HTTP response body: %v", ErrResolutionFailed, err)
	}

	dnsResp := &dns.Msg{}
	if err := dnsResp.Unpack(body); err != nil {
		return nil, fmt.Errorf("%w: unpacking DNS response: %v", ErrResolutionFailed, err)
	}

	return recordsFromMsg(dnsResp), nil
}

// recordsFromMsg extracts A and AAAA answers from a DNS response message.
func recordsFromMsg(msg *dns.Msg) []Record {
	var records []Record

	for _, answer := range msg.Answer {
		var data string

		switch answer := answer.(type) {
		case *dns.A:
			data = answer.A.String()
		case *dns.AAAA:
			data = answer.AAAA.String()
		default:
			continue
		}

		records = append(records, Record{
			Name: answer.Header().Name,
			Type: answer.Header().Rrtype,
			TTL:  answer.Header().Ttl,
			Data: data,
		})
	}

	return records
}
