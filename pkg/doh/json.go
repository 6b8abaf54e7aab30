package doh

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/miekg/dns"
)

// jsonResponse is the answer shape of the pre-RFC 8484 DoH JSON API,
// served by providers like dns.alidns.com and dns.google on their
// "resolve" endpoints.
type jsonResponse struct {
	Status int `json:"Status"` // DNS response code
	Answer []struct {
		Name string `json:"name"`
		Type uint16 `json:"type"`
		TTL  uint32 `json:"TTL"`
		Data string `json:"data"`
	} `json:"Answer"`
	Comment string `json:"Comment,omitempty"`
}

// resolveJSON performs a DoH JSON API query: the hostname and record type
// travel as plain query parameters, the response is a JSON document.
func (c *Client) resolveJSON(ctx context.Context, hostname, endpoint string, qtype uint16) ([]Record, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating HTTP request: %v", ErrResolutionFailed, err)
	}

	httpReq.Header.Set("Accept", "application/dns-json")

	q := httpReq.URL.Query()
	q.Set("name", hostname)
	q.Set("type", dns.TypeToString[qtype])
	httpReq.URL.RawQuery = q.Encode()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %q returned status code %d (%s)", ErrResolutionFailed, endpoint, httpResp.StatusCode, http.StatusText(httpResp.StatusCode))
	}

	resp := &jsonResponse{}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return nil, fmt.Errorf("%w: decoding JSON response: %v", ErrResolutionFailed, err)
	}

	var records []Record

	for _, answer := range resp.Answer {
		if answer.Type != dns.TypeA && answer.Type != dns.TypeAAAA {
			continue
		}

		// The JSON API carries all answer data as strings; only keep
		// entries that actually hold an address literal.
		if net.ParseIP(answer.Data) == nil {
			continue
		}

		records = append(records, Record{
			Name: answer.Name,
			Type: answer.Type,
			TTL:  answer.TTL,
			Data: answer.Data,
		})
	}

	return records, nil
}
