// Package geo resolves public IP addresses to a coarse location.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// ErrUnavailable means a location could not be determined. Callers treat it
// as a soft failure.
var ErrUnavailable = errors.New("geolocation unavailable")

// DefaultEndpoint is an ip-api.com compatible lookup URL; {ip} is replaced.
const DefaultEndpoint = "http://ip-api.com/json/{ip}?fields=status,message,country,city"

// Location is a best-effort place name. Empty fields mean the service did
// not know.
type Location struct {
	City    string
	Country string
}

// Locator looks up an address.
type Locator interface {
	Locate(ctx context.Context, ip netip.Addr) (Location, error)
}

// HTTPLocator queries a JSON geolocation service.
type HTTPLocator struct {
	client   *http.Client
	endpoint string
}

var _ Locator = (*HTTPLocator)(nil)

// NewHTTPLocator returns a locator for endpoint, which must contain {ip}.
func NewHTTPLocator(endpoint string, timeout time.Duration) (*HTTPLocator, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.Contains(endpoint, "{ip}") {
		return nil, fmt.Errorf("geolocation endpoint %q lacks {ip} placeholder", endpoint)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPLocator{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}, nil
}

type lookupResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
	City    string `json:"city"`
}

func (l *HTTPLocator) Locate(ctx context.Context, ip netip.Addr) (Location, error) {
	url := strings.ReplaceAll(l.endpoint, "{ip}", ip.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("%w: lookup returned %s", ErrUnavailable, resp.Status)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if body.Status != "" && body.Status != "success" {
		return Location{}, fmt.Errorf("%w: %s", ErrUnavailable, body.Message)
	}
	return Location{City: body.City, Country: body.Country}, nil
}

// Disabled never resolves anything.
type Disabled struct{}

func (Disabled) Locate(ctx context.Context, ip netip.Addr) (Location, error) {
	return Location{}, ErrUnavailable
}
