package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/mssola/useragent"
)

// Location labels.
const (
	UnknownLocation = "Unknown location"
	LocalNetwork    = "Local Network"
	PrivateNetwork  = "Private Network"
	UnknownDevice   = "Unknown Device"
)

// DeviceName summarizes a User-Agent header as "<browser> <version> on <os>".
func DeviceName(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return UnknownDevice
	}

	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	os := ua.OS()

	var parts []string
	if browser != "" {
		if major, _, ok := strings.Cut(version, "."); ok {
			version = major
		}
		parts = append(parts, strings.TrimSpace(browser+" "+version))
	}
	if os != "" {
		parts = append(parts, "on "+os)
	}
	if len(parts) == 0 {
		return UnknownDevice
	}

	name := strings.Join(parts, " ")
	if ua.Mobile() {
		name += " (mobile)"
	}
	return name
}

// Locator resolves a client address to a human-readable location. Public
// addresses are looked up via an optional HTTP geolocation endpoint whose
// URL contains "{ip}", e.g. "http://ip-api.com/json/{ip}".
type Locator struct {
	urlTemplate string
	client      *http.Client
}

// NewLocator creates a Locator. An empty urlTemplate disables remote lookups.
func NewLocator(urlTemplate string) *Locator {
	return &Locator{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: 3 * time.Second},
	}
}

// Locate classifies remoteAddr (host or host:port).
func (l *Locator) Locate(ctx context.Context, remoteAddr string) string {
	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return UnknownLocation
	}
	addr = addr.Unmap()

	switch {
	case addr.IsLoopback():
		return LocalNetwork
	case addr.IsPrivate(), addr.IsLinkLocalUnicast():
		return PrivateNetwork
	}

	if l == nil || l.urlTemplate == "" {
		return UnknownLocation
	}

	loc, err := l.lookup(ctx, addr.String())
	if err != nil || loc == "" {
		return UnknownLocation
	}
	return loc
}

func (l *Locator) lookup(ctx context.Context, ip string) (string, error) {
	url := strings.ReplaceAll(l.urlTemplate, "{ip}", ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geolocation lookup: status %d", resp.StatusCode)
	}

	var body struct {
		City    string `json:"city"`
		Country string `json:"country"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}

	switch {
	case body.City != "" && body.Country != "":
		return body.City + ", " + body.Country, nil
	default:
		return body.Country, nil
	}
}
