package cachekey

import (
	"net"
	"net/url"

	"golang.org/x/xerrors"
)

var (
	ErrNotAbsolute   = xerrors.New("request target is not an absolute URI")
	ErrNoDefaultPort = xerrors.New("no default port for scheme")
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Target is the origin named by an absolute request target.
type Target struct {
	// Address is the request target exactly as received.
	// It is used as the cache key, so equivalent URIs spelled differently
	// are cached separately.
	Address string
	Scheme  string
	// Host is the hostname without port, as matched against the blocklist.
	Host string
	// Port is the explicit port, or the scheme default.
	Port string
}

// ParseTarget parses an absolute URI such as http://example.com:8080/path?q.
func ParseTarget(address string) (Target, error) {
	u, err := url.Parse(address)
	if err != nil {
		return Target{}, xerrors.Errorf("parse target %q: %w", address, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Target{}, xerrors.Errorf("%q: %w", address, ErrNotAbsolute)
	}
	port := u.Port()
	if port == "" {
		var ok bool
		if port, ok = defaultPorts[u.Scheme]; !ok {
			return Target{}, xerrors.Errorf("%q: %w", u.Scheme, ErrNoDefaultPort)
		}
	}
	return Target{
		Address: address,
		Scheme:  u.Scheme,
		Host:    u.Hostname(),
		Port:    port,
	}, nil
}

// Key returns the cache key for the target.
func (t Target) Key() string {
	return t.Address
}

// DialAddress returns the host:port to connect to.
func (t Target) DialAddress() string {
	return net.JoinHostPort(t.Host, t.Port)
}
