// Package netutil provides helpers for turning user-supplied modem addresses
// into well-formed base URLs.
//
// It includes functions to:
//   - Split a raw address ("192.168.100.1", "http://modem.lan:8080/") into an
//     optional explicit scheme and a host[:port] part.
//   - Build normalized base URLs from a scheme and host pair.
//   - Validate that a host string is usable as an HTTP target.
//
// Functions:
//
//   - SplitHostInput(raw string) (scheme, host string, err error)
//     Separates an explicit http/https scheme (if present) from the host part,
//     stripping any path, query, or trailing slashes.
//
//   - BaseURL(scheme, host string) string
//     Joins a scheme and host into a base URL without a trailing slash.
package netutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// SplitHostInput separates an optional explicit scheme from a raw address.
// Accepted forms: "192.168.100.1", "modem.lan:8080", "http://192.168.100.1",
// "https://modem.lan/", "https://modem.lan:8443/some/path".
// A path component is discarded; only scheme and host[:port] survive.
func SplitHostInput(raw string) (scheme, host string, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", "", fmt.Errorf("empty host")
	}

	if strings.Contains(trimmed, "://") {
		u, parseErr := url.Parse(trimmed)
		if parseErr != nil {
			return "", "", fmt.Errorf("parse host %q: %w", raw, parseErr)
		}
		switch u.Scheme {
		case "http", "https":
		default:
			return "", "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
		}
		if u.Host == "" {
			return "", "", fmt.Errorf("no host in %q", raw)
		}
		return u.Scheme, u.Host, nil
	}

	// No scheme. The input may still carry a path ("modem.lan/login").
	hostPart := trimmed
	if idx := strings.IndexByte(hostPart, '/'); idx >= 0 {
		hostPart = hostPart[:idx]
	}
	if hostPart == "" {
		return "", "", fmt.Errorf("no host in %q", raw)
	}
	if err := checkHostPort(hostPart); err != nil {
		return "", "", err
	}
	return "", hostPart, nil
}

// BaseURL joins a scheme and a host[:port] into a base URL with no trailing
// slash. The caller is expected to have validated both parts.
func BaseURL(scheme, host string) string {
	return scheme + "://" + host
}

// checkHostPort rejects host strings that cannot name an HTTP endpoint.
func checkHostPort(hostPart string) error {
	host := hostPart
	if strings.Contains(hostPart, ":") && !strings.HasPrefix(hostPart, "[") {
		var err error
		host, _, err = net.SplitHostPort(hostPart)
		if err != nil {
			return fmt.Errorf("invalid host:port %q: %w", hostPart, err)
		}
	}
	if host == "" {
		return fmt.Errorf("empty host in %q", hostPart)
	}
	if strings.ContainsAny(host, " \t?#@") {
		return fmt.Errorf("invalid characters in host %q", hostPart)
	}
	return nil
}
