// Package transport owns the HTTP plumbing for talking to modem embedded
// servers: a cookie-jar session shared by a modern and a legacy TLS
// client, small request helpers that return fully-read responses, and
// the connectivity probe that finds a working scheme for a host.
//
// Certificate verification is always off. Modem firmware ships
// self-signed certificates for RFC1918 addresses; there is nothing to
// verify against.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every request unless a model document overrides it.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps response reads. Diagnostic pages are tens of
// kilobytes; anything larger is a misbehaving device.
const maxBodyBytes = 4 << 20

// legacyCipherSuites re-enables the RSA key exchange suites that old
// modem TLS stacks negotiate. Go dropped them from its defaults.
var legacyCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
}

// Config records the transport parameters that worked for a device.
// The orchestrator keeps it sticky across poll cycles; the statestore
// persists it between runs.
type Config struct {
	BaseURL   string
	UsesHTTPS bool
	LegacyTLS bool
}

// Response is a fully-read HTTP exchange result. The connection is
// already drained and closed when a Response is returned.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client bundles one logical device session: a shared cookie jar, a
// modern TLS client, and a legacy TLS client for pre-2012 firmware.
// All requests go through the same jar so session cookies survive a
// switch between the two.
//
// A Client serves one device from one goroutine at a time. Mutating
// setters (SetTimeout, SetLegacyTLS, SetBasicAuth) are not synchronized.
type Client struct {
	jar    *cookiejar.Jar
	modern *http.Client
	legacy *http.Client

	legacyTLS bool

	basicUser string
	basicPass string
	basicSet  bool

	logger zerolog.Logger
}

// NewClient creates a session client with a fresh cookie jar and the
// default timeout.
func NewClient() (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	modern := &http.Client{
		Timeout: DefaultTimeout,
		Jar:     jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
	}
	legacy := &http.Client{
		Timeout: DefaultTimeout,
		Jar:     jar,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
				MinVersion:         tls.VersionTLS10,
				MaxVersion:         tls.VersionTLS12,
				CipherSuites:       legacyCipherSuites,
				Renegotiation:      tls.RenegotiateOnceAsClient,
			},
		},
	}

	return &Client{
		jar:    jar,
		modern: modern,
		legacy: legacy,
		logger: log.With().Str("component", "transport").Logger(),
	}, nil
}

// SetTimeout overrides the request timeout on both underlying clients.
func (c *Client) SetTimeout(d time.Duration) {
	c.modern.Timeout = d
	c.legacy.Timeout = d
}

// SetLegacyTLS pins the session to the legacy TLS client. The probe
// sets this once it learns a device only completes legacy handshakes.
func (c *Client) SetLegacyTLS(on bool) {
	c.legacyTLS = on
}

// LegacyTLS reports whether the session is pinned to the legacy client.
func (c *Client) LegacyTLS() bool {
	return c.legacyTLS
}

// SetBasicAuth attaches HTTP Basic credentials to every subsequent
// request on this session.
func (c *Client) SetBasicAuth(user, pass string) {
	c.basicUser = user
	c.basicPass = pass
	c.basicSet = true
}

// ClearBasicAuth removes stored Basic credentials.
func (c *Client) ClearBasicAuth() {
	c.basicUser = ""
	c.basicPass = ""
	c.basicSet = false
}

// Jar exposes the shared cookie jar. Loaders read session tokens from
// it live; auth strategies may seed it.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// CookieValue reads a named cookie for the device from the session jar.
// Empty name or absent cookie returns "".
func (c *Client) CookieValue(rawURL, name string) string {
	if name == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.jar.Cookies(u) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

// SetSessionCookie stores a cookie for the device in the jar. Auth
// strategies use it when firmware hands tokens back outside Set-Cookie.
func (c *Client) SetSessionCookie(rawURL, name, value string) {
	if name == "" {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	c.jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value}})
}

// GetWithHeaders issues a GET carrying extra headers, preserving their
// exact case the way Post does.
func (c *Client) GetWithHeaders(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[k] = []string{v}
	}
	return c.Do(req)
}

// Do executes a request on the session, honoring the legacy TLS pin and
// stored Basic credentials, and returns the fully-read response.
func (c *Client) Do(req *http.Request) (*Response, error) {
	return c.do(req, c.legacyTLS)
}

func (c *Client) do(req *http.Request, legacy bool) (*Response, error) {
	if c.basicSet {
		req.SetBasicAuth(c.basicUser, c.basicPass)
	}

	hc := c.modern
	if legacy {
		hc = c.legacy
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Get issues a GET on the session.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Head issues a HEAD on the session.
func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// PostForm issues a form-encoded POST on the session.
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
		strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req)
}

// Post issues a POST with an explicit content type. The HNAP signer
// uses it for SOAP-flavored JSON calls. Extra headers bypass the
// canonical-case rewrite: firmware matches names like SOAPACTION and
// HNAP_AUTH byte for byte.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header[k] = []string{v}
	}
	return c.Do(req)
}

// FetchWithRelogin GETs a page and recovers once from an expired
// session. When expired reports the body as a login page, relogin runs
// and the page is fetched again. A second login page, a failed relogin,
// or a failed refetch all fall back to the first response so callers
// never loop.
func (c *Client) FetchWithRelogin(ctx context.Context, rawURL string, expired func([]byte) bool, relogin func(context.Context) error) (*Response, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if expired == nil || relogin == nil || !expired(resp.Body) {
		return resp, nil
	}

	c.logger.Debug().Str("url", rawURL).Msg("Session looks expired, re-authenticating")
	if err := relogin(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Re-authentication failed, keeping original response")
		return resp, nil
	}

	refetched, err := c.Get(ctx, rawURL)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Refetch after re-authentication failed, keeping original response")
		return resp, nil
	}
	if expired(refetched.Body) {
		return resp, nil
	}
	return refetched, nil
}

// isTLSHandshakeError reports whether err is a failure to complete a
// TLS handshake, as opposed to an ordinary connection or HTTP error.
func isTLSHandshakeError(err error) bool {
	if err == nil {
		return false
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"tls:",
		"handshake failure",
		"protocol version not supported",
		"first record does not look like a TLS handshake",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
