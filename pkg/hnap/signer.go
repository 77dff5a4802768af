// Package hnap implements the HNAP session protocol spoken by Motorola
// and Arris HNAP firmware: a two-phase HMAC challenge login followed by
// per-request signed RPC calls.
//
// Every call is a POST to {baseURL}/HNAP1/ with a SOAPACTION header
// naming the action and a JSON body {"<Action>": {...}}. After login,
// every request carries an HNAP_AUTH header recomputed from the derived
// private key and the current timestamp; the header is never reused
// between requests.
package hnap

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

// DefaultEndpoint is the RPC path nearly all HNAP firmware serves.
const DefaultEndpoint = "/HNAP1/"

// DefaultNamespace is the SOAP namespace prefix for action URIs.
const DefaultNamespace = "http://purenetworks.com/HNAP1/"

// Digest choices for the HMAC chain.
const (
	DigestMD5    = "md5"
	DigestSHA256 = "sha256"
)

// withoutLoginKey signs requests made before a login completes. The
// literal value is part of the wire protocol.
const withoutLoginKey = "withoutloginkey"

// timestampModulus bounds the HNAP_AUTH timestamp, mirroring firmware
// expectations.
const timestampModulus = 2000000000000

// Options tune a signer for one firmware family.
type Options struct {
	Namespace string // defaults to DefaultNamespace
	Endpoint  string // defaults to DefaultEndpoint
	Digest    string // DigestMD5 (default) or DigestSHA256
}

// Signer drives the HNAP session for one device. It owns the derived
// private key cache, keyed by base URL, and exposes ClearKeys for the
// orchestrator to force a fresh handshake after repeated failures.
//
// A Signer is not safe for concurrent use; like the session client it
// wraps, it serves one device from one goroutine.
type Signer struct {
	client  *transport.Client
	baseURL string

	namespace string
	endpoint  string
	digest    string

	keys map[string]string

	logger zerolog.Logger
	now    func() time.Time
}

// NewSigner creates a signer over an existing session client.
func NewSigner(client *transport.Client, baseURL string, opts Options) *Signer {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Digest == "" {
		opts.Digest = DigestMD5
	}

	return &Signer{
		client:    client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		namespace: opts.Namespace,
		endpoint:  opts.Endpoint,
		digest:    opts.Digest,
		keys:      make(map[string]string),
		logger:    log.With().Str("component", "hnap").Logger(),
		now:       time.Now,
	}
}

// BaseURL returns the device base URL this signer signs for.
func (s *Signer) BaseURL() string {
	return s.baseURL
}

// Authenticated reports whether a login has derived a private key for
// this device.
func (s *Signer) Authenticated() bool {
	_, ok := s.keys[s.baseURL]
	return ok
}

// ClearKeys drops every cached private key. The next call signs with
// the pre-login key and will fail until Login runs again.
func (s *Signer) ClearKeys() {
	s.keys = make(map[string]string)
}

// Login performs the two-phase challenge handshake.
//
// Phase one requests a challenge and public key. The private key is
// HMAC(publicKey+password, challenge). Phase two proves possession by
// sending HMAC(privateKey, challenge) as the login password. Both
// phases are Login actions distinguished by their Action parameter.
func (s *Signer) Login(ctx context.Context, username, password string) error {
	resp, err := s.post(ctx, "Login", map[string]any{
		"Action":        "request",
		"Username":      username,
		"LoginPassword": "",
		"Captcha":       "",
		"PrivateLogin":  "LoginPassword",
	})
	if err != nil {
		return fmt.Errorf("hnap challenge request failed: %w", err)
	}

	challenge := stringAt(resp, "LoginResponse.Challenge", "Challenge")
	publicKey := stringAt(resp, "LoginResponse.PublicKey", "PublicKey")
	cookie := stringAt(resp, "LoginResponse.Cookie", "Cookie")
	if challenge == "" || publicKey == "" {
		return fmt.Errorf("hnap challenge response missing challenge or public key")
	}

	privateKey := s.hmacHex(publicKey+password, challenge)
	s.keys[s.baseURL] = privateKey
	s.seedSessionCookies(cookie, privateKey)

	resp, err = s.post(ctx, "Login", map[string]any{
		"Action":        "login",
		"Username":      username,
		"LoginPassword": s.hmacHex(privateKey, challenge),
		"Captcha":       "",
		"PrivateLogin":  "LoginPassword",
	})
	if err != nil {
		delete(s.keys, s.baseURL)
		return fmt.Errorf("hnap login failed: %w", err)
	}

	result := stringAt(resp, "LoginResponse.LoginResult", "LoginResult")
	if !strings.EqualFold(result, "OK") && !strings.EqualFold(result, "success") {
		delete(s.keys, s.baseURL)
		return fmt.Errorf("hnap login rejected: result %q", result)
	}

	s.logger.Debug().Str("base_url", s.baseURL).Msg("HNAP login complete")
	return nil
}

// Call invokes a single action and returns its unwrapped response.
// Firmware that skips the <Action>Response wrapper is handled.
func (s *Signer) Call(ctx context.Context, action string, params map[string]any) (*gabs.Container, error) {
	if params == nil {
		params = map[string]any{}
	}
	resp, err := s.post(ctx, action, params)
	if err != nil {
		return nil, err
	}
	if wrapped := resp.Path(action + "Response"); wrapped != nil {
		return wrapped, nil
	}
	return resp, nil
}

// CallMultiple batches actions into one GetMultipleHNAPs call and fans
// the per-action responses back out, keyed by action name. Actions the
// device did not answer are absent from the map.
func (s *Signer) CallMultiple(ctx context.Context, actions []string) (map[string]*gabs.Container, error) {
	if len(actions) == 0 {
		return map[string]*gabs.Container{}, nil
	}

	batch := map[string]any{}
	for _, action := range actions {
		batch[action] = ""
	}

	resp, err := s.post(ctx, "GetMultipleHNAPs", batch)
	if err != nil {
		return nil, err
	}

	body := resp
	if wrapped := resp.Path("GetMultipleHNAPsResponse"); wrapped != nil {
		body = wrapped
	}

	out := make(map[string]*gabs.Container, len(actions))
	for _, action := range actions {
		if r := body.Path(action + "Response"); r != nil {
			out[action] = r
		} else if r := body.Path(action); r != nil {
			out[action] = r
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("hnap batch response carried no action results")
	}
	return out, nil
}

// post signs and sends one action call, returning the parsed body.
func (s *Signer) post(ctx context.Context, action string, params any) (*gabs.Container, error) {
	payload, err := json.Marshal(map[string]any{action: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", action, err)
	}

	uri := `"` + s.namespace + action + `"`
	headers := map[string]string{
		"SOAPACTION": uri,
		"HNAP_AUTH":  s.authHeader(uri),
	}

	resp, err := s.client.Post(ctx, s.baseURL+s.endpoint, "application/json", payload, headers)
	if err != nil {
		return nil, fmt.Errorf("hnap call %s failed: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hnap call %s returned status %d", action, resp.StatusCode)
	}

	parsed, err := gabs.ParseJSON(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hnap call %s returned unparsable body: %w", action, err)
	}
	return parsed, nil
}

// authHeader computes HNAP_AUTH for one request: the signed timestamp
// plus action URI, space, timestamp. Always recomputed, never cached.
func (s *Signer) authHeader(quotedURI string) string {
	ts := strconv.FormatInt(s.now().UnixMilli()%timestampModulus, 10)
	key, ok := s.keys[s.baseURL]
	if !ok {
		key = withoutLoginKey
	}
	return s.hmacHex(key, ts+quotedURI) + " " + ts
}

// hmacHex computes the configured HMAC digest as uppercase hex, the
// form firmware compares against.
func (s *Signer) hmacHex(key, message string) string {
	var mac hash.Hash
	if s.digest == DigestSHA256 {
		mac = hmac.New(sha256.New, []byte(key))
	} else {
		mac = hmac.New(md5.New, []byte(key))
	}
	mac.Write([]byte(message))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// seedSessionCookies stores the uid and PrivateKey cookies some
// firmware requires alongside the HNAP_AUTH header.
func (s *Signer) seedSessionCookies(uid, privateKey string) {
	if uid == "" {
		return
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return
	}
	s.client.Jar().SetCookies(u, []*http.Cookie{
		{Name: "uid", Value: uid},
		{Name: "PrivateKey", Value: privateKey},
	})
}

// stringAt returns the first string value found at the given gabs
// paths. Response nesting varies between firmware generations.
func stringAt(c *gabs.Container, paths ...string) string {
	for _, p := range paths {
		if v := c.Path(p); v != nil {
			if str, ok := v.Data().(string); ok {
				return str
			}
		}
	}
	return ""
}
