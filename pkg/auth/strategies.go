package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/hnap"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

// minAuthedBodyBytes separates real data pages from the tiny error
// stubs some firmware serves on a failed form login.
const minAuthedBodyBytes = 64

var authLogger = log.With().Str("component", "auth").Logger()

// NoAuth succeeds without touching the device.
type NoAuth struct{}

func (NoAuth) Kind() Kind { return KindNone }

func (NoAuth) Authenticate(ctx context.Context, client *transport.Client, baseURL, username, password string) Result {
	return Result{Success: true, Strategy: KindNone}
}

// Basic attaches HTTP Basic credentials to the session and confirms
// them with one GET. The credentials ride every later request.
type Basic struct{}

func (Basic) Kind() Kind { return KindBasic }

func (Basic) Authenticate(ctx context.Context, client *transport.Client, baseURL, username, password string) Result {
	client.SetBasicAuth(username, password)

	resp, err := client.Get(ctx, baseURL)
	if err != nil {
		client.ClearBasicAuth()
		return Result{Strategy: KindBasic, Err: err.Error()}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		client.ClearBasicAuth()
		return Result{
			Strategy: KindBasic,
			Body:     resp.Body,
			Err:      fmt.Sprintf("credentials rejected with status %d", resp.StatusCode),
		}
	}
	return Result{Success: true, Strategy: KindBasic, Body: resp.Body}
}

// Form POSTs credentials to the document's login form. The plaintext
// password goes first; some firmware only accepts a base64-encoded
// variant, so that is tried second. Success means the response is a
// real page: big enough and free of a password input.
type Form struct {
	cfg *modemcfg.FormAuth
}

func (*Form) Kind() Kind { return KindForm }

func (f *Form) Authenticate(ctx context.Context, client *transport.Client, baseURL, username, password string) Result {
	variants := []string{password}
	if encoded := base64.StdEncoding.EncodeToString([]byte(password)); encoded != password {
		variants = append(variants, encoded)
	}

	var lastBody []byte
	var lastErr string
	for _, pw := range variants {
		values := url.Values{
			f.cfg.UsernameField: {username},
			f.cfg.PasswordField: {pw},
		}
		for k, v := range f.cfg.Extra {
			values.Set(k, v)
		}

		resp, err := client.PostForm(ctx, baseURL+f.cfg.ActionPath, values)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		if f.accepted(resp.Body) {
			return Result{Success: true, Strategy: KindForm, Body: resp.Body}
		}
		lastBody = resp.Body
		authLogger.Debug().Str("base_url", baseURL).Msg("Form login variant rejected")
	}

	if lastErr == "" {
		lastErr = "login form re-served (invalid credentials?)"
	}
	return Result{Strategy: KindForm, Body: lastBody, Err: lastErr}
}

func (f *Form) accepted(body []byte) bool {
	return len(body) >= minAuthedBodyBytes && !LooksLikeLoginPage(body)
}

// URLToken logs in by riding credentials on the data page URL and
// expects a session token back, either as a cookie or, on stricter
// firmware, as the whole response body ("two-step" mode). The token is
// always stored in the cookie jar so loaders have a single live source.
type URLToken struct {
	cfg *modemcfg.URLTokenAuth
}

func (*URLToken) Kind() Kind { return KindURLToken }

func (u *URLToken) Authenticate(ctx context.Context, client *transport.Client, baseURL, username, password string) Result {
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	loginURL := baseURL + u.cfg.DataPage + "?" + u.cfg.LoginPrefix + creds

	resp, err := client.Get(ctx, loginURL)
	if err != nil {
		return Result{Strategy: KindURLToken, Err: err.Error()}
	}

	token := client.CookieValue(baseURL, u.cfg.TokenCookie)
	if token == "" && u.cfg.TokenInBody {
		if candidate := strings.TrimSpace(string(resp.Body)); plausibleToken(candidate) {
			token = candidate
			client.SetSessionCookie(baseURL, u.cfg.TokenCookie, token)
		}
	}

	if token == "" {
		return Result{
			Strategy: KindURLToken,
			Body:     resp.Body,
			Err:      "no session token issued (invalid credentials?)",
		}
	}
	return Result{Success: true, Strategy: KindURLToken, Body: resp.Body}
}

// HNAP wraps the hnap.Signer handshake. The signer built during a
// successful handshake is kept: loaders batch reads through it and the
// restart action reuses it.
type HNAP struct {
	cfg       *modemcfg.HNAPAuth
	newSigner func(*transport.Client, string, hnap.Options) *hnap.Signer
	signer    *hnap.Signer
}

// NewHNAP creates the HNAP strategy. cfg may be nil; protocol defaults
// apply.
func NewHNAP(cfg *modemcfg.HNAPAuth) *HNAP {
	return &HNAP{cfg: cfg, newSigner: hnap.NewSigner}
}

func (*HNAP) Kind() Kind { return KindHNAP }

func (h *HNAP) Authenticate(ctx context.Context, client *transport.Client, baseURL, username, password string) Result {
	opts := hnap.Options{}
	if h.cfg != nil {
		opts.Namespace = h.cfg.Namespace
		opts.Digest = h.cfg.Digest
	}

	base := strings.TrimSuffix(baseURL, "/")
	if h.signer == nil || h.signer.BaseURL() != base {
		h.signer = h.newSigner(client, baseURL, opts)
	}

	if err := h.signer.Login(ctx, username, password); err != nil {
		return Result{Strategy: KindHNAP, Err: err.Error()}
	}
	// No body: HNAP devices serve data over the RPC channel only.
	return Result{Success: true, Strategy: KindHNAP}
}

// Signer returns the signer from the most recent handshake, or nil.
func (h *HNAP) Signer() *hnap.Signer {
	return h.signer
}

// plausibleToken rejects bodies that are clearly pages, not tokens.
func plausibleToken(s string) bool {
	if s == "" || len(s) > 512 {
		return false
	}
	return !strings.ContainsAny(s, "<> \n\t")
}
