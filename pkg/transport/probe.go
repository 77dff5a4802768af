package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/netutil"
)

// ProbeResult is the outcome of a connectivity check. Any HTTP status
// code counts as reachable: a 401 or a 500 still proves an embedded
// server is answering on that scheme.
type ProbeResult struct {
	Success   bool
	BaseURL   string
	UsesHTTPS bool
	LegacyTLS bool
	Error     string

	// Body holds the response body when reachability was established
	// by a GET. HEAD successes leave it nil. Discovery reuses it so the
	// same page is never fetched twice.
	Body []byte
}

// Probe finds a working scheme for a host. It shares the session
// client so cookies set during probing survive into authentication.
type Probe struct {
	client *Client
	logger zerolog.Logger
}

// NewProbe creates a probe over an existing session client.
func NewProbe(c *Client) *Probe {
	return &Probe{
		client: c,
		logger: log.With().Str("component", "probe").Logger(),
	}
}

// Check determines whether host is reachable and on which scheme.
//
// An explicit scheme in host pins the probe to that scheme. Otherwise
// the paradigm orders the candidates: hnap and rest firmware is
// https-first, plain html firmware is http-first. The first candidate
// that answers with any status code wins and probing stops.
func (p *Probe) Check(ctx context.Context, host, paradigm string) ProbeResult {
	scheme, bareHost, err := netutil.SplitHostInput(host)
	if err != nil {
		return ProbeResult{Error: err.Error()}
	}

	var candidates []string
	if scheme != "" {
		candidates = []string{scheme}
	} else {
		switch paradigm {
		case "hnap", "rest":
			candidates = []string{"https", "http"}
		default:
			candidates = []string{"http", "https"}
		}
	}

	var last ProbeResult
	for _, s := range candidates {
		baseURL := netutil.BaseURL(s, bareHost)
		last = p.CheckBase(ctx, baseURL)
		if last.Success {
			return last
		}
		p.logger.Debug().
			Str("base_url", baseURL).
			Str("error", last.Error).
			Msg("Probe candidate failed")
	}
	return last
}

// CheckBase probes one explicit base URL: HEAD first, GET when HEAD
// fails at the transport level, and a single legacy TLS retry when an
// https handshake is refused. The poll orchestrator calls it directly
// when spending its probe budget on known candidates.
func (p *Probe) CheckBase(ctx context.Context, baseURL string) ProbeResult {
	usesHTTPS := strings.HasPrefix(baseURL, "https://")

	resp, err := p.client.head(ctx, baseURL, false)
	if err == nil {
		return ProbeResult{Success: true, BaseURL: baseURL, UsesHTTPS: usesHTTPS}
	}

	headErr := err
	resp, err = p.client.get(ctx, baseURL, false)
	if err == nil {
		return ProbeResult{Success: true, BaseURL: baseURL, UsesHTTPS: usesHTTPS, Body: resp.Body}
	}

	if usesHTTPS && (isTLSHandshakeError(err) || isTLSHandshakeError(headErr)) {
		p.logger.Debug().Str("base_url", baseURL).Msg("TLS handshake refused, retrying with legacy cipher set")
		resp, legacyErr := p.client.get(ctx, baseURL, true)
		if legacyErr == nil {
			return ProbeResult{
				Success:   true,
				BaseURL:   baseURL,
				UsesHTTPS: true,
				LegacyTLS: true,
				Body:      resp.Body,
			}
		}
		err = legacyErr
	}

	return ProbeResult{BaseURL: baseURL, UsesHTTPS: usesHTTPS, Error: err.Error()}
}

// get issues a GET pinned to the modern or legacy client regardless of
// the session's sticky setting. Probe-internal.
func (c *Client) get(ctx context.Context, rawURL string, legacy bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, legacy)
}

// head is the HEAD counterpart of get.
func (c *Client) head(ctx context.Context, rawURL string, legacy bool) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, legacy)
}
