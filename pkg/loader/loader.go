// Package loader fetches the declared resource set for one poll cycle.
// Selection is purely declarative: the model document's paradigm picks
// the loader, and hnap documents always get the HNAP loader regardless
// of what any capability advertises. Loaders are resilient per
// resource: what fetches is returned, and only an empty haul is an
// error.
package loader

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/hnap"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

// Loader fetches one poll's resources, keyed by the declared resource
// name.
type Loader interface {
	Fetch(ctx context.Context) (map[string][]byte, error)
}

// ForModel selects and builds the loader for a model document. HNAP
// documents require the signer produced by a successful handshake.
func ForModel(model *modemcfg.Model, client *transport.Client, baseURL string, signer *hnap.Signer) (Loader, error) {
	switch model.Paradigm {
	case modemcfg.ParadigmHNAP:
		if signer == nil {
			return nil, fmt.Errorf("hnap documents need an authenticated signer")
		}
		return NewHNAPLoader(signer, model.Pages.HNAPActions), nil
	case modemcfg.ParadigmREST:
		return NewRESTLoader(client, baseURL, model.Pages), nil
	case modemcfg.ParadigmHTML:
		return NewHTMLLoader(client, baseURL, model.Pages.Data, model.Auth.URLToken), nil
	default:
		return nil, fmt.Errorf("no loader for paradigm %q", model.Paradigm)
	}
}

func sortedPageNames(pages map[string]string) []string {
	names := make([]string, 0, len(pages))
	for name := range pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HTMLLoader GETs each declared page. With URL-token auth config it
// appends the session token, read live from the jar each fetch so a
// mid-poll re-login is picked up; an absent cookie appends nothing.
type HTMLLoader struct {
	client  *transport.Client
	baseURL string
	pages   map[string]string
	token   *modemcfg.URLTokenAuth
	logger  zerolog.Logger
}

// NewHTMLLoader creates the loader for html-paradigm documents. token
// may be nil.
func NewHTMLLoader(client *transport.Client, baseURL string, pages map[string]string, token *modemcfg.URLTokenAuth) *HTMLLoader {
	return &HTMLLoader{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		pages:   pages,
		token:   token,
		logger:  log.With().Str("component", "loader").Str("paradigm", "html").Logger(),
	}
}

func (l *HTMLLoader) Fetch(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte, len(l.pages))
	var lastErr error
	for _, name := range sortedPageNames(l.pages) {
		path := l.pages[name]
		// HNAP endpoints only speak the RPC protocol; a document that
		// lists one here is misconfigured.
		if strings.Contains(strings.ToUpper(path), "/HNAP") {
			l.logger.Warn().Str("resource", name).Str("path", path).Msg("Skipping HNAP path declared as an HTML page")
			continue
		}

		resp, err := l.client.Get(ctx, l.pageURL(path))
		if err != nil {
			lastErr = err
			l.logger.Debug().Err(err).Str("resource", name).Msg("Page fetch failed")
			continue
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("resource %s returned status %d", name, resp.StatusCode)
			l.logger.Debug().Int("status", resp.StatusCode).Str("resource", name).Msg("Page fetch rejected")
			continue
		}
		out[name] = resp.Body
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no resources fetched: %w", lastErr)
		}
		return nil, fmt.Errorf("no fetchable resources declared")
	}
	return out, nil
}

func (l *HTMLLoader) pageURL(path string) string {
	u := l.baseURL + path
	if l.token == nil {
		return u
	}
	token := l.client.CookieValue(l.baseURL, l.token.TokenCookie)
	if token == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + l.token.TokenPrefix + token
}

// RESTLoader GETs each declared endpoint and folds the declared merge
// set into one JSON document under the merge key. Paths under /api/
// get a cache-busting timestamp and the XHR marker header some
// firmware requires.
type RESTLoader struct {
	client  *transport.Client
	baseURL string
	pages   modemcfg.Pages
	logger  zerolog.Logger

	now func() time.Time
}

// NewRESTLoader creates the loader for rest-paradigm documents.
func NewRESTLoader(client *transport.Client, baseURL string, pages modemcfg.Pages) *RESTLoader {
	return &RESTLoader{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		pages:   pages,
		logger:  log.With().Str("component", "loader").Str("paradigm", "rest").Logger(),
		now:     time.Now,
	}
}

func (l *RESTLoader) Fetch(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte, len(l.pages.Data))
	var lastErr error
	for _, name := range sortedPageNames(l.pages.Data) {
		path := l.pages.Data[name]
		u := l.baseURL + path
		var headers map[string]string
		if strings.Contains(path, "/api/") {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + "_=" + strconv.FormatInt(l.now().UnixMilli(), 10)
			headers = map[string]string{"X-Requested-With": "XMLHttpRequest"}
		}

		resp, err := l.client.GetWithHeaders(ctx, u, headers)
		if err != nil {
			lastErr = err
			l.logger.Debug().Err(err).Str("resource", name).Msg("Endpoint fetch failed")
			continue
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("resource %s returned status %d", name, resp.StatusCode)
			continue
		}
		out[name] = resp.Body
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no resources fetched: %w", lastErr)
		}
		return nil, fmt.Errorf("no fetchable resources declared")
	}

	l.mergeResources(out)
	return out, nil
}

// mergeResources folds the declared merge set into one document. A
// resource that fails to merge stays under its own name.
func (l *RESTLoader) mergeResources(out map[string][]byte) {
	if l.pages.MergeKey == "" {
		return
	}
	mergeSet := l.pages.Merge
	if len(mergeSet) == 0 {
		mergeSet = sortedPageNames(l.pages.Data)
	}

	merged := []byte("{}")
	folded := 0
	for _, name := range mergeSet {
		body, ok := out[name]
		if !ok {
			continue
		}
		next, err := jsonpatch.MergeMergePatches(merged, body)
		if err != nil {
			l.logger.Warn().Err(err).Str("resource", name).Msg("Resource did not merge, keeping it standalone")
			continue
		}
		merged = next
		folded++
		delete(out, name)
	}
	if folded > 0 {
		out[l.pages.MergeKey] = merged
	}
}

// HNAPLoader issues one batched GetMultipleHNAPs call for the declared
// actions and fans the unwrapped replies out as top-level entries. The
// signer stays exposed: the restart action reuses its session.
type HNAPLoader struct {
	signer  *hnap.Signer
	actions []string
	logger  zerolog.Logger
}

// NewHNAPLoader creates the loader for hnap-paradigm documents.
func NewHNAPLoader(signer *hnap.Signer, actions []string) *HNAPLoader {
	return &HNAPLoader{
		signer:  signer,
		actions: actions,
		logger:  log.With().Str("component", "loader").Str("paradigm", "hnap").Logger(),
	}
}

func (l *HNAPLoader) Fetch(ctx context.Context) (map[string][]byte, error) {
	if len(l.actions) == 0 {
		return nil, fmt.Errorf("no hnap actions declared")
	}
	replies, err := l.signer.CallMultiple(ctx, l.actions)
	if err != nil {
		return nil, fmt.Errorf("hnap batch failed: %w", err)
	}

	out := make(map[string][]byte, len(replies))
	for action, reply := range replies {
		out[action] = reply.Bytes()
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("hnap batch returned no replies")
	}
	return out, nil
}

// Signer returns the authenticated signer backing this loader.
func (l *HNAPLoader) Signer() *hnap.Signer {
	return l.signer
}
