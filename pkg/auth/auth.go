// Package auth implements the authentication families modem firmware
// uses: none, HTTP Basic, HTML form POST, the HNAP challenge handshake,
// and URL-embedded session tokens. Each family is a Strategy producing
// a Result; the discovery pipeline and the poll orchestrator treat all
// five uniformly.
package auth

import (
	"context"
	"fmt"
	"regexp"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

// Kind identifies an auth strategy family. The set is closed; New
// rejects anything else.
type Kind string

const (
	KindNone     Kind = "none"
	KindBasic    Kind = "basic"
	KindForm     Kind = "form"
	KindHNAP     Kind = "hnap"
	KindURLToken Kind = "urltoken"
)

// Result is the outcome of one authentication attempt. Body carries the
// authenticated response body when the strategy produced one; discovery
// feeds it to capability matching so no page is fetched twice. HNAP
// devices never produce a body.
type Result struct {
	Success  bool
	Strategy Kind
	Body     []byte
	Err      string
}

// Strategy performs one family's handshake against a device session.
type Strategy interface {
	// Kind names the family.
	Kind() Kind
	// Authenticate runs the handshake. It reports failure through the
	// Result, not an error: a wrong password is an outcome, not a fault.
	Authenticate(ctx context.Context, client *transport.Client, baseURL, username, password string) Result
}

// New returns the strategy for kind, configured from the model
// document. Strategies that need a config block (form, urltoken) reject
// documents that lack it.
func New(kind Kind, model *modemcfg.Model) (Strategy, error) {
	switch kind {
	case KindNone:
		return &NoAuth{}, nil
	case KindBasic:
		return &Basic{}, nil
	case KindForm:
		if model == nil || model.Auth.Form == nil {
			return nil, fmt.Errorf("form auth requires a form block in the model document")
		}
		return &Form{cfg: model.Auth.Form}, nil
	case KindURLToken:
		if model == nil || model.Auth.URLToken == nil {
			return nil, fmt.Errorf("urltoken auth requires a url_token block in the model document")
		}
		return &URLToken{cfg: model.Auth.URLToken}, nil
	case KindHNAP:
		var cfg *modemcfg.HNAPAuth
		if model != nil {
			cfg = model.Auth.HNAP
		}
		return NewHNAP(cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth strategy kind %q", kind)
	}
}

// KindFromStrategy maps a model document's auth strategy value to a Kind.
func KindFromStrategy(strategy string) (Kind, error) {
	switch strategy {
	case modemcfg.StrategyNone:
		return KindNone, nil
	case modemcfg.StrategyBasic:
		return KindBasic, nil
	case modemcfg.StrategyForm:
		return KindForm, nil
	case modemcfg.StrategyHNAP:
		return KindHNAP, nil
	case modemcfg.StrategyURLToken:
		return KindURLToken, nil
	default:
		return "", fmt.Errorf("unknown auth strategy %q", strategy)
	}
}

// loginPageRegex finds a password input in any quoting style firmware
// emits. Attribute order varies, so only the type attribute is matched.
var loginPageRegex = regexp.MustCompile(`(?i)<input[^>]*type\s*=\s*["']?password`)

// LooksLikeLoginPage reports whether body appears to be a login page.
// The signal is the presence of a password input. Data pages on every
// supported device are password-free, so a password field on a page
// that should carry channel tables means the session has expired.
func LooksLikeLoginPage(body []byte) bool {
	return loginPageRegex.Match(body)
}
