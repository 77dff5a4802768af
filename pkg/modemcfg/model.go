// Package modemcfg defines the model document: a declarative, per-device
// description of how a cable modem exposes its diagnostic data and how to
// authenticate against it. Documents are YAML, validated at load time,
// and never re-parsed per call.
//
// A document names the device paradigm (html, hnap, rest), the pages or
// RPC actions that carry diagnostic data, the auth strategy with its
// strategy-specific parameters, and optional device actions (restart).
package modemcfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Paradigm values. The paradigm selects the resource loader and the
// scheme order used by the connectivity probe.
const (
	ParadigmHTML = "html"
	ParadigmHNAP = "hnap"
	ParadigmREST = "rest"
)

// Auth strategy values.
const (
	StrategyNone     = "none"
	StrategyBasic    = "basic"
	StrategyForm     = "form"
	StrategyHNAP     = "hnap"
	StrategyURLToken = "urltoken"
)

// Restart action kinds.
const (
	RestartHNAPRPC  = "hnap-rpc"
	RestartHTMLForm = "html-form"
	RestartRESTCall = "rest-call"
)

// DefaultHNAPNamespace is the SOAP namespace most HNAP firmware uses.
const DefaultHNAPNamespace = "http://purenetworks.com/HNAP1/"

// Model is one device document.
type Model struct {
	ID       string `yaml:"id" validate:"required,min=1"`
	Vendor   string `yaml:"vendor"`
	Name     string `yaml:"name"`
	Paradigm string `yaml:"paradigm" validate:"required,oneof=html hnap rest"`

	Pages   Pages   `yaml:"pages"`
	Auth    Auth    `yaml:"auth"`
	Actions Actions `yaml:"actions"`

	// TimeoutSeconds overrides the transport default for slow firmware.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"omitempty,min=1,max=300"`
}

// Pages declares where diagnostic data lives.
type Pages struct {
	// Data maps a semantic resource name to a page path
	// (html and rest paradigms).
	Data map[string]string `yaml:"data"`

	// HNAPActions lists the RPC actions batched into one
	// GetMultipleHNAPs call (hnap paradigm).
	HNAPActions []string `yaml:"hnap_actions"`

	// Merge names the data resources whose JSON bodies are folded into
	// a single document under MergeKey (rest paradigm). Empty with a
	// non-empty MergeKey means fold everything.
	Merge    []string `yaml:"merge"`
	MergeKey string   `yaml:"merge_key"`

	// Logout is an optional page that releases the web session after a
	// poll. Most firmware allows a single concurrent session; without a
	// logout the poller locks the operator out of the UI.
	Logout string `yaml:"logout"`
}

// Auth selects the authentication strategy and carries its parameters.
// Exactly the block matching Strategy must be present; the rest stay nil.
type Auth struct {
	Strategy string        `yaml:"strategy" validate:"required,oneof=none basic form hnap urltoken"`
	Form     *FormAuth     `yaml:"form"`
	HNAP     *HNAPAuth     `yaml:"hnap"`
	URLToken *URLTokenAuth `yaml:"url_token"`
}

// FormAuth describes an HTML form login.
type FormAuth struct {
	ActionPath    string            `yaml:"action_path" validate:"required,min=1"`
	UsernameField string            `yaml:"username_field" validate:"required,min=1"`
	PasswordField string            `yaml:"password_field" validate:"required,min=1"`
	Extra         map[string]string `yaml:"extra"`
}

// HNAPAuth tunes the HNAP challenge handshake.
type HNAPAuth struct {
	Namespace string `yaml:"namespace"`
	Digest    string `yaml:"digest" validate:"omitempty,oneof=md5 sha256"`
}

// URLTokenAuth describes the login-in-URL session protocol: credentials
// ride a query parameter on the data page, the session token comes back
// in a cookie or the response body, and reads carry the token as a query
// parameter.
type URLTokenAuth struct {
	DataPage    string `yaml:"data_page" validate:"required,min=1"`
	LoginPrefix string `yaml:"login_prefix"`
	TokenCookie string `yaml:"token_cookie"`
	TokenPrefix string `yaml:"token_prefix"`

	// TokenInBody enables two-step mode: the token is the response body
	// of the login GET, not a cookie value.
	TokenInBody bool `yaml:"token_in_body"`
}

// Actions declares the device actions a document supports.
type Actions struct {
	Restart *RestartAction `yaml:"restart"`
}

// RestartAction declares how to reboot the device.
type RestartAction struct {
	Type       string         `yaml:"type" validate:"required,oneof=hnap-rpc html-form rest-call"`
	Endpoint   string         `yaml:"endpoint"`    // html-form and rest-call
	ActionName string         `yaml:"action_name"` // hnap-rpc
	Params     map[string]any `yaml:"params"`
}

// Load reads and parses a model document from a file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model document: %w", err)
	}
	return Parse(data)
}

// Parse parses a model document from bytes, applies defaults, and
// validates it. The returned Model is ready for use.
func Parse(data []byte) (*Model, error) {
	m := &Model{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse model document: %w", err)
	}
	m.Normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Normalize fills defaulted fields in place. Parse calls it; hand-built
// documents should call it before Validate.
func (m *Model) Normalize() {
	if m.TimeoutSeconds == 0 {
		m.TimeoutSeconds = 10
	}
	if m.Auth.Strategy == StrategyHNAP {
		if m.Auth.HNAP == nil {
			m.Auth.HNAP = &HNAPAuth{}
		}
		if m.Auth.HNAP.Namespace == "" {
			m.Auth.HNAP.Namespace = DefaultHNAPNamespace
		}
		if m.Auth.HNAP.Digest == "" {
			m.Auth.HNAP.Digest = "md5"
		}
	}
	if m.Auth.URLToken != nil {
		if m.Auth.URLToken.LoginPrefix == "" {
			m.Auth.URLToken.LoginPrefix = "login_"
		}
		if m.Auth.URLToken.TokenPrefix == "" {
			m.Auth.URLToken.TokenPrefix = "ct_"
		}
		// Two-step firmware issues no cookie of its own; the token still
		// lives in the jar under a synthetic name so loaders read from
		// one place.
		if m.Auth.URLToken.TokenInBody && m.Auth.URLToken.TokenCookie == "" {
			m.Auth.URLToken.TokenCookie = "credential"
		}
	}
}

// Timeout returns the per-device HTTP timeout as a duration.
func (m *Model) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// HasRestart reports whether the document declares a restart action.
func (m *Model) HasRestart() bool {
	return m.Actions.Restart != nil
}
