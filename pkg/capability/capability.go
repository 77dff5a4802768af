// Package capability matches devices to response-decoding capabilities
// and carries the decoded diagnostic data model. A capability pairs
// identity metadata and body-matching hints (Descriptor) with a Parser
// that turns fetched resources into ModemData. The registry holds the
// builtin set; the fallback capability is registered but only explicit
// lookup finds it.
package capability

import (
	"regexp"
	"strings"
)

// FallbackID names the minimal decoder for unidentified devices. It is
// excluded from candidate listings and from body matching: an operator
// must select it explicitly.
const FallbackID = "generic-fallback"

// MatcherType enumerates supported matcher styles.
type MatcherType string

// MatcherContains specifies a matcher type that checks if a body contains a substring.
const (
	MatcherContains MatcherType = "contains" // Case-insensitive substring match
	MatcherPrefix   MatcherType = "prefix"   // Case-insensitive prefix match
	MatcherRegex    MatcherType = "regex"    // Case-insensitive regex match
)

// Base confidence per matcher style. Regex hits are the most specific
// signal, bare substrings the least. Extra hits add a small bonus;
// heuristic confidence never reaches the 1.0 reserved for explicit
// operator selection.
const (
	confidenceContains = 0.70
	confidencePrefix   = 0.80
	confidenceRegex    = 0.90
	confidenceBonus    = 0.05
	confidenceCeiling  = 0.99
)

// Matcher defines how to evaluate a response body against one hint.
type Matcher struct {
	Type    MatcherType `yaml:"type" json:"type"`
	Pattern string      `yaml:"pattern" json:"pattern"`
}

// Descriptor describes how to recognize a specific modem model.
type Descriptor struct {
	ID       string    `yaml:"id" json:"id"`
	Vendor   string    `yaml:"vendor,omitempty" json:"vendor,omitempty"`
	Model    string    `yaml:"model,omitempty" json:"model,omitempty"`
	Paradigm string    `yaml:"paradigm" json:"paradigm"` // html, hnap, rest
	Matchers []Matcher `yaml:"matchers,omitempty" json:"matchers,omitempty"`
	Priority int       `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Match evaluates the descriptor's hints against a response body and
// returns a confidence score. A descriptor with no matchers never
// matches heuristically.
func (d *Descriptor) Match(body []byte) (float64, bool) {
	if len(body) == 0 || len(d.Matchers) == 0 {
		return 0, false
	}

	haystack := strings.ToLower(string(body))
	confidence := 0.0
	hits := 0
	for _, m := range d.Matchers {
		if !m.matches(haystack) {
			continue
		}
		hits++
		if base := m.base(); base > confidence {
			confidence = base
		}
	}
	if hits == 0 {
		return 0, false
	}

	confidence += float64(hits-1) * confidenceBonus
	if confidence > confidenceCeiling {
		confidence = confidenceCeiling
	}
	return confidence, true
}

// matches expects an already-lowercased haystack.
func (m Matcher) matches(haystack string) bool {
	pattern := strings.ToLower(m.Pattern)
	if pattern == "" {
		return false
	}
	switch m.Type {
	case MatcherContains:
		return strings.Contains(haystack, pattern)
	case MatcherPrefix:
		return strings.HasPrefix(haystack, pattern)
	case MatcherRegex:
		rx, err := regexp.Compile("(?i)" + m.Pattern)
		if err != nil {
			return false
		}
		return rx.MatchString(haystack)
	default:
		return false
	}
}

func (m Matcher) base() float64 {
	switch m.Type {
	case MatcherRegex:
		return confidenceRegex
	case MatcherPrefix:
		return confidencePrefix
	default:
		return confidenceContains
	}
}

// DetectionMethod records how a capability binding was established.
type DetectionMethod string

const (
	MethodExplicit  DetectionMethod = "explicit"   // operator selected the model
	MethodBodyMatch DetectionMethod = "body-match" // matched against an authenticated body
	MethodStored    DetectionMethod = "stored"     // restored from the state store
	MethodProbe     DetectionMethod = "probe"      // confirmed by candidate probing
)

// Binding ties a device to a capability. Confidence is 1.0 only for
// explicit selection; heuristic methods score lower.
type Binding struct {
	CapabilityID string          `json:"capability_id"`
	Method       DetectionMethod `json:"method"`
	Confidence   float64         `json:"confidence"`
}

// ExplicitBinding returns the full-confidence binding for an
// operator-selected capability.
func ExplicitBinding(id string) Binding {
	return Binding{CapabilityID: id, Method: MethodExplicit, Confidence: 1.0}
}

// Parser decodes fetched resources into the diagnostic data model.
// Implementations must tolerate missing resources: decode what is
// present, error only when nothing decodes.
type Parser interface {
	ParseResources(resources map[string][]byte) (*ModemData, error)
}

// ParserFactory creates a parser instance. Parsers may keep per-poll
// state, so the registry hands out fresh instances.
type ParserFactory func() Parser
