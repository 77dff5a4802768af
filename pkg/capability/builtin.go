package capability

import "github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"

// BuiltinRegistry returns a registry holding the capabilities shipped
// with the binary. Descriptor IDs line up with the builtin model
// document IDs so an operator selection binds both at once.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, entry := range builtinEntries() {
		// Builtin descriptors are static; registration cannot collide.
		if err := r.Register(entry.desc, entry.factory); err != nil {
			panic(err)
		}
	}
	return r
}

type builtinEntry struct {
	desc    Descriptor
	factory ParserFactory
}

// DefaultForParadigm returns a synthetic capability wired to the
// generic parser family for a paradigm. Operator-supplied model
// documents whose ID is not in the registry decode through it.
func DefaultForParadigm(paradigm string) *Capability {
	switch paradigm {
	case modemcfg.ParadigmHNAP:
		return &Capability{
			Descriptor: Descriptor{ID: "generic-hnap", Paradigm: paradigm},
			newParser:  func() Parser { return hnapChannelParser{} },
		}
	case modemcfg.ParadigmREST:
		return &Capability{
			Descriptor: Descriptor{ID: "generic-rest", Paradigm: paradigm},
			newParser:  func() Parser { return restChannelParser{} },
		}
	case modemcfg.ParadigmHTML:
		return &Capability{
			Descriptor: Descriptor{ID: "generic-html", Paradigm: paradigm},
			newParser:  func() Parser { return htmlStatusParser{} },
		}
	default:
		return &Capability{
			Descriptor: Descriptor{ID: FallbackID, Paradigm: modemcfg.ParadigmHTML},
			newParser:  func() Parser { return fallbackParser{} },
		}
	}
}

func builtinEntries() []builtinEntry {
	return []builtinEntry{
		{
			desc: Descriptor{
				ID:       "arris-sb6141",
				Vendor:   "ARRIS",
				Model:    "SB6141",
				Paradigm: modemcfg.ParadigmHTML,
				Priority: 50,
				Matchers: []Matcher{
					{Type: MatcherContains, Pattern: "SB6141"},
					{Type: MatcherRegex, Pattern: `SURFboard.{0,40}(?:6141|Signal)`},
				},
			},
			factory: func() Parser { return htmlStatusParser{} },
		},
		{
			desc: Descriptor{
				ID:       "arris-sb8200",
				Vendor:   "ARRIS",
				Model:    "SB8200",
				Paradigm: modemcfg.ParadigmHTML,
				Priority: 60,
				Matchers: []Matcher{
					{Type: MatcherContains, Pattern: "SB8200"},
					{Type: MatcherContains, Pattern: "cmconnectionstatus"},
				},
			},
			factory: func() Parser { return htmlStatusParser{} },
		},
		{
			desc: Descriptor{
				ID:       "netgear-cm600",
				Vendor:   "NETGEAR",
				Model:    "CM600",
				Paradigm: modemcfg.ParadigmHTML,
				Priority: 55,
				Matchers: []Matcher{
					{Type: MatcherContains, Pattern: "CM600"},
					{Type: MatcherRegex, Pattern: `netgear.{0,80}cable\s*modem`},
				},
			},
			factory: func() Parser { return htmlStatusParser{} },
		},
		{
			// HNAP devices serve no useful HTML body, so these matchers
			// only ever see the login shell page.
			desc: Descriptor{
				ID:       "motorola-mb8600",
				Vendor:   "Motorola",
				Model:    "MB8600",
				Paradigm: modemcfg.ParadigmHNAP,
				Priority: 40,
				Matchers: []Matcher{
					{Type: MatcherContains, Pattern: "MB8600"},
					{Type: MatcherContains, Pattern: "MotoHome"},
				},
			},
			factory: func() Parser { return hnapChannelParser{} },
		},
		{
			desc: Descriptor{
				ID:       "virginmedia-hub5",
				Vendor:   "Virgin Media",
				Model:    "Hub 5",
				Paradigm: modemcfg.ParadigmREST,
				Priority: 45,
				Matchers: []Matcher{
					{Type: MatcherRegex, Pattern: `virgin\s*media`},
					{Type: MatcherContains, Pattern: `"cablemodem"`},
				},
			},
			factory: func() Parser { return restChannelParser{} },
		},
		{
			// Reachable only by explicit ID: no matchers, Candidates()
			// filters it, Match() never returns it.
			desc: Descriptor{
				ID:       FallbackID,
				Vendor:   "Unknown",
				Model:    "Unidentified device",
				Paradigm: modemcfg.ParadigmHTML,
				Priority: 0,
			},
			factory: func() Parser { return fallbackParser{} },
		},
	}
}
