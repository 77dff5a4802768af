package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorMatch(t *testing.T) {
	tests := []struct {
		name       string
		matchers   []Matcher
		body       string
		wantMatch  bool
		confidence float64
	}{
		{
			name:       "contains hit",
			matchers:   []Matcher{{Type: MatcherContains, Pattern: "SB8200"}},
			body:       "<title>ARRIS SB8200 Status</title>",
			wantMatch:  true,
			confidence: 0.70,
		},
		{
			name:       "contains is case insensitive",
			matchers:   []Matcher{{Type: MatcherContains, Pattern: "sb8200"}},
			body:       "<title>ARRIS SB8200</title>",
			wantMatch:  true,
			confidence: 0.70,
		},
		{
			name:       "regex outranks contains",
			matchers:   []Matcher{{Type: MatcherRegex, Pattern: `SB\d{4}`}},
			body:       "ARRIS SB8200",
			wantMatch:  true,
			confidence: 0.90,
		},
		{
			name:       "prefix hit",
			matchers:   []Matcher{{Type: MatcherPrefix, Pattern: "<!doctype"}},
			body:       "<!DOCTYPE html><html></html>",
			wantMatch:  true,
			confidence: 0.80,
		},
		{
			name: "multiple hits add a bonus",
			matchers: []Matcher{
				{Type: MatcherContains, Pattern: "SB8200"},
				{Type: MatcherRegex, Pattern: `connectionstatus`},
			},
			body:       "SB8200 cmconnectionstatus.html",
			wantMatch:  true,
			confidence: 0.95,
		},
		{
			name:      "miss",
			matchers:  []Matcher{{Type: MatcherContains, Pattern: "CM600"}},
			body:      "ARRIS SB8200",
			wantMatch: false,
		},
		{
			name:      "no matchers never match",
			matchers:  nil,
			body:      "anything at all",
			wantMatch: false,
		},
		{
			name:      "empty body never matches",
			matchers:  []Matcher{{Type: MatcherContains, Pattern: "SB8200"}},
			body:      "",
			wantMatch: false,
		},
		{
			name:      "invalid regex is a miss, not a panic",
			matchers:  []Matcher{{Type: MatcherRegex, Pattern: "(["}},
			body:      "anything",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Descriptor{ID: "test", Matchers: tt.matchers}
			confidence, ok := d.Match([]byte(tt.body))
			assert.Equal(t, tt.wantMatch, ok)
			if tt.wantMatch {
				assert.InDelta(t, tt.confidence, confidence, 0.001)
				assert.Less(t, confidence, 1.0, "heuristic confidence must stay below explicit selection")
			}
		})
	}
}

func TestRegistry_RegisterRejections(t *testing.T) {
	r := NewRegistry()
	factory := func() Parser { return fallbackParser{} }

	assert.Error(t, r.Register(Descriptor{}, factory), "missing id")
	assert.Error(t, r.Register(Descriptor{ID: "a"}, nil), "nil factory")

	require.NoError(t, r.Register(Descriptor{ID: "a"}, factory))
	assert.Error(t, r.Register(Descriptor{ID: "a"}, factory), "duplicate id")
}

func TestRegistry_CandidatesOrderAndFallbackExclusion(t *testing.T) {
	r := NewRegistry()
	factory := func() Parser { return fallbackParser{} }

	require.NoError(t, r.Register(Descriptor{ID: "low", Priority: 10}, factory))
	require.NoError(t, r.Register(Descriptor{ID: "b-mid", Priority: 50}, factory))
	require.NoError(t, r.Register(Descriptor{ID: "a-mid", Priority: 50}, factory))
	require.NoError(t, r.Register(Descriptor{ID: "high", Priority: 90}, factory))
	require.NoError(t, r.Register(Descriptor{ID: FallbackID, Priority: 100}, factory))

	candidates := r.Candidates()
	require.Len(t, candidates, 4)
	assert.Equal(t, "high", candidates[0].ID)
	assert.Equal(t, "a-mid", candidates[1].ID)
	assert.Equal(t, "b-mid", candidates[2].ID)
	assert.Equal(t, "low", candidates[3].ID)

	// The fallback stays reachable by explicit lookup.
	c, ok := r.Lookup(FallbackID)
	require.True(t, ok)
	assert.Equal(t, FallbackID, c.ID)
}

func TestRegistry_Match(t *testing.T) {
	r := BuiltinRegistry()

	c, binding, ok := r.Match([]byte(`<title>ARRIS SB8200 cmconnectionstatus</title>`))
	require.True(t, ok)
	assert.Equal(t, "arris-sb8200", c.ID)
	assert.Equal(t, "arris-sb8200", binding.CapabilityID)
	assert.Equal(t, MethodBodyMatch, binding.Method)
	assert.Greater(t, binding.Confidence, 0.0)
	assert.Less(t, binding.Confidence, 1.0)

	_, _, ok = r.Match([]byte("completely unrelated content"))
	assert.False(t, ok, "unmatched body must not bind, and must never bind to the fallback")
}

func TestExplicitBinding(t *testing.T) {
	b := ExplicitBinding("netgear-cm600")
	assert.Equal(t, "netgear-cm600", b.CapabilityID)
	assert.Equal(t, MethodExplicit, b.Method)
	assert.Equal(t, 1.0, b.Confidence)
}

func TestBuiltinRegistry(t *testing.T) {
	r := BuiltinRegistry()

	wantIDs := []string{
		"arris-sb6141",
		"arris-sb8200",
		"netgear-cm600",
		"motorola-mb8600",
		"virginmedia-hub5",
		FallbackID,
	}
	for _, id := range wantIDs {
		c, ok := r.Lookup(id)
		require.True(t, ok, "capability %s missing", id)
		assert.NotNil(t, c.NewParser(), "capability %s has no parser", id)
	}

	candidates := r.Candidates()
	assert.Len(t, candidates, len(wantIDs)-1)
	for _, c := range candidates {
		assert.NotEqual(t, FallbackID, c.ID)
	}
}

func TestModemDataAggregates(t *testing.T) {
	data := NewModemData()
	assert.True(t, data.Empty())
	assert.False(t, data.HasChannels())
	assert.Equal(t, int64(0), data.TotalCorrected())

	data.Downstream = []ChannelInfo{
		{ChannelID: 1, Corrected: 100, Uncorrected: 3},
		{ChannelID: 2, Corrected: 50, Uncorrected: 7},
	}
	data.Upstream = []ChannelInfo{{ChannelID: 1}}

	assert.False(t, data.Empty())
	assert.True(t, data.HasChannels())
	assert.Equal(t, int64(150), data.TotalCorrected())
	assert.Equal(t, int64(10), data.TotalUncorrected())

	infoOnly := NewModemData()
	infoOnly.SystemInfo["model_hint"] = "SB6141"
	assert.False(t, infoOnly.Empty())
	assert.False(t, infoOnly.HasChannels())
}
