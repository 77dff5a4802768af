// Package poller is the polling state machine. One Orchestrator serves
// one device: it owns the sticky transport config, the authenticated
// session, the capability binding, and the HNAP signer across poll
// cycles, and degrades instead of failing when the device stops
// cooperating.
//
// Callers serialize access themselves: one poll of a device in flight
// at a time. The orchestrator runs no goroutines of its own.
package poller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/auth"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/discovery"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/health"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/hnap"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/loader"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/statestore"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

// Poll cycle defaults.
const (
	DefaultPerCandidateProbes = 2
	DefaultGlobalProbes       = 6
	DefaultFailureThreshold   = 2
)

// PollResult status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Step markers recorded on degraded results.
const (
	StepTransport  = "transport"
	StepCapability = "capability"
	StepAuth       = "auth"
	StepFetch      = "fetch"
	StepDecode     = "decode"
)

// ProbeBudget bounds capability probing in one cycle. Global caps the
// total probe requests; PerCandidate caps how many of a single
// candidate's pages are fetched before moving to the next.
type ProbeBudget struct {
	PerCandidate int
	Global       int
}

// spend consumes one request from the global budget.
func (b *ProbeBudget) spend() bool {
	if b.Global <= 0 {
		return false
	}
	b.Global--
	return true
}

func (b *ProbeBudget) exhausted() bool {
	return b.Global <= 0
}

// Aggregates are the derived counters computed from one decoded
// snapshot.
type Aggregates struct {
	DownstreamCount  int   `json:"downstream_count"`
	UpstreamCount    int   `json:"upstream_count"`
	TotalCorrected   int64 `json:"total_corrected"`
	TotalUncorrected int64 `json:"total_uncorrected"`
}

// PollResult is the outcome of one poll cycle. Degraded results carry
// the step that failed and a human-readable reason; they are ordinary
// values, not errors.
type PollResult struct {
	Status       string `json:"status"`
	Host         string `json:"host"`
	BaseURL      string `json:"base_url,omitempty"`
	CycleID      string `json:"cycle_id"`
	CapabilityID string `json:"capability_id,omitempty"`
	AuthStrategy string `json:"auth_strategy,omitempty"`

	Downstream []capability.ChannelInfo `json:"downstream,omitempty"`
	Upstream   []capability.ChannelInfo `json:"upstream,omitempty"`
	SystemInfo map[string]string        `json:"system_info,omitempty"`
	Aggregates Aggregates               `json:"aggregates"`

	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`

	FetchedAt time.Time     `json:"fetched_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// Degraded reports whether the cycle failed to produce data.
func (r *PollResult) Degraded() bool {
	return r.Status == StatusDegraded
}

// Options configures an Orchestrator.
type Options struct {
	Host     string
	Username string
	Password string

	// Model is an operator-selected document. It survives cache drops.
	Model *modemcfg.Model

	// ExplicitCapability pins the capability by id without matching.
	// This is the only way the generic fallback gets selected.
	ExplicitCapability string

	// Budget bounds capability probing per cycle. Zero fields take the
	// defaults.
	Budget ProbeBudget

	// FailureThreshold is how many consecutive degraded cycles are
	// tolerated before cached transport, auth, and capability state is
	// dropped and rediscovered.
	FailureThreshold int

	// Failures is the shared counter, usually owned by whoever runs the
	// health checks. A private counter is created when nil.
	Failures *health.ConsecutiveFailures
}

// Orchestrator drives poll cycles against one device.
type Orchestrator struct {
	client   *transport.Client
	registry *capability.Registry
	logger   zerolog.Logger

	host     string
	username string
	password string

	declared           *modemcfg.Model
	explicitCapability string

	budget           ProbeBudget
	failureThreshold int
	failures         *health.ConsecutiveFailures

	// Hints restored from the state store.
	storedCapability string
	storedModelID    string
	storedStrategy   string

	// Per-device caches. A run of degraded cycles drops them together.
	transport *transport.Config
	model     *modemcfg.Model
	entry     *capability.Capability
	binding   capability.Binding
	strategy  auth.Strategy
	signer    *hnap.Signer

	// landingBody holds the most recent connectivity probe body so
	// capability matching does not re-fetch a page already in hand.
	landingBody []byte
}

// New creates an orchestrator for one device.
func New(client *transport.Client, registry *capability.Registry, opts Options) *Orchestrator {
	if opts.Budget.PerCandidate <= 0 {
		opts.Budget.PerCandidate = DefaultPerCandidateProbes
	}
	if opts.Budget.Global <= 0 {
		opts.Budget.Global = DefaultGlobalProbes
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Failures == nil {
		opts.Failures = &health.ConsecutiveFailures{}
	}

	o := &Orchestrator{
		client:             client,
		registry:           registry,
		logger:             log.With().Str("component", "poller").Str("host", opts.Host).Logger(),
		host:               opts.Host,
		username:           opts.Username,
		password:           opts.Password,
		declared:           opts.Model,
		explicitCapability: opts.ExplicitCapability,
		budget:             opts.Budget,
		failureThreshold:   opts.FailureThreshold,
		failures:           opts.Failures,
	}
	o.model = opts.Model
	return o
}

// Restore seeds the orchestrator from persisted device state. Stored
// values are hints: they are re-validated in use and dropped when they
// stop working.
func (o *Orchestrator) Restore(state *statestore.DeviceState) {
	if state == nil {
		return
	}
	if state.BaseURL != "" {
		o.transport = &transport.Config{
			BaseURL:   state.BaseURL,
			UsesHTTPS: state.UsesHTTPS,
			LegacyTLS: state.LegacyTLS,
		}
		o.client.SetLegacyTLS(state.LegacyTLS)
	}
	o.storedCapability = state.CapabilityID
	o.storedModelID = state.ModelID
	o.storedStrategy = state.AuthStrategy
	o.logger.Debug().
		Str("base_url", state.BaseURL).
		Str("capability_id", state.CapabilityID).
		Str("auth_strategy", state.AuthStrategy).
		Msg("Restored device state")
}

// Snapshot captures the current session state for persistence, or nil
// when nothing has been learned yet.
func (o *Orchestrator) Snapshot() *statestore.DeviceState {
	if o.transport == nil {
		return nil
	}
	state := &statestore.DeviceState{
		Host:         o.host,
		BaseURL:      o.transport.BaseURL,
		UsesHTTPS:    o.transport.UsesHTTPS,
		LegacyTLS:    o.transport.LegacyTLS,
		CapabilityID: o.binding.CapabilityID,
		AuthStrategy: o.storedStrategy,
	}
	if o.strategy != nil {
		state.AuthStrategy = string(o.strategy.Kind())
	}
	if o.model != nil {
		state.ModelID = o.model.ID
	}
	return state
}

// Host returns the operator-supplied device address.
func (o *Orchestrator) Host() string {
	return o.host
}

// GetModemData runs one poll cycle. It never fails: when the device
// cannot be reached, identified, or decoded, the result is degraded
// with the failing step and reason recorded. A best-effort logout runs
// on every exit path.
func (o *Orchestrator) GetModemData(ctx context.Context) PollResult {
	started := time.Now()
	result := PollResult{
		Status:    StatusOK,
		Host:      o.host,
		CycleID:   uuid.New().String(),
		FetchedAt: started.UTC(),
	}
	logger := o.logger.With().Str("cycle_id", result.CycleID).Logger()
	logger.Debug().Msg("Poll cycle starting")

	defer o.logout(ctx, logger)

	if err := o.ensureTransport(ctx, logger); err != nil {
		return o.degrade(result, started, StepTransport, err, logger)
	}
	result.BaseURL = o.transport.BaseURL

	if err := o.ensureCapability(ctx, logger); err != nil {
		return o.degrade(result, started, StepCapability, err, logger)
	}
	result.CapabilityID = o.binding.CapabilityID

	authResult, err := o.authenticate(ctx, logger)
	if err != nil {
		return o.degrade(result, started, StepAuth, err, logger)
	}
	result.AuthStrategy = string(authResult.Strategy)

	resources, err := o.fetchResources(ctx, logger)
	if err != nil {
		return o.degrade(result, started, StepFetch, err, logger)
	}

	data, err := o.entry.NewParser().ParseResources(resources)
	if err != nil {
		return o.degrade(result, started, StepDecode, err, logger)
	}

	result.Downstream = data.Downstream
	result.Upstream = data.Upstream
	result.SystemInfo = data.SystemInfo
	result.Aggregates = Aggregates{
		DownstreamCount:  len(data.Downstream),
		UpstreamCount:    len(data.Upstream),
		TotalCorrected:   data.TotalCorrected(),
		TotalUncorrected: data.TotalUncorrected(),
	}
	result.Elapsed = time.Since(started)

	if !data.HasChannels() {
		logger.Warn().Msg("Decoded no channels, reporting system info only")
	}

	o.failures.RecordSuccess()
	logger.Info().
		Int("downstream", result.Aggregates.DownstreamCount).
		Int("upstream", result.Aggregates.UpstreamCount).
		Dur("elapsed", result.Elapsed).
		Msg("Poll cycle complete")
	return result
}

// degrade finalizes a failed cycle. Crossing the consecutive-failure
// threshold drops every cache so the next cycle rediscovers from
// scratch.
func (o *Orchestrator) degrade(result PollResult, started time.Time, step string, err error, logger zerolog.Logger) PollResult {
	result.Status = StatusDegraded
	result.FailedStep = step
	result.Error = err.Error()
	result.Elapsed = time.Since(started)

	count := o.failures.RecordFailure()
	logger.Warn().
		Str("step", step).
		Int("consecutive_failures", count).
		Err(err).
		Msg("Poll cycle degraded")

	if count >= o.failureThreshold {
		logger.Warn().
			Int("threshold", o.failureThreshold).
			Msg("Failure threshold crossed, dropping cached transport, auth, and capability state")
		o.dropCaches()
	}
	return result
}

// dropCaches clears everything learned about the device. Operator
// selections (declared model, explicit capability) survive.
func (o *Orchestrator) dropCaches() {
	o.transport = nil
	o.entry = nil
	o.binding = capability.Binding{}
	o.strategy = nil
	if o.signer != nil {
		o.signer.ClearKeys()
		o.signer = nil
	}
	o.model = o.declared
	o.landingBody = nil
}

// ensureTransport establishes a working base URL. The first successful
// probe makes the base URL sticky; later cycles reuse it without
// re-probing until a failure run drops it.
func (o *Orchestrator) ensureTransport(ctx context.Context, logger zerolog.Logger) error {
	if o.transport != nil {
		return nil
	}

	paradigm := ""
	if o.model != nil {
		paradigm = o.model.Paradigm
	}
	probe := transport.NewProbe(o.client).Check(ctx, o.host, paradigm)
	if !probe.Success {
		return fmt.Errorf("no transport candidate responded: %s", probe.Error)
	}

	o.client.SetLegacyTLS(probe.LegacyTLS)
	o.transport = &transport.Config{
		BaseURL:   probe.BaseURL,
		UsesHTTPS: probe.UsesHTTPS,
		LegacyTLS: probe.LegacyTLS,
	}
	o.landingBody = probe.Body
	logger.Info().
		Str("base_url", probe.BaseURL).
		Bool("legacy_tls", probe.LegacyTLS).
		Msg("Transport established")
	return nil
}

// ensureCapability resolves which capability decodes this device.
// Resolution order: explicit selection, declared model document,
// stored binding, then network probing under the budget.
func (o *Orchestrator) ensureCapability(ctx context.Context, logger zerolog.Logger) error {
	if o.entry == nil {
		if err := o.resolveCapability(ctx, logger); err != nil {
			return err
		}
	}
	if o.model == nil {
		return fmt.Errorf("no model document for capability %s", o.binding.CapabilityID)
	}
	return nil
}

func (o *Orchestrator) resolveCapability(ctx context.Context, logger zerolog.Logger) error {
	if o.explicitCapability != "" {
		entry, ok := o.registry.Lookup(o.explicitCapability)
		if !ok {
			return fmt.Errorf("%w: %s", capability.ErrNotFound, o.explicitCapability)
		}
		o.bind(entry, capability.ExplicitBinding(entry.ID), logger)
		return nil
	}

	if o.declared != nil {
		entry, ok := o.registry.Lookup(o.declared.ID)
		if !ok {
			// Operator-supplied documents outside the registry decode
			// through the generic parser family for their paradigm.
			entry = capability.DefaultForParadigm(o.declared.Paradigm)
		}
		o.bind(entry, capability.ExplicitBinding(entry.ID), logger)
		return nil
	}

	if o.storedCapability != "" {
		if entry, ok := o.registry.Lookup(o.storedCapability); ok {
			o.bind(entry, capability.Binding{
				CapabilityID: entry.ID,
				Method:       capability.MethodStored,
				Confidence:   1.0,
			}, logger)
			return nil
		}
		logger.Warn().
			Str("capability_id", o.storedCapability).
			Msg("Stored capability no longer registered, reprobing")
		o.storedCapability = ""
	}

	return o.probeCapability(ctx, logger)
}

// probeCapability identifies an unknown device. The anonymous phase
// matches the landing page already fetched by the connectivity probe;
// the candidate phase walks the catalog in priority order fetching each
// candidate's declared pages. Both phases share one budget and the
// fallback capability is excluded from both.
func (o *Orchestrator) probeCapability(ctx context.Context, logger zerolog.Logger) error {
	budget := o.budget

	body := o.landingBody
	o.landingBody = nil
	if len(body) == 0 && budget.spend() {
		if resp, err := o.client.Get(ctx, o.transport.BaseURL); err == nil {
			body = resp.Body
		}
	}
	if entry, binding, ok := o.registry.Match(body); ok {
		logger.Debug().Str("capability_id", entry.ID).Msg("Landing page matched")
		o.bind(entry, binding, logger)
		return nil
	}

	for _, cand := range o.registry.Candidates() {
		if budget.exhausted() {
			break
		}
		model := modemcfg.BuiltinByID(cand.ID)
		if model == nil || len(model.Pages.Data) == 0 {
			continue
		}
		remaining := budget.PerCandidate
		for _, name := range sortedPageNames(model.Pages.Data) {
			if remaining == 0 || !budget.spend() {
				break
			}
			remaining--
			resp, err := o.client.Get(ctx, o.transport.BaseURL+model.Pages.Data[name])
			if err != nil || len(resp.Body) == 0 {
				continue
			}
			confidence, ok := cand.Match(resp.Body)
			if !ok {
				continue
			}
			o.bind(cand, capability.Binding{
				CapabilityID: cand.ID,
				Method:       capability.MethodProbe,
				Confidence:   confidence,
			}, logger)
			return nil
		}
	}

	return fmt.Errorf("%w: probing exhausted its budget without a match", capability.ErrNotFound)
}

func (o *Orchestrator) bind(entry *capability.Capability, binding capability.Binding, logger zerolog.Logger) {
	o.entry = entry
	o.binding = binding
	if o.model == nil {
		if o.storedModelID != "" {
			o.model = modemcfg.BuiltinByID(o.storedModelID)
		}
		if o.model == nil {
			o.model = modemcfg.BuiltinByID(binding.CapabilityID)
		}
	}
	if o.model != nil {
		o.client.SetTimeout(o.model.Timeout())
	}
	logger.Info().
		Str("capability_id", binding.CapabilityID).
		Str("method", string(binding.Method)).
		Float64("confidence", binding.Confidence).
		Msg("Capability bound")
}

// authenticate opens a device session. The cached strategy is tried
// first; on failure the hint list from the model document and stored
// state is walked. No credentials or no applicable strategy means the
// device is assumed open.
func (o *Orchestrator) authenticate(ctx context.Context, logger zerolog.Logger) (auth.Result, error) {
	if o.username == "" && o.password == "" {
		return auth.Result{Success: true, Strategy: auth.KindNone}, nil
	}

	var last auth.Result
	if o.strategy != nil {
		last = o.strategy.Authenticate(ctx, o.client, o.transport.BaseURL, o.username, o.password)
		if last.Success {
			o.captureSigner()
			return last, nil
		}
		logger.Debug().
			Str("strategy", string(o.strategy.Kind())).
			Str("err", last.Err).
			Msg("Cached auth strategy failed, retrying from hints")
	}

	attempted := o.strategy != nil
	for _, kind := range discovery.HintedKinds(o.model, o.storedStrategy) {
		if o.strategy != nil && kind == o.strategy.Kind() {
			continue
		}
		strategy, err := auth.New(kind, o.model)
		if err != nil {
			logger.Debug().Str("kind", string(kind)).Err(err).Msg("Auth strategy not constructible, skipping")
			continue
		}
		attempted = true
		result := strategy.Authenticate(ctx, o.client, o.transport.BaseURL, o.username, o.password)
		if result.Success {
			o.strategy = strategy
			o.captureSigner()
			logger.Info().Str("strategy", string(kind)).Msg("Authenticated")
			return result, nil
		}
		last = result
	}

	if !attempted {
		// Credentials supplied but nothing names a strategy. Treat the
		// device as open rather than inventing a handshake.
		logger.Debug().Msg("No auth strategy applies, assuming no auth")
		o.strategy = &auth.NoAuth{}
		return auth.Result{Success: true, Strategy: auth.KindNone}, nil
	}
	if last.Err == "" {
		last.Err = "all auth strategies failed"
	}
	return last, fmt.Errorf("authentication failed: %s", last.Err)
}

func (o *Orchestrator) captureSigner() {
	if h, ok := o.strategy.(*auth.HNAP); ok {
		o.signer = h.Signer()
	}
}

// fetchResources pulls the declared resources through the paradigm
// loader, recovering once from a silently expired session: when a
// fetched page looks like a login page, re-authenticate and re-fetch.
// If the second haul is no better, the first is returned as-is.
func (o *Orchestrator) fetchResources(ctx context.Context, logger zerolog.Logger) (map[string][]byte, error) {
	ld, err := loader.ForModel(o.model, o.client, o.transport.BaseURL, o.signer)
	if err != nil {
		return nil, err
	}

	resources, err := ld.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("resource fetch failed: %w", err)
	}
	if !o.sessionExpired(resources) {
		return resources, nil
	}

	logger.Info().Msg("Fetched pages look like a login page, re-authenticating once")
	result := o.strategy.Authenticate(ctx, o.client, o.transport.BaseURL, o.username, o.password)
	if !result.Success {
		logger.Warn().Str("err", result.Err).Msg("Re-authentication failed, keeping original fetch")
		return resources, nil
	}
	refetched, err := ld.Fetch(ctx)
	if err != nil || o.sessionExpired(refetched) {
		logger.Warn().Msg("Re-fetch after re-authentication did not improve, keeping original fetch")
		return resources, nil
	}
	return refetched, nil
}

// sessionExpired reports whether any fetched resource is a login page.
// Only meaningful for authenticated sessions; open devices may embed a
// login widget on status pages.
func (o *Orchestrator) sessionExpired(resources map[string][]byte) bool {
	if o.strategy == nil || o.strategy.Kind() == auth.KindNone {
		return false
	}
	for _, body := range resources {
		if auth.LooksLikeLoginPage(body) {
			return true
		}
	}
	return false
}

// logout releases the device's web session when the document declares a
// logout page. Most firmware allows one concurrent session; skipping
// this locks the operator out of the UI until the session times out.
// Failures are logged and swallowed.
func (o *Orchestrator) logout(ctx context.Context, logger zerolog.Logger) {
	if o.transport == nil || o.model == nil || o.model.Pages.Logout == "" {
		return
	}
	if o.strategy == nil || o.strategy.Kind() == auth.KindNone {
		return
	}
	if _, err := o.client.Get(ctx, o.transport.BaseURL+o.model.Pages.Logout); err != nil {
		logger.Debug().Err(err).Msg("Best-effort logout failed")
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
