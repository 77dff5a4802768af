// Package discovery runs the one-shot setup pipeline against a device:
// connectivity, auth discovery, capability match, validation, in that
// order with early exit. Artifacts flow forward between steps (the
// probe body feeds auth, the authenticated body feeds matching) so no
// step repeats a request an earlier step already made.
package discovery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/auth"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/capability"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/hnap"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/loader"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/output"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/transport"
)

// Pipeline step names, recorded in Report.FailedStep.
const (
	StepConnectivity = "connectivity"
	StepAuth         = "auth"
	StepCapability   = "capability"
	StepValidation   = "validation"
)

// pipelineSteps is the progress denominator for Run.
const pipelineSteps = 4

// progress emits a user-facing step update when the context carries an
// Output, as CLI runs do. Library callers pay nothing.
func progress(ctx context.Context, step int, message string) {
	if out, ok := ctx.Value(output.OutputKey).(output.Output); ok {
		out.Progress(step, pipelineSteps, message)
	}
}

// Request parameterizes one discovery run.
type Request struct {
	Host     string
	Username string
	Password string

	// Model is the declarative device document. Optional: when nil the
	// pipeline resolves the builtin document matching the detected
	// capability.
	Model *modemcfg.Model

	// ExplicitCapability pins the capability by ID and skips body
	// matching. This is the only path that can select the generic
	// fallback.
	ExplicitCapability string

	// StoredStrategy is an auth strategy kind persisted by an earlier
	// run, tried after the document's own hints.
	StoredStrategy string
}

// Report is the outcome of one run. FailedStep is empty on success and
// names the step that stopped the pipeline otherwise.
type Report struct {
	Success    bool
	FailedStep string
	Error      string

	Transport  transport.Config
	Auth       auth.Result
	Binding    capability.Binding
	ModelID    string
	Validation ValidationResult

	// Strategy is the instance that authenticated; the poller keeps it
	// for session-expiry re-login.
	Strategy auth.Strategy

	// Signer is the authenticated HNAP signer, nil for other families.
	// Restart reuses it instead of running a second handshake.
	Signer *hnap.Signer
}

// ValidationResult summarizes the validation fetch and decode.
type ValidationResult struct {
	Attempted  bool
	Resources  int
	Downstream int
	Upstream   int
	SystemInfo int
}

// Pipeline wires the steps over one device session.
type Pipeline struct {
	client   *transport.Client
	registry *capability.Registry
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline over an existing session client and
// capability registry.
func NewPipeline(client *transport.Client, registry *capability.Registry) *Pipeline {
	return &Pipeline{
		client:   client,
		registry: registry,
		logger:   log.With().Str("component", "discovery").Logger(),
	}
}

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context, req Request) Report {
	model := req.Model
	if model == nil && req.ExplicitCapability != "" {
		model = modemcfg.BuiltinByID(req.ExplicitCapability)
	}
	if model != nil {
		p.client.SetTimeout(model.Timeout())
	}

	paradigm := ""
	if model != nil {
		paradigm = model.Paradigm
	}
	progress(ctx, 1, "Probing transport")
	probe := transport.NewProbe(p.client).Check(ctx, req.Host, paradigm)
	if !probe.Success {
		return Report{
			FailedStep: StepConnectivity,
			Error:      probe.Error,
			Transport:  transport.Config{BaseURL: probe.BaseURL, UsesHTTPS: probe.UsesHTTPS},
		}
	}
	p.client.SetLegacyTLS(probe.LegacyTLS)

	report := Report{
		Transport: transport.Config{
			BaseURL:   probe.BaseURL,
			UsesHTTPS: probe.UsesHTTPS,
			LegacyTLS: probe.LegacyTLS,
		},
	}

	progress(ctx, 2, "Negotiating authentication")
	authResult, strategy := p.discoverAuth(ctx, model, probe.BaseURL, req)
	report.Auth = authResult
	report.Strategy = strategy
	if !authResult.Success {
		report.FailedStep = StepAuth
		report.Error = authResult.Err
		return report
	}
	if h, ok := strategy.(*auth.HNAP); ok {
		report.Signer = h.Signer()
	}

	body := authResult.Body
	if len(body) == 0 {
		body = probe.Body
	}
	progress(ctx, 3, "Matching device capability")
	binding, entry, err := p.matchCapability(ctx, model, probe.BaseURL, body, req.ExplicitCapability, authResult.Strategy)
	if err != nil {
		report.FailedStep = StepCapability
		report.Error = err.Error()
		return report
	}
	report.Binding = binding

	if model == nil {
		model = modemcfg.BuiltinByID(binding.CapabilityID)
		if model == nil {
			report.FailedStep = StepValidation
			report.Error = fmt.Sprintf("no model document for capability %s", binding.CapabilityID)
			return report
		}
		p.client.SetTimeout(model.Timeout())
	}
	report.ModelID = model.ID

	progress(ctx, 4, "Validating capability")
	validation, err := p.validate(ctx, model, probe.BaseURL, entry, report.Signer)
	report.Validation = validation
	if err != nil {
		report.FailedStep = StepValidation
		report.Error = err.Error()
		return report
	}

	report.Success = true
	p.logger.Info().
		Str("base_url", report.Transport.BaseURL).
		Str("strategy", string(report.Auth.Strategy)).
		Str("capability", report.Binding.CapabilityID).
		Msg("Discovery completed")
	return report
}

// HintedKinds lists the auth strategies worth trying for a document, in
// discovery order: hnap, then urltoken, then form, then basic, then a
// previously stored strategy. The poller shares it when a cached
// strategy stops working.
func HintedKinds(model *modemcfg.Model, stored string) []auth.Kind {
	var kinds []auth.Kind
	seen := map[auth.Kind]bool{}
	add := func(k auth.Kind) {
		if k != auth.KindNone && !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}

	if model != nil {
		if model.Auth.Strategy == modemcfg.StrategyHNAP || model.Auth.HNAP != nil {
			add(auth.KindHNAP)
		}
		if model.Auth.URLToken != nil {
			add(auth.KindURLToken)
		}
		if model.Auth.Form != nil {
			add(auth.KindForm)
		}
		if model.Auth.Strategy == modemcfg.StrategyBasic {
			add(auth.KindBasic)
		}
	}
	if stored != "" {
		if k, err := auth.KindFromStrategy(stored); err == nil {
			add(k)
		}
	}
	return kinds
}

func (p *Pipeline) discoverAuth(ctx context.Context, model *modemcfg.Model, baseURL string, req Request) (auth.Result, auth.Strategy) {
	kinds := HintedKinds(model, req.StoredStrategy)

	if req.Username == "" && req.Password == "" {
		p.logger.Debug().Msg("No credentials supplied, assuming no auth")
		strategy := auth.NoAuth{}
		return strategy.Authenticate(ctx, p.client, baseURL, "", ""), strategy
	}
	if len(kinds) == 0 {
		p.logger.Debug().Msg("No auth hints declared, assuming no auth")
		strategy := auth.NoAuth{}
		return strategy.Authenticate(ctx, p.client, baseURL, "", ""), strategy
	}

	var last auth.Result
	for _, kind := range kinds {
		strategy, err := auth.New(kind, model)
		if err != nil {
			p.logger.Debug().Str("kind", string(kind)).Err(err).Msg("Skipping auth candidate")
			continue
		}
		result := strategy.Authenticate(ctx, p.client, baseURL, req.Username, req.Password)
		if result.Success {
			p.logger.Info().Str("strategy", string(kind)).Msg("Authentication succeeded")
			return result, strategy
		}
		p.logger.Debug().Str("strategy", string(kind)).Str("error", result.Err).Msg("Auth candidate failed")
		last = result
	}

	if last.Err == "" {
		last.Err = "no applicable auth strategy could be constructed"
	}
	return last, nil
}

func (p *Pipeline) matchCapability(ctx context.Context, model *modemcfg.Model, baseURL string, body []byte, explicitID string, authKind auth.Kind) (capability.Binding, *capability.Capability, error) {
	if explicitID != "" {
		entry, ok := p.registry.Lookup(explicitID)
		if !ok {
			return capability.Binding{}, nil, fmt.Errorf("%w: %s", capability.ErrNotFound, explicitID)
		}
		return capability.ExplicitBinding(explicitID), entry, nil
	}

	if model != nil {
		// The caller pre-selected a model, so matching is skipped. A
		// document outside the builtin set decodes through the generic
		// parser for its paradigm.
		if entry, ok := p.registry.Lookup(model.ID); ok {
			return capability.ExplicitBinding(model.ID), entry, nil
		}
		entry := capability.DefaultForParadigm(model.Paradigm)
		return capability.ExplicitBinding(entry.ID), entry, nil
	}

	if authKind == auth.KindHNAP {
		return capability.Binding{}, nil, fmt.Errorf("hnap device exposes no page to match against; manual model selection required")
	}

	if len(body) == 0 {
		// HEAD-established reachability carries no body. One landing
		// page fetch fills the gap; nothing earlier fetched it.
		resp, err := p.client.Get(ctx, baseURL)
		if err == nil {
			body = resp.Body
		}
	}
	if len(body) == 0 {
		return capability.Binding{}, nil, fmt.Errorf("%w: device returned no matchable content", capability.ErrNotFound)
	}

	entry, binding, ok := p.registry.Match(body)
	if !ok {
		return capability.Binding{}, nil, fmt.Errorf("%w: no descriptor matched the device response", capability.ErrNotFound)
	}
	p.logger.Info().
		Str("capability", binding.CapabilityID).
		Float64("confidence", binding.Confidence).
		Msg("Capability matched")
	return binding, entry, nil
}

func (p *Pipeline) validate(ctx context.Context, model *modemcfg.Model, baseURL string, entry *capability.Capability, signer *hnap.Signer) (ValidationResult, error) {
	result := ValidationResult{Attempted: true}

	ld, err := loader.ForModel(model, p.client, baseURL, signer)
	if err != nil {
		return result, err
	}
	resources, err := ld.Fetch(ctx)
	if err != nil {
		return result, fmt.Errorf("resource fetch failed: %w", err)
	}
	result.Resources = len(resources)

	data, err := entry.NewParser().ParseResources(resources)
	if err != nil {
		return result, fmt.Errorf("decode failed: %w", err)
	}
	result.Downstream = len(data.Downstream)
	result.Upstream = len(data.Upstream)
	result.SystemInfo = len(data.SystemInfo)

	if !data.HasChannels() {
		p.logger.Warn().
			Str("capability", entry.ID).
			Msg("Validation decoded no channels, accepting on system info only")
	}
	return result, nil
}
