package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"syscall"

	"github.com/spf13/cast"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/discovery"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
)

// RestartOutcome classifies a restart attempt. ConnectionDropped means
// the device tore the socket down mid-call, which rebooting firmware
// does before answering; callers treat it as success.
type RestartOutcome string

const (
	RestartAccepted          RestartOutcome = "accepted"
	RestartRejected          RestartOutcome = "rejected"
	RestartConnectionDropped RestartOutcome = "connection-dropped"
)

// Accepted reports whether the device is believed to be rebooting.
func (r RestartOutcome) Accepted() bool {
	return r == RestartAccepted || r == RestartConnectionDropped
}

// ErrNoRestartAction reports that the device's model document declares
// no restart action.
var ErrNoRestartAction = errors.New("model document declares no restart action")

// restartExec executes one restart action kind against a freshly
// discovered device session.
type restartExec func(ctx context.Context, o *Orchestrator, report discovery.Report, action *modemcfg.RestartAction) error

// restartExecutors is the single dispatch table for restart action
// kinds. Model documents name the kind; how the call is made lives
// here.
var restartExecutors = map[string]restartExec{
	modemcfg.RestartHNAPRPC:  execHNAPRestart,
	modemcfg.RestartHTMLForm: execFormRestart,
	modemcfg.RestartRESTCall: execRESTRestart,
}

// Restart reboots the device. Discovery always re-runs first: transport
// or firmware may have silently changed since the last poll, and the
// restart call must ride a known-good authenticated session. The model
// document must declare a restart action; without one the call rejects
// before any request is issued.
func (o *Orchestrator) Restart(ctx context.Context) (RestartOutcome, error) {
	logger := o.logger.With().Str("op", "restart").Logger()

	if model := o.activeModel(); model != nil && !model.HasRestart() {
		return RestartRejected, ErrNoRestartAction
	}

	report := discovery.NewPipeline(o.client, o.registry).Run(ctx, discovery.Request{
		Host:               o.host,
		Username:           o.username,
		Password:           o.password,
		Model:              o.activeModel(),
		ExplicitCapability: o.explicitCapability,
		StoredStrategy:     o.storedStrategy,
	})
	if !report.Success {
		return RestartRejected, fmt.Errorf("discovery failed at %s: %s", report.FailedStep, report.Error)
	}
	o.adoptDiscovery(report)

	model := o.activeModel()
	if model == nil {
		model = modemcfg.BuiltinByID(report.ModelID)
	}
	if model == nil || !model.HasRestart() {
		return RestartRejected, ErrNoRestartAction
	}

	action := model.Actions.Restart
	exec, ok := restartExecutors[action.Type]
	if !ok {
		return RestartRejected, fmt.Errorf("no executor for restart action kind %q", action.Type)
	}

	logger.Info().
		Str("kind", action.Type).
		Str("base_url", report.Transport.BaseURL).
		Msg("Executing restart action")
	err := exec(ctx, o, report, action)

	// A rebooting device invalidates every session artifact, so cached
	// state is dropped on any outcome that implies the reboot started.
	switch {
	case err == nil:
		o.dropCaches()
		logger.Info().Msg("Restart accepted")
		return RestartAccepted, nil
	case isConnectionDropped(err):
		o.dropCaches()
		logger.Info().Str("cause", err.Error()).Msg("Connection dropped mid-call, device is rebooting")
		return RestartConnectionDropped, nil
	default:
		logger.Warn().Err(err).Msg("Restart rejected")
		return RestartRejected, err
	}
}

// activeModel returns the operator-declared document when present,
// otherwise whatever binding resolution settled on.
func (o *Orchestrator) activeModel() *modemcfg.Model {
	if o.declared != nil {
		return o.declared
	}
	return o.model
}

// adoptDiscovery refreshes the caches from a successful discovery run
// so a rejected restart still leaves the orchestrator current.
func (o *Orchestrator) adoptDiscovery(report discovery.Report) {
	tc := report.Transport
	o.transport = &tc
	o.strategy = report.Strategy
	o.signer = report.Signer
	if entry, ok := o.registry.Lookup(report.Binding.CapabilityID); ok {
		o.entry = entry
		o.binding = report.Binding
	}
	if o.model == nil && report.ModelID != "" {
		o.model = modemcfg.BuiltinByID(report.ModelID)
	}
}

func execHNAPRestart(ctx context.Context, _ *Orchestrator, report discovery.Report, action *modemcfg.RestartAction) error {
	if report.Signer == nil {
		return fmt.Errorf("hnap-rpc restart requires an authenticated hnap session")
	}
	if action.ActionName == "" {
		return fmt.Errorf("hnap-rpc restart action declares no action_name")
	}
	// Firmware expects every HNAP parameter as a string, even flags the
	// document writes as numbers.
	params := make(map[string]any, len(action.Params))
	for key, value := range cast.ToStringMapString(action.Params) {
		params[key] = value
	}
	_, err := report.Signer.Call(ctx, action.ActionName, params)
	return err
}

func execFormRestart(ctx context.Context, o *Orchestrator, report discovery.Report, action *modemcfg.RestartAction) error {
	if action.Endpoint == "" {
		return fmt.Errorf("html-form restart action declares no endpoint")
	}
	values := url.Values{}
	for key, value := range cast.ToStringMapString(action.Params) {
		values.Set(key, value)
	}
	resp, err := o.client.PostForm(ctx, report.Transport.BaseURL+action.Endpoint, values)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("restart form rejected with status %d", resp.StatusCode)
	}
	return nil
}

func execRESTRestart(ctx context.Context, o *Orchestrator, report discovery.Report, action *modemcfg.RestartAction) error {
	if action.Endpoint == "" {
		return fmt.Errorf("rest-call restart action declares no endpoint")
	}
	body := []byte("{}")
	if len(action.Params) > 0 {
		encoded, err := json.Marshal(action.Params)
		if err != nil {
			return fmt.Errorf("failed to encode restart params: %w", err)
		}
		body = encoded
	}
	resp, err := o.client.Post(ctx, report.Transport.BaseURL+action.Endpoint, "application/json", body, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("restart call rejected with status %d", resp.StatusCode)
	}
	return nil
}

// connectionDropMarkers cover the error strings the HTTP stack produces
// when the peer kills the socket mid-exchange.
var connectionDropMarkers = []string{
	"connection reset",
	"broken pipe",
	"connection aborted",
	"EOF",
}

// isConnectionDropped reports whether err looks like the device closing
// the connection on us rather than answering.
func isConnectionDropped(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	for _, marker := range connectionDropMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
