package bind

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/config"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/modemcfg"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/poller"
)

// DeviceOptions is everything a device-facing command needs to reach one
// modem: the target, credentials, an optional model pin, probe bounds,
// and the workspace policy for cached state.
type DeviceOptions struct {
	Host               string
	Username           string
	Password           string
	Model              *modemcfg.Model
	ExplicitCapability string

	Budget           poller.ProbeBudget
	FailureThreshold int
	PollTimeout      time.Duration

	WorkspaceDir string
	NoStore      bool
}

// PollerOptions converts the bound options into the orchestrator form.
func (o DeviceOptions) PollerOptions() poller.Options {
	return poller.Options{
		Host:               o.Host,
		Username:           o.Username,
		Password:           o.Password,
		Model:              o.Model,
		ExplicitCapability: o.ExplicitCapability,
		Budget:             o.Budget,
		FailureThreshold:   o.FailureThreshold,
	}
}

// BindDeviceOptions merges command flags, the positional host argument,
// and file configuration into DeviceOptions.
//
// Precedence: flags beat configuration, and the positional argument
// beats modem.host. Credentials left empty on the command line fall
// back to modem.username / modem.password.
//
// Flags read:
//   - --username, --password: web UI credentials
//   - --model: builtin model id or path to a YAML model document
//   - --capability: capability id pin, skips body matching
//   - --workspace-dir: state directory override
//   - --no-store: disable state persistence
func BindDeviceOptions(cmd *cobra.Command, args []string, cfg config.Config) (DeviceOptions, error) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	modelRef, _ := cmd.Flags().GetString("model")
	capabilityID, _ := cmd.Flags().GetString("capability")
	workspaceDir, _ := cmd.Flags().GetString("workspace-dir")
	noStore, _ := cmd.Flags().GetBool("no-store")

	opts := DeviceOptions{
		Host:               cfg.Modem.Host,
		Username:           cfg.Modem.Username,
		Password:           cfg.Modem.Password,
		ExplicitCapability: capabilityID,
		Budget: poller.ProbeBudget{
			PerCandidate: cfg.Poll.PerCandidateProbes,
			Global:       cfg.Poll.GlobalProbes,
		},
		FailureThreshold: cfg.Poll.FailureThreshold,
		PollTimeout:      time.Duration(cfg.Poll.TimeoutSeconds) * time.Second,
		NoStore:          noStore,
	}

	if len(args) > 0 {
		opts.Host = args[0]
	}
	if opts.Host == "" {
		return DeviceOptions{}, fmt.Errorf("no modem host: pass one as an argument or set modem.host")
	}
	if username != "" {
		opts.Username = username
	}
	if password != "" {
		opts.Password = password
	}

	if modelRef == "" {
		modelRef = cfg.Modem.Model
	}
	if modelRef != "" {
		model, err := resolveModel(modelRef)
		if err != nil {
			return DeviceOptions{}, err
		}
		opts.Model = model
	}

	dir, err := resolveWorkspaceDir(workspaceDir, cfg.Workspace.Dir)
	if err != nil {
		return DeviceOptions{}, err
	}
	opts.WorkspaceDir = dir

	return opts, nil
}

// resolveModel turns a --model value into a document: a YAML file when
// the value looks like a path, a builtin catalog id otherwise.
func resolveModel(ref string) (*modemcfg.Model, error) {
	if looksLikePath(ref) {
		model, err := modemcfg.Load(ref)
		if err != nil {
			return nil, fmt.Errorf("load model document %s: %w", ref, err)
		}
		return model, nil
	}
	if model := modemcfg.BuiltinByID(ref); model != nil {
		return model, nil
	}
	return nil, fmt.Errorf("unknown model %q: not a builtin id and not a YAML file", ref)
}

func looksLikePath(ref string) bool {
	if strings.ContainsRune(ref, os.PathSeparator) {
		return true
	}
	ext := strings.ToLower(filepath.Ext(ref))
	return ext == ".yaml" || ext == ".yml"
}

// resolveWorkspaceDir picks the state directory: flag, then
// workspace.dir, then the OS user cache dir.
func resolveWorkspaceDir(flagDir, cfgDir string) (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	if cfgDir != "" {
		return cfgDir, nil
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve user cache dir: %w", err)
	}
	return filepath.Join(cache, "modemctl"), nil
}
