package bind

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/config"
	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/poller"
)

// setupDeviceCommand creates a mock command carrying the device flags.
func setupDeviceCommand(flags map[string]string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("username", "", "Username")
	cmd.Flags().String("password", "", "Password")
	cmd.Flags().String("model", "", "Model")
	cmd.Flags().String("capability", "", "Capability")
	cmd.Flags().String("workspace-dir", "", "Workspace dir")
	cmd.Flags().Bool("no-store", false, "No store")
	for name, value := range flags {
		_ = cmd.Flags().Set(name, value)
	}
	return cmd
}

func TestBindDeviceOptions_ArgumentOverridesConfiguredHost(t *testing.T) {
	opts, err := BindDeviceOptions(setupDeviceCommand(nil), []string{"10.1.1.9"}, config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.9", opts.Host)
}

func TestBindDeviceOptions_ConfigurationSuppliesDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modem.Username = "admin"
	cfg.Modem.Password = "hunter2"

	opts, err := BindDeviceOptions(setupDeviceCommand(nil), nil, cfg)
	require.NoError(t, err)

	assert.Equal(t, "192.168.100.1", opts.Host)
	assert.Equal(t, "admin", opts.Username)
	assert.Equal(t, "hunter2", opts.Password)
	assert.Equal(t, poller.ProbeBudget{PerCandidate: 2, Global: 6}, opts.Budget)
	assert.Equal(t, 2, opts.FailureThreshold)
	assert.Equal(t, 10*time.Second, opts.PollTimeout)
	assert.False(t, opts.NoStore)
}

func TestBindDeviceOptions_FlagsBeatConfiguration(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modem.Username = "admin"
	cfg.Modem.Password = "stale"

	cmd := setupDeviceCommand(map[string]string{
		"username":      "operator",
		"password":      "fresh",
		"capability":    "generic-fallback",
		"workspace-dir": "/tmp/modemctl-test",
		"no-store":      "true",
	})

	opts, err := BindDeviceOptions(cmd, nil, cfg)
	require.NoError(t, err)

	assert.Equal(t, "operator", opts.Username)
	assert.Equal(t, "fresh", opts.Password)
	assert.Equal(t, "generic-fallback", opts.ExplicitCapability)
	assert.Equal(t, "/tmp/modemctl-test", opts.WorkspaceDir)
	assert.True(t, opts.NoStore)
}

func TestBindDeviceOptions_MissingHostRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modem.Host = ""

	_, err := BindDeviceOptions(setupDeviceCommand(nil), nil, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no modem host")
}

func TestBindDeviceOptions_BuiltinModelID(t *testing.T) {
	cmd := setupDeviceCommand(map[string]string{"model": "netgear-cm600"})

	opts, err := BindDeviceOptions(cmd, nil, config.DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, opts.Model)
	assert.Equal(t, "netgear-cm600", opts.Model.ID)
}

func TestBindDeviceOptions_ConfiguredModelUsedWhenFlagEmpty(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Modem.Model = "arris-sb8200"

	opts, err := BindDeviceOptions(setupDeviceCommand(nil), nil, cfg)
	require.NoError(t, err)
	require.NotNil(t, opts.Model)
	assert.Equal(t, "arris-sb8200", opts.Model.ID)
}

func TestBindDeviceOptions_UnknownModelRejected(t *testing.T) {
	cmd := setupDeviceCommand(map[string]string{"model": "sagemcom-f3896"})

	_, err := BindDeviceOptions(cmd, nil, config.DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

func TestBindDeviceOptions_ModelFile(t *testing.T) {
	doc := `
id: lab-device
paradigm: html
pages:
  data:
    status: /status.html
auth:
  strategy: none
`
	path := filepath.Join(t.TempDir(), "lab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cmd := setupDeviceCommand(map[string]string{"model": path})

	opts, err := BindDeviceOptions(cmd, nil, config.DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, opts.Model)
	assert.Equal(t, "lab-device", opts.Model.ID)
}

func TestBindDeviceOptions_WorkspaceFallsBackToUserCache(t *testing.T) {
	opts, err := BindDeviceOptions(setupDeviceCommand(nil), nil, config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "modemctl", filepath.Base(opts.WorkspaceDir))
}

func TestDeviceOptions_PollerOptions(t *testing.T) {
	opts := DeviceOptions{
		Host:               "modem.lan",
		Username:           "admin",
		Password:           "pw",
		ExplicitCapability: "netgear-cm600",
		Budget:             poller.ProbeBudget{PerCandidate: 1, Global: 3},
		FailureThreshold:   4,
	}

	po := opts.PollerOptions()
	assert.Equal(t, "modem.lan", po.Host)
	assert.Equal(t, "admin", po.Username)
	assert.Equal(t, "pw", po.Password)
	assert.Equal(t, "netgear-cm600", po.ExplicitCapability)
	assert.Equal(t, poller.ProbeBudget{PerCandidate: 1, Global: 3}, po.Budget)
	assert.Equal(t, 4, po.FailureThreshold)
}

func TestLooksLikePath(t *testing.T) {
	assert.True(t, looksLikePath("models/custom.yaml"))
	assert.True(t, looksLikePath("custom.yml"))
	assert.False(t, looksLikePath("netgear-cm600"))
}
