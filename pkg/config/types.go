// pkg/config/types.go
package config

// Config is the root configuration for modemctl. Sections map 1:1 to
// the koanf key namespace (log.level, modem.host, metrics.port, ...).
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Modem     ModemConfig     `koanf:"modem"`
	Poll      PollConfig      `koanf:"poll"`
	Health    HealthConfig    `koanf:"health"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Workspace WorkspaceConfig `koanf:"workspace"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
	File   string `koanf:"file"`   // empty = stderr
}

// ModemConfig identifies the target device and its credentials.
// Host may carry an explicit scheme (http://... / https://...), which
// pins the transport probe to that scheme.
type ModemConfig struct {
	Host     string `koanf:"host"`
	Model    string `koanf:"model"` // explicit model id, skips capability matching
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// PollConfig bounds a single poll cycle.
type PollConfig struct {
	TimeoutSeconds     int `koanf:"timeout_seconds"`
	PerCandidateProbes int `koanf:"per_candidate_probes"`
	GlobalProbes       int `koanf:"global_probes"`
	FailureThreshold   int `koanf:"failure_threshold"` // consecutive failures before caches are dropped
}

// HealthConfig tunes the reachability checker.
type HealthConfig struct {
	PingCount      int  `koanf:"ping_count"`
	TimeoutSeconds int  `koanf:"timeout_seconds"`
	Privileged     bool `koanf:"privileged"` // raw ICMP sockets instead of UDP ping
}

// MetricsConfig configures the Prometheus exporter endpoint.
type MetricsConfig struct {
	Addr            string `koanf:"addr"`
	Port            int    `koanf:"port"`
	IntervalSeconds int    `koanf:"interval_seconds"`
	Namespace       string `koanf:"namespace"`
}

// WorkspaceConfig locates local state: the sticky transport record and
// discovered auth hints persisted between runs.
type WorkspaceConfig struct {
	Dir string `koanf:"dir"` // empty = os user cache dir + /modemctl
}

// DefaultModemConfig returns modem defaults. 192.168.100.1 is the
// DOCSIS-standard management address.
func DefaultModemConfig() ModemConfig {
	return ModemConfig{
		Host: "192.168.100.1",
	}
}

// DefaultPollConfig returns poll cycle defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		TimeoutSeconds:     10,
		PerCandidateProbes: 2,
		GlobalProbes:       6,
		FailureThreshold:   2,
	}
}

// DefaultHealthConfig returns health check defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		PingCount:      3,
		TimeoutSeconds: 5,
		Privileged:     false,
	}
}

// DefaultMetricsConfig returns exporter defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr:            "127.0.0.1",
		Port:            9143,
		IntervalSeconds: 30,
		Namespace:       "modem",
	}
}

// DefaultWorkspaceConfig returns workspace defaults.
func DefaultWorkspaceConfig() WorkspaceConfig {
	return WorkspaceConfig{
		Dir: "",
	}
}
