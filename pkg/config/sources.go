// pkg/config/sources.go
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Source priorities. Lower values load first; later sources override
// keys set by earlier ones.
const (
	PriorityDefaults = 0
	PriorityFile     = 10
	PriorityEnv      = 20
	PriorityFlags    = 30
	PriorityDebug    = 40
)

// ConfigSource is a single provider of configuration values. Sources
// are loaded in ascending Priority order into a shared koanf instance.
type ConfigSource interface {
	// Name identifies the source in error messages.
	Name() string
	// Priority orders loading; lower loads first.
	Priority() int
	// Load merges this source's values into k.
	Load(k *koanf.Koanf) error
}

// DefaultsSource loads the hardcoded default configuration map. It is
// always the lowest-priority source.
type DefaultsSource struct{}

func (DefaultsSource) Name() string  { return "defaults" }
func (DefaultsSource) Priority() int { return PriorityDefaults }

func (DefaultsSource) Load(k *koanf.Koanf) error {
	return k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil)
}

// FileSource loads a YAML configuration file. An empty path is skipped
// so the tool runs without any config file; a non-empty path that does
// not exist is an error (the user asked for it explicitly).
type FileSource struct {
	Path string
}

func (s FileSource) Name() string  { return "file" }
func (s FileSource) Priority() int { return PriorityFile }

func (s FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}
	if _, err := os.Stat(s.Path); err != nil {
		return fmt.Errorf("config file %q: %w", s.Path, err)
	}
	return k.Load(file.Provider(s.Path), yaml.Parser())
}

// EnvSource loads MODEMCTL_-prefixed environment variables with
// underscore-to-dot key mapping:
//
//	MODEMCTL_LOG_LEVEL    -> log.level
//	MODEMCTL_MODEM_HOST   -> modem.host
//	MODEMCTL_METRICS_PORT -> metrics.port
type EnvSource struct{}

func (EnvSource) Name() string  { return "env" }
func (EnvSource) Priority() int { return PriorityEnv }

func (EnvSource) Load(k *koanf.Koanf) error {
	return k.Load(env.Provider("MODEMCTL_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "MODEMCTL_")), "_", ".")
	}), nil)
}

// FlagSource loads values from parsed command-line flags. Flags left at
// their default value do not override keys that other sources already
// set; only flags the user changed win.
type FlagSource struct {
	Flags *pflag.FlagSet
}

func (s FlagSource) Name() string  { return "flags" }
func (s FlagSource) Priority() int { return PriorityFlags }

func (s FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags == nil {
		return nil
	}
	return k.Load(posflag.Provider(s.Flags, ".", k), nil)
}

// DebugSource forces log.level to debug when the --debug flag is set.
// It loads last so it wins over every other source.
type DebugSource struct {
	Enabled bool
}

func (s DebugSource) Name() string  { return "debug" }
func (s DebugSource) Priority() int { return PriorityDebug }

func (s DebugSource) Load(k *koanf.Koanf) error {
	if !s.Enabled {
		return nil
	}
	return k.Load(confmap.Provider(map[string]any{"log.level": "debug"}, "."), nil)
}

// DefaultSources returns the standard source chain:
// defaults < file < env < flags < debug override.
func DefaultSources(configFilePath string, flags *pflag.FlagSet, debug bool) []ConfigSource {
	return []ConfigSource{
		DefaultsSource{},
		FileSource{Path: configFilePath},
		EnvSource{},
		FlagSource{Flags: flags},
		DebugSource{Enabled: debug},
	}
}
