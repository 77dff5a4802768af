// pkg/config/context.go
package config

import "context"

type contextKey string

// configContextKey carries the resolved Config through command contexts.
const configContextKey contextKey = "config"

// WithConfig returns a child context carrying cfg. The CLI root command
// places the loaded configuration here so subcommands can read it
// without a package-level singleton.
func WithConfig(ctx context.Context, cfg Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

// FromContext extracts the Config placed by WithConfig. The second
// return is false when the context carries none.
func FromContext(ctx context.Context) (Config, bool) {
	cfg, ok := ctx.Value(configContextKey).(Config)
	return cfg, ok
}
