package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/config"
	"github.com/arter97/chromium-tesla-sub003/internal/resolver"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// session is one command's resolver, built from the global flags.
type session struct {
	resolver *resolver.Resolver
	logger   *slog.Logger
	now      time.Time
}

func newLogger(opts *RootOptions) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// loadConfig resolves the policy: defaults, then --config, then
// ATTRIBUTION_* variables (after reading --env-file).
func loadConfig(opts *RootOptions) (config.Config, error) {
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load env file", err)
	}

	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}
	config.ApplyEnv(&cfg)

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openSession opens the database and builds a resolver over it. The
// caller must call close.
func openSession(opts *RootOptions) (*session, error) {
	logger := newLogger(opts)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	resolverOpts := []resolver.Option{resolver.WithLogger(logger)}
	if opts.Clock != nil {
		resolverOpts = append(resolverOpts, resolver.WithClock(opts.Clock))
	}
	if opts.Noise != nil {
		resolverOpts = append(resolverOpts, resolver.WithNoise(opts.Noise))
	}

	r, err := resolver.New(st, cfg, resolverOpts...)
	if err != nil {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
		return nil, WrapExitError(ExitCommandError, "failed to create resolver", err)
	}

	now := time.Now().UTC()
	if opts.Clock != nil {
		now = opts.Clock.Now()
	}
	return &session{resolver: r, logger: logger, now: now}, nil
}

func (s *session) close() {
	if err := s.resolver.Close(); err != nil {
		s.logger.Error("error closing resolver", "error", err)
	}
}

// parseTime accepts an RFC 3339 timestamp or a signed duration relative
// to now ("48h", "-30m"). An empty value yields def.
func parseTime(value string, now, def time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or a duration from now", value)
	}
	return now.Add(d), nil
}

func newFormatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   opts.Verbose,
	}
}
