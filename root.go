package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jpkarjala/confluence-go/internal/auth"
	"github.com/jpkarjala/confluence-go/internal/cache"
	"github.com/jpkarjala/confluence-go/internal/config"
	"github.com/jpkarjala/confluence-go/internal/confluence"
	"github.com/jpkarjala/confluence-go/internal/engine"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "confluence-go",
		Short:   "Confluence page editor and MCP server",
		Long:    "A Confluence Cloud client with a local page cache, conflict-safe pushes, and an MCP server for agent use.",
		Version: version,
		// Silence Cobra's default error/usage printing, main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newCacheCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the resolved config
// and CLI flags. The config log level is the baseline; --verbose and
// --quiet override it because CLI flags always win. Format "auto" picks
// a text handler on a terminal and JSON otherwise, so logs stay
// machine-readable when the process runs under an MCP client.
func buildLogger(cfg *config.Resolved) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := "auto"
	if cfg != nil && cfg.LogFormat != "" {
		format = cfg.LogFormat
	}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	default:
		if isatty.IsTerminal(os.Stderr.Fd()) {
			return slog.New(slog.NewTextHandler(os.Stderr, opts))
		}

		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
}

// runtime bundles everything a command needs after configuration is
// resolved. close releases the cache database.
type runtime struct {
	cfg    *config.Resolved
	logger *slog.Logger
	api    *confluence.Client
	engine *engine.Engine
	store  *cache.Store
}

func (r *runtime) close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("closing cache", "error", err)
	}
}

// buildRuntime resolves config and wires the HTTP client, the
// authenticator, the remote client, the cache, and the engine.
func buildRuntime() (*runtime, error) {
	bootLogger := buildLogger(nil)

	cfg, err := config.Resolve(config.ReadEnvOverrides(), flagConfigPath, bootLogger)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(cfg)
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var authenticator confluence.Authenticator
	switch cfg.AuthMode {
	case config.AuthOAuth:
		authenticator = auth.NewManager(auth.Config{
			ClientID:            cfg.OAuthClientID,
			ClientSecret:        cfg.OAuthClientSecret,
			InitialRefreshToken: cfg.OAuthRefreshToken,
			TokenURL:            cfg.OAuthTokenURL,
			TokenPath:           cfg.TokenPath,
		}, httpClient, logger)
	default:
		authenticator = auth.NewBasic(cfg.Username, cfg.APIToken)
	}

	logger.Debug("authentication configured", "mode", string(cfg.AuthMode))

	policy := confluence.DefaultRetryPolicy()
	policy.RateLimitRetries = cfg.RateLimitRetries
	policy.TransportRetries = cfg.TransportRetries
	policy.ConflictRetries = cfg.ConflictRetries

	api := confluence.NewClient(cfg.URL, httpClient, authenticator, policy, logger)

	if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	store, err := cache.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	eng := engine.New(api, store, policy.ConflictRetries, logger)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		api:    api,
		engine: eng,
		store:  store,
	}, nil
}
