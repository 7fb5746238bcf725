package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/nvplug/adapter"
	"github.com/pithecene-io/nvplug/adapter/redis"
	"github.com/pithecene-io/nvplug/adapter/webhook"
	"github.com/pithecene-io/nvplug/builtin"
	"github.com/pithecene-io/nvplug/cli/config"
	"github.com/pithecene-io/nvplug/host"
	"github.com/pithecene-io/nvplug/iox"
	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/metrics"
	"github.com/pithecene-io/nvplug/transport"
	"github.com/pithecene-io/nvplug/types"
)

// Exit codes. A transport that closes cleanly is a successful session.
const (
	exitSuccess = 0
	exitFatal   = 1
)

// DefaultPluginName names the builtin plugin when neither config nor
// flags do.
const DefaultPluginName = "nvplug"

// ServeCommand returns the serve command.
// This is the only command that talks to an editor.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "Serve the builtin plugin until the editor closes the channel",
		ArgsUsage: "[-- nvim args...]",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Transport mode: stdio, socket or embed",
				Value: string(types.ModeStdio),
			},
			&cli.StringFlag{
				Name:    "address",
				Usage:   "Editor listen address (socket mode)",
				EnvVars: []string{"NVIM"},
			},
			&cli.StringFlag{
				Name:  "nvim",
				Usage: "Editor binary (embed mode)",
				Value: transport.DefaultNvimPath,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Plugin name, used for full prefixes and the augroup",
				Value: DefaultPluginName,
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Short prefix (defaults to the plugin name)",
			},
			&cli.StringSliceFlag{
				Name:  "component",
				Usage: "Enable only the named components (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "request-timeout",
				Usage: "Timeout for requests to the editor (0 disables)",
				Value: host.DefaultRequestTimeout,
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to this file instead of stderr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyServeFlags(c, cfg); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitFatal)
	}

	mode, _ := types.ParseTransportMode(cfg.Transport.Mode)
	meta := types.NewSessionMeta(pluginName(cfg), cfg.Plugin.Prefix, mode)
	if err := meta.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitFatal)
	}

	stderr := c.App.ErrWriter
	if stderr == nil {
		stderr = os.Stderr
	}
	logger, closeLog, err := openLogger(cfg.Log, meta, stderr)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}
	defer closeLog()

	collector := metrics.NewCollector(meta.SessionID, meta.PluginName, string(meta.Mode))
	notifier, err := buildNotifier(cfg.Adapter, logger.Named("adapter"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid adapter configuration: %v", err), exitFatal)
	}

	plugin, err := cfg.ApplyOverrides(builtin.Plugin(builtin.Options{
		Name:      meta.PluginName,
		Prefix:    meta.Prefix,
		Collector: collector,
	}))
	if err != nil {
		notifier.Close()
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitFatal)
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	tr, err := openTransport(ctx, mode, cfg.Transport, logger.Named("transport"))
	if err != nil {
		notifier.Close()
		return cli.Exit(err.Error(), exitFatal)
	}

	h, err := host.New(host.Config{
		Meta:           meta,
		Plugin:         plugin,
		Components:     cfg.Components,
		RequestTimeout: cfg.Timeouts.Request.Or(host.DefaultRequestTimeout),
		InitWait:       cfg.Timeouts.InitWait.Or(0),
		ProgramTimeout: cfg.Timeouts.Program.Or(0),
		Notifier:       notifier,
		Collector:      collector,
		Logger:         logger,
	}, tr)
	if err != nil {
		_ = tr.Stop()
		notifier.Close()
		return cli.Exit(fmt.Sprintf("failed to create host: %v", err), exitFatal)
	}

	if err := h.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("session failed: %v", err), exitFatal)
	}
	return nil
}

// loadConfig loads --config when given. Without it every value comes
// from flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitFatal)
	}
	return cfg, nil
}

// applyServeFlags overlays explicitly set flags onto cfg. Flag defaults
// never override config values. Arguments after "--" replace
// transport.nvim_args.
func applyServeFlags(c *cli.Context, cfg *config.Config) error {
	setString := func(name string, dst *string) {
		if c.IsSet(name) || *dst == "" {
			*dst = c.String(name)
		}
	}
	setString("mode", &cfg.Transport.Mode)
	setString("address", &cfg.Transport.Address)
	setString("nvim", &cfg.Transport.Nvim)
	setString("name", &cfg.Plugin.Name)
	setString("prefix", &cfg.Plugin.Prefix)
	setString("log-file", &cfg.Log.File)
	setString("log-level", &cfg.Log.Level)

	if c.IsSet("component") {
		cfg.Components = c.StringSlice("component")
	}
	if c.IsSet("request-timeout") || cfg.Timeouts.Request == nil {
		cfg.Timeouts.Request = &config.Duration{Duration: c.Duration("request-timeout")}
	}
	if c.Args().Present() {
		cfg.Transport.NvimArgs = c.Args().Slice()
	}
	return cfg.Validate()
}

func pluginName(cfg *config.Config) string {
	if cfg.Plugin.Name == "" {
		return DefaultPluginName
	}
	return cfg.Plugin.Name
}

// openLogger returns the session logger and its cleanup. Logs go to the
// configured file or to stderr; never to stdout, which may carry frames.
func openLogger(cfg config.LogConfig, meta *types.SessionMeta, stderr io.Writer) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	if cfg.File == "" {
		logger := log.NewLoggerWithWriter(meta, stderr, level)
		return logger, func() { iox.DiscardErr(logger.Sync) }, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log file: %w", err)
	}
	logger := log.NewLoggerWithWriter(meta, f, level)
	return logger, func() {
		iox.DiscardErr(logger.Sync)
		iox.DiscardClose(f)
	}, nil
}

// buildNotifier returns a notifier for the configured adapter. With no
// adapter configured the notifier is a no-op.
func buildNotifier(cfg config.AdapterConfig, logger *log.Logger) (*adapter.Notifier, error) {
	retries := func(def int) int {
		if cfg.Retries == nil {
			return def
		}
		return *cfg.Retries
	}

	var a adapter.Adapter
	switch cfg.Type {
	case "":
		return adapter.NewNotifier(nil, 0, logger), nil
	case config.AdapterWebhook:
		wh, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout.Duration,
			Retries: retries(webhook.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		a = wh
	case config.AdapterRedis:
		rd, err := redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries(redis.DefaultRetries),
		})
		if err != nil {
			return nil, err
		}
		a = rd
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
	logger.Info("lifecycle events enabled", map[string]any{"adapter": cfg.Type})
	return adapter.NewNotifier(a, 0, logger), nil
}

// openTransport connects to the editor for mode.
func openTransport(ctx context.Context, mode types.TransportMode, cfg config.TransportConfig, logger *log.Logger) (transport.Transport, error) {
	switch mode {
	case types.ModeStdio:
		return transport.NewStdio(logger), nil
	case types.ModeSocket:
		return transport.DialSocket(ctx, cfg.Address, logger)
	case types.ModeEmbed:
		return transport.StartEmbedded(ctx, transport.EmbedConfig{
			Path: cfg.Nvim,
			Args: transport.EmbedArgs(cfg.NvimArgs),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}
