package main

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/engine"
	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
	"github.com/xraph/corekit/internal/observability"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath   string
	verbose      bool
	jsonOutput   bool
	noColor      bool
	otlpEndpoint string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "corekit",
		Short: "Dependency injection engine with discovery and ordered startup tasks",
		Long: `corekit builds a service registry, discovers repositories and startup
tasks from registered manifests, and runs the tasks in order.

Settings are read from COREKIT_* environment variables; flags override them.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ConfigureColors(DefaultColorConfig(cmd.OutOrStdout(), flags.noColor))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file path (default $COREKIT_CONFIG or config.yaml)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&flags.jsonOutput, "json", false, "output in JSON format")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	pf.StringVar(&flags.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP collector for traces (default $COREKIT_OTLP_ENDPOINT)")

	root.AddCommand(
		newRunCommand(flags),
		newTasksCommand(flags),
		newServicesCommand(flags),
		newVersionCommand(),
		newCompletionCommand(),
	)
	return root
}

// app is everything a command needs to build an engine.
type app struct {
	settings config.Settings
	logger   logger.Logger
	config   *config.Config
	tracing  *observability.Tracing
}

// bootstrap reads settings, builds the logger, loads the configuration file
// and sets up tracing. quiet silences logging unless --verbose is set so
// table and JSON output stay clean.
func bootstrap(ctx context.Context, flags *globalFlags, quiet bool) (*app, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	explicit := flags.configPath != ""
	if explicit {
		settings.ConfigPath = flags.configPath
	}
	if flags.otlpEndpoint != "" {
		settings.OTLPEndpoint = flags.otlpEndpoint
	}

	var l logger.Logger
	switch {
	case flags.verbose:
		settings.Logging.Level = "debug"
		l = logger.NewLogger(settings.Logging)
	case quiet:
		l = logger.NewNoopLogger()
	default:
		l = logger.NewLogger(settings.Logging)
	}

	cfg := config.New(config.WithLogger(l.Named("config")))
	if err := cfg.LoadFile(settings.ConfigPath); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		l.Debug("no configuration file", logger.String("path", settings.ConfigPath))
	}

	tracing, err := observability.NewTracing(ctx, observability.TracingConfig{
		Endpoint:    settings.OTLPEndpoint,
		ServiceName: settings.ServiceName,
		Environment: settings.Logging.Environment,
		Insecure:    true,
	}, l)
	if err != nil {
		return nil, err
	}

	return &app{settings: settings, logger: l, config: cfg, tracing: tracing}, nil
}

func (a *app) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithConfig(a.config),
		engine.WithTracerProvider(a.tracing.Provider()),
	}
}

// close flushes traces and logs.
func (a *app) close(ctx context.Context) {
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("trace shutdown failed", logger.Error(err))
	}
	_ = a.logger.Sync()
}
