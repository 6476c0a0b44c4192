package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/corekit/internal/admin"
	"github.com/xraph/corekit/internal/config"
	"github.com/xraph/corekit/internal/engine"
	"github.com/xraph/corekit/internal/errors"
	"github.com/xraph/corekit/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		adminAddr string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine and run until interrupted",
		Long: `Start the engine: discover repositories and startup tasks, run the tasks
in order and keep the process alive until SIGINT or SIGTERM. On shutdown
completed tasks are cleaned up in reverse order.`,
		Example: `  # Run with the admin endpoints on :9090
  corekit run --admin-addr :9090

  # Run with a specific config file and tracing
  corekit run -c ./config.yaml --otlp-endpoint http://localhost:4318

  # Reload the config file when it changes
  corekit run -c ./config.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, flags, false)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				a.close(shutdownCtx)
			}()

			if adminAddr == "" {
				adminAddr = a.settings.AdminAddr
			}
			return run(ctx, a, adminAddr, watch)
		},
	}

	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "serve admin endpoints on this address (default $COREKIT_ADMIN_ADDR)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the configuration file when it changes")
	return cmd
}

func run(ctx context.Context, a *app, adminAddr string, watch bool) error {
	if watch {
		// Tasks and services read through a.config, so reloaded values apply
		// to every later lookup.
		err := a.config.Watch(ctx, func(c *config.Config) {
			a.logger.Info("configuration changed", logger.Int("keys", len(c.Keys())))
		})
		if err != nil {
			return err
		}
	}

	e, err := engine.Initialize(a.engineOptions()...)
	if err != nil {
		return err
	}
	defer engine.Reset()

	if err := e.Start(ctx); err != nil {
		return err
	}

	var server *admin.Server
	if adminAddr != "" {
		server = admin.NewServer(adminAddr, admin.NewHandlers(e, a.logger.Named("admin"), nil))
		server.Start()
	}

	<-ctx.Done()
	a.logger.Info("shutting down", logger.String("reason", context.Cause(ctx).Error()))

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs error
	if server != nil {
		if err := server.Shutdown(stopCtx); err != nil {
			errs = errors.Append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}
	if err := e.Stop(stopCtx); err != nil {
		errs = errors.Append(errs, err)
	}
	return errs
}

func newTasksCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Show the startup plan without running it",
		Long: `Discover and configure startup tasks, then print them in execution order.
Nothing is executed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			e, err := engine.New(a.engineOptions()...)
			if err != nil {
				return err
			}
			defer e.Stop(context.WithoutCancel(ctx))

			plan, err := e.Plan(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return writeJSON(out, plan)
			}
			if len(plan) == 0 {
				fmt.Fprintln(out, Yellow("no startup tasks discovered"))
				return nil
			}
			return writeTaskTable(out, plan)
		},
	}
}

func newServicesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List registered services after discovery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, flags, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			e, err := engine.New(a.engineOptions()...)
			if err != nil {
				return err
			}
			defer e.Stop(context.WithoutCancel(ctx))

			if _, err := e.Plan(ctx); err != nil {
				return err
			}
			services := admin.Services(e)

			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return writeJSON(out, services)
			}
			tw := newTable(out, "KEY", "LIFETIME", "IMPLEMENTATION")
			for _, s := range services {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", Cyan(s.Key), s.Lifetime, Gray(s.Implementation))
			}
			return tw.Flush()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", Bold("corekit"), version)
			fmt.Fprintf(out, "  commit:  %s\n", commit)
			fmt.Fprintf(out, "  built:   %s\n", buildDate)
			fmt.Fprintf(out, "  go:      %s\n", runtime.Version())
			fmt.Fprintf(out, "  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [shell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for corekit.

Supported shells: bash, zsh, fish and powershell. Source the output or save
it to the completion directory of your shell.`,
		Example: `  corekit completion bash > /etc/bash_completion.d/corekit
  corekit completion zsh > "${fpath[1]}/_corekit"
  corekit completion fish > ~/.config/fish/completions/corekit.fish`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()

			var err error
			switch args[0] {
			case "bash":
				err = root.GenBashCompletionV2(out, true)
			case "zsh":
				err = root.GenZshCompletion(out)
			case "fish":
				err = root.GenFishCompletion(out, true)
			case "powershell":
				err = root.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell %q", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to generate %s completion: %w", args[0], err)
			}
			return nil
		},
	}
}
