// Command simplicity runs the Simplicity compiler bridge: one-off
// compilations, the embedded page, the terminal widget and the HTTP relay.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var fail *compileFailedError
		if !stderrors.As(err, &fail) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	telemetry  *telemetry
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "simplicity",
		Short:         "Compile Simplicity programs with the prebuilt WebAssembly compiler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.shutdown(cmd.Context())
		},
	}

	fs := root.PersistentFlags()
	fs.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	fs.String("dist", "", "directory holding the compiler build (SIMPLICITY_DIST_DIR)")
	fs.String("selection", "", "build selection policy: newest or strict")
	fs.String("mode", "", "result mode: release or debug")
	fs.Duration("call-timeout", 0, "bound on one module call (0 keeps the configured value)")
	fs.Uint32("memory-limit-pages", 0, "guest memory limit in 64KiB pages")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: console or json")
	fs.Bool("trace-stdout", false, "print trace spans to stderr")

	root.AddCommand(
		newCompileCmd(a),
		newAssetsCmd(a),
		newPageCmd(a),
		newWidgetCmd(a),
		newRelayCmd(a),
	)
	return root
}

// setup loads configuration, applies explicit flags and installs logging
// and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger, err = newLogger(cfg, cmd.ErrOrStderr()); err != nil {
		return err
	}
	installLogger(a.logger)

	a.telemetry, err = newTelemetry(cfg.TraceStdout, cmd.ErrOrStderr())
	return err
}

func (a *app) shutdown(ctx context.Context) error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.telemetry != nil {
		return a.telemetry.Shutdown(context.WithoutCancel(ctx))
	}
	return nil
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "dist":
			cfg.DistDir = f.Value.String()
		case "selection":
			cfg.Selection = f.Value.String()
		case "mode":
			cfg.Mode = f.Value.String()
		case "call-timeout":
			cfg.CallTimeout, _ = fs.GetDuration(f.Name)
		case "memory-limit-pages":
			cfg.MemoryLimitPages, _ = fs.GetUint32(f.Name)
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "log-format":
			cfg.LogFormat = f.Value.String()
		case "trace-stdout":
			cfg.TraceStdout, _ = fs.GetBool(f.Name)
		case "addr":
			cfg.HTTPAddr = f.Value.String()
		case "relay":
			cfg.RelayURL = f.Value.String()
		case "title":
			cfg.PageTitle = f.Value.String()
		case "watch":
			cfg.Watch, _ = fs.GetBool(f.Name)
		}
	})
}
