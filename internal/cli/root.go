// Package cli implements the sdtom command line: one-shot job runs for cron
// and operator tasks against the same catalog the server uses.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	corecfg "github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/linnemanlabs/sdtom/internal/app"
	sc "github.com/linnemanlabs/sdtom/internal/cfg"
)

const envPrefix = "SDTOM_"

type buildFunc func(ctx context.Context, c *sc.Config, logger log.Logger, reg prometheus.Registerer) (*app.App, error)

// options is shared by every subcommand.
type options struct {
	appCfg  sc.Config
	logCfg  log.Config
	goFlags *flag.FlagSet

	envFile        string
	pushgatewayURL string

	build  buildFunc
	logger log.Logger
}

// NewRootCmd returns the sdtom command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&options{build: app.Build})
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "sdtom",
		Short:         "Transient alert broker ingestion for the target catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.load(cmd)
		},
	}

	// go-core configs register on a stdlib FlagSet; cobra sees them through pflag
	o.goFlags = flag.NewFlagSet("sdtom", flag.ContinueOnError)
	o.appCfg.RegisterFlags(o.goFlags)
	o.logCfg.RegisterFlags(o.goFlags)
	root.PersistentFlags().AddGoFlagSet(o.goFlags)
	root.PersistentFlags().StringVar(&o.envFile, "env-file", ".env", "dotenv file loaded before reading SDTOM_* variables (ignored if missing)")
	root.PersistentFlags().StringVar(&o.pushgatewayURL, "pushgateway-url", "", "Prometheus Pushgateway to push job metrics to after a run")

	root.AddCommand(
		newRunCmd(o),
		newJobsCmd(o),
		newUpdateDatumsCmd(o),
		newSeedQueriesCmd(o),
		newVersionCmd(),
	)
	return root
}

// load resolves configuration: flags, then environment (optionally from a
// dotenv file), then defaults.
func (o *options) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		if _, err := os.Stat(o.envFile); err == nil {
			if err := godotenv.Load(o.envFile); err != nil {
				return fmt.Errorf("load %s: %w", o.envFile, err)
			}
		}
	}

	// mark flags given on the command line as set on the stdlib FlagSet so
	// FillFromEnv does not override them
	var setErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if o.goFlags.Lookup(f.Name) != nil {
			setErr = errors.Join(setErr, o.goFlags.Set(f.Name, f.Value.String()))
		}
	})
	if setErr != nil {
		return setErr
	}

	corecfg.FillFromEnv(o.goFlags, envPrefix, func(format string, args ...any) {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	})

	errs := o.appCfg.ValidateClients()
	errs = append(errs, o.logCfg.Validate())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if o.logger == nil {
		lg, err := log.New(o.logCfg.ToOptions("sdtom"))
		if err != nil {
			return fmt.Errorf("logger init: %w", err)
		}
		o.logger = lg.With("component", "cli")
	}
	return nil
}

// withApp builds the application, runs fn and pushes metrics when a
// Pushgateway is configured.
func (o *options) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	ctx = log.WithContext(ctx, o.logger)

	var reg *prometheus.Registry
	if o.pushgatewayURL != "" {
		reg = prometheus.NewRegistry()
	}

	// a nil *Registry must not reach Build as a non-nil interface
	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	a, err := o.build(ctx, &o.appCfg, o.logger, registerer)
	if err != nil {
		return err
	}
	defer a.Close()

	runErr := fn(ctx, a)
	if reg != nil {
		if err := pushMetrics(ctx, o.pushgatewayURL, reg); err != nil {
			o.logger.Warn(ctx, "failed to push metrics", "pushgateway", o.pushgatewayURL, "error", err)
		}
	}
	return runErr
}
