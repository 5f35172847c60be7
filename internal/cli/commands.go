package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/sdtom/internal/app"
	"github.com/linnemanlabs/sdtom/internal/catalog"
	"github.com/linnemanlabs/sdtom/internal/postgres"
	"github.com/linnemanlabs/sdtom/internal/queryseed"
)

func newRunCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Run a job to completion in the foreground",
		Long:  "Run a job to completion. Use \"sdtom jobs\" to list job names.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				run, err := a.Runner.RunNow(ctx, args[0])
				if run != nil {
					if werr := writeJSON(cmd.OutOrStdout(), run); werr != nil {
						return errors.Join(err, werr)
					}
				}
				return err
			})
		},
	}
}

func newJobsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List job names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
				for _, name := range a.Runner.Jobs() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newUpdateDatumsCmd(o *options) *cobra.Command {
	var brokerName string
	cmd := &cobra.Command{
		Use:   "update-datums <target>",
		Short: "Import photometry for a target and cache its latest magnitude",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			brokerName = strings.ToLower(brokerName)
			if brokerName != "mars" && brokerName != "alerce" {
				return fmt.Errorf("unsupported broker %q (want mars or alerce)", brokerName)
			}
			return o.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ctx = postgres.WithJob(ctx, "update-datums")
				t, err := a.Store.GetTargetByName(ctx, args[0])
				if errors.Is(err, catalog.ErrNotFound) {
					return fmt.Errorf("target %q not found", args[0])
				}
				if err != nil {
					return err
				}

				var cached bool
				switch brokerName {
				case "mars":
					cached, err = a.Service.UpdateDatumsFromMARS(ctx, t)
				case "alerce":
					cached, err = a.Service.UpdateDatumsFromALeRCE(ctx, t)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"target": t.Name,
					"broker": brokerName,
					"cached": cached,
				})
			})
		},
	}
	cmd.Flags().StringVar(&brokerName, "broker", "mars", "broker to import from (mars|alerce)")
	return cmd
}

func newSeedQueriesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-queries <file>",
		Short: "Upsert broker queries from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qs, err := queryseed.Load(args[0])
			if err != nil {
				return err
			}
			return o.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := queryseed.Seed(postgres.WithJob(ctx, "seed-queries"), a.Store, o.logger, qs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d queries\n", len(qs))
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			vi := v.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s (commit=%s, build_date=%s, go=%s)\n",
				vi.AppName, vi.Component, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
		},
	}
}

func writeJSON(w io.Writer, val any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}
