package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"PickFlow/internal/di"
	"PickFlow/internal/usecase"
	"PickFlow/pkg/config"
	applogger "PickFlow/pkg/logger"
	"PickFlow/pkg/server"
	"PickFlow/pkg/util"
)

// Execute builds the command tree and runs it.
func Execute(ctx context.Context) error {
	var configPath string
	root := &cobra.Command{
		Use:           "pickflow",
		Short:         "Daily diversified selection over a large watchlist",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	root.AddCommand(runCmd(ctx, &configPath))
	root.AddCommand(batchCmd(ctx, &configPath))
	root.AddCommand(mergeCmd(ctx, &configPath))
	root.AddCommand(enqueueCmd(ctx, &configPath))
	root.AddCommand(serveCmd(ctx, &configPath))
	root.AddCommand(markCmd(ctx, &configPath))
	return root.ExecuteContext(ctx)
}

// withApp loads config, wires the application and releases it after fn.
func withApp(configPath string, fn func(app *server.App) error) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer app.Close()
	app.Logger().Info("pickflow starting",
		applogger.String("env", cfg.Environment),
		applogger.String("store", cfg.Store.Primary),
	)
	return fn(app)
}

func runCmd(ctx context.Context, configPath *string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every batch in-process and select",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(app *server.App) error {
				runDate, err := app.RunDate(date)
				if err != nil {
					return err
				}
				res, err := app.RunOnce(ctx, runDate)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today)")
	return cmd
}

func batchCmd(ctx context.Context, configPath *string) *cobra.Command {
	var (
		date  string
		index int
		total int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process one distributed batch; the last batch also merges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(app *server.App) error {
				runDate, err := app.RunDate(date)
				if err != nil {
					return err
				}
				res, err := app.RunBatch(ctx, runDate, index, total)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&index, "index", 0, "batch index")
	cmd.Flags().IntVar(&total, "total", 0, "total batches (default from config)")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func mergeCmd(ctx context.Context, configPath *string) *cobra.Command {
	var (
		date  string
		total int
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Select from the batch outcomes already stored for a run date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(app *server.App) error {
				runDate, err := app.RunDate(date)
				if err != nil {
					return err
				}
				res, err := app.Merge(ctx, runDate, total)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&total, "total", 0, "total batches (default from config)")
	return cmd
}

func enqueueCmd(ctx context.Context, configPath *string) *cobra.Command {
	var (
		date  string
		total int
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue one trigger per batch for the serve workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(app *server.App) error {
				runDate, err := app.RunDate(date)
				if err != nil {
					return err
				}
				n, err := app.EnqueueAll(ctx, runDate, total)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %d triggers for %s\n", n, util.RunDateKey(runDate))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&total, "total", 0, "total batches (default from config)")
	return cmd
}

func serveCmd(ctx context.Context, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the read API and batch queue workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(app *server.App) error {
				return app.Serve(ctx)
			})
		},
	}
}

type marker interface {
	Mark(ctx context.Context, runDate string, at time.Time) error
}

// markCmd records upstream completion so batch 0 can start. Meant for the
// job that produces the day's input data.
func markCmd(ctx context.Context, configPath *string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "mark",
		Short: "Signal that the upstream stage finished for a run date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithEnv(*configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			runDate, err := util.ParseRunDate(date, time.Now(), loc)
			if err != nil {
				return err
			}
			rc, err := di.ProvideRedisClient(cfg)
			if err != nil {
				return err
			}
			if rc != nil {
				defer rc.Close()
			}
			sig := di.ProvidePrerequisite(cfg, di.ProvideCache(cfg, rc))
			m, ok := sig.(marker)
			if !ok {
				return fmt.Errorf("prerequisite marker %q is disabled", cfg.Pipeline.PrerequisiteMarker)
			}
			key := util.RunDateKey(runDate)
			if err := m.Mark(ctx, key, time.Now()); err != nil {
				return fmt.Errorf("mark %s: %w", key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %s\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today)")
	return cmd
}

func printResult(res *usecase.RunResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if res.Selection != nil {
		return enc.Encode(res.Selection)
	}
	return enc.Encode(res.Summary)
}
