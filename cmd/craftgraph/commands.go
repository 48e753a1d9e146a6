// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/craftgraph/pkg/ux"
	"github.com/AleutianAI/craftgraph/pkg/validation"
	"github.com/AleutianAI/craftgraph/services/recipegraph/repository"
	"github.com/AleutianAI/craftgraph/services/recipegraph/telemetry"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// newRootCmd builds the command tree. Each call gets fresh flag state.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "craftgraph",
		Short: "Analyze a two-input crafting recipe graph",
		Long: `craftgraph answers reachability and crafting-path questions over a set
of recipes of the form "a + b = output", starting from the base items.

Data sources:
  --data recipes.yaml   YAML or JSON dataset (file driver)
  --data recipes.db     SQLite database (sqlite driver)
  --data recipes.badger BadgerDB directory (badger driver)

Examples:
  craftgraph --data recipes.yaml path 船
  craftgraph --data recipes.yaml path 船 --policy min_depth -o json
  craftgraph --data recipes.db stats
  craftgraph --data recipes.yaml watch --metrics-addr :9090`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (yaml, json or toml)")
	pf.StringVar(&opts.dataPath, "data", "", "Recipe data file, SQLite database or Badger directory")
	pf.StringVar(&opts.driver, "driver", "", "Repository driver: memory, file, sqlite or badger (default from --data)")
	pf.StringVar(&opts.policy, "policy", "", "Path policy: first_match, min_depth or min_breadth")
	pf.StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		newPathCmd(opts, out, errOut),
		newReachCmd(opts, out, errOut),
		newStatsCmd(opts, out, errOut),
		newIcicleCmd(opts, out, errOut),
		newUnreachableCmd(opts, out, errOut),
		newCacheStatusCmd(opts, out, errOut),
		newWatchCmd(opts, out, errOut),
	)
	return root
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(cmd *cobra.Command, opts *globalOptions, out, errOut io.Writer, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts, out, errOut)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

// =============================================================================
// QUERY COMMANDS
// =============================================================================

func newPathCmd(opts *globalOptions, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "path ITEM",
		Short: "Show the crafting tree for an item",
		Long: `Resolve ITEM into a binary crafting tree down to base items and print
its depth, width, breadth and base material totals.

Policies (--policy):
  first_match  First producing recipe in data order
  min_depth    Shallowest tree (depth equals the item's reachability level)
  min_breadth  Fewest alternative recipes along the tree

Exit status is 2 when the item is unknown or cannot be crafted.

Examples:
  craftgraph --data recipes.yaml path 船
  craftgraph --data recipes.yaml path 船 --policy min_depth`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := validation.SanitizeItemName(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, out, errOut, func(ctx context.Context, a *app) error {
				path, found, err := a.engine.CraftingPath(ctx, item)
				if err != nil {
					return err
				}
				if !found {
					return a.notFound(item)
				}
				return a.renderPath(path)
			})
		},
	}
}

func newReachCmd(opts *globalOptions, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "reach ITEM",
		Short: "Show reachability facts for an item",
		Long: `Report whether ITEM is reachable from the base items, its minimum
recipe depth, the recipe that first made it reachable and how many recipes
produce and consume it.

Exit status is 2 when the item does not appear in the data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := validation.SanitizeItemName(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, out, errOut, func(ctx context.Context, a *app) error {
				st, found, err := a.engine.ReachabilityStats(ctx, item)
				if err != nil {
					return err
				}
				if !found {
					return a.notFound(item)
				}
				return a.renderReach(st)
			})
		},
	}
}

func newStatsCmd(opts *globalOptions, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show whole-graph totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, out, errOut, func(ctx context.Context, a *app) error {
				st, err := a.engine.GraphStats(ctx)
				if err != nil {
					return err
				}
				return a.renderGraphStats(st)
			})
		},
	}
}

func newIcicleCmd(opts *globalOptions, out, errOut io.Writer) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "icicle [ITEM]",
		Short: "Lay out crafting trees as an icicle chart",
		Long: `Build the icicle layout for ITEM, or for every reachable item when ITEM
is omitted. Roots are sorted by depth, width, breadth (descending) and name
before --limit is applied.

Examples:
  craftgraph --data recipes.yaml icicle --limit 20
  craftgraph --data recipes.yaml icicle 船 -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := ""
			if len(args) == 1 {
				var err error
				if item, err = validation.SanitizeItemName(args[0]); err != nil {
					return err
				}
			}
			return withApp(cmd, opts, out, errOut, func(ctx context.Context, a *app) error {
				chart, found, err := a.engine.IcicleChart(ctx, item, limit)
				if err != nil {
					return err
				}
				if !found {
					return a.notFound(item)
				}
				return a.renderIcicle(chart)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of root items (0 uses the configured default)")
	return cmd
}

func newUnreachableCmd(opts *globalOptions, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "unreachable",
		Short: "Classify the items that cannot be crafted",
		Long: `Group unreachable items into connected dependency graphs and classify
each one as isolated, linear, circular or boundary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, out, errOut, func(ctx context.Context, a *app) error {
				report, err := a.engine.AnalyzeUnreachableGraphs(ctx)
				if err != nil {
					return err
				}
				return a.renderUnreachable(report)
			})
		},
	}
}

func newCacheStatusCmd(opts *globalOptions, out, errOut io.Writer) *cobra.Command {
	var warm bool

	cmd := &cobra.Command{
		Use:   "cache-status",
		Short: "Show the analysis cache state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, out, errOut, func(ctx context.Context, a *app) error {
				if warm {
					if _, err := a.engine.GraphStats(ctx); err != nil {
						return err
					}
				}
				return a.renderCacheStatus(a.engine.CacheStatus())
			})
		},
	}
	cmd.Flags().BoolVar(&warm, "warm", true, "Build the analysis before reporting")
	return cmd
}

// =============================================================================
// WATCH COMMAND
// =============================================================================

func newWatchCmd(opts *globalOptions, out, errOut io.Writer) *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the analysis whenever the data file changes",
		Long: `Watch the --data file and rebuild the analysis after every change. Only
the file driver can be watched. With --metrics-addr and the prometheus
metric exporter, metrics are served at /metrics.

Examples:
  craftgraph --data recipes.yaml watch
  CRAFTGRAPH_METRIC_EXPORTER=prometheus craftgraph --data recipes.yaml watch --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, opts, out, errOut, func(ctx context.Context, a *app) error {
				if a.cfg.Repository.Driver != "file" {
					return fmt.Errorf("watch needs the file driver, got %q", a.cfg.Repository.Driver)
				}
				return runWatch(ctx, a, metricsAddr, debounce)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", repository.DefaultWatcherOptions().Debounce, "Quiet period before a rebuild")
	return cmd
}

// runWatch builds once, then blocks until ctx is done.
func runWatch(ctx context.Context, a *app, metricsAddr string, debounce time.Duration) error {
	if err := a.engine.Refresh(ctx); err != nil {
		return err
	}

	wopts := repository.DefaultWatcherOptions()
	wopts.Debounce = debounce
	w, err := a.engine.WatchFile(ctx, a.cfg.Repository.Path, &wopts)
	if err != nil {
		return err
	}
	defer w.Stop()

	var srv *http.Server
	if metricsAddr != "" {
		if h := telemetry.MetricsHandler(); h != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("metrics server stopped", "error", err)
				}
			}()
		} else {
			a.logger.Warn("metrics address ignored; metric exporter is not prometheus")
		}
	}

	st := a.engine.CacheStatus()
	a.printer.Status(ux.IconArrow, fmt.Sprintf("watching %s (%d items, %d recipes)", a.cfg.Repository.Path, st.Items, st.Recipes))

	<-ctx.Done()

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	return nil
}
