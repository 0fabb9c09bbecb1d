package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/scopearena/internal/stress"
	"github.com/hupe1980/scopearena/promobserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	stressFile         string
	stressList         bool
	stressScale        float64
	stressOffHeap      bool
	stressNoBackground bool
	stressMetricsAddr  string
	stressTimeout      time.Duration
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().StringVarP(&stressFile, "file", "f", "", "YAML file with additional profiles")
	cmd.Flags().BoolVar(&stressList, "list", false, "List available profiles and exit")
	cmd.Flags().Float64Var(&stressScale, "scale", 1, "Multiply the iteration count of every profile")
	cmd.Flags().BoolVar(&stressOffHeap, "off-heap", false, "Back blocks with anonymous mappings")
	cmd.Flags().BoolVar(&stressNoBackground, "no-background", false, "Run without cleaner and compactor goroutines")
	cmd.Flags().StringVar(&stressMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	cmd.Flags().DurationVar(&stressTimeout, "timeout", 0, "Abort after this duration (0 = no limit)")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress [profile...]",
		Short: "Run allocation workloads",
		Long: `The stress command runs workload profiles against fresh arena trees and
verifies the data written by each workload. Without arguments all built-in
profiles run, or all profiles of --file when one is given.

Example:
  arenactl stress
  arenactl stress fragmentation-storm --scale 10
  arenactl stress -f profiles.yaml --json
  arenactl stress concurrent-multi-arena --metrics-addr :2112`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context(), args)
		},
	}
	return cmd
}

// resolveProfiles selects the named profiles from the built-ins and file.
func resolveProfiles(names []string, file string) ([]stress.Profile, error) {
	available := stress.Builtins()
	if file != "" {
		extra, err := stress.Load(file)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return extra, nil
		}
		available = append(available, extra...)
	}
	if len(names) == 0 {
		return available, nil
	}

	var selected []stress.Profile
	for _, name := range names {
		found := false
		for _, p := range available {
			if p.Name == name {
				selected = append(selected, p)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown profile %q", name)
		}
	}
	return selected, nil
}

func runStress(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	profiles, err := resolveProfiles(args, stressFile)
	if err != nil {
		return err
	}

	if stressList {
		return listProfiles(profiles)
	}

	if stressTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stressTimeout)
		defer cancel()
	}

	runner := &stress.Runner{
		Logger:            arenaLogger(),
		OffHeap:           stressOffHeap,
		DisableBackground: stressNoBackground,
	}

	if stressMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		obs, err := promobserver.New("scopearena", reg)
		if err != nil {
			return err
		}
		runner.Observer = obs

		srv := &http.Server{
			Addr:              stressMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				printError("metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
		printVerbose("Serving metrics on %s/metrics\n", stressMetricsAddr)
	}

	var results []*stress.Result
	var failed []string
	for _, p := range profiles {
		if stressScale != 1 {
			p = p.Scale(stressScale)
		}
		printVerbose("Running %s (%s, %d iterations)\n", p.Name, p.Kind, p.Iterations)

		res, err := runner.Run(ctx, p)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			printError("%v\n", err)
			failed = append(failed, p.Name)
			if ctx.Err() != nil {
				break
			}
		}
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		printResults(results)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d profile(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func listProfiles(profiles []stress.Profile) error {
	if jsonOut {
		return printJSON(profiles)
	}
	for _, p := range profiles {
		printInfo("%-24s %-14s %s\n", p.Name, p.Kind, p.Description)
	}
	return nil
}

func printResults(results []*stress.Result) {
	printInfo("%-24s %10s %9s %7s %7s %7s %10s %10s %s\n",
		"PROFILE", "ELAPSED", "ALLOCS", "SCOPES", "PROMO", "RESETS", "OPS/S", "PEAK", "FRAG")
	for _, r := range results {
		printInfo("%-24s %10s %9d %7d %7d %7d %10.0f %10s %.2f\n",
			r.Profile,
			r.Elapsed.Round(time.Microsecond),
			r.Allocs,
			r.Scopes,
			r.Promotions,
			r.Resets,
			r.OpsPerSec(),
			formatBytes(r.Resources.PeakMemoryUsed),
			r.Tree.Fragmentation(),
		)
		printVerbose("  blocks: %d allocated, %d freed; compactions: %d moved %d entries; cleaner passes: %d\n",
			r.Metrics.BlocksAllocated, r.Metrics.BlocksFreed,
			r.Metrics.Compactions, r.Metrics.EntriesMoved, r.Metrics.CleanerPasses)
	}
}
