package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kahiteam/cowfork/internal/api"
	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/logging"
	"github.com/kahiteam/cowfork/internal/metrics"
	"github.com/kahiteam/cowfork/internal/scenario"
	"github.com/kahiteam/cowfork/internal/version"
	"github.com/spf13/cobra"
)

var (
	runConfig        string
	runJSON          bool
	runMetricsListen string
	runLogLevel      string
)

const eventLogSize = 1024

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured fork scenario and print the report",
	Long: "Run boots a parent environment, maps the configured pages, forks, and runs\n" +
		"the parent and child steps. With a listen address the HTTP API keeps\n" +
		"serving metrics and the report until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, runConfig)
		if err != nil {
			return err
		}
		if runLogLevel != "" {
			if err := logging.ValidateLevel(runLogLevel); err != nil {
				return err
			}
			cfg.Log.Level = runLogLevel
		}
		listen := cfg.Metrics.Listen
		if runMetricsListen != "" {
			listen = runMetricsListen
		}

		logger := logging.New(logging.LogConfig{
			Level:  cfg.Log.Level,
			Format: logging.DetectFormat(cfg.Log.Format, os.Stderr),
			Output: cmd.ErrOrStderr(),
		})
		bus := events.NewBus(logger)
		evlog := events.NewLog(eventLogSize)
		evlog.Attach(bus)
		col := metrics.New()
		col.SetBuildInfo(version.Version, version.Commit, version.Go())
		col.Subscribe(bus)

		k, err := kernel.New(kernel.Config{
			NPages: cfg.Kernel.NPages,
			NEnv:   cfg.Kernel.NEnv,
			Logger: logging.WithFields(logger, "component", "kernel"),
			Bus:    bus,
		})
		if err != nil {
			return err
		}
		col.TrackFreePages(k)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var done atomic.Pointer[scenario.Report]
		var srv *api.Server
		if listen != "" {
			srv = api.NewServer(api.Deps{
				Metrics: col.Handler(),
				Kernel:  k,
				Report: func() any {
					if r := done.Load(); r != nil {
						return r
					}
					return nil
				},
				Events: evlog,
				Version: map[string]string{
					"version": version.Version,
					"commit":  version.Commit,
					"go":      version.Go(),
				},
			}, logging.WithFields(logger, "component", "api"))
			if err := srv.StartTCP(listen); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Stop(shutdownCtx); err != nil {
					logger.Error("api shutdown", "error", err)
				}
			}()
		}

		rep, err := scenario.Run(ctx, k, cfg.Scenario, scenario.Options{
			Logger: logging.WithFields(logger, "component", "runtime"),
			Bus:    bus,
		})
		if err != nil {
			return err
		}
		done.Store(rep)
		if err := rep.Write(cmd.OutOrStdout(), runJSON); err != nil {
			return err
		}

		if srv != nil {
			logger.Info("serving until interrupted", "addr", srv.Addr())
			<-ctx.Done()
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfig, "config", "c", "", "config file path")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the report as JSON")
	runCmd.Flags().StringVar(&runMetricsListen, "metrics-listen", "", "serve metrics and the API on this address after the run")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(runCmd)
}
