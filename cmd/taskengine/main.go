// Command taskengine is a thin demonstration harness around the pool
// package: it loads configuration through Viper, wires a zap logger and
// a Prometheus metrics sink into a service registry, runs an untyped
// pool against a burst of synthetic jobs, and prints the final metrics
// snapshot.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/TheEntropyCollective/taskengine/pkg/common/registry"
	"github.com/TheEntropyCollective/taskengine/pkg/common/telemetry"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/job"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/pool"
	"github.com/TheEntropyCollective/taskengine/pkg/core/engine/queue"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskengine",
		Short: "taskengine runs and demonstrates the core concurrent execution engine",
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TASKENGINE")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a pool, submit a burst of synthetic jobs, and report a metrics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "Path to a YAML config file (optional)")
	flags.Int("workers", 0, "Worker count (0 = runtime.NumCPU())")
	flags.Int("jobs", 10000, "Number of synthetic jobs to submit")
	flags.Duration("shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("workers", flags.Lookup("workers"))
	_ = v.BindPFlag("jobs", flags.Lookup("jobs"))
	_ = v.BindPFlag("shutdown_timeout", flags.Lookup("shutdown-timeout"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	return cmd
}

func runDemo(v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("taskengine: reading config file %q: %w", cfgFile, err)
		}
	}

	zapLogger, err := newZapLogger(v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("taskengine: building logger: %w", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	reg := registry.New()
	reg.SetLogger(telemetry.NewZapLogger(zapLogger))
	reg.SetMetrics(telemetry.NewPrometheusSink(prometheus.NewRegistry()))

	workers := v.GetInt("workers")
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := pool.New(pool.Config{
		WorkerCount: workers,
		QueueConfig: queue.DefaultAdaptiveQueueConfig(),
		Registry:    reg,
	})
	if err := p.Start(); err != nil {
		return fmt.Errorf("taskengine: starting pool: %w", err)
	}

	n := v.GetInt("jobs")
	for i := 0; i < n; i++ {
		jobID := uuid.NewString()
		if err := p.Submit(job.FromFunc(jobID, func(ctx context.Context) error { return nil })); err != nil {
			reg.Logger().Warn("submit failed", telemetry.F("job_id", jobID), telemetry.F("error", err.Error()))
		}
	}

	timeout := v.GetDuration("shutdown_timeout")
	if err := p.ShutdownGraceful(timeout); err != nil {
		reg.Logger().Warn("graceful shutdown timed out, forcing immediate shutdown",
			telemetry.F("pool_id", p.ID()), telemetry.F("timeout", timeout.String()))
		if err := p.ShutdownImmediate(); err != nil {
			return fmt.Errorf("taskengine: immediate shutdown: %w", err)
		}
	}

	stats := p.Stats()
	fmt.Printf("pool %s: workers=%d submitted=%d completed=%d failed=%d\n",
		p.ID(), stats.WorkerCount, stats.Submitted, stats.Completed, stats.Failed)
	return nil
}

func newZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return cfg.Build()
}
