// schedcore runs the scheduler core on a simulated machine and reports
// what it did. It is the development harness for the scheduler: pick a
// topology and a workload, run a deterministic simulation, inspect the
// placement decisions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/khryptorgraphics/schedcore/internal/config"
	"github.com/khryptorgraphics/schedcore/internal/metrics"
	"github.com/khryptorgraphics/schedcore/pkg/loadtrack"
	"github.com/khryptorgraphics/schedcore/pkg/sched"
	"github.com/khryptorgraphics/schedcore/pkg/sim"
	"github.com/khryptorgraphics/schedcore/pkg/topology"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "schedcore",
		Short: "Multi-mode topology-aware thread scheduler simulator",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default: ./schedcore.yaml)")

	root.AddCommand(newRunCommand())
	root.AddCommand(newTopologyCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger.Level(level)
}

func parseMode(mode string) (sched.Mode, error) {
	switch mode {
	case "low_latency":
		return sched.ModeLowLatency, nil
	case "power_saving":
		return sched.ModePowerSaving, nil
	default:
		return 0, fmt.Errorf("unknown scheduler mode %q", mode)
	}
}

func newRunCommand() *cobra.Command {
	var (
		threads  int
		duration int64
		seed     int64
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if threads > 0 {
				cfg.Simulation.Threads = threads
			}
			if duration > 0 {
				cfg.Simulation.Duration = duration
			}
			if seed != 0 {
				cfg.Simulation.Seed = seed
			}
			if mode != "" {
				cfg.Scheduler.Mode = mode
			}

			logger := newLogger(cfg.Logging)

			schedMode, err := parseMode(cfg.Scheduler.Mode)
			if err != nil {
				return err
			}

			topo, err := topology.Build(
				topology.NewUniform(cfg.Topology.Packages,
					cfg.Topology.CoresPerPackage, cfg.Topology.SMTPerCore),
				cfg.Topology.CPUCount())
			if err != nil {
				return err
			}

			machine, err := sim.NewMachine(topo, schedMode, logger)
			if err != nil {
				return err
			}

			simCfg := cfg.Simulation
			err = machine.Workload(simCfg.Threads, simCfg.Priorities,
				[2]int64{simCfg.BurstMin, simCfg.BurstMax},
				[2]int64{simCfg.SleepMin, simCfg.SleepMax}, simCfg.Seed)
			if err != nil {
				return err
			}
			machine.ScheduleLoadAvgUpdates(loadtrack.UpdateInterval, simCfg.Duration)

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Metrics.Enabled {
				exporter := metrics.NewExporter(machine.Scheduler(), cfg.Metrics.Listen)
				go func() {
					if err := exporter.Serve(ctx); err != nil {
						logger.Error().Err(err).Msg("Metrics exporter failed")
					}
				}()
			}

			machine.Run(simCfg.Duration)

			printReport(machine.Report())

			if cfg.Logging.Level == "debug" {
				fmt.Println()
				fmt.Print(machine.Scheduler().DumpRunQueues())
				fmt.Println()
				fmt.Print(machine.Scheduler().DumpCoreLoads())
				fmt.Println()
				fmt.Print(machine.Scheduler().DumpIdleCores())
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&threads, "threads", 0, "workload thread count")
	cmd.Flags().Int64Var(&duration, "duration", 0, "virtual run time in microseconds")
	cmd.Flags().Int64Var(&seed, "seed", 0, "workload random seed")
	cmd.Flags().StringVar(&mode, "mode", "", "scheduler mode (low_latency, power_saving)")
	return cmd
}

func printReport(report sim.Report) {
	header := color.New(color.FgCyan, color.Bold)
	value := color.New(color.FgGreen)

	header.Println("Simulation report")
	fmt.Printf("run:            %s\n", report.RunID)
	fmt.Printf("virtual time:   %d us\n", report.VirtualTime)
	fmt.Printf("mode:           %s\n", report.Stats.Mode)
	value.Printf("context switches: %d\n", report.Switches)
	value.Printf("preemptions:      %d\n", report.Preemptions)
	value.Printf("ICIs sent:        %d\n", report.ICIsSent)

	header.Println("\nCores")
	fmt.Println("core load threads high")
	for _, core := range report.Stats.Cores {
		fmt.Printf("%4d %3d%% %7d %v\n",
			core.ID, core.Load/10, core.ThreadCount, core.HighLoad)
	}

	header.Println("\nThreads")
	fmt.Println("id   priority runtime(us) runs name")
	for _, thread := range report.Threads {
		fmt.Printf("%-4d %-8d %-11d %-4d %s\n",
			thread.ID, thread.Priority, thread.RunTime, thread.RunCount, thread.Name)
	}
}

func newTopologyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the effective configuration and topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))

			topo, err := topology.Build(
				topology.NewUniform(cfg.Topology.Packages,
					cfg.Topology.CoresPerPackage, cfg.Topology.SMTPerCore),
				cfg.Topology.CPUCount())
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Println("cpu core package")
			for cpu := int32(0); cpu < topo.CPUCount(); cpu++ {
				fmt.Printf("%3d %4d %7d\n", cpu, topo.CoreOf(cpu), topo.PackageOf(cpu))
			}
			return nil
		},
	}
}
