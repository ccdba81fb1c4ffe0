package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// supervisor bundles the wired components behind the CLI commands.
type supervisor struct {
	cfgMgr   *ConfigManager
	manifest *Manifest
	reg      *Registry
	ctl      *Controller
	events   *EventLog
	metrics  *Metrics
	log      *zap.SugaredLogger
}

func buildSupervisor(cfgPath string, verbose bool) (*supervisor, error) {
	cfgMgr, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg := cfgMgr.Get()

	manifest, err := LoadManifest(cfg.ManifestFile)
	if err != nil {
		return nil, err
	}

	log := newLogger(verbose)
	events := NewEventLog(cfg.EventLog)
	metrics := NewMetrics()
	reg := NewRegistry(cfg.RunDir)
	ctl := NewController(cfgMgr, reg, log, events, metrics)

	return &supervisor{
		cfgMgr:   cfgMgr,
		manifest: manifest,
		reg:      reg,
		ctl:      ctl,
		events:   events,
		metrics:  metrics,
		log:      log,
	}, nil
}

func (sv *supervisor) spec(name string) (AgentSpec, error) {
	spec, ok := sv.manifest.Get(name)
	if !ok {
		return AgentSpec{}, fmt.Errorf("unknown agent %q", name)
	}
	return spec, nil
}

func main() {
	var (
		cfgPath string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "pilab",
		Short:         "Supervisor for the bench instrument agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := buildSupervisor(cfgPath, verbose)
			if err != nil {
				return err
			}
			cfg := sv.cfgMgr.Get()

			// Only one supervisor may own the run directory.
			if err := os.MkdirAll(cfg.RunDir, 0755); err != nil {
				return err
			}
			lock := flock.New(filepath.Join(cfg.RunDir, "pilab.lock"))
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquiring supervisor lock: %w", err)
			}
			if !locked {
				return errors.New("another supervisor instance is already running")
			}
			defer func() { _ = lock.Unlock() }()

			if err := initHardware(); err != nil {
				return err
			}

			srv := NewServer(sv.cfgMgr, sv.manifest, sv.reg, sv.ctl, sv.events, sv.metrics, sv.log)
			return srv.Start()
		},
	}

	agent := &cobra.Command{
		Use:                "agent <name> [agent flags]",
		Short:              "Run one instrument agent in the foreground",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("agent name required")
			}
			// Flag parsing is disabled on this command so agent flags pass
			// through untouched; the spawning supervisor hands its config
			// path down in the environment instead.
			path := cfgPath
			if path == "" {
				path = os.Getenv("PILAB_CONFIG")
			}
			return runAgent(path, verbose, args[0], args[1:])
		},
	}

	start := &cobra.Command{
		Use:   "start <agent>",
		Short: "Start an agent with its default arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := buildSupervisor(cfgPath, verbose)
			if err != nil {
				return err
			}
			spec, err := sv.spec(args[0])
			if err != nil {
				return err
			}
			pid, started, err := sv.ctl.EnsureRunning(spec, nil)
			if err != nil {
				return err
			}
			if started {
				fmt.Printf("started %s (PID %d)\n", spec.Name, pid)
			} else {
				fmt.Printf("%s already running (PID %d)\n", spec.Name, pid)
			}
			return nil
		},
	}

	stop := &cobra.Command{
		Use:   "stop <agent>",
		Short: "Stop a running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := buildSupervisor(cfgPath, verbose)
			if err != nil {
				return err
			}
			spec, err := sv.spec(args[0])
			if err != nil {
				return err
			}
			if err := sv.ctl.Stop(spec); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", spec.Name)
			return nil
		},
	}

	restart := &cobra.Command{
		Use:   "restart <agent>",
		Short: "Restart an agent with its default arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := buildSupervisor(cfgPath, verbose)
			if err != nil {
				return err
			}
			spec, err := sv.spec(args[0])
			if err != nil {
				return err
			}
			pid, err := sv.ctl.RestartWithArgs(spec, nil)
			if err != nil {
				return err
			}
			fmt.Printf("restarted %s (PID %d)\n", spec.Name, pid)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show process and data state for every agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := buildSupervisor(cfgPath, verbose)
			if err != nil {
				return err
			}
			cfg := sv.cfgMgr.Get()
			for _, spec := range sv.manifest.All() {
				state := "stopped"
				if pid, err := sv.reg.Lookup(spec); err == nil {
					state = fmt.Sprintf("running (PID %d)", pid)
				}
				data := "no data"
				path := filepath.Join(cfg.DataDir, spec.DataFile)
				if info, err := os.Stat(path); err == nil {
					age := time.Since(info.ModTime()).Round(time.Second)
					data = fmt.Sprintf("data %s old", age)
				}
				fmt.Printf("%-14s %-20s %s\n", spec.Name, state, data)
			}
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Recalibrate the altimeter to the current ground level",
		RunE: func(cmd *cobra.Command, args []string) error {
			sv, err := buildSupervisor(cfgPath, verbose)
			if err != nil {
				return err
			}
			cfg := sv.cfgMgr.Get()
			if err := os.MkdirAll(cfg.RunDir, 0755); err != nil {
				return err
			}
			if err := os.WriteFile(resetFlagPath(cfg.RunDir), nil, 0644); err != nil {
				return err
			}
			sv.events.Log("altimeter reset requested")
			fmt.Println("altimeter reset pending; applied on the agent's next sample")
			return nil
		},
	}

	root.AddCommand(serve, agent, start, stop, restart, status, reset, watchCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
