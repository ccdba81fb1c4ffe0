package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// agentEnv is the shared harness each instrument agent runs inside: its
// logger, its data document publisher, and the effective runtime config.
type agentEnv struct {
	log  *zap.SugaredLogger
	pub  *Publisher
	cfg  Config
	spec AgentSpec
}

// agentMain is one instrument's sampling loop.  It runs until the context
// is cancelled and is responsible for parking its hardware on the way out;
// the harness retires the data document afterwards.
type agentMain func(ctx context.Context, env *agentEnv) error

// runAgent is the entry point for "pilab agent <name>".  The supervisor
// spawns these as detached processes; they can also be started by hand for
// debugging.  SIGTERM and SIGINT cancel the context, after which the data
// document is removed so pollers see the offline condition rather than a
// frozen last sample.
func runAgent(cfgPath string, verbose bool, name string, args []string) error {
	mains := map[string]agentMain{
		"pushbutton":   runPushButton,
		"servo":        runServo,
		"fncgen":       runFncgen,
		"oscilloscope": runOscilloscope,
		"altimeter":    runAltimeter,
	}
	run, ok := mains[name]
	if !ok {
		return fmt.Errorf("unknown agent %q", name)
	}

	cfgMgr, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()

	manifest, err := LoadManifest(cfg.ManifestFile)
	if err != nil {
		return err
	}
	spec, ok := manifest.Get(name)
	if !ok {
		return fmt.Errorf("agent %q not in manifest", name)
	}
	spec.DefaultArgs = args

	log := newLogger(verbose).Named(name)
	defer func() { _ = log.Sync() }()

	if err := initHardware(); err != nil {
		return fmt.Errorf("agent %s: %w", name, err)
	}

	env := &agentEnv{
		log:  log,
		pub:  NewPublisher(cfg.DataDir, spec.DataFile),
		cfg:  cfg,
		spec: spec,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	log.Infow("agent starting", "data", env.pub.Path(), "args", args)
	runErr := run(ctx, env)

	// Removing the document is the offline signal to every poller.
	if err := env.pub.Retire(); err != nil {
		log.Warnw("retiring data document", "error", err)
	}
	if runErr != nil && ctx.Err() == nil {
		return fmt.Errorf("agent %s: %w", name, runErr)
	}
	log.Infow("agent stopped")
	return nil
}
