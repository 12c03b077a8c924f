// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Command sequencer wires the Bundle Engine, Mixed-Transaction Optimizer,
// State Commitment Manager, and Bridge Reliability Engine into one runnable
// binary behind a shared status server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/l2seq/sequencer/internal/bridge"
	"github.com/l2seq/sequencer/internal/bundleengine"
	"github.com/l2seq/sequencer/internal/clock"
	"github.com/l2seq/sequencer/internal/events"
	"github.com/l2seq/sequencer/internal/optimizer"
	"github.com/l2seq/sequencer/internal/state"
	"github.com/l2seq/sequencer/internal/statusserver"
	"github.com/l2seq/sequencer/internal/taxsystem"
)

func main() {
	if err := mainImpl(); err != nil {
		log.Crit("sequencer exited with error", "err", err)
	}
}

func mainImpl() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := ParseSequencerConfig(ctx, os.Args[1:])
	if err != nil {
		return errors.Wrap(err, "parsing configuration")
	}

	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(cfg.LogLevel), log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	sink := events.MultiSink{Sinks: []events.Sink{events.LogSink{}}}
	clk := clock.Real{}

	taxes := taxsystem.NewSimple(cfg.Tax)

	bundleEngine := bundleengine.New(cfg.Bundle, taxes, sink, clk, bundleengine.AlwaysSucceedProcessor{})
	optimizerEngine := optimizer.New(cfg.Optimizer, sink, clk, optimizer.AlwaysSucceedProcessor{})
	bridgeEngine := bridge.New(cfg.Bridge, sink, clk)

	db, err := state.OpenBadger(cfg.State)
	if err != nil {
		return errors.Wrap(err, "opening state database")
	}
	defer db.Close()
	bridgeEngine.AttachStore(db)

	var archiver state.Archiver
	if cfg.State.S3Bucket != "" {
		s3Client, s3Err := state.NewS3ClientFromEnv(ctx, cfg.State)
		if s3Err != nil {
			return errors.Wrap(s3Err, "configuring S3 archival client")
		}
		archiver = state.NewS3Archiver(s3Client, cfg.State.S3Bucket, cfg.State.S3Prefix)
	}
	stateManager, err := state.New(db, archiver, clk)
	if err != nil {
		return errors.Wrap(err, "constructing state manager")
	}
	if err := stateManager.Initialize("default"); err != nil {
		return errors.Wrap(err, "initializing state manager")
	}

	if err := bundleEngine.Start(ctx); err != nil {
		return errors.Wrap(err, "starting bundle engine")
	}
	defer bundleEngine.StopAndWait()

	if err := optimizerEngine.Start(ctx); err != nil {
		return errors.Wrap(err, "starting optimizer engine")
	}
	defer optimizerEngine.StopAndWait()

	if err := bridgeEngine.Start(ctx); err != nil {
		return errors.Wrap(err, "starting bridge engine")
	}
	defer bridgeEngine.StopAndWait()

	status := statusserver.New(cfg.StatusServerAddr, func() statusserver.Snapshot {
		return statusserver.Snapshot{
			Bundle:    bundleEngine.GetPerformanceMetrics(),
			Optimizer: optimizerEngine.GetProcessingMetrics(),
			Bridge:    bridgeEngine.Metrics(),
			State:     stateManager.Metrics(),
		}
	})
	status.Start()
	defer func() {
		_ = status.Shutdown(context.Background())
	}()

	log.Info("sequencer running", "statusAddr", cfg.StatusServerAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("sequencer shutting down")
	return nil
}
