// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/l2seq/sequencer/internal/testhelpers"
)

func TestParseSequencerConfigDefaults(t *testing.T) {
	cfg, err := ParseSequencerConfig(context.Background(), []string{})
	testhelpers.RequireImpl(t, err)
	if cfg.Bundle.MaxTransactionsPerBundle != 100 {
		testhelpers.FailImpl(t, "unexpected default max transactions per bundle", cfg.Bundle.MaxTransactionsPerBundle)
	}
	if cfg.StatusServerAddr != ":8080" {
		testhelpers.FailImpl(t, "unexpected default status addr", cfg.StatusServerAddr)
	}
	if len(cfg.Optimizer.SupportedTransactionTypes) == 0 {
		testhelpers.FailImpl(t, "expected a non-empty default transaction type set")
	}
}

func TestParseSequencerConfigOverrides(t *testing.T) {
	args := strings.Split("--bundle.max-transactions-per-bundle 50 --bridge.max-retries 2 --status-addr :9090", " ")
	cfg, err := ParseSequencerConfig(context.Background(), args)
	testhelpers.RequireImpl(t, err)
	if cfg.Bundle.MaxTransactionsPerBundle != 50 {
		testhelpers.FailImpl(t, "override did not apply", cfg.Bundle.MaxTransactionsPerBundle)
	}
	if cfg.Bridge.MaxRetries != 2 {
		testhelpers.FailImpl(t, "override did not apply", cfg.Bridge.MaxRetries)
	}
	if cfg.StatusServerAddr != ":9090" {
		testhelpers.FailImpl(t, "override did not apply", cfg.StatusServerAddr)
	}
}

func TestParseSequencerConfigFileIsOverriddenByFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sequencer.json")
	body := `{"status-addr": ":7070", "bundle": {"max-transactions-per-bundle": 42}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		testhelpers.FailImpl(t, "writing temp config file", err)
	}

	cfg, err := ParseSequencerConfig(context.Background(), []string{"--config", path})
	testhelpers.RequireImpl(t, err)
	if cfg.StatusServerAddr != ":7070" {
		testhelpers.FailImpl(t, "file value did not apply", cfg.StatusServerAddr)
	}
	if cfg.Bundle.MaxTransactionsPerBundle != 42 {
		testhelpers.FailImpl(t, "file value did not apply", cfg.Bundle.MaxTransactionsPerBundle)
	}

	cfg, err = ParseSequencerConfig(context.Background(), []string{"--config", path, "--status-addr", ":9999"})
	testhelpers.RequireImpl(t, err)
	if cfg.StatusServerAddr != ":9999" {
		testhelpers.FailImpl(t, "flag did not override file value", cfg.StatusServerAddr)
	}
	if cfg.Bundle.MaxTransactionsPerBundle != 42 {
		testhelpers.FailImpl(t, "file value should survive when the flag is untouched", cfg.Bundle.MaxTransactionsPerBundle)
	}
}

func TestParseSequencerConfigMissingFileErrors(t *testing.T) {
	_, err := ParseSequencerConfig(context.Background(), []string{"--config", "/nonexistent/sequencer.json"})
	if err == nil {
		testhelpers.FailImpl(t, "expected an error for a missing config file")
	}
}
