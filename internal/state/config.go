// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package state

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	badger "github.com/dgraph-io/badger/v3"
	pkgerrors "github.com/pkg/errors"
)

// Config describes how to open the durable backing store for a Manager.
type Config struct {
	// DataDir is the badger database directory. An empty DataDir opens an
	// in-memory-only database, suitable for tests.
	DataDir string `koanf:"data-dir"`

	// S3Bucket, if non-empty, enables archival mirroring; the caller is
	// responsible for constructing and passing the S3Archiver to New.
	S3Bucket string `koanf:"s3-bucket"`
	S3Prefix string `koanf:"s3-prefix"`

	// S3AccessKeyID/S3SecretAccessKey override the default AWS credential
	// chain with static credentials, for deployments (local MinIO, CI)
	// where an instance role or shared config profile isn't available.
	// Both empty falls back to the default chain.
	S3AccessKeyID     string `koanf:"s3-access-key-id"`
	S3SecretAccessKey string `koanf:"s3-secret-access-key"`
}

// DefaultConfig returns an in-memory configuration suitable for tests and
// for a sequencer started without a configured data directory.
func DefaultConfig() Config {
	return Config{DataDir: ""}
}

// OpenBadger opens (or creates) the badger database described by cfg.
func OpenBadger(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.DataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DataDir)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening state root database")
	}
	return db, nil
}

// NewS3ClientFromEnv builds an S3 client for archival mirroring. With
// S3AccessKeyID/S3SecretAccessKey set, it uses those directly; otherwise it
// falls back to the default AWS credential chain (environment, shared
// config, or instance role).
func NewS3ClientFromEnv(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "loading AWS configuration")
	}
	return s3.NewFromConfig(awsCfg), nil
}
