// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package state

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	pkgerrors "github.com/pkg/errors"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// S3Archiver mirrors each submitted state root as an object in a single S3
// bucket, keyed by block number. It is a best-effort secondary copy: callers
// treat Archive failures as non-fatal, logging and moving on.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver against an already-configured S3 client.
func NewS3Archiver(client *s3.Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Archive uploads the serialized triple to s3://bucket/<prefix><blockNumber>,
// with the block number zero-padded to 20 digits and no separator added.
func (a *S3Archiver) Archive(ctx context.Context, root seqtypes.StateRoot) error {
	key := fmt.Sprintf("%s%020d", a.prefix, root.BlockNumber)
	body := serializeTriple(root)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "archiving state root for block %d", root.BlockNumber)
	}
	return nil
}

// Fetch downloads and decodes the mirrored triple for blockNumber, for the
// rare badger-miss case (local log pruned or never populated on this
// replica) where the archival mirror is the only remaining copy.
func (a *S3Archiver) Fetch(ctx context.Context, blockNumber uint64) (seqtypes.StateRoot, error) {
	key := fmt.Sprintf("%s%020d", a.prefix, blockNumber)
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return seqtypes.StateRoot{}, pkgerrors.Wrapf(err, "fetching archived state root for block %d", blockNumber)
	}
	defer resp.Body.Close()
	root, err := deserializeTripleFrom(resp.Body)
	if err != nil {
		return seqtypes.StateRoot{}, pkgerrors.Wrapf(err, "decoding archived state root for block %d", blockNumber)
	}
	return root, nil
}
