// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package seqtypes

import "time"

// WorkerSlot is a record of a live worker's identity and current load,
// independent of the OS thread/goroutine backing it. Both bundle and
// optimizer workers use Load as a 0/1 busy flag.
type WorkerSlot struct {
	Index      int
	Active     bool
	LastActive time.Time
	Load       int
}
