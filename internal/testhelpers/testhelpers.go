// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package testhelpers holds shared test assertion helpers, adapted from the
// common_test.go pattern used throughout this codebase's packages.
package testhelpers

import (
	"fmt"
	"testing"
)

// RequireImpl fails the test immediately if err is non-nil, printing err
// followed by any extra printables for context.
func RequireImpl(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	if err != nil {
		FailImpl(t, append([]interface{}{err}, printables...)...)
	}
}

// FailImpl fails the test immediately, printing every printable.
func FailImpl(t *testing.T, printables ...interface{}) {
	t.Helper()
	message := "error: "
	for _, printable := range printables {
		message += fmt.Sprintf("%v ", printable)
	}
	t.Fatal(message)
}
