// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Fatal prints "liaport: err" to stderr and exits with status 1. Call
// it from main with the error returned by run.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "liaport: %v\n", err)
	os.Exit(1)
}
