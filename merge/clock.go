// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package merge

import "time"

// Clock reports wall-clock time for budget accounting.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
