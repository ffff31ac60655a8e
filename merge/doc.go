// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package merge copies queued sprite pixels into atlas surfaces a little at
// a time.
//
// A [Scheduler] is ticked once per frame with a wall-clock budget. It visits
// dirty surfaces in registration order and pops their actions FIFO until the
// budget runs out; whatever is left stays queued for the next tick. Actions
// whose source has been unloaded are dropped without error.
//
// GPU-mode surfaces are additionally capped at [Config.MaxActionsPerTick]
// actions per tick. CPU-mode surfaces process their whole queue in one pass
// and upload once at the end.
//
// Holding a [LoadingScreen] turns budgeting off:
//
//	guard := sched.EnterLoadingScreen()
//	defer guard.Release()
package merge
