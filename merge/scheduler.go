// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package merge

import (
	"errors"
	"time"

	"github.com/gogpu/spritemerge/surface"
)

// Config configures a Scheduler.
type Config struct {
	// MaxActionsPerTick caps the actions applied to one GPU-mode surface per
	// Tick. Zero means no cap. CPU-mode surfaces are only bounded by the budget.
	MaxActionsPerTick int

	// Clock measures the time spent per action. Nil means SystemClock.
	Clock Clock
}

// Completion is an action whose pixels reached the atlas.
type Completion struct {
	Surface *surface.Surface
	Action  surface.Action
}

// Stats summarizes one Tick.
type Stats struct {
	// Applied is the number of actions copied into an atlas.
	Applied int

	// Dropped is the number of actions discarded because their source
	// pixels were gone.
	Dropped int

	// Failed is the number of actions discarded because the device rejected
	// the write.
	Failed int

	// Remaining is the number of actions still queued on the visited surfaces.
	Remaining int

	// Uploads is the number of device uploads issued: one per GPU-mode
	// action, one per CPU-mode surface that changed.
	Uploads int

	// Elapsed is the measured time spent in the merge loop.
	Elapsed time.Duration

	// Completed lists the applied actions in the order they were applied.
	Completed []Completion
}

// Scheduler applies queued merge actions under a per-tick time budget.
//
// Scheduler is NOT thread-safe; it runs on the goroutine that drives the
// atlas registry.
type Scheduler struct {
	maxActions int
	clock      Clock
	loading    int
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	maxActions := cfg.MaxActionsPerTick
	if maxActions < 0 {
		maxActions = 0
	}
	return &Scheduler{maxActions: maxActions, clock: clock}
}

// SetMaxActionsPerTick updates the per-surface action cap. Zero means no cap.
func (s *Scheduler) SetMaxActionsPerTick(n int) {
	s.maxActions = max(n, 0)
}

// MaxActionsPerTick returns the per-surface action cap.
func (s *Scheduler) MaxActionsPerTick() int { return s.maxActions }

// Clock returns the clock used for budget accounting.
func (s *Scheduler) Clock() Clock { return s.clock }

// LoadingScreen is a scoped loading-screen acquisition.
// While any is held, merges run without a budget.
type LoadingScreen struct {
	s        *Scheduler
	released bool
}

// EnterLoadingScreen disables time budgeting until the returned guard is released.
// Guards nest.
func (s *Scheduler) EnterLoadingScreen() *LoadingScreen {
	s.loading++
	slogger().Debug("merge: loading screen entered", "depth", s.loading)
	return &LoadingScreen{s: s}
}

// Release ends the acquisition. Calling it again has no effect.
func (l *LoadingScreen) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.s.loading--
	slogger().Debug("merge: loading screen left", "depth", l.s.loading)
}

// Loading reports whether a loading screen is held.
func (s *Scheduler) Loading() bool { return s.loading > 0 }

// Apply performs one action immediately, outside any budget.
// It returns surface.ErrSourceGone for vanished sources.
func (s *Scheduler) Apply(surf *surface.Surface, a surface.Action) error {
	surf.Begin()
	err := surf.Apply(a)
	if endErr := surf.End(); err == nil {
		err = endErr
	}
	return err
}

// Tick drains the queues of dirty surfaces, in the given order, until budget
// is spent.
//
// Each surface's queue is processed strictly FIFO. Time is measured after every
// action and subtracted from the budget shared by all surfaces; the tick stops
// once the budget is exhausted, leaving the rest queued for the next tick.
// While a loading screen is held the budget and the per-surface cap are ignored.
func (s *Scheduler) Tick(budget time.Duration, surfaces []*surface.Surface) Stats {
	var st Stats
	unbounded := s.Loading()
	last := s.clock.Now()

	for _, surf := range surfaces {
		if surf.Evicted() || surf.State() != surface.StateDirty {
			continue
		}
		if !unbounded && budget <= 0 {
			st.Remaining += surf.Pending()
			continue
		}

		limit := 0
		if !unbounded && surf.Mode() == surface.ModeGPU {
			limit = s.maxActions
		}

		applied := 0
		surf.Begin()
		for n := 0; limit == 0 || n < limit; n++ {
			a, ok := surf.Pop()
			if !ok {
				break
			}
			err := surf.Apply(a)
			now := s.clock.Now()
			spent := now.Sub(last)
			last = now
			budget -= spent
			st.Elapsed += spent

			switch {
			case err == nil:
				applied++
				st.Completed = append(st.Completed, Completion{Surface: surf, Action: a})
				slogger().Debug("merge: action applied",
					"surface", surf.ID(), "sprite", a.Sprite, "rect", a.Rect.String(), "spent", spent)
			case errors.Is(err, surface.ErrSourceGone):
				st.Dropped++
			default:
				st.Failed++
				slogger().Warn("merge: action failed", "surface", surf.ID(), "sprite", a.Sprite, "err", err)
			}

			if !unbounded && budget <= 0 {
				break
			}
		}
		if err := surf.End(); err != nil {
			slogger().Warn("merge: atlas upload failed", "surface", surf.ID(), "err", err)
		}

		st.Applied += applied
		if surf.Mode() == surface.ModeCPU {
			if applied > 0 {
				st.Uploads++
			}
		} else {
			st.Uploads += applied
		}
		st.Remaining += surf.Pending()
	}
	return st
}
