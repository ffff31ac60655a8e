// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import (
	"fmt"

	"github.com/gogpu/spritemerge/packer"
)

// Action is one deferred copy of a sprite's pixels into its slot.
type Action struct {
	// Sprite is the ID of the member sprite the copy belongs to.
	Sprite uint64

	// Source provides the pixels.
	Source Source

	// Rect is the destination, sized to the sprite.
	Rect packer.Rect
}

// State returns Clean or Dirty.
func (s *Surface) State() State { return s.state }

// Enqueue appends an action and marks the surface dirty.
func (s *Surface) Enqueue(a Action) error {
	if s.evicted {
		return ErrEvicted
	}
	s.queue = append(s.queue, a)
	s.state = StateDirty
	return nil
}

// Pending returns the number of queued actions.
func (s *Surface) Pending() int { return len(s.queue) }

// PendingActions returns a copy of the queue in FIFO order.
func (s *Surface) PendingActions() []Action {
	out := make([]Action, len(s.queue))
	copy(out, s.queue)
	return out
}

// Pop removes and returns the oldest queued action.
// The surface turns clean when the queue drains.
func (s *Surface) Pop() (Action, bool) {
	if len(s.queue) == 0 {
		return Action{}, false
	}
	a := s.queue[0]
	s.queue[0] = Action{}
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
		s.state = StateClean
	}
	return a, true
}

// dropActions discards queued actions of one sprite, keeping the others in order.
func (s *Surface) dropActions(id uint64) {
	kept := s.queue[:0]
	for _, a := range s.queue {
		if a.Sprite != id {
			kept = append(kept, a)
		}
	}
	clear(s.queue[len(kept):])
	s.queue = kept
	if len(s.queue) == 0 {
		s.queue = nil
		s.state = StateClean
	}
}

// Begin starts a batch of Apply calls. CPU-backed surfaces lock their
// pixel buffer; GPU-backed surfaces need no preparation.
func (s *Surface) Begin() {
	if s.evicted {
		return
	}
	s.backing.begin()
}

// Apply copies the action's source pixels into the surface.
//
// It returns ErrSourceGone if the source no longer has pixel data; callers
// drop such actions without reporting them further.
func (s *Surface) Apply(a Action) error {
	if s.evicted {
		return ErrEvicted
	}
	if a.Source == nil {
		return ErrSourceGone
	}
	data, ok := a.Source.Pixels()
	if !ok {
		return ErrSourceGone
	}
	if a.Source.Format() != s.key.Format {
		return fmt.Errorf("surface: source format %s does not match atlas format %s", a.Source.Format(), s.key.Format)
	}
	if !(packer.Rect{Width: s.width, Height: s.height}).Contains(a.Rect) {
		return fmt.Errorf("surface: destination %v outside atlas %dx%d", a.Rect, s.width, s.height)
	}

	pitch := s.key.Format.RowPitch(a.Source.Width())
	rows := s.key.Format.BlockRows(a.Source.Height())
	rowBytes := s.key.Format.RowPitch(a.Rect.Width)
	if rows < s.key.Format.BlockRows(a.Rect.Height) || pitch < rowBytes || len(data) < (rows-1)*pitch+rowBytes {
		return ErrSourceGone
	}
	return s.backing.write(a.Rect, data, pitch)
}

// End finishes a batch. CPU-backed surfaces unlock and upload their pixel
// buffer if anything was written.
func (s *Surface) End() error {
	if s.evicted {
		return nil
	}
	return s.backing.end()
}
