package packer

import "slices"

// minSplitBlocks is the smallest leftover (in blocks) worth tracking as a
// separate empty slot. Leftovers below it on both axes stay with the used slot.
const minSplitBlocks = 2

// Placement is the result of a successful allocation.
type Placement struct {
	// Rect is the region the sprite occupies: the slot origin with the
	// requested (unpadded) size.
	Rect Rect

	// Slot is the used slot reserved for the sprite, including alignment,
	// gutter and any leftover too small to split off.
	Slot Rect
}

// Allocator tracks the empty and used slots of one atlas.
type Allocator struct {
	width  int
	height int
	blockX int
	blockY int

	// slots is the arena; empty and used index into it.
	slots []Rect
	empty []int
	used  []int

	usedArea int
}

// New creates an allocator for a width x height atlas whose pixel data is
// organized in blockX x blockY blocks (1x1 for uncompressed formats).
//
// Block sizes below 1 are treated as 1. An allocator with a non-positive
// dimension has no root slot, so every allocation fails.
func New(width, height, blockX, blockY int) *Allocator {
	if blockX < 1 {
		blockX = 1
	}
	if blockY < 1 {
		blockY = 1
	}
	a := &Allocator{
		width:  width,
		height: height,
		blockX: blockX,
		blockY: blockY,
		slots:  make([]Rect, 0, 16),
		empty:  make([]int, 0, 16),
		used:   make([]int, 0, 16),
	}
	a.Reset()
	return a
}

// Reset discards every slot and restores the single root slot.
func (a *Allocator) Reset() {
	a.slots = a.slots[:0]
	a.empty = a.empty[:0]
	a.used = a.used[:0]
	a.usedArea = 0
	if a.width <= 0 || a.height <= 0 {
		return
	}
	a.slots = append(a.slots, Rect{Width: a.width, Height: a.height})
	a.empty = append(a.empty, 0)
}

// Allocate reserves space for a width x height sprite.
// It returns false if no empty slot can hold the padded request; the caller
// is expected to try another atlas.
func (a *Allocator) Allocate(width, height int) (Placement, bool) {
	pw, ph, ok := a.padded(width, height)
	if !ok {
		return Placement{}, false
	}

	for i, idx := range a.empty {
		s := a.slots[idx]
		if s.Width < pw || s.Height < ph {
			continue
		}

		used, first, second := a.split(s, pw, ph)

		a.slots[idx] = used
		children := make([]int, 0, 2)
		for _, c := range [2]Rect{first, second} {
			if c.Empty() {
				continue
			}
			a.slots = append(a.slots, c)
			children = append(children, len(a.slots)-1)
		}
		a.empty = slices.Replace(a.empty, i, i+1, children...)
		a.used = append(a.used, idx)
		a.usedArea += used.Area()

		slogger().Debug("packer: slot allocated",
			"slot", used.String(),
			"request_w", width, "request_h", height,
			"empty", len(a.empty))

		return Placement{
			Rect: Rect{X: s.X, Y: s.Y, Width: width, Height: height},
			Slot: used,
		}, true
	}
	return Placement{}, false
}

// CanFit reports whether Allocate(width, height) would succeed,
// without modifying the allocator.
func (a *Allocator) CanFit(width, height int) bool {
	pw, ph, ok := a.padded(width, height)
	if !ok {
		return false
	}
	for _, idx := range a.empty {
		s := a.slots[idx]
		if s.Width >= pw && s.Height >= ph {
			return true
		}
	}
	return false
}

// padded returns the block-aligned request grown by one gutter block per axis.
// The gutter is dropped on an axis whose aligned size equals the atlas size.
func (a *Allocator) padded(width, height int) (pw, ph int, ok bool) {
	if width <= 0 || height <= 0 {
		return 0, 0, false
	}
	pw = alignUp(width, a.blockX)
	if pw != a.width {
		pw += a.blockX
	}
	ph = alignUp(height, a.blockY)
	if ph != a.height {
		ph += a.blockY
	}
	return pw, ph, true
}

// split carves a pw x ph used slot from the top-left of s and returns it with
// the two leftover children in depth-first order. Children may be empty.
func (a *Allocator) split(s Rect, pw, ph int) (used, first, second Rect) {
	rw := s.Width - pw
	rh := s.Height - ph

	if rw < minSplitBlocks*a.blockX && rh < minSplitBlocks*a.blockY {
		// Dust: the used slot keeps the whole parent.
		return s, Rect{}, Rect{}
	}

	used = Rect{X: s.X, Y: s.Y, Width: pw, Height: ph}
	if rh <= rw {
		// Strip to the right of the sprite, then the full-width band below.
		first = Rect{X: s.X + pw, Y: s.Y, Width: rw, Height: ph}
		second = Rect{X: s.X, Y: s.Y + ph, Width: s.Width, Height: rh}
	} else {
		// Strip below the sprite, then the full-height band to the right.
		first = Rect{X: s.X, Y: s.Y + ph, Width: pw, Height: rh}
		second = Rect{X: s.X + pw, Y: s.Y, Width: rw, Height: s.Height}
	}
	return used, first, second
}

// Empty returns the empty slots in stored (depth-first) order.
func (a *Allocator) Empty() []Rect {
	out := make([]Rect, len(a.empty))
	for i, idx := range a.empty {
		out[i] = a.slots[idx]
	}
	return out
}

// Used returns the used slots in allocation order.
func (a *Allocator) Used() []Rect {
	out := make([]Rect, len(a.used))
	for i, idx := range a.used {
		out[i] = a.slots[idx]
	}
	return out
}

// EmptyCount returns the number of empty slots.
func (a *Allocator) EmptyCount() int { return len(a.empty) }

// UsedCount returns the number of used slots.
func (a *Allocator) UsedCount() int { return len(a.used) }

// Width returns the atlas width.
func (a *Allocator) Width() int { return a.width }

// Height returns the atlas height.
func (a *Allocator) Height() int { return a.height }

// BlockSize returns the block dimensions used for alignment.
func (a *Allocator) BlockSize() (x, y int) { return a.blockX, a.blockY }

// UsedArea returns the total area of used slots.
func (a *Allocator) UsedArea() int { return a.usedArea }

// TotalArea returns the area of the atlas.
func (a *Allocator) TotalArea() int {
	if a.width <= 0 || a.height <= 0 {
		return 0
	}
	return a.width * a.height
}

// Utilization returns the fraction of the atlas covered by used slots (0.0 to 1.0).
func (a *Allocator) Utilization() float64 {
	total := a.TotalArea()
	if total == 0 {
		return 0
	}
	return float64(a.usedArea) / float64(total)
}

func alignUp(v, align int) int {
	return (v + align - 1) / align * align
}
