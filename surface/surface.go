// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/spritemerge/packer"
)

// Surface errors.
var (
	// ErrInvalidDimensions is returned when a surface or texture is requested
	// with a non-positive size or a format without a block size.
	ErrInvalidDimensions = errors.New("surface: invalid dimensions")

	// ErrNilDevice is returned when Create is called without a device.
	ErrNilDevice = errors.New("surface: device is nil")

	// ErrEvicted is returned when operating on an evicted surface.
	ErrEvicted = errors.New("surface: surface has been evicted")

	// ErrSourceGone is returned by Apply when the action's source no longer
	// has pixel data. The action is dropped.
	ErrSourceGone = errors.New("surface: source pixels are no longer available")
)

// State is the merge state of a surface.
type State uint8

const (
	// StateClean means no merge actions are queued.
	StateClean State = iota

	// StateDirty means at least one merge action is queued.
	StateDirty
)

func (s State) String() string {
	if s == StateDirty {
		return "dirty"
	}
	return "clean"
}

// Options configures Create.
type Options struct {
	// Name is the atlas name sprites ask for.
	Name string

	// Width and Height are in pixels. They are rounded up to whole blocks.
	Width  int
	Height int

	Format      PixelFormat
	Compression Compression
	SRGB        bool

	// Mode selects the CPU- or GPU-backed variant.
	Mode Mode

	// Device creates the backing texture.
	Device Device

	// OnEvict is called once, after the surface has released its texture.
	OnEvict func(*Surface)
}

// member is the bookkeeping for one sprite placed in a surface.
type member struct {
	referenced bool
	invalid    bool
}

var surfaceIDs atomic.Uint64

// Surface is one packed atlas texture.
//
// A surface counts the sprites placed in it: valid sprites are currently
// referenced by the UI, invalid sprites have been destroyed but not yet
// removed. It evicts itself when the valid count drops to zero or when every
// member is invalid; eviction releases the texture, drops pending merges and
// notifies the owner through Options.OnEvict.
//
// Surfaces are NOT thread-safe. All calls must come from the goroutine that
// drives the atlas registry.
type Surface struct {
	id     uint64
	key    Key
	width  int
	height int
	mode   Mode

	backing   backing
	allocator *packer.Allocator

	valid   int
	invalid int
	members map[uint64]*member

	queue []Action
	state State

	evicted bool
	onEvict func(*Surface)
}

// Create allocates a surface and its device texture, fills it with
// transparent blocks and initializes the slot allocator with one root slot.
//
// It fails with ErrInvalidDimensions (logged as a warning) if a dimension or
// the format's block size is not positive.
func Create(opts Options) (*Surface, error) {
	bx, by := opts.Format.BlockSize()
	if opts.Width <= 0 || opts.Height <= 0 || bx <= 0 || by <= 0 {
		slogger().Warn("surface: invalid atlas parameters",
			"name", opts.Name, "width", opts.Width, "height", opts.Height, "format", opts.Format.String())
		return nil, fmt.Errorf("%w: %dx%d %s", ErrInvalidDimensions, opts.Width, opts.Height, opts.Format)
	}
	if opts.Device == nil {
		return nil, ErrNilDevice
	}

	width := alignUp(opts.Width, bx)
	height := alignUp(opts.Height, by)

	id := surfaceIDs.Add(1)
	tex, err := opts.Device.CreateTexture(TextureDescriptor{
		Label:  fmt.Sprintf("atlas_%s_%d", opts.Name, id),
		Width:  width,
		Height: height,
		Format: opts.Format,
		SRGB:   opts.SRGB,
	})
	if err != nil {
		slogger().Warn("surface: texture creation failed", "name", opts.Name, "err", err)
		return nil, fmt.Errorf("surface: create texture: %w", err)
	}

	l := newLayout(opts.Format, width, height)
	var b backing
	switch opts.Mode {
	case ModeCPU:
		b, err = newCPUBacking(l, tex)
	default:
		b, err = newGPUBacking(l, tex)
	}
	if err != nil {
		tex.Release()
		slogger().Warn("surface: backing setup failed", "name", opts.Name, "mode", opts.Mode.String(), "err", err)
		return nil, err
	}

	s := &Surface{
		id: id,
		key: Key{
			Name:        opts.Name,
			Format:      opts.Format,
			Compression: opts.Compression,
			SRGB:        opts.SRGB,
		},
		width:     width,
		height:    height,
		mode:      opts.Mode,
		backing:   b,
		allocator: packer.New(width, height, bx, by),
		members:   make(map[uint64]*member),
		onEvict:   opts.OnEvict,
	}
	slogger().Info("surface: atlas created",
		"id", id, "key", s.key.String(), "width", width, "height", height, "mode", opts.Mode.String())
	return s, nil
}

// ID returns a process-unique identifier. Later surfaces have larger IDs.
func (s *Surface) ID() uint64 { return s.id }

// Key returns the compatibility key of the surface.
func (s *Surface) Key() Key { return s.key }

// Name returns the atlas name.
func (s *Surface) Name() string { return s.key.Name }

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.width }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.height }

// Format returns the pixel format.
func (s *Surface) Format() PixelFormat { return s.key.Format }

// Mode returns whether the surface is CPU- or GPU-backed.
func (s *Surface) Mode() Mode { return s.mode }

// DeviceTexture returns the renderer texture holding the atlas.
// It returns nil after eviction.
func (s *Surface) DeviceTexture() DeviceTexture {
	if s.evicted {
		return nil
	}
	return s.backing.texture()
}

// Allocator exposes the slot allocator for inspection.
func (s *Surface) Allocator() *packer.Allocator { return s.allocator }

// Allocate reserves a slot for a width x height sprite.
func (s *Surface) Allocate(width, height int) (packer.Placement, bool) {
	if s.evicted {
		return packer.Placement{}, false
	}
	return s.allocator.Allocate(width, height)
}

// ValidCount returns the number of referenced sprites.
func (s *Surface) ValidCount() int { return s.valid }

// InvalidCount returns the number of destroyed sprites still counted as members.
func (s *Surface) InvalidCount() int { return s.invalid }

// SpriteCount returns the number of member sprites.
func (s *Surface) SpriteCount() int { return len(s.members) }

// Members returns the IDs of the member sprites in no particular order.
func (s *Surface) Members() []uint64 {
	ids := make([]uint64, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	return ids
}

// HasMember reports whether the sprite is placed in this surface.
func (s *Surface) HasMember(id uint64) bool {
	_, ok := s.members[id]
	return ok
}

// Alive reports whether the surface is still reachable: it has no members,
// or fewer invalid members than members.
func (s *Surface) Alive() bool {
	return !s.evicted && (len(s.members) == 0 || s.invalid < len(s.members))
}

// Evicted reports whether the surface has been evicted.
func (s *Surface) Evicted() bool { return s.evicted }

// IncrementValid records one more referenced sprite.
func (s *Surface) IncrementValid() {
	if s.evicted {
		return
	}
	s.valid++
}

// DecrementValid records one fewer referenced sprite. Reaching zero evicts
// the surface. Calls at zero are ignored.
func (s *Surface) DecrementValid() {
	if s.evicted || s.valid == 0 {
		return
	}
	s.valid--
	if s.valid == 0 {
		s.Evict()
	}
}

// IncrementInvalid records one more destroyed member. Once every member is
// invalid the surface is unreachable and evicts itself.
func (s *Surface) IncrementInvalid() {
	if s.evicted {
		return
	}
	s.invalid++
	if !s.Alive() {
		s.Evict()
	}
}

// AddSprite makes the sprite a member. A referenced sprite counts as valid.
// Adding an existing member is a no-op.
func (s *Surface) AddSprite(id uint64, referenced bool) {
	if s.evicted {
		return
	}
	if _, ok := s.members[id]; ok {
		return
	}
	s.members[id] = &member{referenced: referenced}
	if referenced {
		s.IncrementValid()
	}
}

// SetReferenced updates whether a member sprite is referenced, adjusting the
// valid count. Dropping the last reference evicts the surface.
func (s *Surface) SetReferenced(id uint64, referenced bool) {
	m, ok := s.members[id]
	if !ok || s.evicted || m.referenced == referenced || m.invalid {
		return
	}
	m.referenced = referenced
	if referenced {
		s.IncrementValid()
	} else {
		s.DecrementValid()
	}
}

// Invalidate marks a member sprite as destroyed.
func (s *Surface) Invalidate(id uint64) {
	m, ok := s.members[id]
	if !ok || s.evicted || m.invalid {
		return
	}
	if m.referenced {
		m.referenced = false
		s.DecrementValid()
		if s.evicted {
			return
		}
	}
	m.invalid = true
	s.IncrementInvalid()
}

// Remove drops a sprite from membership, undoing its contribution to the
// valid and invalid counts, and discards its queued merges. Its slot stays used.
func (s *Surface) Remove(id uint64) {
	m, ok := s.members[id]
	if !ok || s.evicted {
		return
	}
	delete(s.members, id)
	s.dropActions(id)
	if m.invalid {
		s.invalid--
	}
	if m.referenced {
		s.DecrementValid()
		return
	}
	if !s.Alive() {
		s.Evict()
	}
}

// Evict releases the texture, drops pending merges and calls OnEvict.
// It returns false if the surface was already evicted.
func (s *Surface) Evict() bool {
	if s.evicted {
		return false
	}
	s.evicted = true
	dropped := len(s.queue)
	s.queue = nil
	s.state = StateClean
	s.backing.release()

	slogger().Info("surface: atlas evicted",
		"id", s.id, "key", s.key.String(), "sprites", len(s.members), "dropped_actions", dropped)

	if s.onEvict != nil {
		s.onEvict(s)
	}
	return true
}

// Utilization returns the fraction of the surface covered by used slots.
func (s *Surface) Utilization() float64 { return s.allocator.Utilization() }

// String returns a short description of the surface.
func (s *Surface) String() string {
	return fmt.Sprintf("Surface(%d %s %dx%d valid=%d invalid=%d sprites=%d %s)",
		s.id, s.key, s.width, s.height, s.valid, s.invalid, len(s.members), s.state)
}
