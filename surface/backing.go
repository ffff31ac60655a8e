// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/spritemerge/packer"
)

// Mode selects where merged pixels are assembled.
type Mode uint8

const (
	// ModeGPU writes each merge action straight into the device texture
	// through a partial upload.
	ModeGPU Mode = iota

	// ModeCPU copies merge actions into a CPU pixel buffer and uploads the
	// whole buffer once per tick.
	ModeCPU
)

func (m Mode) String() string {
	switch m {
	case ModeGPU:
		return "gpu"
	case ModeCPU:
		return "cpu"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "gpu", "GPU", "0":
		*m = ModeGPU
	case "cpu", "CPU", "1":
		*m = ModeCPU
	default:
		return fmt.Errorf("surface: unknown merge mode %q", text)
	}
	return nil
}

// Backing errors.
var (
	// ErrUploadUnsupported is returned when a CPU-mode surface is created on a
	// device whose textures do not implement Uploader.
	ErrUploadUnsupported = errors.New("surface: device texture does not support uploads")

	// ErrRegionWritesUnsupported is returned when a GPU-mode surface is created
	// on a device whose textures do not implement RegionWriter.
	ErrRegionWritesUnsupported = errors.New("surface: device texture does not support region writes")
)

// backing holds the pixels of a surface. There are exactly two variants,
// chosen once in Create: cpuBacking and gpuBacking.
type backing interface {
	// begin prepares a batch of writes.
	begin()
	// write copies one source (tightly packed block rows) to dst.
	write(dst packer.Rect, src []byte, srcPitch int) error
	// end finishes a batch started with begin.
	end() error
	texture() DeviceTexture
	release()
}

// layout is the block geometry shared by both backings.
type layout struct {
	format PixelFormat
	width  int
	height int
	blockX int
	blockY int
	bpb    int
	pitch  int
	rows   int
}

func newLayout(format PixelFormat, width, height int) layout {
	bx, by := format.BlockSize()
	return layout{
		format: format,
		width:  width,
		height: height,
		blockX: bx,
		blockY: by,
		bpb:    format.BytesPerBlock(),
		pitch:  format.RowPitch(width),
		rows:   format.BlockRows(height),
	}
}

// fill returns the surface-sized buffer of transparent blocks.
func (l *layout) fill() []byte {
	buf := make([]byte, l.pitch*l.rows)
	if !l.format.Compressed() {
		return buf
	}
	block := l.format.TransparentBlock()
	for off := 0; off < len(buf); off += len(block) {
		copy(buf[off:], block)
	}
	return buf
}

// cpuBacking assembles merges in a CPU pixel buffer that is uploaded whole.
type cpuBacking struct {
	layout
	tex    DeviceTexture
	up     Uploader
	pixels []byte
	locked bool
	dirty  bool
}

func newCPUBacking(l layout, tex DeviceTexture) (*cpuBacking, error) {
	up, ok := tex.(Uploader)
	if !ok {
		return nil, ErrUploadUnsupported
	}
	b := &cpuBacking{layout: l, tex: tex, up: up, pixels: l.fill()}
	if err := up.Upload(b.pixels, b.pitch); err != nil {
		return nil, fmt.Errorf("surface: initial upload: %w", err)
	}
	return b, nil
}

func (b *cpuBacking) begin() { b.locked = true }

func (b *cpuBacking) write(dst packer.Rect, src []byte, srcPitch int) error {
	if !b.locked {
		return errors.New("surface: cpu backing written while unlocked")
	}
	rowBytes := b.format.RowPitch(dst.Width)
	rows := b.format.BlockRows(dst.Height)
	off := (dst.Y/b.blockY)*b.pitch + (dst.X/b.blockX)*b.bpb
	for r := range rows {
		copy(b.pixels[off+r*b.pitch:off+r*b.pitch+rowBytes], src[r*srcPitch:])
	}
	b.dirty = true
	return nil
}

func (b *cpuBacking) end() error {
	b.locked = false
	if !b.dirty {
		return nil
	}
	if err := b.up.Upload(b.pixels, b.pitch); err != nil {
		return err
	}
	b.dirty = false
	return nil
}

func (b *cpuBacking) texture() DeviceTexture { return b.tex }

func (b *cpuBacking) release() {
	b.tex.Release()
	b.pixels = nil
}

// gpuBacking writes every merge as a partial upload. It keeps no copy of
// the surface pixels, only a staging buffer for one region at a time.
type gpuBacking struct {
	layout
	tex     DeviceTexture
	rw      RegionWriter
	staging []byte
}

func newGPUBacking(l layout, tex DeviceTexture) (*gpuBacking, error) {
	rw, ok := tex.(RegionWriter)
	if !ok {
		return nil, ErrRegionWritesUnsupported
	}
	b := &gpuBacking{layout: l, tex: tex, rw: rw}
	whole := b.region(packer.Rect{Width: l.width, Height: l.height}, l.pitch)
	if err := rw.WriteRegion(whole, l.fill()); err != nil {
		return nil, fmt.Errorf("surface: initial clear: %w", err)
	}
	return b, nil
}

func (b *gpuBacking) begin() {}

func (b *gpuBacking) write(dst packer.Rect, src []byte, srcPitch int) error {
	rowBytes := b.format.RowPitch(dst.Width)
	rows := b.format.BlockRows(dst.Height)

	size := rowBytes * rows
	if cap(b.staging) < size {
		b.staging = make([]byte, size)
	}
	staging := b.staging[:size]
	for r := range rows {
		copy(staging[r*rowBytes:(r+1)*rowBytes], src[r*srcPitch:])
	}
	err := b.rw.WriteRegion(b.region(dst, rowBytes), staging)
	if size > stagingKeepLimit {
		b.staging = nil
	}
	return err
}

// stagingKeepLimit is the largest staging buffer kept between writes.
const stagingKeepLimit = 256 << 10

func (b *gpuBacking) end() error { return nil }

func (b *gpuBacking) texture() DeviceTexture { return b.tex }

func (b *gpuBacking) release() {
	b.tex.Release()
	b.staging = nil
}

// region builds the copy descriptor for a block-aligned write of dst.
// Coordinates are non-negative and bounded by the atlas size.
//
//nolint:gosec // G115: conversions to uint32 cannot overflow here
func (b *gpuBacking) region(dst packer.Rect, bytesPerRow int) Region {
	w := alignUp(dst.Width, b.blockX)
	h := alignUp(dst.Height, b.blockY)
	return Region{
		X:            uint32(dst.X),
		Y:            uint32(dst.Y),
		BytesPerRow:  uint32(bytesPerRow),
		RowsPerImage: uint32(h / b.blockY),
		Size:         gputypes.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
	}
}

func alignUp(v, align int) int {
	return (v + align - 1) / align * align
}
