// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

// Texture is the handle a sprite draws with: either an atlas [Surface] or the
// sprite's own [Source] when it is not packed.
type Texture interface {
	Width() int
	Height() int
	Format() PixelFormat
}

// Source is the pixel provider behind a sprite.
//
// Sources may be streamed: Ready reports false while an asynchronous load is
// in flight, and Pixels reports false once the data has been unloaded.
// Pixel data is laid out as tightly packed block rows
// (Format().RowPitch(Width()) bytes per row).
type Source interface {
	Texture

	// Compression returns the compression setting of the source texture.
	Compression() Compression

	// SRGB reports whether the source stores sRGB-encoded color.
	SRGB() bool

	// Ready reports whether the pixel data can be read.
	Ready() bool

	// Pixels returns the block data, or false if it is no longer available.
	Pixels() ([]byte, bool)
}

// BlockSource is a Source over block data held in memory.
// It is always ready; set Data to nil to model an unloaded texture.
type BlockSource struct {
	W, H   int
	Fmt    PixelFormat
	Comp   Compression
	IsSRGB bool
	Data   []byte
}

// NewBlockSource returns a BlockSource for data in the given format.
func NewBlockSource(width, height int, format PixelFormat, data []byte) *BlockSource {
	return &BlockSource{W: width, H: height, Fmt: format, Data: data}
}

func (s *BlockSource) Width() int               { return s.W }
func (s *BlockSource) Height() int              { return s.H }
func (s *BlockSource) Format() PixelFormat      { return s.Fmt }
func (s *BlockSource) Compression() Compression { return s.Comp }
func (s *BlockSource) SRGB() bool               { return s.IsSRGB }
func (s *BlockSource) Ready() bool              { return true }

// Pixels returns Data if it is present and large enough for the declared size.
func (s *BlockSource) Pixels() ([]byte, bool) {
	if s.Data == nil || len(s.Data) < s.Fmt.DataSize(s.W, s.H) {
		return nil, false
	}
	return s.Data, true
}
