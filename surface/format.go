// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// PixelFormat is the storage format of an atlas and of the sprites packed into it.
// Uncompressed formats use 1x1 blocks; ASTC formats store fixed 16-byte blocks.
type PixelFormat uint8

const (
	// FormatUnknown is the zero value and is rejected by Create.
	FormatUnknown PixelFormat = iota

	// FormatRGBA8 is 8 bits per channel RGBA.
	FormatRGBA8

	// FormatBGRA8 is 8 bits per channel BGRA.
	FormatBGRA8

	// FormatR8 is a single 8-bit channel, used for masks and SDF glyphs.
	FormatR8

	// FormatASTC4x4 is ASTC with 4x4 pixel blocks.
	FormatASTC4x4

	// FormatASTC6x6 is ASTC with 6x6 pixel blocks.
	FormatASTC6x6

	// FormatASTC8x8 is ASTC with 8x8 pixel blocks.
	FormatASTC8x8
)

// astcTransparentBlock is an ASTC void-extent block decoding to (0,0,0,0).
// The encoding is independent of the block footprint.
var astcTransparentBlock = [16]byte{
	0xFC, 0xFD, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// String returns a human-readable name for the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatR8:
		return "R8"
	case FormatASTC4x4:
		return "ASTC_4x4"
	case FormatASTC6x6:
		return "ASTC_6x6"
	case FormatASTC8x8:
		return "ASTC_8x8"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(f))
	}
}

// ParsePixelFormat parses the names produced by String (case-insensitive).
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f := FormatRGBA8; f <= FormatASTC8x8; f++ {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("surface: unknown pixel format %q", s)
}

// BlockSize returns the block footprint in pixels, or (0, 0) for unknown formats.
func (f PixelFormat) BlockSize() (x, y int) {
	switch f {
	case FormatRGBA8, FormatBGRA8, FormatR8:
		return 1, 1
	case FormatASTC4x4:
		return 4, 4
	case FormatASTC6x6:
		return 6, 6
	case FormatASTC8x8:
		return 8, 8
	default:
		return 0, 0
	}
}

// BytesPerBlock returns the storage size of one block.
func (f PixelFormat) BytesPerBlock() int {
	switch f {
	case FormatRGBA8, FormatBGRA8:
		return 4
	case FormatR8:
		return 1
	case FormatASTC4x4, FormatASTC6x6, FormatASTC8x8:
		return len(astcTransparentBlock)
	default:
		return 0
	}
}

// Compressed reports whether the format is block-compressed.
func (f PixelFormat) Compressed() bool {
	bx, by := f.BlockSize()
	return bx > 1 || by > 1
}

// TransparentBlock returns the byte pattern of one fully transparent block.
// Uncompressed formats are transparent when zero-filled.
func (f PixelFormat) TransparentBlock() []byte {
	if f.Compressed() {
		b := astcTransparentBlock
		return b[:]
	}
	return make([]byte, f.BytesPerBlock())
}

// RowPitch returns the number of bytes in one row of blocks for a surface
// (or source) that is width pixels wide.
func (f PixelFormat) RowPitch(width int) int {
	bx, _ := f.BlockSize()
	if bx == 0 {
		return 0
	}
	return blocks(width, bx) * f.BytesPerBlock()
}

// BlockRows returns the number of block rows covering height pixels.
func (f PixelFormat) BlockRows(height int) int {
	_, by := f.BlockSize()
	if by == 0 {
		return 0
	}
	return blocks(height, by)
}

// DataSize returns the byte size of a width x height image in this format.
func (f PixelFormat) DataSize(width, height int) int {
	return f.RowPitch(width) * f.BlockRows(height)
}

// GPUFormat returns the WebGPU texture format for f.
// Formats without a WebGPU mapping in this package return
// gputypes.TextureFormatUndefined and false.
func (f PixelFormat) GPUFormat(srgb bool) (gputypes.TextureFormat, bool) {
	switch f {
	case FormatRGBA8:
		if srgb {
			return gputypes.TextureFormatRGBA8UnormSrgb, true
		}
		return gputypes.TextureFormatRGBA8Unorm, true
	case FormatBGRA8:
		if srgb {
			return gputypes.TextureFormatBGRA8UnormSrgb, true
		}
		return gputypes.TextureFormatBGRA8Unorm, true
	case FormatR8:
		return gputypes.TextureFormatR8Unorm, true
	default:
		return gputypes.TextureFormatUndefined, false
	}
}

// Compression mirrors the texture compression setting of a sprite source.
// Only sources with equal settings may share an atlas.
type Compression uint8

const (
	CompressionDefault Compression = iota
	CompressionUserInterface2D
	CompressionNormalmap
	CompressionGrayscale
	CompressionAlpha
)

var compressionNames = [...]string{
	CompressionDefault:         "default",
	CompressionUserInterface2D: "ui2d",
	CompressionNormalmap:       "normalmap",
	CompressionGrayscale:       "grayscale",
	CompressionAlpha:           "alpha",
}

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// Key identifies a family of mutually compatible atlases.
type Key struct {
	Name        string
	Format      PixelFormat
	Compression Compression
	SRGB        bool
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/srgb=%t", k.Name, k.Format, k.Compression, k.SRGB)
}

func blocks(pixels, block int) int {
	return (pixels + block - 1) / block
}
