// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package surface

import "github.com/gogpu/gputypes"

// TextureDescriptor describes the device texture backing an atlas.
type TextureDescriptor struct {
	// Label is an optional debug label.
	Label string

	// Width and Height are in pixels and always a whole number of blocks.
	Width  int
	Height int

	Format PixelFormat
	SRGB   bool
}

// Device creates the textures that hold atlas pixels on the renderer side.
//
// The textures it returns must implement [Uploader] to back CPU-mode
// surfaces and [RegionWriter] to back GPU-mode surfaces.
type Device interface {
	CreateTexture(desc TextureDescriptor) (DeviceTexture, error)
}

// DeviceTexture is a renderer texture owned by one surface.
type DeviceTexture interface {
	// Release frees the texture. It must be safe to call more than once.
	Release()
}

// Uploader is implemented by device textures that accept whole-texture
// uploads. CPU-mode surfaces push their pixel buffer once per tick through it.
type Uploader interface {
	Upload(data []byte, bytesPerRow int) error
}

// Region describes a partial texture write. X, Y and Size are in pixels and
// block aligned. Data holds RowsPerImage block rows of BytesPerRow bytes.
type Region struct {
	X, Y         uint32
	BytesPerRow  uint32
	RowsPerImage uint32
	Size         gputypes.Extent3D
}

// RegionWriter is implemented by device textures that accept partial
// uploads. GPU-mode surfaces write every merge action through it.
type RegionWriter interface {
	WriteRegion(region Region, data []byte) error
}
