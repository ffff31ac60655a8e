// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// Memory device errors.
var (
	// ErrTextureReleased is returned when writing to a released texture.
	ErrTextureReleased = errors.New("surface: texture has been released")

	// ErrRegionOutOfBounds is returned when a region write exceeds the texture.
	ErrRegionOutOfBounds = errors.New("surface: region is outside texture bounds")

	// ErrShortData is returned when upload data is smaller than its layout says.
	ErrShortData = errors.New("surface: upload data is shorter than its layout")
)

// MemoryDevice creates textures that live in Go memory.
//
// It is the always-available fallback device: offline packing tools use it to
// produce atlas images, and tests use it to inspect merged pixels.
type MemoryDevice struct {
	mu       sync.Mutex
	textures []*MemoryTexture
}

// NewMemoryDevice returns an empty MemoryDevice.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{}
}

// CreateTexture allocates a zeroed texture.
func (d *MemoryDevice) CreateTexture(desc TextureDescriptor) (DeviceTexture, error) {
	size := desc.Format.DataSize(desc.Width, desc.Height)
	if desc.Width <= 0 || desc.Height <= 0 || size <= 0 {
		return nil, fmt.Errorf("%w: %dx%d %s", ErrInvalidDimensions, desc.Width, desc.Height, desc.Format)
	}
	t := &MemoryTexture{
		desc:  desc,
		pitch: desc.Format.RowPitch(desc.Width),
		data:  make([]byte, size),
	}
	d.mu.Lock()
	d.textures = append(d.textures, t)
	d.mu.Unlock()
	return t, nil
}

// Textures returns every texture created by the device, including released ones.
func (d *MemoryDevice) Textures() []*MemoryTexture {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MemoryTexture, len(d.textures))
	copy(out, d.textures)
	return out
}

// MemoryTexture is a texture created by MemoryDevice. It supports both
// whole-texture uploads and region writes.
type MemoryTexture struct {
	mu       sync.RWMutex
	desc     TextureDescriptor
	pitch    int
	data     []byte
	released bool

	uploads      int
	regionWrites int
}

// Descriptor returns the descriptor the texture was created with.
func (t *MemoryTexture) Descriptor() TextureDescriptor { return t.desc }

// Upload replaces the texture contents.
func (t *MemoryTexture) Upload(data []byte, bytesPerRow int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return ErrTextureReleased
	}
	rows := t.desc.Format.BlockRows(t.desc.Height)
	if bytesPerRow < t.pitch || len(data) < (rows-1)*bytesPerRow+t.pitch {
		return ErrShortData
	}
	for r := range rows {
		copy(t.data[r*t.pitch:(r+1)*t.pitch], data[r*bytesPerRow:])
	}
	t.uploads++
	return nil
}

// WriteRegion copies block rows into part of the texture.
func (t *MemoryTexture) WriteRegion(region Region, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return ErrTextureReleased
	}

	bx, by := t.desc.Format.BlockSize()
	x, y := int(region.X), int(region.Y)
	w, h := int(region.Size.Width), int(region.Size.Height)
	if x%bx != 0 || y%by != 0 || x+w > t.desc.Width || y+h > t.desc.Height {
		return ErrRegionOutOfBounds
	}

	rowBytes := t.desc.Format.RowPitch(w)
	rows := t.desc.Format.BlockRows(h)
	srcPitch := int(region.BytesPerRow)
	if srcPitch < rowBytes || len(data) < (rows-1)*srcPitch+rowBytes {
		return ErrShortData
	}

	dstOff := (y/by)*t.pitch + (x/bx)*t.desc.Format.BytesPerBlock()
	for r := range rows {
		src := data[r*srcPitch : r*srcPitch+rowBytes]
		copy(t.data[dstOff+r*t.pitch:], src)
	}
	t.regionWrites++
	return nil
}

// Release marks the texture released. Later writes fail.
func (t *MemoryTexture) Release() {
	t.mu.Lock()
	t.released = true
	t.mu.Unlock()
}

// Released reports whether Release has been called.
func (t *MemoryTexture) Released() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.released
}

// Stats returns the number of whole uploads and region writes received.
func (t *MemoryTexture) Stats() (uploads, regionWrites int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.uploads, t.regionWrites
}

// Pixels returns a copy of the texture data as tightly packed block rows.
func (t *MemoryTexture) Pixels() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

// Snapshot returns the texture as an RGBA image.
// It returns nil for formats that cannot be expanded without decoding (ASTC).
func (t *MemoryTexture) Snapshot() *image.RGBA {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, h := t.desc.Width, t.desc.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	switch t.desc.Format {
	case FormatRGBA8:
		copy(img.Pix, t.data)
	case FormatBGRA8:
		for i := 0; i+3 < len(t.data); i += 4 {
			img.Pix[i+0] = t.data[i+2]
			img.Pix[i+1] = t.data[i+1]
			img.Pix[i+2] = t.data[i+0]
			img.Pix[i+3] = t.data[i+3]
		}
	case FormatR8:
		for i, v := range t.data {
			img.Pix[i*4+0] = v
			img.Pix[i*4+1] = v
			img.Pix[i*4+2] = v
			img.Pix[i*4+3] = 0xFF
		}
	default:
		return nil
	}
	return img
}
