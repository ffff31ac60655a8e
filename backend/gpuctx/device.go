// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpuctx provides an atlas device over textures owned by a host
// application, such as a gogpu.App.
//
// The host creates textures from RGBA pixels and updates them whole, so only
// RGBA8 atlases in CPU mode are supported: the surface keeps the pixels and
// uploads them once per tick.
//
// This package uses interfaces to avoid importing gogpu directly:
//   - gpucontext.DeviceProvider for device access
//   - gpucontext.TextureCreator (through FromCreator) for texture creation
//   - gpucontext.TextureUpdater for uploads
package gpuctx

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/spritemerge/surface"
)

// Common errors returned by the device.
var (
	// ErrNilProvider is returned when a nil DeviceProvider is passed.
	ErrNilProvider = errors.New("gpuctx: nil DeviceProvider")

	// ErrNilCreateFunc is returned when no texture constructor is passed.
	ErrNilCreateFunc = errors.New("gpuctx: nil CreateFunc")

	// ErrUnsupportedFormat is returned for atlases that are not RGBA8.
	ErrUnsupportedFormat = errors.New("gpuctx: only RGBA8 atlases are supported")

	// ErrUpdateUnsupported is returned when the host texture cannot be updated.
	ErrUpdateUnsupported = errors.New("gpuctx: host texture does not implement gpucontext.TextureUpdater")

	// ErrTextureDestroyed is returned when uploading to a released texture.
	ErrTextureDestroyed = errors.New("gpuctx: texture has been destroyed")
)

// textureDestroyer matches the gogpu.Texture.Destroy signature.
type textureDestroyer interface {
	Destroy()
}

// CreateFunc creates a host texture from tightly packed RGBA pixels.
type CreateFunc func(width, height int, data []byte) (any, error)

// FromCreator adapts a host texture creator.
func FromCreator(c gpucontext.TextureCreator) CreateFunc {
	return func(width, height int, data []byte) (any, error) {
		return c.NewTextureFromRGBA(width, height, data)
	}
}

// Device implements surface.Device over host textures.
//
// Device is safe for concurrent use.
type Device struct {
	provider gpucontext.DeviceProvider
	create   CreateFunc

	mu       sync.Mutex
	textures []*Texture
}

// New creates a device. The provider should come from the host application,
// for example gogpu.App.GPUContextProvider().
func New(provider gpucontext.DeviceProvider, create CreateFunc) (*Device, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if create == nil {
		return nil, ErrNilCreateFunc
	}
	return &Device{provider: provider, create: create}, nil
}

// Provider returns the host device provider.
func (d *Device) Provider() gpucontext.DeviceProvider { return d.provider }

// CreateTexture creates a transparent host texture.
func (d *Device) CreateTexture(desc surface.TextureDescriptor) (surface.DeviceTexture, error) {
	if desc.Format != surface.FormatRGBA8 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, desc.Format)
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", surface.ErrInvalidDimensions, desc.Width, desc.Height)
	}

	host, err := d.create(desc.Width, desc.Height, make([]byte, desc.Width*desc.Height*4))
	if err != nil {
		return nil, fmt.Errorf("gpuctx: create texture %q: %w", desc.Label, err)
	}
	if host == nil {
		return nil, fmt.Errorf("gpuctx: create texture %q: host returned nil", desc.Label)
	}

	t := &Texture{host: host, width: desc.Width, height: desc.Height}
	d.mu.Lock()
	d.textures = append(d.textures, t)
	d.mu.Unlock()
	return t, nil
}

// Textures returns every texture created by the device that has not been released.
func (d *Device) Textures() []*Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Texture, 0, len(d.textures))
	for _, t := range d.textures {
		if !t.Released() {
			out = append(out, t)
		}
	}
	return out
}

// Texture is an atlas texture owned by the host. It implements surface.Uploader.
type Texture struct {
	host   any
	width  int
	height int

	mu       sync.Mutex
	released bool
	packed   []byte
}

// Host returns the host texture to draw with, typically a gpucontext.Texture.
func (t *Texture) Host() any { return t.host }

// Upload replaces the texture content. Rows wider than the texture are repacked.
func (t *Texture) Upload(data []byte, bytesPerRow int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return ErrTextureDestroyed
	}
	updater, ok := t.host.(gpucontext.TextureUpdater)
	if !ok {
		return ErrUpdateUnsupported
	}

	rowBytes := t.width * 4
	if bytesPerRow < rowBytes || len(data) < (t.height-1)*bytesPerRow+rowBytes {
		return fmt.Errorf("gpuctx: short upload: %d bytes at %d per row for %dx%d", len(data), bytesPerRow, t.width, t.height)
	}
	if bytesPerRow != rowBytes {
		if len(t.packed) != rowBytes*t.height {
			t.packed = make([]byte, rowBytes*t.height)
		}
		for y := range t.height {
			copy(t.packed[y*rowBytes:(y+1)*rowBytes], data[y*bytesPerRow:])
		}
		data = t.packed
	} else {
		data = data[:rowBytes*t.height]
	}

	if err := updater.UpdateData(data); err != nil {
		return fmt.Errorf("gpuctx: texture update failed: %w", err)
	}
	return nil
}

// Release destroys the host texture if it supports it. Safe to call multiple times.
func (t *Texture) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	t.packed = nil
	if destroyer, ok := t.host.(textureDestroyer); ok {
		destroyer.Destroy()
	}
}

// Released reports whether Release has been called.
func (t *Texture) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
