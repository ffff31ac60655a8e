//go:build !nogpu

// Package native provides an atlas device on top of gogpu/wgpu HAL.
//
// Atlas textures are created with CopyDst and TextureBinding usage and
// written through the HAL queue, so both CPU-mode (whole uploads) and
// GPU-mode (region writes) surfaces can use it. Block-compressed formats are
// not supported.
package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/spritemerge/surface"
)

// DeviceName is the name Register uses in the surface device registry.
const DeviceName = "wgpu"

// devicePriority ranks the HAL device above the in-memory one.
const devicePriority = 100

// TextureAllocator is the part of hal.Device used for atlas textures.
type TextureAllocator interface {
	CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error)
	DestroyTexture(texture hal.Texture)
}

// TextureQueue is the part of hal.Queue used to write atlas pixels.
type TextureQueue interface {
	WriteTexture(dst *hal.ImageCopyTexture, data []byte, layout *hal.ImageDataLayout, size *hal.Extent3D)
}

// Device implements surface.Device using a HAL device and queue.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
type Device struct {
	device TextureAllocator
	queue  TextureQueue

	mu      sync.Mutex
	created int
	live    int
}

// NewDevice wraps a HAL device and its queue.
func NewDevice(device TextureAllocator, queue TextureQueue) (*Device, error) {
	if device == nil {
		return nil, ErrNilHALDevice
	}
	if queue == nil {
		return nil, ErrNilHALQueue
	}
	return &Device{device: device, queue: queue}, nil
}

// Register makes the HAL device available in the default surface device
// registry under DeviceName, ahead of the in-memory device.
func Register(device TextureAllocator, queue TextureQueue) {
	surface.Register(DeviceName, devicePriority, func() (surface.Device, error) {
		return NewDevice(device, queue)
	}, nil)
}

// CreateTexture creates a 2D texture for an atlas.
func (d *Device) CreateTexture(desc surface.TextureDescriptor) (surface.DeviceTexture, error) {
	format, ok := desc.Format.GPUFormat(desc.SRGB)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, desc.Format)
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", surface.ErrInvalidDimensions, desc.Width, desc.Height)
	}

	halDesc := &hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              uint32(desc.Width),  //nolint:gosec // checked positive above
			Height:             uint32(desc.Height), //nolint:gosec // checked positive above
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	}
	tex, err := d.device.CreateTexture(halDesc)
	if err != nil {
		return nil, fmt.Errorf("native: create texture %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	d.created++
	d.live++
	d.mu.Unlock()

	return &Texture{
		owner:  d,
		tex:    tex,
		desc:   desc,
		format: format,
	}, nil
}

// Stats returns the number of textures created and still alive.
func (d *Device) Stats() (created, live int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created, d.live
}

func (d *Device) destroy(tex hal.Texture) {
	d.device.DestroyTexture(tex)
	d.mu.Lock()
	d.live--
	d.mu.Unlock()
}

// Texture is an atlas texture on the HAL device.
// It implements surface.Uploader and surface.RegionWriter.
type Texture struct {
	owner  *Device
	tex    hal.Texture
	desc   surface.TextureDescriptor
	format gputypes.TextureFormat

	mu       sync.Mutex
	released bool
}

// HALTexture returns the underlying HAL texture, or nil after Release.
func (t *Texture) HALTexture() hal.Texture {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	return t.tex
}

// Format returns the GPU texture format.
func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// Upload writes the whole texture.
func (t *Texture) Upload(data []byte, bytesPerRow int) error {
	if bytesPerRow <= 0 {
		return fmt.Errorf("%w: bytes per row %d", ErrInvalidRegion, bytesPerRow)
	}
	//nolint:gosec // texture dimensions are positive and bounded by the atlas size
	return t.WriteRegion(surface.Region{
		BytesPerRow:  uint32(bytesPerRow),
		RowsPerImage: uint32(t.desc.Height),
		Size: gputypes.Extent3D{
			Width:              uint32(t.desc.Width),
			Height:             uint32(t.desc.Height),
			DepthOrArrayLayers: 1,
		},
	}, data)
}

// WriteRegion writes a rectangle of the texture through the queue.
func (t *Texture) WriteRegion(region surface.Region, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return ErrTextureDestroyed
	}

	w, h := uint64(t.desc.Width), uint64(t.desc.Height) //nolint:gosec // positive
	if uint64(region.X)+uint64(region.Size.Width) > w || uint64(region.Y)+uint64(region.Size.Height) > h {
		return fmt.Errorf("%w: %dx%d at (%d,%d) in %dx%d",
			ErrInvalidRegion, region.Size.Width, region.Size.Height, region.X, region.Y, w, h)
	}
	need := uint64(region.BytesPerRow) * uint64(region.RowsPerImage)
	if uint64(len(data)) < need {
		return fmt.Errorf("%w: %d bytes, want %d", ErrInvalidRegion, len(data), need)
	}

	t.owner.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: region.X, Y: region.Y, Z: 0},
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  region.BytesPerRow,
			RowsPerImage: region.RowsPerImage,
		},
		&hal.Extent3D{
			Width:              region.Size.Width,
			Height:             region.Size.Height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

// Release destroys the HAL texture. Safe to call multiple times.
func (t *Texture) Release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	tex := t.tex
	t.mu.Unlock()

	t.owner.destroy(tex)
}

// Released reports whether Release has been called.
func (t *Texture) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
