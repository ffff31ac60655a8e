package spritemerge

import (
	"github.com/gogpu/spritemerge/merge"
	"github.com/gogpu/spritemerge/surface"
)

// Option configures a Registry during creation.
//
// Example:
//
//	r, err := spritemerge.NewRegistry(spritemerge.DefaultConfig(),
//	    spritemerge.WithDevice(myDevice),
//	    spritemerge.WithSourceCacheSize(16<<20))
type Option func(*registryOptions)

// registryOptions holds optional configuration for Registry creation.
type registryOptions struct {
	clock     merge.Clock
	devices   *surface.Registry
	device    surface.Device
	cacheSize int64
}

// defaultSourceCacheSize bounds the converted pixels kept for image sources.
const defaultSourceCacheSize = 64 << 20

func defaultOptions() registryOptions {
	return registryOptions{
		clock:     merge.SystemClock{},
		devices:   surface.DefaultRegistry(),
		cacheSize: defaultSourceCacheSize,
	}
}

// WithClock sets the clock used for the merge time budget.
// Tests use it to make budgets deterministic.
func WithClock(c merge.Clock) Option {
	return func(o *registryOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithDevices sets the device registry that Config.Device is looked up in.
// The default is surface.DefaultRegistry().
func WithDevices(r *surface.Registry) Option {
	return func(o *registryOptions) {
		if r != nil {
			o.devices = r
		}
	}
}

// WithDevice uses d for atlas textures, ignoring Config.Device.
func WithDevice(d surface.Device) Option {
	return func(o *registryOptions) {
		o.device = d
	}
}

// WithSourceCacheSize sets the byte limit of the cache holding converted pixels
// of image sources created through Registry.NewImageSource. Zero means unlimited.
func WithSourceCacheSize(bytes int64) Option {
	return func(o *registryOptions) {
		o.cacheSize = max(bytes, 0)
	}
}
