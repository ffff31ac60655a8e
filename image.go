package spritemerge

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/gogpu/spritemerge/internal/cache"
	"github.com/gogpu/spritemerge/surface"
)

// SourceCache keeps converted pixels of image sources, bounded by total bytes.
// It is safe for concurrent use.
type SourceCache struct {
	c *cache.Cache[sourceKey, []byte]
}

// sourceKey identifies one image of a source; SetImage starts a new generation.
type sourceKey struct {
	id  uint64
	gen uint64
}

// NewSourceCache returns a cache holding at most limit bytes (soft limit).
// Zero means unlimited.
func NewSourceCache(limit int64) *SourceCache {
	return &SourceCache{c: cache.New[sourceKey, []byte](limit, func(b []byte) int64 { return int64(len(b)) })}
}

// Len returns the number of cached sources.
func (c *SourceCache) Len() int { return c.c.Len() }

// Size returns the number of cached bytes.
func (c *SourceCache) Size() int64 { return c.c.Size() }

// Stats returns hit, miss and eviction counts.
func (c *SourceCache) Stats() cache.Stats { return c.c.Stats() }

// Clear drops every cached conversion.
func (c *SourceCache) Clear() { c.c.Clear() }

// ImageSourceOptions configures NewImageSource.
type ImageSourceOptions struct {
	// Format is the pixel format produced: RGBA8 (default), BGRA8 or R8.
	Format surface.PixelFormat

	Compression surface.Compression
	SRGB        bool

	// Width and Height resize the image when non-zero.
	Width  int
	Height int

	// Cache keeps the converted pixels between merges. Nil converts on every read.
	Cache *SourceCache
}

// ErrUnsupportedSourceFormat is returned for image sources in a block-compressed format.
var ErrUnsupportedSourceFormat = errors.New("spritemerge: image sources must use an uncompressed format")

var imageSourceIDs atomic.Uint64

// ImageSource is a surface.Source backed by an image.Image.
//
// It supports streaming: a source created with NewPendingImageSource is not
// ready until SetImage is called, and Unload makes its pixels vanish. Both may
// be called from a loader goroutine.
type ImageSource struct {
	id     uint64
	width  int
	height int
	format surface.PixelFormat
	comp   surface.Compression
	srgb   bool
	cache  *SourceCache

	mu  sync.RWMutex
	img image.Image
	gen uint64
}

// NewImageSource returns a ready source for img.
func NewImageSource(img image.Image, opts ImageSourceOptions) (*ImageSource, error) {
	if img == nil {
		return nil, errors.New("spritemerge: image is nil")
	}
	b := img.Bounds()
	if opts.Width == 0 {
		opts.Width = b.Dx()
	}
	if opts.Height == 0 {
		opts.Height = b.Dy()
	}
	s, err := NewPendingImageSource(opts.Width, opts.Height, opts)
	if err != nil {
		return nil, err
	}
	s.img = img
	return s, nil
}

// NewPendingImageSource returns a source of the given size whose image is
// still loading.
func NewPendingImageSource(width, height int, opts ImageSourceOptions) (*ImageSource, error) {
	if opts.Format == surface.FormatUnknown {
		opts.Format = surface.FormatRGBA8
	}
	if opts.Format.Compressed() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceFormat, opts.Format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("spritemerge: invalid image source size %dx%d", width, height)
	}
	return &ImageSource{
		id:     imageSourceIDs.Add(1),
		width:  width,
		height: height,
		format: opts.Format,
		comp:   opts.Compression,
		srgb:   opts.SRGB,
		cache:  opts.Cache,
	}, nil
}

// NewImageSource returns a ready source whose conversions are kept in the
// registry's source cache.
func (r *Registry) NewImageSource(img image.Image, opts ImageSourceOptions) (*ImageSource, error) {
	opts.Cache = r.sources
	return NewImageSource(img, opts)
}

func (s *ImageSource) Width() int                       { return s.width }
func (s *ImageSource) Height() int                      { return s.height }
func (s *ImageSource) Format() surface.PixelFormat      { return s.format }
func (s *ImageSource) Compression() surface.Compression { return s.comp }
func (s *ImageSource) SRGB() bool                       { return s.srgb }

// Ready reports whether the image has been loaded.
func (s *ImageSource) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img != nil
}

// SetImage completes a pending load, or replaces the image.
func (s *ImageSource) SetImage(img image.Image) {
	s.mu.Lock()
	old := sourceKey{id: s.id, gen: s.gen}
	s.img = img
	s.gen++
	s.mu.Unlock()
	s.dropCached(old)
}

// Unload releases the image. Queued merges of this source are dropped.
func (s *ImageSource) Unload() {
	s.SetImage(nil)
}

// Pixels returns the image converted to tightly packed rows of Format.
func (s *ImageSource) Pixels() ([]byte, bool) {
	s.mu.RLock()
	img, key := s.img, sourceKey{id: s.id, gen: s.gen}
	s.mu.RUnlock()
	if img == nil {
		return nil, false
	}
	if s.cache == nil {
		return s.convert(img), true
	}
	pix := s.cache.c.GetOrCreate(key, func() []byte { return s.convert(img) })

	// A SetImage that ran after img was read may have missed this entry.
	s.mu.RLock()
	stale := s.gen != key.gen
	s.mu.RUnlock()
	if stale {
		s.dropCached(key)
	}
	return pix, true
}

func (s *ImageSource) dropCached(key sourceKey) {
	if s.cache != nil {
		s.cache.c.Delete(key)
	}
}

// convert draws img into a buffer of the source format, scaling if needed.
func (s *ImageSource) convert(img image.Image) []byte {
	rect := image.Rect(0, 0, s.width, s.height)
	var dst draw.Image
	var pix []byte
	switch s.format {
	case surface.FormatR8:
		g := image.NewGray(rect)
		dst, pix = g, g.Pix
	default:
		rgba := image.NewRGBA(rect)
		dst, pix = rgba, rgba.Pix
	}

	sb := img.Bounds()
	if sb.Dx() == s.width && sb.Dy() == s.height {
		draw.Draw(dst, rect, img, sb.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, rect, img, sb, draw.Src, nil)
	}

	if s.format == surface.FormatBGRA8 {
		for i := 0; i+3 < len(pix); i += 4 {
			pix[i], pix[i+2] = pix[i+2], pix[i]
		}
	}
	return pix
}
