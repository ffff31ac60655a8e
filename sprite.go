package spritemerge

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/spritemerge/packer"
	"github.com/gogpu/spritemerge/surface"
)

// NotifyFunc is called when the texture or UV rectangle a sprite draws with
// changes. It always runs on the goroutine that ticks the registry.
type NotifyFunc func(textureChanged, uvChanged bool)

// UVRect is a normalized texture rectangle.
type UVRect struct {
	U0, V0 float32
	U1, V1 float32
}

// FullUV covers a whole texture.
var FullUV = UVRect{U0: 0, V0: 0, U1: 1, V1: 1}

var spriteIDs atomic.Uint64

// Sprite is a UI image that may be packed into a shared atlas.
//
// A sprite is referenced while it is visible. The atlas it lives in counts its
// referenced sprites and is evicted when that count drops to zero. Destroyed
// sprites are never placed again.
//
// Sprite is NOT thread-safe; use it from the goroutine that ticks the registry.
type Sprite struct {
	id        uint64
	name      string
	source    surface.Source
	atlasName string
	notify    NotifyFunc

	refs      int
	destroyed bool

	registry *Registry
	surf     *surface.Surface
	rect     packer.Rect
	merged   bool
	pending  bool

	texture  surface.Texture
	uv       UVRect
	onSource bool
}

// NewSprite creates a sprite drawing from source. atlasName is the atlas family
// it asks for; notify may be nil.
func NewSprite(name string, source surface.Source, atlasName string, notify NotifyFunc) *Sprite {
	return &Sprite{
		id:        spriteIDs.Add(1),
		name:      name,
		source:    source,
		atlasName: atlasName,
		notify:    notify,
		uv:        FullUV,
	}
}

// ID returns a process-unique identifier.
func (s *Sprite) ID() uint64 { return s.id }

// Name returns the sprite name.
func (s *Sprite) Name() string { return s.name }

// Source returns the pixel provider.
func (s *Sprite) Source() surface.Source { return s.source }

// AtlasName returns the atlas family the sprite asks for.
func (s *Sprite) AtlasName() string { return s.atlasName }

// Referenced reports whether the sprite holds at least one reference.
func (s *Sprite) Referenced() bool { return s.refs > 0 }

// Destroyed reports whether Destroy has been called.
func (s *Sprite) Destroyed() bool { return s.destroyed }

// Retain adds a reference. The first reference counts the sprite as valid
// in its atlas.
func (s *Sprite) Retain() {
	if s.destroyed {
		return
	}
	s.refs++
	if s.refs == 1 && s.surf != nil {
		s.surf.SetReferenced(s.id, true)
	}
}

// Release drops a reference. Dropping the last one may evict the atlas.
// Calls without a matching Retain are ignored.
func (s *Sprite) Release() {
	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 && s.surf != nil {
		s.surf.SetReferenced(s.id, false)
	}
}

// Destroy marks the sprite as gone. Its atlas counts it as invalid and the
// registry stops retrying it.
func (s *Sprite) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.refs = 0
	if s.registry != nil {
		s.registry.forgetPending(s)
	}
	if s.surf != nil {
		s.surf.Invalidate(s.id)
	}
}

// Texture returns the texture the sprite currently draws with: its atlas once
// the pixels are merged, its own source otherwise, or nil before the first
// successful request.
func (s *Sprite) Texture() surface.Texture { return s.texture }

// UV returns the rectangle of Texture the sprite occupies.
func (s *Sprite) UV() UVRect { return s.uv }

// Rect returns the sprite's pixel rectangle in its atlas. It is empty while
// the sprite is not placed.
func (s *Sprite) Rect() packer.Rect {
	if s.surf == nil {
		return packer.Rect{}
	}
	return s.rect
}

// Surface returns the atlas the sprite is placed in, or nil.
func (s *Sprite) Surface() *surface.Surface { return s.surf }

// Merged reports whether the sprite's pixels are in its atlas.
func (s *Sprite) Merged() bool { return s.surf != nil && s.merged }

func (s *Sprite) String() string {
	return fmt.Sprintf("Sprite(%d %q atlas=%q refs=%d)", s.id, s.name, s.atlasName, s.refs)
}

// useSource switches the sprite to its own texture.
func (s *Sprite) useSource() (changed bool) {
	changed = !s.onSource
	s.onSource = true
	s.merged = false
	s.texture = s.source
	s.uv = FullUV
	return changed
}

// useAtlas switches the sprite to its atlas.
func (s *Sprite) useAtlas() {
	s.onSource = false
	s.merged = true
	s.texture = s.surf
	w, h := float32(s.surf.Width()), float32(s.surf.Height())
	s.uv = UVRect{
		U0: float32(s.rect.X) / w,
		V0: float32(s.rect.Y) / h,
		U1: float32(s.rect.Right()) / w,
		V1: float32(s.rect.Bottom()) / h,
	}
}

// unplace forgets the atlas placement.
func (s *Sprite) unplace() {
	s.surf = nil
	s.rect = packer.Rect{}
	s.merged = false
	s.onSource = false
	s.texture = nil
	s.uv = FullUV
}

func (s *Sprite) fire(textureChanged, uvChanged bool) {
	if s.notify != nil && !s.destroyed {
		s.notify(textureChanged, uvChanged)
	}
}
