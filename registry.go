package spritemerge

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"weak"

	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/spritemerge/merge"
	"github.com/gogpu/spritemerge/packer"
	"github.com/gogpu/spritemerge/surface"
)

// Registry errors.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("spritemerge: registry is closed")

	// ErrNilSprite is returned when a nil sprite is passed.
	ErrNilSprite = errors.New("spritemerge: sprite is nil")

	// ErrNilSource is returned for sprites created without a source.
	ErrNilSource = errors.New("spritemerge: sprite has no source")

	// ErrDestroyed is returned for sprites that have been destroyed.
	ErrDestroyed = errors.New("spritemerge: sprite has been destroyed")

	// ErrMergeDisabled is returned while Config.Enabled is false.
	ErrMergeDisabled = errors.New("spritemerge: merging is disabled")

	// ErrOversized is returned for sprites larger than the maximum atlas sprite size.
	ErrOversized = errors.New("spritemerge: sprite exceeds the maximum atlas sprite size")

	// ErrSourceNotReady is returned while the sprite's source is still loading.
	// The sprite is retried by TryAgainTick.
	ErrSourceNotReady = errors.New("spritemerge: sprite source is not ready")

	// ErrPlacementUnavailable is returned when no atlas could hold the sprite.
	ErrPlacementUnavailable = errors.New("spritemerge: no atlas placement available")
)

// placedSprite is a sprite member of an atlas.
type placedSprite struct {
	sprite weak.Pointer[Sprite]
	surf   *surface.Surface
}

// pendingSprite is a sprite waiting for its source to load.
type pendingSprite struct {
	id        uint64
	sprite    weak.Pointer[Sprite]
	atlasName string
}

// Registry routes sprites to compatible atlases and drives their merging.
//
// Atlases are keyed by (atlas name, pixel format, compression, sRGB). The
// registry creates atlases on demand, evicts them when their sprites are no
// longer referenced and applies queued merges under a per-tick time budget.
// It holds sprites weakly: an unreachable sprite is never notified, and on
// the next Tick it counts as destroyed in its atlas.
//
// Registry is NOT thread-safe. Every method, and every Sprite method, must be
// called from the goroutine that calls Tick.
type Registry struct {
	cfg     Config
	device  surface.Device
	sched   *merge.Scheduler
	sources *SourceCache

	surfaces []*surface.Surface
	sprites  map[uint64]placedSprite
	pending  []pendingSprite
	tasks    taskQueue

	discard  bool
	tryAgain bool
	closed   bool
}

// NewRegistry creates a registry. Unless WithDevice is given, the atlas device
// is opened from the device registry: by Config.Device if set, otherwise the
// best available one.
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dev := o.device
	if dev == nil {
		var err error
		if cfg.Device != "" {
			dev, err = o.devices.NewDeviceByName(cfg.Device)
		} else {
			dev, err = o.devices.NewDevice()
		}
		if err != nil {
			return nil, fmt.Errorf("spritemerge: open device: %w", err)
		}
	}

	r := &Registry{
		cfg:     cfg,
		device:  dev,
		sched:   merge.New(merge.Config{MaxActionsPerTick: cfg.MaxActionsPerTick, Clock: o.clock}),
		sources: NewSourceCache(o.cacheSize),
		sprites: make(map[uint64]placedSprite),
	}
	Logger().Info("spritemerge: registry created",
		"mode", cfg.Mode.String(), "atlas_width", cfg.DefaultAtlasWidth, "atlas_height", cfg.DefaultAtlasHeight)
	return r, nil
}

// Config returns the current configuration.
func (r *Registry) Config() Config { return r.cfg }

// SetVariable assigns a console variable. Mode and atlas size changes apply
// to atlases created afterwards.
func (r *Registry) SetVariable(name, value string) error {
	if err := r.cfg.Set(name, value); err != nil {
		return err
	}
	r.sched.SetMaxActionsPerTick(r.cfg.MaxActionsPerTick)
	return nil
}

// Device returns the device atlas textures are created on.
func (r *Registry) Device() surface.Device { return r.device }

// SourceCache returns the cache used by Registry.NewImageSource.
func (r *Registry) SourceCache() *SourceCache { return r.sources }

// RequestTexture returns the texture sprite should draw with.
//
// It returns nil while the sprite's source is still loading; the sprite is
// notified once TryAgainTick places it. Sprites that cannot be packed, and
// sprites whose merge is still queued, draw with their own source texture.
func (r *Registry) RequestTexture(sprite *Sprite, atlasName string) surface.Texture {
	if sprite == nil || sprite.destroyed || sprite.source == nil {
		return nil
	}
	if sprite.surf != nil {
		return sprite.texture
	}
	_, _, err := r.RequestPlacement(sprite, atlasName)
	switch {
	case err == nil:
		return sprite.texture
	case errors.Is(err, ErrSourceNotReady):
		return nil
	default:
		sprite.useSource()
		return sprite.texture
	}
}

// RequestPlacement reserves a rectangle for sprite in a compatible atlas and
// queues the copy of its pixels. An empty atlasName uses the sprite's own.
//
// While a loading screen is held the pixels are copied immediately.
// A sprite that is already placed gets its current placement back.
func (r *Registry) RequestPlacement(sprite *Sprite, atlasName string) (*surface.Surface, packer.Rect, error) {
	switch {
	case sprite == nil:
		return nil, packer.Rect{}, ErrNilSprite
	case r.closed:
		return nil, packer.Rect{}, ErrClosed
	case sprite.destroyed:
		return nil, packer.Rect{}, ErrDestroyed
	case sprite.source == nil:
		return nil, packer.Rect{}, ErrNilSource
	case !r.cfg.Enabled:
		return nil, packer.Rect{}, ErrMergeDisabled
	case sprite.surf != nil:
		return sprite.surf, sprite.rect, nil
	}
	if atlasName == "" {
		atlasName = sprite.atlasName
	}
	sprite.registry = r

	src := sprite.source
	if src.Width() > r.cfg.MaxAtlasWidth || src.Height() > r.cfg.MaxAtlasHeight {
		return nil, packer.Rect{}, fmt.Errorf("%w: %dx%d", ErrOversized, src.Width(), src.Height())
	}
	if !src.Ready() {
		r.addPending(sprite, atlasName)
		return nil, packer.Rect{}, ErrSourceNotReady
	}
	r.forgetPending(sprite)

	key := surface.Key{
		Name:        normalizeAtlasName(atlasName),
		Format:      src.Format(),
		Compression: src.Compression(),
		SRGB:        src.SRGB(),
	}
	surf, pl, err := r.allocate(key, src.Width(), src.Height())
	if err != nil {
		return nil, packer.Rect{}, err
	}

	sprite.surf = surf
	sprite.rect = pl.Rect
	sprite.merged = false
	surf.AddSprite(sprite.id, sprite.refs > 0)
	r.sprites[sprite.id] = placedSprite{sprite: weak.Make(sprite), surf: surf}
	Logger().Debug("spritemerge: sprite placed",
		"sprite", sprite.name, "surface", surf.ID(), "rect", pl.Rect.String(), "slot", pl.Slot.String())

	action := surface.Action{Sprite: sprite.id, Source: src, Rect: pl.Rect}
	if r.sched.Loading() {
		if err := r.sched.Apply(surf, action); err != nil {
			r.detach(sprite)
			return nil, packer.Rect{}, err
		}
		sprite.useAtlas()
		sprite.fire(true, true)
		return surf, pl.Rect, nil
	}
	if err := surf.Enqueue(action); err != nil {
		r.detach(sprite)
		return nil, packer.Rect{}, err
	}
	sprite.useSource()
	return surf, pl.Rect, nil
}

// allocate finds a slot in the newest compatible atlas that has room, or
// creates a new atlas.
func (r *Registry) allocate(key surface.Key, width, height int) (*surface.Surface, packer.Placement, error) {
	candidates := r.candidates(key)
	for i := len(candidates) - 1; i >= 0; i-- {
		if pl, ok := candidates[i].Allocate(width, height); ok {
			return candidates[i], pl, nil
		}
	}

	surf, err := surface.Create(surface.Options{
		Name:        key.Name,
		Width:       r.cfg.DefaultAtlasWidth,
		Height:      r.cfg.DefaultAtlasHeight,
		Format:      key.Format,
		Compression: key.Compression,
		SRGB:        key.SRGB,
		Mode:        r.cfg.Mode,
		Device:      r.device,
		OnEvict:     r.onEvict,
	})
	if err != nil {
		return nil, packer.Placement{}, fmt.Errorf("%w: %w", ErrPlacementUnavailable, err)
	}
	r.surfaces = append(r.surfaces, surf)

	pl, ok := surf.Allocate(width, height)
	if !ok {
		surf.Evict()
		return nil, packer.Placement{}, fmt.Errorf("%w: %dx%d does not fit a new %dx%d atlas",
			ErrPlacementUnavailable, width, height, surf.Width(), surf.Height())
	}
	return surf, pl, nil
}

// candidates returns the live atlases matching key in creation order.
// Inside the discard window unreferenced matches are evicted on the way;
// at the trim threshold the oldest unreferenced ones are evicted until a new
// atlas would stay under it.
func (r *Registry) candidates(key surface.Key) []*surface.Surface {
	var out, stale []*surface.Surface
	for _, s := range r.surfaces {
		if s.Key() != key {
			continue
		}
		if r.discard && s.ValidCount() == 0 {
			stale = append(stale, s)
			continue
		}
		out = append(out, s)
	}
	for _, s := range stale {
		s.Evict()
	}

	limit := r.cfg.MaxAtlasCount
	if limit <= 0 || len(out) < limit {
		return out
	}
	excess := len(out) - limit + 1
	kept := out[:0]
	for _, s := range out {
		if excess > 0 && s.ValidCount() == 0 {
			Logger().Info("spritemerge: trimming unreferenced atlas", "surface", s.ID(), "key", key.String())
			s.Evict()
			excess--
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// onEvict unregisters an evicted atlas and tells its sprites, on the next
// tick, that they lost their texture.
func (r *Registry) onEvict(surf *surface.Surface) {
	r.surfaces = slices.DeleteFunc(r.surfaces, func(s *surface.Surface) bool { return s == surf })
	for _, id := range surf.Members() {
		p, ok := r.sprites[id]
		if !ok {
			continue
		}
		delete(r.sprites, id)
		sp := p.sprite.Value()
		if sp == nil || sp.surf != surf {
			continue
		}
		sp.unplace()
		r.tasks.push(func() { sp.fire(true, true) })
	}
}

// detach drops a sprite's placement without notifying it.
func (r *Registry) detach(sp *Sprite) {
	surf := sp.surf
	if surf == nil {
		return
	}
	delete(r.sprites, sp.id)
	sp.unplace()
	surf.Remove(sp.id)
}

// Remove takes sprite out of its atlas and out of the retry list. The atlas
// slot is not reclaimed.
func (r *Registry) Remove(sprite *Sprite) {
	if sprite == nil {
		return
	}
	r.forgetPending(sprite)
	r.detach(sprite)
	sprite.registry = nil
}

// Tick runs deferred tasks, applies queued merges within budget and notifies
// the sprites whose pixels reached their atlas. A negative budget uses
// Config.TimeBudget.
func (r *Registry) Tick(budget time.Duration) merge.Stats {
	if r.closed {
		return merge.Stats{}
	}
	if budget < 0 {
		budget = r.cfg.TimeBudget
	}
	r.tasks.drain()
	r.pruneCollected()

	st := r.sched.Tick(budget, r.surfaces)
	for _, c := range st.Completed {
		sp := r.lookup(c.Action.Sprite)
		if sp == nil || sp.surf != c.Surface || c.Surface.Evicted() {
			continue
		}
		sp.useAtlas()
		sp.fire(true, true)
	}
	if st.Applied > 0 || st.Dropped > 0 || st.Failed > 0 {
		Logger().Debug("spritemerge: tick",
			"applied", st.Applied, "dropped", st.Dropped, "failed", st.Failed,
			"remaining", st.Remaining, "elapsed", st.Elapsed)
	}

	r.checkPending()
	return st
}

// NeedsTryAgain reports whether a pending sprite's source became ready during
// the last Tick.
func (r *Registry) NeedsTryAgain() bool { return r.tryAgain }

// TryAgainTick retries the placement of pending sprites whose sources are
// ready. It does nothing unless the last Tick found one. It returns the number
// of sprites placed.
func (r *Registry) TryAgainTick() int {
	if !r.tryAgain || r.closed {
		return 0
	}
	r.tryAgain = false

	batch := r.pending
	r.pending = nil
	placed := 0
	for _, p := range batch {
		sp := p.sprite.Value()
		if sp == nil || sp.destroyed {
			continue
		}
		sp.pending = false
		_, _, err := r.RequestPlacement(sp, p.atlasName)
		switch {
		case err == nil:
			placed++
		case errors.Is(err, ErrSourceNotReady):
			continue
		default:
			sp.useSource()
		}
		sp.fire(true, true)
	}
	return placed
}

// PendingCount returns the number of sprites waiting for their source.
func (r *Registry) PendingCount() int { return len(r.pending) }

// checkPending prunes collected sprites from the retry list and raises the
// try-again flag when a source has become ready.
func (r *Registry) checkPending() {
	r.pending = slices.DeleteFunc(r.pending, func(p pendingSprite) bool {
		sp := p.sprite.Value()
		return sp == nil || sp.destroyed
	})
	for _, p := range r.pending {
		if sp := p.sprite.Value(); sp != nil && sp.source.Ready() {
			r.tryAgain = true
			return
		}
	}
}

func (r *Registry) addPending(sp *Sprite, atlasName string) {
	if sp.pending {
		return
	}
	sp.pending = true
	r.pending = append(r.pending, pendingSprite{id: sp.id, sprite: weak.Make(sp), atlasName: atlasName})
}

func (r *Registry) forgetPending(sp *Sprite) {
	if !sp.pending {
		return
	}
	sp.pending = false
	r.pending = slices.DeleteFunc(r.pending, func(p pendingSprite) bool { return p.id == sp.id })
}

func (r *Registry) lookup(id uint64) *Sprite {
	p, ok := r.sprites[id]
	if !ok {
		return nil
	}
	return p.sprite.Value()
}

// pruneCollected invalidates the atlas membership of sprites that were
// garbage collected without being destroyed.
func (r *Registry) pruneCollected() {
	for id, p := range r.sprites {
		if p.sprite.Value() != nil {
			continue
		}
		delete(r.sprites, id)
		Logger().Debug("spritemerge: sprite collected", "sprite", id, "surface", p.surf.ID())
		p.surf.Invalidate(id)
	}
}

// OnPreLoadMap opens the discard window: unreferenced atlases are evicted as
// placement requests come across them.
func (r *Registry) OnPreLoadMap() { r.discard = true }

// OnPostLoadMap closes the discard window.
func (r *Registry) OnPostLoadMap() { r.discard = false }

// Discarding reports whether the discard window is open.
func (r *Registry) Discarding() bool { return r.discard }

// EnterLoadingScreen makes merges synchronous until the guard is released.
func (r *Registry) EnterLoadingScreen() *merge.LoadingScreen {
	return r.sched.EnterLoadingScreen()
}

// Surfaces returns the live atlases in creation order.
func (r *Registry) Surfaces() []*surface.Surface {
	return slices.Clone(r.surfaces)
}

// Evict releases an atlas and unplaces its sprites. It returns false if the
// atlas was already evicted.
func (r *Registry) Evict(surf *surface.Surface) bool {
	return surf.Evict()
}

// Defer schedules fn to run at the start of the next Tick.
func (r *Registry) Defer(fn func()) {
	if fn != nil {
		r.tasks.push(fn)
	}
}

// Close evicts every atlas, delivers the resulting notifications and stops
// accepting requests.
func (r *Registry) Close() {
	if r.closed {
		return
	}
	for _, s := range slices.Clone(r.surfaces) {
		s.Evict()
	}
	r.tasks.drain()
	r.pending = nil
	r.tryAgain = false
	r.sources.Clear()
	r.closed = true
	Logger().Info("spritemerge: registry closed")
}

// normalizeAtlasName makes visually identical atlas names compare equal.
func normalizeAtlasName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
