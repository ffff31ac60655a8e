package spritemerge

import (
	"image"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/spritemerge/surface"
)

// stepClock advances by step on every call to Now.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultAtlasWidth, cfg.DefaultAtlasHeight = 64, 64
	cfg.MaxAtlasWidth, cfg.MaxAtlasHeight = 64, 64
	cfg.MaxActionsPerTick = 0
	return cfg
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *surface.MemoryDevice) {
	t.Helper()
	dev := surface.NewMemoryDevice()
	r, err := NewRegistry(cfg,
		WithDevice(dev),
		WithClock(&stepClock{now: time.Unix(0, 0), step: time.Millisecond}))
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, dev
}

func rgbaSource(w, h int) *surface.BlockSource {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = 0xFF
	}
	return surface.NewBlockSource(w, h, surface.FormatRGBA8, data)
}

type notifyLog struct {
	calls int
}

func (l *notifyLog) fn() NotifyFunc {
	return func(textureChanged, uvChanged bool) {
		if textureChanged || uvChanged {
			l.calls++
		}
	}
}

func TestPlacementMergesOnTick(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	var log notifyLog
	sp := NewSprite("icon", rgbaSource(40, 24), "hud", log.fn())
	sp.Retain()

	tex := r.RequestTexture(sp, "")
	assert.Equal(t, sp.Source(), tex, "the sprite draws with its own texture until merged")
	assert.Equal(t, FullUV, sp.UV())
	require.NotNil(t, sp.Surface())
	assert.False(t, sp.Merged())
	assert.Equal(t, surface.StateDirty, sp.Surface().State())

	st := r.Tick(time.Second)
	assert.Equal(t, 1, st.Applied)
	assert.Equal(t, 1, log.calls)
	assert.True(t, sp.Merged())
	assert.Equal(t, sp.Surface(), sp.Texture())
	assert.Equal(t, UVRect{U0: 0, V0: 0, U1: 40.0 / 64, V1: 24.0 / 64}, sp.UV())
	assert.Equal(t, sp.Surface(), r.RequestTexture(sp, ""))
}

func TestEvictedSpriteGetsNewSurface(t *testing.T) {
	r, dev := newTestRegistry(t, testConfig())
	var log notifyLog
	sp := NewSprite("a", rgbaSource(8, 8), "ui", log.fn())
	sp.Retain()

	r.RequestTexture(sp, "")
	r.Tick(time.Second)
	first := sp.Surface()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.ValidCount())
	assert.Equal(t, 1, log.calls)

	sp.Release()
	assert.True(t, first.Evicted())
	assert.Empty(t, r.Surfaces())
	assert.Nil(t, sp.Surface())
	assert.Nil(t, sp.Texture())
	assert.True(t, dev.Textures()[0].Released())
	assert.Equal(t, 1, log.calls, "eviction notifications wait for the next tick")

	r.Tick(0)
	assert.Equal(t, 2, log.calls)

	sp.Retain()
	r.RequestTexture(sp, "")
	second := sp.Surface()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Greater(t, second.ID(), first.ID())
	assert.Equal(t, []*surface.Surface{second}, r.Surfaces())

	assert.False(t, r.Evict(first), "evicting twice is a no-op")
	assert.True(t, r.Evict(second))
	assert.False(t, r.Evict(second))
}

func TestCompatibleSpritesShareAtlas(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())

	a := NewSprite("a", rgbaSource(8, 8), "Café", nil)
	b := NewSprite("b", rgbaSource(8, 8), "Cafe\u0301", nil)
	c := NewSprite("c", rgbaSource(8, 8), "other", nil)
	d := NewSprite("d", surface.NewBlockSource(8, 8, surface.FormatR8, make([]byte, 64)), "Café", nil)
	srgb := rgbaSource(8, 8)
	srgb.IsSRGB = true
	e := NewSprite("e", srgb, "Café", nil)

	for _, sp := range []*Sprite{a, b, c, d, e} {
		r.RequestTexture(sp, "")
		require.NotNil(t, sp.Surface(), sp.Name())
	}
	assert.Same(t, a.Surface(), b.Surface(), "NFC and NFD names are the same atlas")
	assert.NotSame(t, a.Surface(), c.Surface())
	assert.NotSame(t, a.Surface(), d.Surface())
	assert.NotSame(t, a.Surface(), e.Surface())
	assert.Len(t, r.Surfaces(), 4)
	assert.False(t, a.Rect().Overlaps(b.Rect()))
}

func TestNewestCandidateTriedFirst(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())

	s1 := NewSprite("s1", rgbaSource(40, 40), "ui", nil)
	s2 := NewSprite("s2", rgbaSource(40, 40), "ui", nil)
	s3 := NewSprite("s3", rgbaSource(8, 8), "ui", nil)
	for _, sp := range []*Sprite{s1, s2, s3} {
		r.RequestTexture(sp, "")
	}
	require.Len(t, r.Surfaces(), 2)
	assert.Same(t, r.Surfaces()[0], s1.Surface())
	assert.Same(t, r.Surfaces()[1], s2.Surface())
	assert.Same(t, s2.Surface(), s3.Surface())
}

func TestOversizedSpriteBypassesAtlas(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	sp := NewSprite("big", rgbaSource(100, 10), "ui", nil)

	_, _, err := r.RequestPlacement(sp, "")
	assert.ErrorIs(t, err, ErrOversized)

	tex := r.RequestTexture(sp, "")
	assert.Equal(t, sp.Source(), tex)
	assert.Equal(t, FullUV, sp.UV())
	assert.Empty(t, r.Surfaces())
}

func TestFullAtlasSizedSpriteFits(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	sp := NewSprite("full", rgbaSource(64, 64), "ui", nil)

	surf, rect, err := r.RequestPlacement(sp, "")
	require.NoError(t, err)
	assert.Equal(t, 64, rect.Width)
	assert.Equal(t, 0, surf.Allocator().EmptyCount())
}

func TestMergingDisabled(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	require.NoError(t, r.SetVariable(VarEnabled, "false"))

	sp := NewSprite("a", rgbaSource(8, 8), "ui", nil)
	assert.Equal(t, sp.Source(), r.RequestTexture(sp, ""))
	_, _, err := r.RequestPlacement(sp, "")
	assert.ErrorIs(t, err, ErrMergeDisabled)
	assert.Empty(t, r.Surfaces())
}

func TestPendingSourceRetriedAfterLoad(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	src, err := NewPendingImageSource(8, 8, ImageSourceOptions{})
	require.NoError(t, err)
	var log notifyLog
	sp := NewSprite("streamed", src, "ui", log.fn())
	sp.Retain()

	assert.Nil(t, r.RequestTexture(sp, ""))
	assert.Nil(t, r.RequestTexture(sp, ""))
	assert.Equal(t, 1, r.PendingCount())

	r.Tick(time.Second)
	assert.False(t, r.NeedsTryAgain())
	assert.Equal(t, 0, r.TryAgainTick(), "nothing to retry while loading")

	src.SetImage(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	r.Tick(time.Second)
	assert.True(t, r.NeedsTryAgain())

	assert.Equal(t, 1, r.TryAgainTick())
	assert.False(t, r.NeedsTryAgain())
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 1, log.calls)
	require.NotNil(t, sp.Surface())
	assert.Equal(t, 1, sp.Surface().ValidCount())

	r.Tick(time.Second)
	assert.True(t, sp.Merged())
	assert.Equal(t, 2, log.calls)
}

func TestDestroyedPendingSpriteIsForgotten(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	src, err := NewPendingImageSource(8, 8, ImageSourceOptions{})
	require.NoError(t, err)
	sp := NewSprite("streamed", src, "ui", nil)

	assert.Nil(t, r.RequestTexture(sp, ""))
	sp.Destroy()
	assert.Equal(t, 0, r.PendingCount())

	src.SetImage(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	r.Tick(time.Second)
	assert.False(t, r.NeedsTryAgain())
	assert.Nil(t, r.RequestTexture(sp, ""))
}

func TestLoadingScreenMergesImmediately(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	var log notifyLog
	sp := NewSprite("a", rgbaSource(8, 8), "ui", log.fn())

	guard := r.EnterLoadingScreen()
	tex := r.RequestTexture(sp, "")
	guard.Release()

	require.NotNil(t, sp.Surface())
	assert.Equal(t, sp.Surface(), tex)
	assert.True(t, sp.Merged())
	assert.Equal(t, surface.StateClean, sp.Surface().State())
	assert.Equal(t, 1, log.calls)
}

func TestBudgetLimitsMergesPerTick(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	sprites := make([]*Sprite, 5)
	for i := range sprites {
		sprites[i] = NewSprite("s", rgbaSource(4, 4), "ui", nil)
		sprites[i].Retain()
		r.RequestTexture(sprites[i], "")
	}

	st := r.Tick(2 * time.Millisecond)
	assert.Equal(t, 2, st.Applied)
	assert.Equal(t, 3, st.Remaining)
	merged := func() []bool {
		out := make([]bool, len(sprites))
		for i, sp := range sprites {
			out[i] = sp.Merged()
		}
		return out
	}
	assert.Equal(t, []bool{true, true, false, false, false}, merged())

	r.Tick(2 * time.Millisecond)
	assert.Equal(t, []bool{true, true, true, true, false}, merged())
}

func TestNegativeBudgetUsesConfiguredBudget(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	require.NoError(t, r.SetVariable(VarTimeBudget, "2ms"))
	for range 5 {
		r.RequestTexture(NewSprite("s", rgbaSource(4, 4), "ui", nil), "")
	}

	st := r.Tick(-1)
	assert.Equal(t, 2, st.Applied)
	assert.Equal(t, 3, st.Remaining)

	require.NoError(t, r.SetVariable(VarTimeBudget, "4ms"))
	st = r.Tick(-1)
	assert.Equal(t, 3, st.Applied)
	assert.Equal(t, 0, st.Remaining)
}

func TestNilSourceIsRejected(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	sp := NewSprite("empty", nil, "ui", nil)

	assert.Nil(t, r.RequestTexture(sp, ""))
	_, _, err := r.RequestPlacement(sp, "")
	assert.ErrorIs(t, err, ErrNilSource)
	assert.Empty(t, r.Surfaces())
	r.Tick(time.Second)
}

// placeRetained places a referenced sprite and drops every strong reference
// to it except the atlas membership.
func placeRetained(t *testing.T, r *Registry) *surface.Surface {
	t.Helper()
	sp := NewSprite("lost", rgbaSource(8, 8), "ui", nil)
	sp.Retain()
	r.RequestTexture(sp, "")
	require.NotNil(t, sp.Surface())
	return sp.Surface()
}

func TestCollectedSpriteReleasesAtlas(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	surf := placeRetained(t, r)
	r.Tick(time.Second)
	require.Equal(t, 1, surf.ValidCount())

	require.Eventually(t, func() bool {
		runtime.GC()
		r.Tick(time.Second)
		return surf.Evicted()
	}, 5*time.Second, 10*time.Millisecond, "a collected sprite counts as destroyed")
	assert.Empty(t, r.Surfaces())
}

func TestMaxActionsPerTickVariable(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	require.NoError(t, r.SetVariable(VarMaxActionsPerTick, "1"))

	for range 3 {
		r.RequestTexture(NewSprite("s", rgbaSource(4, 4), "ui", nil), "")
	}
	st := r.Tick(time.Second)
	assert.Equal(t, 1, st.Applied)
	assert.Equal(t, 2, st.Remaining)
}

func TestCPUModeRegistry(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = surface.ModeCPU
	r, dev := newTestRegistry(t, cfg)

	for range 3 {
		r.RequestTexture(NewSprite("s", rgbaSource(4, 4), "ui", nil), "")
	}
	st := r.Tick(time.Second)
	assert.Equal(t, 3, st.Applied)
	assert.Equal(t, 1, st.Uploads)

	uploads, writes := dev.Textures()[0].Stats()
	assert.Equal(t, 2, uploads)
	assert.Equal(t, 0, writes)
}

func TestVanishedSourceIsDropped(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	src := rgbaSource(4, 4)
	var log notifyLog
	sp := NewSprite("a", src, "ui", log.fn())

	r.RequestTexture(sp, "")
	src.Data = nil
	st := r.Tick(time.Second)
	assert.Equal(t, 1, st.Dropped)
	assert.False(t, sp.Merged())
	assert.Equal(t, sp.Source(), sp.Texture())
	assert.Equal(t, 0, log.calls)
}

func TestDiscardWindowEvictsUnreferencedAtlases(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())

	old := NewSprite("old", rgbaSource(8, 8), "ui", nil)
	r.RequestTexture(old, "")
	stale := old.Surface()
	require.NotNil(t, stale)
	assert.Equal(t, 0, stale.ValidCount())

	r.OnPreLoadMap()
	assert.True(t, r.Discarding())
	fresh := NewSprite("fresh", rgbaSource(8, 8), "ui", nil)
	fresh.Retain()
	r.RequestTexture(fresh, "")
	r.OnPostLoadMap()

	assert.True(t, stale.Evicted())
	assert.Nil(t, old.Surface())
	assert.NotSame(t, stale, fresh.Surface())

	late := NewSprite("late", rgbaSource(8, 8), "ui", nil)
	r.RequestTexture(late, "")
	assert.Same(t, fresh.Surface(), late.Surface())
}

func TestTrimEvictsOldestUnreferenced(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAtlasCount = 2
	r, _ := newTestRegistry(t, cfg)

	s1 := NewSprite("s1", rgbaSource(40, 40), "ui", nil)
	s2 := NewSprite("s2", rgbaSource(40, 40), "ui", nil)
	s3 := NewSprite("s3", rgbaSource(40, 40), "ui", nil)
	r.RequestTexture(s1, "")
	r.RequestTexture(s2, "")
	a, b := s1.Surface(), s2.Surface()
	require.NotSame(t, a, b)

	r.RequestTexture(s3, "")
	assert.True(t, a.Evicted())
	assert.False(t, b.Evicted())
	assert.Equal(t, []*surface.Surface{b, s3.Surface()}, r.Surfaces())
	assert.Nil(t, s1.Surface())
}

func TestTrimKeepsReferencedAtlases(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAtlasCount = 1
	r, _ := newTestRegistry(t, cfg)

	s1 := NewSprite("s1", rgbaSource(40, 40), "ui", nil)
	s1.Retain()
	s2 := NewSprite("s2", rgbaSource(40, 40), "ui", nil)
	r.RequestTexture(s1, "")
	r.RequestTexture(s2, "")

	assert.False(t, s1.Surface().Evicted())
	assert.Len(t, r.Surfaces(), 2)
}

func TestDestroyInvalidatesSprite(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())

	a := NewSprite("a", rgbaSource(8, 8), "ui", nil)
	b := NewSprite("b", rgbaSource(8, 8), "ui", nil)
	r.RequestTexture(a, "")
	r.RequestTexture(b, "")
	surf := a.Surface()

	a.Destroy()
	assert.Equal(t, 1, surf.InvalidCount())
	assert.False(t, surf.Evicted())
	assert.Nil(t, r.RequestTexture(a, ""))

	b.Destroy()
	assert.True(t, surf.Evicted(), "an atlas whose sprites are all destroyed is unreachable")
	assert.Empty(t, r.Surfaces())
}

func TestRemoveDropsQueuedMerge(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	a := NewSprite("a", rgbaSource(8, 8), "ui", nil)
	b := NewSprite("b", rgbaSource(8, 8), "ui", nil)
	a.Retain()
	b.Retain()
	r.RequestTexture(a, "")
	r.RequestTexture(b, "")
	surf := a.Surface()

	r.Remove(a)
	assert.Nil(t, a.Surface())
	assert.Equal(t, 1, surf.ValidCount())
	assert.False(t, surf.Evicted())

	st := r.Tick(time.Second)
	require.Len(t, st.Completed, 1)
	assert.Equal(t, b.ID(), st.Completed[0].Action.Sprite)

	// Releasing a removed sprite no longer touches the atlas.
	a.Release()
	assert.Equal(t, 1, surf.ValidCount())
}

func TestDeferredTasksRunAtNextTick(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	var order []int
	r.Defer(func() { order = append(order, 1) })
	r.Defer(func() {
		order = append(order, 2)
		r.Defer(func() { order = append(order, 3) })
	})
	assert.Empty(t, order)

	r.Tick(0)
	assert.Equal(t, []int{1, 2}, order)
	r.Tick(0)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestCloseEvictsEverything(t *testing.T) {
	r, dev := newTestRegistry(t, testConfig())
	var log notifyLog
	sp := NewSprite("a", rgbaSource(8, 8), "ui", log.fn())
	sp.Retain()
	r.RequestTexture(sp, "")
	r.Tick(time.Second)

	r.Close()
	assert.Empty(t, r.Surfaces())
	assert.True(t, dev.Textures()[0].Released())
	assert.Equal(t, 2, log.calls)

	_, _, err := r.RequestPlacement(sp, "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, sp.Source(), r.RequestTexture(sp, ""))
	r.Close()
}

func TestNewRegistryDeviceSelection(t *testing.T) {
	devices := surface.NewRegistry()
	devices.Register("mem", 10, func() (surface.Device, error) { return surface.NewMemoryDevice(), nil }, nil)

	cfg := testConfig()
	r, err := NewRegistry(cfg, WithDevices(devices))
	require.NoError(t, err)
	assert.IsType(t, &surface.MemoryDevice{}, r.Device())

	cfg.Device = "vulkan"
	_, err = NewRegistry(cfg, WithDevices(devices))
	var notFound *surface.DeviceNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = NewRegistry(cfg, WithDevices(surface.NewRegistry()))
	assert.Error(t, err)

	bad := testConfig()
	bad.MaxAtlasWidth = 0
	_, err = NewRegistry(bad)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
