package spritemerge

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/spritemerge/surface"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestImageSourceRGBA(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src, err := NewImageSource(img, ImageSourceOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, src.Width())
	assert.Equal(t, 2, src.Height())
	assert.Equal(t, surface.FormatRGBA8, src.Format())
	assert.True(t, src.Ready())

	pix, ok := src.Pixels()
	require.True(t, ok)
	require.Len(t, pix, 16)
	assert.Equal(t, []byte{10, 20, 30, 255}, pix[:4])
}

func TestImageSourceBGRA(t *testing.T) {
	img := solidImage(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src, err := NewImageSource(img, ImageSourceOptions{Format: surface.FormatBGRA8})
	require.NoError(t, err)

	pix, ok := src.Pixels()
	require.True(t, ok)
	assert.Equal(t, []byte{30, 20, 10, 255}, pix)
}

func TestImageSourceGray(t *testing.T) {
	img := solidImage(3, 1, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	src, err := NewImageSource(img, ImageSourceOptions{Format: surface.FormatR8})
	require.NoError(t, err)

	pix, ok := src.Pixels()
	require.True(t, ok)
	assert.Equal(t, []byte{200, 200, 200}, pix)
}

func TestImageSourceScales(t *testing.T) {
	img := solidImage(8, 8, color.RGBA{R: 255, A: 255})
	src, err := NewImageSource(img, ImageSourceOptions{Width: 4, Height: 2})
	require.NoError(t, err)

	assert.Equal(t, 4, src.Width())
	assert.Equal(t, 2, src.Height())
	pix, ok := src.Pixels()
	require.True(t, ok)
	require.Len(t, pix, 4*2*4)
	assert.Equal(t, []byte{255, 0, 0, 255}, pix[:4])
}

func TestImageSourceCache(t *testing.T) {
	c := NewSourceCache(0)
	src, err := NewImageSource(solidImage(4, 4, color.RGBA{A: 255}), ImageSourceOptions{Cache: c})
	require.NoError(t, err)

	first, ok := src.Pixels()
	require.True(t, ok)
	second, ok := src.Pixels()
	require.True(t, ok)
	assert.Same(t, &first[0], &second[0], "second read comes from the cache")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(64), c.Size())
	assert.Equal(t, uint64(1), c.Stats().Hits)

	src.SetImage(solidImage(4, 4, color.RGBA{G: 255, A: 255}))
	assert.Equal(t, 0, c.Len())
	pix, ok := src.Pixels()
	require.True(t, ok)
	assert.Equal(t, byte(255), pix[1])
}

// convertHook runs hook the first time the image is read after arm.
type convertHook struct {
	*image.RGBA
	armed atomic.Bool
	hook  func()
}

func (h *convertHook) Bounds() image.Rectangle {
	if h.armed.CompareAndSwap(true, false) {
		h.hook()
	}
	return h.RGBA.Bounds()
}

// TestImageSourceSetImageDuringConversion replaces the image while the old one
// is being converted into the cache.
func TestImageSourceSetImageDuringConversion(t *testing.T) {
	c := NewSourceCache(0)
	old := &convertHook{RGBA: solidImage(4, 4, color.RGBA{R: 255, A: 255})}
	src, err := NewImageSource(old, ImageSourceOptions{Cache: c})
	require.NoError(t, err)

	replaced := make(chan struct{})
	old.hook = func() {
		go func() {
			src.SetImage(solidImage(4, 4, color.RGBA{G: 255, A: 255}))
			close(replaced)
		}()
		// Wait for the new generation; SetImage then blocks on the cache
		// until this conversion is stored.
		require.Eventually(t, func() bool {
			src.mu.RLock()
			defer src.mu.RUnlock()
			return src.gen == 1
		}, 5*time.Second, time.Millisecond)
	}
	old.armed.Store(true)

	pix, ok := src.Pixels()
	require.True(t, ok)
	assert.Equal(t, byte(255), pix[0], "the read that started first sees the old image")
	<-replaced

	pix, ok = src.Pixels()
	require.True(t, ok)
	assert.Equal(t, []byte{0, 255, 0, 255}, pix[:4])
	assert.Equal(t, 1, c.Len(), "the old conversion is not kept")
}

func TestImageSourceConcurrentSetImage(t *testing.T) {
	c := NewSourceCache(0)
	red := solidImage(4, 4, color.RGBA{R: 255, A: 255})
	blue := solidImage(4, 4, color.RGBA{B: 255, A: 255})
	for range 200 {
		src, err := NewImageSource(red, ImageSourceOptions{Cache: c})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			src.Pixels()
		}()
		go func() {
			defer wg.Done()
			src.SetImage(blue)
		}()
		wg.Wait()

		pix, ok := src.Pixels()
		require.True(t, ok)
		require.Equal(t, []byte{0, 0, 255, 255}, pix[:4])
	}
}

func TestImageSourceUnload(t *testing.T) {
	src, err := NewImageSource(solidImage(2, 2, color.RGBA{A: 255}), ImageSourceOptions{})
	require.NoError(t, err)

	src.Unload()
	assert.False(t, src.Ready())
	_, ok := src.Pixels()
	assert.False(t, ok)
}

func TestImageSourceErrors(t *testing.T) {
	_, err := NewImageSource(nil, ImageSourceOptions{})
	assert.Error(t, err)

	_, err = NewImageSource(solidImage(4, 4, color.RGBA{}), ImageSourceOptions{Format: surface.FormatASTC4x4})
	assert.ErrorIs(t, err, ErrUnsupportedSourceFormat)

	_, err = NewPendingImageSource(0, 4, ImageSourceOptions{})
	assert.Error(t, err)
}

func TestRegistryImageSourceUsesCache(t *testing.T) {
	r, _ := newTestRegistry(t, testConfig())
	src, err := r.NewImageSource(solidImage(4, 4, color.RGBA{B: 255, A: 255}), ImageSourceOptions{})
	require.NoError(t, err)

	sp := NewSprite("img", src, "ui", nil)
	r.RequestTexture(sp, "")
	r.Tick(time.Second)
	assert.True(t, sp.Merged())
	assert.Equal(t, 1, r.SourceCache().Len())
}
