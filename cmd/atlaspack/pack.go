package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	// Decoders registered with image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/spritemerge"
	"github.com/gogpu/spritemerge/internal/parallel"
	"github.com/gogpu/spritemerge/surface"
)

type packOptions struct {
	in     string
	out    string
	atlas  string
	width  int
	height int
	mode   string
	config string
	jobs   int
	// format selects the manifest encoding: json (default) or yaml.
	format string
}

// manifest is written to manifest.json (or manifest.yaml) next to the atlas
// images.
type manifest struct {
	Atlases []atlasEntry  `json:"atlases" yaml:"atlases"`
	Sprites []spriteEntry `json:"sprites" yaml:"sprites"`
}

type atlasEntry struct {
	File        string  `json:"file" yaml:"file"`
	Width       int     `json:"width" yaml:"width"`
	Height      int     `json:"height" yaml:"height"`
	Sprites     int     `json:"sprites" yaml:"sprites"`
	Utilization float64 `json:"utilization" yaml:"utilization"`
}

type spriteEntry struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"`
	// Atlas is empty for images that were too large to pack.
	Atlas  string  `json:"atlas,omitempty" yaml:"atlas,omitempty"`
	X      int     `json:"x" yaml:"x"`
	Y      int     `json:"y" yaml:"y"`
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	U0     float32 `json:"u0" yaml:"u0"`
	V0     float32 `json:"v0" yaml:"v0"`
	U1     float32 `json:"u1" yaml:"u1"`
	V1     float32 `json:"v1" yaml:"v1"`
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}

func loadConfig(opts packOptions) (spritemerge.Config, error) {
	cfg := spritemerge.DefaultConfig()
	if opts.config != "" {
		var err error
		if cfg, err = spritemerge.LoadConfig(opts.config); err != nil {
			return cfg, err
		}
	}
	cfg.Device = ""
	// Every image is packed; atlases are never trimmed.
	cfg.MaxAtlasCount = 0

	set := func(name, value string) error {
		if err := cfg.Set(name, value); err != nil {
			return fmt.Errorf("atlaspack: %w", err)
		}
		return nil
	}
	if opts.mode != "" {
		if err := set(spritemerge.VarMode, opts.mode); err != nil {
			return cfg, err
		}
	}
	if opts.width > 0 {
		if err := set(spritemerge.VarAtlasWidth, strconv.Itoa(opts.width)); err != nil {
			return cfg, err
		}
		cfg.MaxAtlasWidth = cfg.DefaultAtlasWidth
	}
	if opts.height > 0 {
		if err := set(spritemerge.VarAtlasHeight, strconv.Itoa(opts.height)); err != nil {
			return cfg, err
		}
		cfg.MaxAtlasHeight = cfg.DefaultAtlasHeight
	}
	return cfg, nil
}

// imageFiles lists the decodable images in dir, sorted by name.
func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)
	return files, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func pack(opts packOptions) (*manifest, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if f := opts.format; f != "" && f != "json" && f != "yaml" {
		return nil, fmt.Errorf("atlaspack: unknown manifest format %q", f)
	}
	files, err := imageFiles(opts.in)
	if err != nil {
		return nil, fmt.Errorf("atlaspack: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("atlaspack: no images in %s", opts.in)
	}
	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return nil, fmt.Errorf("atlaspack: %w", err)
	}

	dev := surface.NewMemoryDevice()
	r, err := spritemerge.NewRegistry(cfg, spritemerge.WithDevice(dev))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// Decoding and conversion run on the pool; the registry stays on this goroutine.
	pool := parallel.NewPool(opts.jobs)
	defer pool.Close()
	sources, err := parallel.Map(pool, files, func(name string) (*spritemerge.ImageSource, error) {
		img, err := decodeFile(filepath.Join(opts.in, name))
		if err != nil {
			return nil, err
		}
		src, err := r.NewImageSource(img, spritemerge.ImageSourceOptions{Format: surface.FormatRGBA8})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		src.Pixels()
		return src, nil
	})
	if err != nil {
		return nil, fmt.Errorf("atlaspack: %w", err)
	}

	sprites := make([]*spritemerge.Sprite, len(files))
	guard := r.EnterLoadingScreen()
	for i, name := range files {
		sp := spritemerge.NewSprite(strings.TrimSuffix(name, filepath.Ext(name)), sources[i], opts.atlas, nil)
		sp.Retain()
		r.RequestTexture(sp, "")
		sprites[i] = sp
	}
	guard.Release()

	m := &manifest{}
	atlasFile := make(map[*surface.Surface]string)
	for i, s := range r.Surfaces() {
		file := fmt.Sprintf("%s_%d.png", opts.atlas, i)
		if err := writeAtlas(filepath.Join(opts.out, file), s); err != nil {
			return nil, err
		}
		atlasFile[s] = file
		m.Atlases = append(m.Atlases, atlasEntry{
			File:        file,
			Width:       s.Width(),
			Height:      s.Height(),
			Sprites:     s.SpriteCount(),
			Utilization: s.Utilization(),
		})
	}

	for i, sp := range sprites {
		e := spriteEntry{
			Name:   sp.Name(),
			Source: files[i],
			Width:  sp.Source().Width(),
			Height: sp.Source().Height(),
		}
		if s := sp.Surface(); s != nil && sp.Merged() {
			uv := sp.UV()
			rect := sp.Rect()
			e.Atlas = atlasFile[s]
			e.X, e.Y = rect.X, rect.Y
			e.U0, e.V0, e.U1, e.V1 = uv.U0, uv.V0, uv.U1, uv.V1
		}
		m.Sprites = append(m.Sprites, e)
	}

	if err := writeManifest(opts.out, opts.format, m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeManifest(dir, format string, m *manifest) error {
	var (
		data []byte
		err  error
		name string
	)
	switch format {
	case "", "json":
		name = "manifest.json"
		data, err = json.MarshalIndent(m, "", "  ")
		data = append(data, '\n')
	case "yaml":
		name = "manifest.yaml"
		data, err = yaml.Marshal(m)
	default:
		return fmt.Errorf("atlaspack: unknown manifest format %q", format)
	}
	if err != nil {
		return fmt.Errorf("atlaspack: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("atlaspack: %w", err)
	}
	return nil
}

func writeAtlas(path string, s *surface.Surface) error {
	tex, ok := s.DeviceTexture().(*surface.MemoryTexture)
	if !ok {
		return errors.New("atlaspack: atlas is not held in memory")
	}
	img := tex.Snapshot()
	if img == nil {
		return fmt.Errorf("atlaspack: atlas %s cannot be exported", s.Key())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("atlaspack: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("atlaspack: write %s: %w", path, err)
	}
	return f.Close()
}
