// Command atlaspack packs a directory of images into atlas PNGs.
//
// It runs the sprite registry under a loading screen, so every image is
// merged immediately, then writes each atlas as <atlas>_<n>.png together
// with a manifest.json describing where every sprite landed. With -watch it
// keeps running and repacks whenever an image in the input directory changes.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gogpu/spritemerge"
)

func main() {
	var (
		in      = flag.String("in", ".", "directory of source images (png, jpeg, gif, bmp, webp)")
		out     = flag.String("out", "atlas", "output directory")
		atlas   = flag.String("atlas", "atlas", "atlas name")
		width   = flag.Int("width", 0, "atlas width (0 keeps the configured width)")
		height  = flag.Int("height", 0, "atlas height (0 keeps the configured height)")
		mode    = flag.String("mode", "", "merge mode: cpu or gpu (empty keeps the configured mode)")
		config  = flag.String("config", "", "TOML configuration file")
		jobs    = flag.Int("j", 0, "parallel image decodes (0 uses GOMAXPROCS)")
		format  = flag.String("format", "json", "manifest format: json or yaml")
		watchIn = flag.Bool("watch", false, "repack when the input directory changes")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	spritemerge.SetLogger(logger)

	opts := packOptions{
		in:     *in,
		out:    *out,
		atlas:  *atlas,
		width:  *width,
		height: *height,
		mode:   *mode,
		config: *config,
		jobs:   *jobs,
		format: *format,
	}

	if *watchIn {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err := watch(ctx, opts, defaultDebounce, func(m *manifest, err error) {
			if err != nil {
				logger.Warn("atlaspack repack failed", "err", err)
				return
			}
			logger.Info("atlaspack repacked", "atlases", len(m.Atlases), "sprites", len(m.Sprites))
		})
		stop()
		if err != nil {
			logger.Error("atlaspack failed", "err", err)
			os.Exit(1)
		}
		return
	}

	m, err := pack(opts)
	if err != nil {
		logger.Error("atlaspack failed", "err", err)
		os.Exit(1)
	}
	logger.Info("atlaspack done", "atlases", len(m.Atlases), "sprites", len(m.Sprites), "out", *out)
}
