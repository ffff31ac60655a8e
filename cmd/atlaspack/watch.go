package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// watch packs opts.in once, then again whenever an image in it is created,
// written, removed or renamed. Bursts of events closer than debounce are
// folded into one pack. Every result is handed to report. watch returns
// when ctx is done.
func watch(ctx context.Context, opts packOptions, debounce time.Duration, report func(*manifest, error)) error {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	// Atlases written into the watched directory would trigger endless repacks.
	if filepath.Clean(opts.in) == filepath.Clean(opts.out) {
		return errors.New("atlaspack: watch: output directory must differ from input")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("atlaspack: watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(opts.in); err != nil {
		return fmt.Errorf("atlaspack: watch %s: %w", opts.in, err)
	}

	report(pack(opts))

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if relevant(event) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			report(nil, fmt.Errorf("atlaspack: watch: %w", err))
		case <-timer.C:
			report(pack(opts))
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	return slices.Contains(imageExts, strings.ToLower(filepath.Ext(event.Name)))
}
