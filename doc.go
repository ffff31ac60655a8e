// Package spritemerge packs UI sprites into shared texture atlases at runtime.
//
// # Overview
//
// Drawing many small textures costs one bind per texture. spritemerge places
// compatible sprites into large atlas textures so they can be drawn from one
// texture, and copies their pixels in a little at a time so the copying never
// takes more than a fixed slice of a frame.
//
// # Quick Start
//
//	r, err := spritemerge.NewRegistry(spritemerge.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//
//	src, _ := r.NewImageSource(img, spritemerge.ImageSourceOptions{})
//	icon := spritemerge.NewSprite("icon", src, "hud", func(texChanged, uvChanged bool) {
//	    // re-fetch icon.Texture() and icon.UV()
//	})
//	icon.Retain()
//	tex := r.RequestTexture(icon, "")
//
//	// every frame:
//	r.Tick(-1) // negative uses Config.TimeBudget
//	if r.NeedsTryAgain() {
//	    r.TryAgainTick()
//	}
//
// # Lifecycle
//
// Atlases are keyed by atlas name, pixel format, compression and sRGB flag;
// only sprites with equal keys share an atlas. An atlas is evicted when its
// last referenced sprite is released or when every member sprite has been
// destroyed. Evicted sprites are notified on the next tick and get a new
// placement on their next RequestTexture.
//
// Around level loads, call OnPreLoadMap and OnPostLoadMap: in between,
// unreferenced atlases are evicted as soon as a placement request meets them.
// Hold a loading screen (EnterLoadingScreen) to merge synchronously.
//
// # Packages
//
//   - packer: guillotine rectangle allocator
//   - surface: atlas surfaces, pixel formats and devices
//   - merge: per-tick merge scheduler
//   - backend/native: wgpu HAL device
//   - backend/gpuctx: device over a host gpucontext texture creator
//
// # Configuration
//
// Config can be loaded from TOML (LoadConfig) and tuned at runtime through
// console variables such as "sprite.merge.time_budget" (Registry.SetVariable).
package spritemerge
