// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package surface provides the atlas surface: one packed texture, its slot
// allocator, its sprite reference counts and its queue of pending merges.
//
// # Variants
//
// A surface is either CPU-backed or GPU-backed, chosen once by
// [Options.Mode]:
//
//   - ModeCPU keeps a pixel buffer in memory. Merges are row copies into the
//     buffer between [Surface.Begin] and [Surface.End]; End uploads the whole
//     buffer once through the device texture's [Uploader].
//   - ModeGPU keeps no pixels. Every merge is a partial upload through the
//     device texture's [RegionWriter], described with gputypes copy layouts.
//
// # Devices
//
// Device textures come from a [Device]. Backends register by name in a
// priority-ordered [Registry]; the built-in "memory" device keeps textures in
// Go memory and is always available:
//
//	dev, err := surface.NewDeviceByName("memory")
//	s, err := surface.Create(surface.Options{
//	    Name: "ui", Width: 2048, Height: 2048,
//	    Format: surface.FormatASTC4x4, Mode: surface.ModeGPU, Device: dev,
//	})
//
// # Lifetime
//
// Surfaces count valid (referenced) and invalid (destroyed) member sprites.
// Dropping the valid count to zero, or invalidating every member, evicts the
// surface: the texture is released, pending merges are dropped and
// [Options.OnEvict] runs once. Eviction is idempotent.
//
// Surfaces are NOT thread-safe.
package surface
