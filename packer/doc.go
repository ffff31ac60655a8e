// Package packer implements the guillotine rectangle allocator used to place
// sprites inside an atlas surface.
//
// An [Allocator] starts with a single empty slot spanning the whole atlas.
// Every successful [Allocator.Allocate] takes the first empty slot (in stored
// order) that can hold the block-aligned, padded request, marks it used and
// splits the leftover space into at most two new empty slots, which are
// spliced into the empty list where the parent was. The empty list therefore
// always reads as a depth-first walk of the implicit split tree.
//
// Slots are never returned to the empty list; space is reclaimed only by
// discarding the whole allocator (see [Allocator.Reset]).
//
// Slots live in one arena slice and the empty/used lists hold indices into it,
// so growing the arena never invalidates list entries.
//
// # Padding
//
// Requests are rounded up to the block size and grown by one block of gutter
// on each axis to keep bilinear sampling from bleeding into neighbours. The
// gutter is dropped on an axis whose aligned size equals the atlas size on
// that axis, so a sprite exactly as wide (or tall) as the atlas still fits.
//
// Allocator is not safe for concurrent use.
package packer
