// Package registry provides the mount table for tool provider packs.
//
// # Overview
//
// A registry maps mount prefixes to packs and resolves qualified tool
// names to the pack that owns them. The agent loop and the HTTP API both
// see one merged capability list regardless of how many packs are mounted.
//
// # Mounting
//
// Each pack is mounted under a prefix chosen at registration time:
//
//	reg := registry.New(logger)
//	err := reg.Register("storage", storagePack)
//
// Prefixes must be non-empty, must not begin or end with a dot, and must
// not nest: once "tools" is mounted, "tools.db" is rejected, and vice
// versa. Duplicate prefixes are rejected with ErrDuplicatePrefix.
//
// # Resolution
//
// Qualified names have the form "<prefix>.<tool>". Resolution picks the
// longest registered prefix that matches on a dot boundary, so with
// "storage" and "storagex" both mounted, "storagex.read" goes to
// storagex and never to storage. Names with no matching prefix, or with
// a matching prefix but an unknown local tool, fail with ErrUnknownTool.
//
// # Availability
//
// Packs can be degraded without unmounting:
//
//	reg.SetAvailable("storage", false)
//
// A degraded pack keeps its place in capability listings but resolution
// reports it unavailable. This keeps tool names stable for models that
// have already seen the capability list.
//
// # Listing
//
// ListAll returns every tool from every pack as qualified capabilities,
// ordered by registration order and then by each pack's own declaration
// order. The order is deterministic across calls.
package registry
