// Package catalog stores the code units a coordinator has on hand to
// dispatch, keyed by unit name, behind a pluggable storage interface.
//
// # Overview
//
// A coordinator does not execute code units itself; it ships them to
// workers. The catalog is where units wait between arriving (from disk, or
// from whatever feeds the coordinator) and being pushed to the fleet:
//
//	┌─────────────┐   Put/LoadDir   ┌─────────────┐   Upload    ┌─────────┐
//	│ unit source │ ──────────────▶ │   Catalog   │ ──────────▶ │ workers │
//	│ (*.wasm)    │                 │ (by name)   │             │ (fleet) │
//	└─────────────┘                 └─────────────┘             └─────────┘
//
// # Core Interface
//
// Catalog: named code unit storage
//   - Get(name) - Retrieve a unit by name
//   - Put(unit) - Store or replace a unit
//   - Delete(name) - Remove a unit
//   - List() - List all unit names
//   - Stats() - Unit count and total blob size
//
// MemoryCatalog is the only implementation today; a disk-backed catalog can
// satisfy the same interface when persistence matters.
//
// # Thread Safety
//
// MemoryCatalog is safe for concurrent use. Get and Put copy blobs at the
// boundary, so a caller can never mutate a stored unit in place.
package catalog
