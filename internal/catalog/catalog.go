package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dreamware/censer/internal/protocol"
)

// ErrUnitNotFound is returned when a unit doesn't exist in the catalog
var ErrUnitNotFound = errors.New("unit not found")

// Catalog defines the interface for code unit storage
// All implementations must be thread-safe for concurrent access
type Catalog interface {
	// Get retrieves a unit by name
	// Returns ErrUnitNotFound if the unit doesn't exist
	Get(name string) (protocol.CodeUnit, error)

	// Put stores a unit under its name
	// Overwrites any existing unit with the same name
	Put(unit protocol.CodeUnit) error

	// Delete removes a unit
	// No error if the unit doesn't exist
	Delete(name string) error

	// List returns all unit names in the catalog
	// Order is not guaranteed
	List() []string

	// Stats returns catalog statistics
	Stats() CatalogStats
}

// CatalogStats contains statistics about the catalog
type CatalogStats struct {
	Units int // Number of units
	Bytes int // Total size of all unit blobs in bytes
}

// MemoryCatalog implements Catalog with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryCatalog struct {
	mu    sync.RWMutex
	units map[string][]byte // unit name -> wasm blob
}

// NewMemoryCatalog creates a new in-memory catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		units: make(map[string][]byte),
	}
}

// Get retrieves a unit by name
// Returns a copy of the blob to prevent external modification
func (m *MemoryCatalog) Get(name string) (protocol.CodeUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wasm, exists := m.units[name]
	if !exists {
		return protocol.CodeUnit{}, ErrUnitNotFound
	}

	blob := make([]byte, len(wasm))
	copy(blob, wasm)
	return protocol.CodeUnit{Name: name, Wasm: blob}, nil
}

// Put stores a unit under its name
// Makes a copy of the blob to prevent external modification
func (m *MemoryCatalog) Put(unit protocol.CodeUnit) error {
	if unit.Name == "" {
		return errors.New("unit has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blob := make([]byte, len(unit.Wasm))
	copy(blob, unit.Wasm)
	m.units[unit.Name] = blob
	return nil
}

// Delete removes a unit
// No error if the unit doesn't exist (idempotent)
func (m *MemoryCatalog) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.units, name)
	return nil
}

// List returns all unit names in the catalog
func (m *MemoryCatalog) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.units))
	for name := range m.units {
		names = append(names, name)
	}
	return names
}

// Stats returns catalog statistics
func (m *MemoryCatalog) Stats() CatalogStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, wasm := range m.units {
		totalBytes += len(wasm)
	}

	return CatalogStats{
		Units: len(m.units),
		Bytes: totalBytes,
	}
}

// LoadDir fills c with every .wasm file found directly under dir, using the
// file name without extension as the unit name. Returns the number of units
// loaded.
func LoadDir(c Catalog, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read unit dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		wasm, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, fmt.Errorf("read unit %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".wasm")
		if err := c.Put(protocol.CodeUnit{Name: name, Wasm: wasm}); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
