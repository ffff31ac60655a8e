// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"errors"
	"sort"
	"sync"
)

// DeviceFactory creates a Device. Implementations should return descriptive
// errors when the underlying renderer cannot be reached.
type DeviceFactory func() (Device, error)

// RegistryEntry represents a registered device backend.
type RegistryEntry struct {
	// Name is the unique identifier for this backend.
	Name string

	// Priority determines selection order (higher = preferred).
	// Standard priorities:
	//   - 100: GPU devices (wgpu HAL)
	//   - 50: host-provided texture creators
	//   - 10: in-memory devices
	Priority int

	// Factory creates device instances.
	Factory DeviceFactory

	// Available reports if the backend is available on this system.
	Available func() bool
}

// globalRegistry is the default registry.
var globalRegistry = &Registry{}

// Registry manages registered device backends.
//
// Backends register themselves by name so that configuration can select one
// ("sprite.merge.device") without the atlas code importing renderer packages.
//
// Example registration:
//
//	surface.Register("wgpu", 100, func() (surface.Device, error) {
//	    return native.NewDevice(halDevice, halQueue)
//	}, nil)
//
// Example usage:
//
//	dev, err := surface.NewDeviceByName("wgpu")
//	// or auto-select best available:
//	dev, err := surface.NewDevice()
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

// NewRegistry creates a new empty registry.
// Most code should use the global registry via Register and NewDevice.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*RegistryEntry),
	}
}

// DefaultRegistry returns the process-wide registry used by the package-level functions.
func DefaultRegistry() *Registry {
	return globalRegistry
}

// Register adds a backend to the global registry.
//
// If available is nil, the backend is assumed always available.
// Registering a name that already exists replaces the previous entry.
func Register(name string, priority int, factory DeviceFactory, available func() bool) {
	globalRegistry.Register(name, priority, factory, available)
}

// Unregister removes a backend from the global registry.
func Unregister(name string) {
	globalRegistry.Unregister(name)
}

// List returns all registered backend names sorted by priority (highest first).
func List() []string {
	return globalRegistry.List()
}

// Available returns names of all available backends sorted by priority.
func Available() []string {
	return globalRegistry.Available()
}

// Get returns information about a specific backend.
func Get(name string) (*RegistryEntry, bool) {
	return globalRegistry.Get(name)
}

// NewDevice creates a device using the best available backend.
func NewDevice() (Device, error) {
	return globalRegistry.NewDevice()
}

// NewDeviceByName creates a device using a specific named backend.
func NewDeviceByName(name string) (Device, error) {
	return globalRegistry.NewDeviceByName(name)
}

// Register adds a backend to this registry.
func (r *Registry) Register(name string, priority int, factory DeviceFactory, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		r.entries = make(map[string]*RegistryEntry)
	}

	if available == nil {
		available = func() bool { return true }
	}

	r.entries[name] = &RegistryEntry{
		Name:      name,
		Priority:  priority,
		Factory:   factory,
		Available: available,
	}
}

// Unregister removes a backend from this registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, name)
}

// List returns all registered backend names sorted by priority.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedNames(false)
}

// Available returns names of all available backends sorted by priority.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedNames(true)
}

// Get returns information about a specific backend.
func (r *Registry) Get(name string) (*RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}

	// Return a copy to prevent modification
	entryCopy := *entry
	return &entryCopy, true
}

// NewDevice creates a device using the best available backend.
// Backends are tried in priority order; the last error is returned if all fail.
func (r *Registry) NewDevice() (Device, error) {
	r.mu.RLock()
	available := r.sortedNames(true)
	r.mu.RUnlock()

	if len(available) == 0 {
		return nil, ErrNoDeviceAvailable
	}

	var lastErr error
	for _, name := range available {
		d, err := r.NewDeviceByName(name)
		if err == nil {
			return d, nil
		}
		slogger().Warn("surface: device backend failed", "backend", name, "err", err)
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoDeviceAvailable
}

// NewDeviceByName creates a device using a specific backend.
func (r *Registry) NewDeviceByName(name string) (Device, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &DeviceNotFoundError{Name: name}
	}

	if !entry.Available() {
		return nil, &DeviceUnavailableError{Name: name}
	}

	return entry.Factory()
}

// sortedNames returns backend names sorted by priority (highest first),
// ties broken by name. If onlyAvailable is true, filters to available
// backends only. Must be called with lock held.
func (r *Registry) sortedNames(onlyAvailable bool) []string {
	if len(r.entries) == 0 {
		return nil
	}

	type entry struct {
		name     string
		priority int
	}

	entries := make([]entry, 0, len(r.entries))
	for name, e := range r.entries {
		if onlyAvailable && !e.Available() {
			continue
		}
		entries = append(entries, entry{name: name, priority: e.Priority})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].name < entries[j].name
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Errors.
var (
	// ErrNoDeviceAvailable is returned when no device backends are registered
	// or available on the current system.
	ErrNoDeviceAvailable = errors.New("surface: no device available")
)

// DeviceNotFoundError indicates a named backend is not registered.
type DeviceNotFoundError struct {
	Name string
}

func (e *DeviceNotFoundError) Error() string {
	return "surface: device backend not found: " + e.Name
}

// DeviceUnavailableError indicates a backend exists but is not available.
type DeviceUnavailableError struct {
	Name string
}

func (e *DeviceUnavailableError) Error() string {
	return "surface: device backend unavailable: " + e.Name
}

// MemoryDeviceName is the name of the built-in in-memory device backend.
const MemoryDeviceName = "memory"

// init registers the built-in memory device.
func init() {
	Register(MemoryDeviceName, 10, func() (Device, error) {
		return NewMemoryDevice(), nil
	}, nil)
}
