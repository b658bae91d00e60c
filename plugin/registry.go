// Package plugin is the compiled-in substitute for dynamic plugin loading.
// Go's toolchain only supports dlopen-style loading via -buildmode=plugin,
// which is Linux-only and a poor fit for a cross-platform engine, so
// instead a plugin package registers a constructor into this package-level
// registry from its own init(), and the engine resolves a plugin by name at
// graph-build time via blank import (see cmd/uforun's import block).
package plugin

import (
	"fmt"
	"sync"

	"github.com/sbl8/ufoengine/task"
)

// Factory constructs a fresh task instance from its declared properties.
// Called once per graph node; a graph using the same plugin twice gets two
// independent instances, since per-task state is owned by its worker
// goroutine (no shared mutable plugin state, per the spec's concurrency
// model).
type Factory func(properties map[string]interface{}) (task.Task, error)

// Descriptor is what a plugin registers: its construction function plus the
// static facts about it a graph validator needs before any instance exists
// (mode, device, port arities).
type Descriptor struct {
	Mode     task.Mode
	Device   task.Device
	InArity  int
	OutArity int
	New      Factory
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Descriptor)
)

// Register adds a plugin under name. Called from a plugin package's init().
// Registering the same name twice is a programming error (a plugin author
// double-importing their own package), so it panics rather than returning
// an error no caller could act on at init time.
func Register(name string, d Descriptor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("plugin: %q already registered", name))
	}
	registry[name] = d
}

// Lookup returns the descriptor registered under name, or PluginNotFound.
func Lookup(name string) (Descriptor, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return Descriptor{}, &NotFoundError{Plugin: name}
	}
	return d, nil
}

// Names lists every registered plugin name, used by `ufoinfo -mode=plugins`.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// NotFoundError reports a graph referencing an unregistered plugin name.
type NotFoundError struct {
	Plugin string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin not found: %q (is it blank-imported?)", e.Plugin)
}
