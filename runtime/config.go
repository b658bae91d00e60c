package runtime

import (
	"os"
	"strings"
)

// DeviceType filters which OpenCL devices the resource manager considers.
type DeviceType int

const (
	DeviceTypeAll DeviceType = iota
	DeviceTypeCPU
	DeviceTypeGPU
)

// Configuration holds the accepted set_configuration options from the
// spec's external interface: platform selection, device-type filter,
// kernel source search path, and default build options.
type Configuration struct {
	PlatformIndex int
	DeviceType    DeviceType
	KernelPaths   []string
	BuildOptions  string
}

// DefaultConfiguration reads ENGINE_KERNEL_PATH (colon-separated) from the
// environment into KernelPaths. The other two ambient variables are read
// separately: ENGINE_PLUGIN_PATH by PluginSearchPath and ENGINE_PROFILE by
// ProfilingEnabled.
func DefaultConfiguration() Configuration {
	cfg := Configuration{
		PlatformIndex: 0,
		DeviceType:    DeviceTypeAll,
	}
	if path := os.Getenv("ENGINE_KERNEL_PATH"); path != "" {
		cfg.KernelPaths = strings.Split(path, ":")
	}
	return cfg
}

// ProfilingEnabled reports whether ENGINE_PROFILE is set to a non-empty
// value, enabling the Profiler hook.
func ProfilingEnabled() bool {
	return os.Getenv("ENGINE_PROFILE") != ""
}

// PluginSearchPath returns the colon-separated ENGINE_PLUGIN_PATH entries.
func PluginSearchPath() []string {
	path := os.Getenv("ENGINE_PLUGIN_PATH")
	if path == "" {
		return nil
	}
	return strings.Split(path, ":")
}
