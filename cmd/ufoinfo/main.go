package main

import (
	"fmt"
	"math/rand"
	"os"
	goruntime "runtime"
	"time"

	_ "github.com/sbl8/ufoengine/filters"
	"github.com/sbl8/ufoengine/kernels"
	"github.com/sbl8/ufoengine/plugin"
	ufoengine_runtime "github.com/sbl8/ufoengine/runtime"

	"flag"
)

var (
	mode = flag.String("mode", "devices", "Report type: devices, plugins, bench")
	size = flag.Int("size", 1024, "Bench data size")
	iter = flag.Int("iter", 1000, "Bench iterations")
)

func main() {
	flag.Parse()

	switch *mode {
	case "devices":
		reportDevices()
	case "plugins":
		reportPlugins()
	case "bench":
		reportBench()
	default:
		fmt.Fprintf(os.Stderr, "Unknown report type: %s\n", *mode)
		os.Exit(1)
	}
}

// reportDevices enumerates the OpenCL platform's devices the way the
// resource manager would see them at startup, the introspection
// counterpart to uforun's silent device selection.
func reportDevices() {
	cfg := ufoengine_runtime.DefaultConfiguration()
	rm, err := ufoengine_runtime.NewResourceManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to enumerate devices: %v\n", err)
		os.Exit(1)
	}
	defer rm.Close()

	fmt.Printf("Compute devices\n")
	fmt.Printf("---------------\n")
	for _, d := range rm.Devices() {
		fmt.Printf("[%d] %s\n", d.Index, d.Name)
	}
	fmt.Printf("\nPool footprint: %d bytes idle\n", rm.PoolFootprint())
}

// reportPlugins lists every task plugin registered via blank import,
// mirroring ufoc/uforun's view of the registry without running a graph.
func reportPlugins() {
	fmt.Printf("Registered plugins\n")
	fmt.Printf("-------------------\n")
	for _, name := range plugin.Names() {
		desc, err := plugin.Lookup(name)
		if err != nil {
			continue
		}
		fmt.Printf("%-24s mode=%-10s device=%-4s in=%-3d out=%d\n",
			name, desc.Mode, desc.Device, desc.InArity, desc.OutArity)
	}

	if paths := ufoengine_runtime.PluginSearchPath(); len(paths) > 0 {
		fmt.Printf("\nENGINE_PLUGIN_PATH configured but unused: plugins are compiled in via\n")
		fmt.Printf("blank import rather than loaded from a path. Configured entries: %v\n", paths)
	}
}

// reportBench measures the CPU kernel library's throughput in isolation
// from any graph, the introspection role the teacher's standalone
// performance tool played for its own kernel set.
func reportBench() {
	fmt.Printf("Kernel library performance\n")
	fmt.Printf("==========================\n")
	fmt.Printf("Go Version: %s\n", goruntime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("CPUs: %d\n", goruntime.NumCPU())
	fmt.Printf("Test Size: %d elements\n", *size)
	fmt.Printf("Iterations: %d\n", *iter)
	fmt.Printf("Assembly Support: %t\n\n", kernels.UseASM())

	a := generateFloat32(*size)
	b := generateFloat32(*size)

	start := time.Now()
	for i := 0; i < *iter; i++ {
		_ = kernels.VectorAddOptimized(a, b)
	}
	addTime := time.Since(start)

	aCopy := make([]float32, len(a))
	start = time.Now()
	for i := 0; i < *iter; i++ {
		copy(aCopy, a)
		kernels.VectorAddInPlace(aCopy, b)
	}
	addInPlaceTime := time.Since(start)

	start = time.Now()
	for i := 0; i < *iter; i++ {
		_ = kernels.VectorDotOptimized(a, b)
	}
	dotTime := time.Since(start)

	rate := func(d time.Duration) float64 {
		return float64(*size*(*iter)) / d.Seconds() / 1e6
	}

	fmt.Printf("Vector Add (allocating): %v (%.2f Mops/s)\n", addTime, rate(addTime))
	fmt.Printf("Vector Add (in-place):   %v (%.2f Mops/s)\n", addInPlaceTime, rate(addInPlaceTime))
	fmt.Printf("Dot Product:             %v (%.2f Mops/s)\n", dotTime, rate(dotTime))
}

func generateFloat32(size int) []float32 {
	data := make([]float32, size)
	for i := range data {
		data[i] = rand.Float32()*200 - 100
	}
	return data
}
