package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	_ "github.com/sbl8/ufoengine/filters"
	"github.com/sbl8/ufoengine/graphspec"
	"github.com/sbl8/ufoengine/model"
	"github.com/sbl8/ufoengine/plugin"
	"github.com/sbl8/ufoengine/task"

	ufoengine_runtime "github.com/sbl8/ufoengine/runtime"
)

func main() {
	var (
		verbose = flag.Bool("verbose", false, "Enable verbose output")
		profile = flag.Bool("profile", false, "Print per-task timing after the run")
		version = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("uforun - dataflow graph executor v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <graph.json|graph.ufog>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	graph, err := loadGraph(args[0])
	if err != nil {
		log.Printf("failed to load graph: %v", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Printf("Loaded graph with %d nodes, %d edges\n", len(graph.Nodes), len(graph.Edges))
	}

	cfg := ufoengine_runtime.DefaultConfiguration()
	rm, err := ufoengine_runtime.NewResourceManager(cfg)
	if err != nil {
		log.Printf("failed to initialize resource manager: %v", err)
		os.Exit(3)
	}
	defer rm.Close()

	if *verbose {
		fmt.Printf("Resource manager spans devices: %v\n", rm.GetDevices())
	}

	sched, err := ufoengine_runtime.NewScheduler(rm, graph, pluginFactory)
	if err != nil {
		log.Printf("failed to build scheduler: %v", err)
		os.Exit(1)
	}

	if err := sched.Run(); err != nil {
		log.Printf("execution failed: %v", err)
		os.Exit(2)
	}

	if *verbose {
		for name, units := range sched.Stats() {
			fmt.Printf("%-30s %d units\n", name, units)
		}
	}

	if *profile {
		if p := sched.Profiler(); p != nil {
			for _, e := range p.Report() {
				fmt.Printf("%-30s calls=%-8d total=%-12v mean=%v\n", e.Name, e.Calls, e.Total, e.Mean)
			}
		} else {
			fmt.Fprintln(os.Stderr, "profiling not enabled (set ENGINE_PROFILE=1)")
		}
	}
}

// loadGraph accepts either a raw JSON graph description or a previously
// compiled binary .ufog file, distinguished by extension, so uforun can run
// directly against ufoc's input as well as its output.
func loadGraph(path string) (*model.Graph, error) {
	if strings.EqualFold(filepath.Ext(path), ".ufog") {
		return graphspec.LoadExpanded(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := graphspec.Parse(data)
	if err != nil {
		return nil, err
	}
	graph, err := graphspec.Expand(doc)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return graph, nil
}

// pluginFactory resolves a model.PluginSpec against the registry and
// constructs a fresh instance, the bridge between the JSON-era PluginSpec
// (which model cannot import task to hold directly) and the task package's
// typed Mode/Device the scheduler drives against.
func pluginFactory(spec model.PluginSpec) (task.Task, task.Device, error) {
	desc, err := plugin.Lookup(spec.Plugin)
	if err != nil {
		return nil, 0, err
	}

	t, err := desc.New(spec.Properties)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", spec.Plugin, err)
	}

	device := desc.Device
	if strings.EqualFold(spec.Device, "GPU") {
		device = task.GPU
	}
	return t, device, nil
}
