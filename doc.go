// Package ufoengine implements a heterogeneous CPU/GPU streaming dataflow
// engine for image processing pipelines.
//
// A pipeline is a directed graph of task plugins connected by bounded FIFO
// channels. Each node pulls buffers from its input edges, processes one
// unit of work, and pushes a result to its output edges; a generator node
// produces buffers with no input, and a sink node consumes without
// producing. Buffers move lazily between host and device memory, tracked
// by a residency state machine, so a chain of GPU filters never round-trips
// through the host between kernels.
//
// # Architecture Overview
//
//   - core: buffers, residency tracking, and cache-aligned layout helpers
//   - kernels: SIMD-optimized CPU fallback operations shared by filters
//   - task: the plugin contract (Setup/GetRequisition/Process/Finalize)
//   - plugin: the compiled-in task registry, the substitute for dynamic loading
//   - filters: the engine's built-in CPU task plugins
//   - model: the expanded, validated, serializable executable graph
//   - graphspec: the JSON graph description and its expansion into model.Graph
//   - runtime: the OpenCL resource manager and the channel-based scheduler
//   - cmd: command-line tools (ufoc, uforun, ufoinfo)
//
// # Basic usage
//
//	// Compile a JSON graph description into its binary form.
//	ufoc graph.json graph.ufog
//
//	// Run it.
//	uforun graph.ufog
//
// Programmatically:
//
//	rm, err := runtime.NewResourceManager(runtime.DefaultConfiguration())
//	graph, err := graphspec.LoadExpanded("graph.ufog")
//	sched, err := runtime.NewScheduler(rm, graph, pluginFactory)
//	err = sched.Run()
package ufoengine
