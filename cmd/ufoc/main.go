package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/sbl8/ufoengine/filters"
	"github.com/sbl8/ufoengine/graphspec"
)

func main() {
	var (
		validate = flag.Bool("validate", true, "Validate graph structure")
		debug    = flag.Bool("debug", false, "Log expansion details")
		version  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("ufoc - dataflow graph compiler v1.0.0")
		fmt.Println("Built with Go", "1.22.2")
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <graph.json> <out.ufog>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	srcFile, outFile := args[0], args[1]

	opts := graphspec.CompileOptions{
		ValidateGraph: *validate,
		DebugOutput:   *debug,
	}

	if err := graphspec.CompileWithOptions(srcFile, outFile, opts); err != nil {
		log.Fatalf("compilation failed: %v", err)
	}

	fmt.Printf("Successfully compiled %s -> %s\n", srcFile, outFile)
}
