package graphspec

import (
	"fmt"
	"log"
	"os"

	"github.com/sbl8/ufoengine/model"
)

// CompileOptions governs the parse -> validate -> expand -> emit pipeline,
// mirroring the teacher compiler's CompileOptions (OptimizeLayout/
// ValidateGraph/DebugOutput) with OptimizeLayout dropped: this engine does
// no automatic graph optimization pass (spec.md Non-goals).
type CompileOptions struct {
	ValidateGraph bool
	DebugOutput   bool
}

// DefaultOptions validates by default and stays quiet, matching the
// teacher's DefaultOptions.
func DefaultOptions() CompileOptions {
	return CompileOptions{ValidateGraph: true}
}

// CompileWithOptions reads a JSON graph description from src, expands it
// into a model.Graph, optionally validates it, and writes the binary
// Serialize form to out. This is the JSON-era replacement for the
// teacher's text-DSL compiler pipeline: the external graph format here is
// the declarative JSON schema from spec.md §6, not a custom source
// language, so there is no line-oriented parser to keep — the pipeline
// shape (options struct, validate step, binary emit) is what carries over.
func CompileWithOptions(src, out string, opts CompileOptions) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return err
	}

	graph, err := Expand(doc)
	if err != nil {
		return err
	}

	if opts.DebugOutput {
		log.Printf("graphspec: expanded %d nodes, %d edges", len(graph.Nodes), len(graph.Edges))
	}

	if opts.ValidateGraph {
		if err := graph.Validate(); err != nil {
			return fmt.Errorf("invalid graph: %w", err)
		}
	}

	encoded, err := graph.Serialize()
	if err != nil {
		return fmt.Errorf("serialize graph: %w", err)
	}

	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

// Compile runs CompileWithOptions with DefaultOptions, the simple
// single-call entry point `ufoc` uses without extra flags.
func Compile(src, out string) error {
	return CompileWithOptions(src, out, DefaultOptions())
}

// LoadExpanded reads a previously-compiled binary graph file, the
// complement to CompileWithOptions's emit step, used by uforun when given
// a pre-expanded graph rather than raw JSON.
func LoadExpanded(path string) (*model.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return model.Deserialize(data)
}
