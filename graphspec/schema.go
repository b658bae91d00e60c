// Package graphspec decodes the declarative JSON graph description from
// the spec's external interface into a validated, expanded model.Graph:
// Filter/Sequence/Split elements become model.Node/model.Edge values, with
// copier and collector nodes inserted for every Split/merge point.
package graphspec

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/sbl8/ufoengine/model"
	"github.com/sbl8/ufoengine/plugin"
)

// Element is the JSON tagged union: exactly one of Filter, Sequence, Split
// is non-nil, selected by Type.
type Element struct {
	Type     string          `json:"type"`
	Filter   *FilterSpec     `json:"filter,omitempty"`
	Sequence *SequenceSpec   `json:"sequence,omitempty"`
	Split    *SplitSpec      `json:"split,omitempty"`
}

// FilterSpec names a single plugin instance and its configuration.
type FilterSpec struct {
	Plugin     string                 `json:"plugin"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// SequenceSpec chains elements one after another, each one's single output
// feeding the next's single input.
type SequenceSpec struct {
	Elements []Element `json:"elements"`
}

// SplitSpec fans a single input out to each of Branches, then merges the
// branch outputs back into one stream via an inserted collector, per
// spec.md §4.5 and §6.
type SplitSpec struct {
	Policy   string    `json:"policy"` // "round-robin" | "broadcast" | "randomize"
	Branches []Element `json:"branches"`
}

// Document is the top-level JSON graph description: a single root element
// (typically a Sequence) describing the whole pipeline.
type Document struct {
	Root Element `json:"root"`
}

// Parse decodes raw JSON into a Document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graphspec: %w", err)
	}
	return &doc, nil
}

// builder accumulates nodes/edges while walking the Element tree.
type builder struct {
	nextNodeID uint16
	nextEdge   model.EdgeID
	nodes      []model.Node
	edges      map[model.EdgeID]model.Edge
}

func newBuilder() *builder {
	return &builder{edges: make(map[model.EdgeID]model.Edge)}
}

func (b *builder) newNodeID() uint16 {
	id := b.nextNodeID
	b.nextNodeID++
	return id
}

func (b *builder) newEdge(from, to uint16) model.EdgeID {
	id := b.nextEdge
	b.nextEdge++
	b.edges[id] = model.Edge{From: from, To: to}
	return id
}

// Expand walks doc's root element and produces a complete, wired
// model.Graph: every plugin reference is checked against the registry
// (plugin.NotFoundError on a miss), declared properties are handed to the
// plugin unchecked (see filterKnownProperties), and every Split inserts an
// explicit copier/collector pair rather than leaving fan-out implicit.
func Expand(doc *Document) (*model.Graph, error) {
	b := newBuilder()
	first, last, err := b.expandElement(doc.Root)
	if err != nil {
		return nil, err
	}
	_ = first
	_ = last

	return &model.Graph{Nodes: b.nodes, Edges: b.edges}, nil
}

// expandElement lowers one Element into one or more model.Node values,
// returning the ID of its entry node and exit node so the caller can wire
// an edge from whatever precedes it to whatever follows.
func (b *builder) expandElement(e Element) (entry, exit uint16, err error) {
	switch e.Type {
	case "filter":
		return b.expandFilter(e.Filter)
	case "sequence":
		return b.expandSequence(e.Sequence)
	case "split":
		return b.expandSplit(e.Split)
	default:
		return 0, 0, &BadGraphError{Reason: fmt.Sprintf("unknown element type %q", e.Type)}
	}
}

func (b *builder) expandFilter(f *FilterSpec) (uint16, uint16, error) {
	if f == nil {
		return 0, 0, &BadGraphError{Reason: "filter element missing \"filter\" body"}
	}
	desc, err := plugin.Lookup(f.Plugin)
	if err != nil {
		return 0, 0, err
	}

	props := filterKnownProperties(f.Plugin, f.Properties)

	id := b.newNodeID()
	b.nodes = append(b.nodes, model.Node{
		ID: id,
		Plugin: model.PluginSpec{
			Plugin:     f.Plugin,
			Mode:       desc.Mode.String(),
			Device:     desc.Device.String(),
			Properties: props,
		},
	})
	return id, id, nil
}

func (b *builder) expandSequence(s *SequenceSpec) (uint16, uint16, error) {
	if s == nil || len(s.Elements) == 0 {
		return 0, 0, &BadGraphError{Reason: "sequence element has no children"}
	}

	var entry, prevExit uint16
	for i, child := range s.Elements {
		childEntry, childExit, err := b.expandElement(child)
		if err != nil {
			return 0, 0, err
		}
		if i == 0 {
			entry = childEntry
		} else {
			b.connect(prevExit, childEntry)
		}
		prevExit = childExit
	}
	return entry, prevExit, nil
}

func (b *builder) expandSplit(s *SplitSpec) (uint16, uint16, error) {
	if s == nil || len(s.Branches) < 2 {
		return 0, 0, &BadGraphError{Reason: "split element needs at least two branches"}
	}

	policy, err := parseSplitPolicy(s.Policy)
	if err != nil {
		return 0, 0, err
	}

	copierID := b.newNodeID()
	collectorID := b.newNodeID()
	copier := model.Node{ID: copierID, Plugin: builtinPluginSpec("ufoengine.copier"), Split: policy}
	collector := model.Node{ID: collectorID, Plugin: builtinPluginSpec("ufoengine.collector")}

	b.nodes = append(b.nodes, copier)
	copierIdx := len(b.nodes) - 1
	b.nodes = append(b.nodes, collector)
	collectorIdx := len(b.nodes) - 1

	for _, branch := range s.Branches {
		branchEntry, branchExit, err := b.expandElement(branch)
		if err != nil {
			return 0, 0, err
		}
		eIn := b.newEdge(copierID, branchEntry)
		b.nodes[copierIdx].Out = append(b.nodes[copierIdx].Out, eIn)
		b.connectTarget(branchEntry, eIn)

		eOut := b.newEdge(branchExit, collectorID)
		b.connectSource(branchExit, eOut)
		b.nodes[collectorIdx].In = append(b.nodes[collectorIdx].In, eOut)
	}

	return copierID, collectorID, nil
}

func parseSplitPolicy(p string) (model.SplitPolicy, error) {
	switch p {
	case "", "broadcast":
		return model.SplitBroadcast, nil
	case "round-robin":
		return model.SplitRoundRobin, nil
	case "randomize":
		return model.SplitRandomize, nil
	default:
		return 0, &BadGraphError{Reason: fmt.Sprintf("unknown split policy %q", p)}
	}
}

// connect wires a single edge from the node `from`'s output port to the
// node `to`'s input port (the common single-port sequence case).
func (b *builder) connect(from, to uint16) {
	eid := b.newEdge(from, to)
	b.connectSource(from, eid)
	b.connectTarget(to, eid)
}

func (b *builder) connectSource(nodeID uint16, eid model.EdgeID) {
	for i := range b.nodes {
		if b.nodes[i].ID == nodeID {
			b.nodes[i].Out = append(b.nodes[i].Out, eid)
			return
		}
	}
}

func (b *builder) connectTarget(nodeID uint16, eid model.EdgeID) {
	for i := range b.nodes {
		if b.nodes[i].ID == nodeID {
			b.nodes[i].In = append(b.nodes[i].In, eid)
			return
		}
	}
}

func builtinPluginSpec(name string) model.PluginSpec {
	return model.PluginSpec{Plugin: name, Mode: "PROCESSOR", Device: "CPU"}
}

// filterKnownProperties returns props unchanged. plugin.Descriptor carries
// no property schema, so a key the plugin does not know is neither logged
// nor dropped; the only key reported is an empty property name, which is
// logged and still passed through.
func filterKnownProperties(pluginName string, props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	for k := range props {
		if k == "" {
			log.Printf("graphspec: %s: ignoring empty property name", pluginName)
		}
	}
	return props
}

// BadGraphError reports a structurally invalid graph description.
type BadGraphError struct {
	Reason string
}

func (e *BadGraphError) Error() string {
	return fmt.Sprintf("bad graph: %s", e.Reason)
}
