// Package model defines the expanded, validated, executable graph that the
// scheduler drives. graphspec parses a JSON description into this
// representation; ufoc can dump it to the binary form defined here for
// later loading by uforun without re-parsing JSON.
package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// PluginSpec is the static description of one task instance: which plugin
// to instantiate and its declared configuration. Mirrors task.Spec without
// model importing task (avoiding a dependency the graph package does not
// need at load time).
type PluginSpec struct {
	Plugin     string
	Mode       string // "GENERATOR" | "PROCESSOR" | "REDUCTOR" | "SINK"
	Device     string // "CPU" | "GPU"
	Properties map[string]interface{}
}

// SplitPolicy governs how a copier node (OutArity > 1) distributes buffers
// across its output edges.
type SplitPolicy int

const (
	// SplitBroadcast sends an independent copy of each buffer to every
	// output edge. The default when a node's split policy is unspecified.
	SplitBroadcast SplitPolicy = iota
	// SplitRoundRobin sends each successive buffer to the next output edge
	// in turn.
	SplitRoundRobin
	// SplitRandomize sends each buffer to a uniformly random output edge.
	SplitRandomize
)

func (p SplitPolicy) String() string {
	switch p {
	case SplitRoundRobin:
		return "round-robin"
	case SplitRandomize:
		return "randomize"
	default:
		return "broadcast"
	}
}

// EdgeID names one producer-to-consumer wire. Edge identity, not node
// identity, is what Scheduler wires a Channel onto.
type EdgeID uint32

// Node is one instantiated task in the expanded graph: a plugin spec plus
// its ordered input and output edges. A node with len(Out) > 1 is a copier
// (or a SINK-adjacent fan-out) and is routed per SplitPolicy, tagging each
// buffer it routes with a sequence number; a "ufoengine.collector" node
// with len(In) > 1 is a collector, which stable-sorts its inbound buffers
// by that sequence number before merging (Scheduler.runCollector, not this
// package). Other multi-input nodes take one buffer from every input per
// call.
type Node struct {
	ID     uint16
	Plugin PluginSpec
	In     []EdgeID
	Out    []EdgeID
	Split  SplitPolicy
}

// Graph is the complete expanded DAG: every node plus the edge table that
// resolves an EdgeID to its two endpoints, used by validation to check
// arity and reachability without re-walking every node's port lists.
type Graph struct {
	Nodes []Node
	Edges map[EdgeID]Edge
}

// Edge names the producer and consumer node for one wire.
type Edge struct {
	From, To uint16
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.Nodes) }

// Validate checks the structural invariants the spec requires of an
// expanded graph: unique node IDs, every edge's producer and consumer are
// nodes of the graph (whether those nodes list the edge among their ports
// is not checked), at least one source (a node with no inputs), every
// sink (a node with no outputs) reachable from some source, and the graph
// acyclic (this engine's DAG, unlike the teacher's recurrent-net graphs,
// never tolerates a cycle — see topologicalSort below).
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return errors.New("graph has no nodes")
	}

	ids := make(map[uint16]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("duplicate node ID: %d", n.ID)
		}
		ids[n.ID] = true
	}

	for eid, e := range g.Edges {
		if !ids[e.From] {
			return fmt.Errorf("edge %d references non-existent producer %d", eid, e.From)
		}
		if !ids[e.To] {
			return fmt.Errorf("edge %d references non-existent consumer %d", eid, e.To)
		}
	}

	hasSource, hasSink := false, false
	for _, n := range g.Nodes {
		if len(n.In) == 0 {
			hasSource = true
		}
		if len(n.Out) == 0 {
			hasSink = true
		}
	}
	if !hasSource {
		return errors.New("graph has no source node (every node declares at least one input)")
	}
	if !hasSink {
		return errors.New("graph has no sink node (every node declares at least one output)")
	}

	order, err := g.topologicalSort()
	if err != nil {
		return err
	}
	if err := g.checkReachability(order); err != nil {
		return err
	}

	return nil
}

// checkReachability verifies every sink node is downstream of some source
// node, per the spec's "every sink reachable from a source" invariant.
func (g *Graph) checkReachability(order []uint16) error {
	byID := make(map[uint16]*Node, len(g.Nodes))
	for i := range g.Nodes {
		byID[g.Nodes[i].ID] = &g.Nodes[i]
	}

	reachable := make(map[uint16]bool)
	for _, id := range order {
		n := byID[id]
		if len(n.In) == 0 {
			reachable[id] = true
			continue
		}
		for _, eid := range n.In {
			if reachable[g.Edges[eid].From] {
				reachable[id] = true
				break
			}
		}
	}

	for _, n := range g.Nodes {
		if len(n.Out) == 0 && !reachable[n.ID] {
			return fmt.Errorf("sink node %d is not reachable from any source", n.ID)
		}
	}
	return nil
}

// topologicalSort orders nodes by Kahn's algorithm over producer -> consumer
// edges, returning an error (instead of the teacher's silent best-effort
// order) when a cycle prevents ordering every node: this engine's graph is
// a strict DAG, unlike the teacher's recurrent Sublation graphs.
func (g *Graph) topologicalSort() ([]uint16, error) {
	inDegree := make(map[uint16]int, len(g.Nodes))
	adj := make(map[uint16][]uint16, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, n := range g.Nodes {
		for _, eid := range n.In {
			e := g.Edges[eid]
			adj[e.From] = append(adj[e.From], n.ID)
			inDegree[n.ID]++
		}
	}

	var queue []uint16
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]uint16, 0, len(g.Nodes))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range adj[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, errors.New("graph contains a cycle")
	}
	return order, nil
}

// --- Binary serialization, for ufoc's expand-then-dump workflow ---

const (
	magic   uint32 = 0x55464F47 // "UFOG"
	version uint16 = 1
)

// Serialize writes the Graph to a length-prefixed binary format: a header
// (magic, version, node count, edge count), then one record per node
// (ID, split policy, plugin spec as length-prefixed JSON, in/out edge
// lists), then one record per edge (id, from, to).
func (g *Graph) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, magic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, version); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(g.Nodes))); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(g.Edges))); err != nil {
		return nil, err
	}

	for _, n := range g.Nodes {
		specJSON, err := marshalPluginSpec(n.Plugin)
		if err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, n.ID); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint8(n.Split)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(specJSON))); err != nil {
			return nil, err
		}
		buf.Write(specJSON)
		if err := writeEdgeIDs(&buf, n.In); err != nil {
			return nil, err
		}
		if err := writeEdgeIDs(&buf, n.Out); err != nil {
			return nil, err
		}
	}

	for eid, e := range g.Edges {
		if err := binary.Write(&buf, binary.LittleEndian, eid); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, e.From); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, e.To); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeEdgeIDs(buf *bytes.Buffer, ids []EdgeID) error {
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(ids))); err != nil {
		return err
	}
	for _, id := range ids {
		if err := binary.Write(buf, binary.LittleEndian, id); err != nil {
			return err
		}
	}
	return nil
}

func readEdgeIDs(r *bytes.Reader) ([]EdgeID, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	ids := make([]EdgeID, n)
	for i := range ids {
		if err := binary.Read(r, binary.LittleEndian, &ids[i]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Deserialize reads a Graph previously written by Serialize.
func Deserialize(data []byte) (*Graph, error) {
	r := bytes.NewReader(data)

	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, err
	}
	if m != magic {
		return nil, fmt.Errorf("invalid graph magic: %x", m)
	}
	var v uint16
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	if v != version {
		return nil, fmt.Errorf("unsupported graph version: %d", v)
	}

	var nodeCount, edgeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &edgeCount); err != nil {
		return nil, err
	}

	nodes := make([]Node, nodeCount)
	for i := range nodes {
		if err := binary.Read(r, binary.LittleEndian, &nodes[i].ID); err != nil {
			return nil, err
		}
		var split uint8
		if err := binary.Read(r, binary.LittleEndian, &split); err != nil {
			return nil, err
		}
		nodes[i].Split = SplitPolicy(split)

		var specLen uint32
		if err := binary.Read(r, binary.LittleEndian, &specLen); err != nil {
			return nil, err
		}
		specJSON := make([]byte, specLen)
		if _, err := r.Read(specJSON); err != nil {
			return nil, err
		}
		spec, err := unmarshalPluginSpec(specJSON)
		if err != nil {
			return nil, err
		}
		nodes[i].Plugin = spec

		in, err := readEdgeIDs(r)
		if err != nil {
			return nil, err
		}
		nodes[i].In = in
		out, err := readEdgeIDs(r)
		if err != nil {
			return nil, err
		}
		nodes[i].Out = out
	}

	edges := make(map[EdgeID]Edge, edgeCount)
	for i := uint32(0); i < edgeCount; i++ {
		var eid EdgeID
		var e Edge
		if err := binary.Read(r, binary.LittleEndian, &eid); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &e.From); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &e.To); err != nil {
			return nil, err
		}
		edges[eid] = e
	}

	return &Graph{Nodes: nodes, Edges: edges}, nil
}
