// SPDX-License-Identifier: AGPL-3.0-or-later
/*
 * Copyright (C) 2025 Damian Peckett <damian@pecke.tt>.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package resolver

import (
	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/version"
)

// NodeID is a stable handle to a graph node. Handles survive deletion of
// other nodes; a deleted node's handle dangles and is rejected on use.
type NodeID int

// NodeKind discriminates the node variants of the dependency graph.
type NodeKind uint8

const (
	// NodeMeta anchors the user's requests; there is exactly one per graph.
	NodeMeta NodeKind = iota
	// NodeStub is an identifier known by name only.
	NodeStub
	// NodeCandidate has been resolved to a concrete package version.
	NodeCandidate
	// NodeVirtual is an identifier provided by several distinct packages.
	NodeVirtual
	// NodeDecision represents a pending choice between alternatives.
	NodeDecision
	// NodeFixed is a pre-installed package the resolver never re-selects.
	NodeFixed
)

// EdgeKind discriminates the edge variants.
type EdgeKind uint8

const (
	// EdgeDepends is a single version-bounded requirement.
	EdgeDepends EdgeKind = iota
	// EdgeAnyOf links a decision node to one alternative of an any_of
	// group, carrying that alternative's bounds.
	EdgeAnyOf
	// EdgeDecision links a candidate or virtual node to its decision node.
	EdgeDecision
	// EdgeOption links a decision node to one provider of a virtual
	// identifier.
	EdgeOption
	// EdgeSelected marks the chosen target of a decision node.
	EdgeSelected
	// EdgeConflicts records a conflict the source declares with versions
	// of the target. The resolver does not consult these edges when it
	// selects versions, so a conflicting selection is not rejected.
	EdgeConflicts
)

// Node is one vertex of the dependency graph. Fields are exported for
// serialization; mutate only through Graph methods.
type Node struct {
	Kind NodeKind
	// Name is the semantic identifier; empty for meta and decision nodes.
	// It never changes once set.
	Name string
	// ID is the selected package for candidate and fixed nodes.
	ID catalog.PackageID
	// Dirty marks a candidate whose selection must be re-evaluated.
	Dirty   bool
	Deleted bool
}

// Edge is one directed edge. Bounds is meaningful for depends, any_of and
// conflicts edges.
type Edge struct {
	From, To NodeID
	Kind     EdgeKind
	Bounds   version.PackageBounds
	Deleted  bool
}

// Graph is the typed dependency graph driven by the resolver. Nodes and
// edges are kept in insertion order, which makes traversals deterministic.
type Graph struct {
	Nodes []Node
	Edges []Edge
	Meta  NodeID
}

// NewGraph returns a graph holding only the meta node.
func NewGraph() *Graph {
	g := &Graph{}
	g.Meta = g.addNode(Node{Kind: NodeMeta})
	return g
}

// Clone returns a deep copy sharing no state with the receiver.
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		Nodes: append([]Node(nil), g.Nodes...),
		Edges: append([]Edge(nil), g.Edges...),
		Meta:  g.Meta,
	}
	return clone
}

func (g *Graph) addNode(n Node) NodeID {
	g.Nodes = append(g.Nodes, n)
	return NodeID(len(g.Nodes) - 1)
}

// Node returns the node for a handle, or false if the handle is out of
// range or the node was deleted.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	if id < 0 || int(id) >= len(g.Nodes) || g.Nodes[id].Deleted {
		return nil, false
	}
	return &g.Nodes[id], true
}

// Name returns the semantic identifier of a node, or false for meta and
// decision nodes.
func (g *Graph) Name(id NodeID) (string, bool) {
	n, ok := g.Node(id)
	if !ok || n.Name == "" {
		return "", false
	}
	return n.Name, true
}

// AddEdge appends an edge.
func (g *Graph) AddEdge(from, to NodeID, kind EdgeKind, bounds version.PackageBounds) {
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind, Bounds: bounds})
}

// Outgoing calls fn for every live edge leaving id, in insertion order.
func (g *Graph) Outgoing(id NodeID, fn func(idx int, e *Edge) bool) {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Deleted || e.From != id {
			continue
		}
		if !fn(i, e) {
			return
		}
	}
}

// Incoming calls fn for every live edge entering id, in insertion order.
func (g *Graph) Incoming(id NodeID, fn func(idx int, e *Edge) bool) {
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Deleted || e.To != id {
			continue
		}
		if !fn(i, e) {
			return
		}
	}
}

// removeNode tombstones a node together with every edge touching it.
func (g *Graph) removeNode(id NodeID) {
	if id == g.Meta {
		return
	}

	g.Nodes[id].Deleted = true
	for i := range g.Edges {
		e := &g.Edges[i]
		if !e.Deleted && (e.From == id || e.To == id) {
			e.Deleted = true
		}
	}
}

// findNode locates the live node carrying a semantic identifier.
func (g *Graph) findNode(name string) (NodeID, bool) {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Deleted || n.Name != name {
			continue
		}

		switch n.Kind {
		case NodeStub, NodeCandidate, NodeVirtual, NodeFixed:
			return NodeID(i), true
		}
	}
	return 0, false
}

// GetOrAddStub returns the node carrying name, adding a stub if the
// identifier is new to the graph.
func (g *Graph) GetOrAddStub(name string) NodeID {
	if id, ok := g.findNode(name); ok {
		return id
	}
	return g.addNode(Node{Kind: NodeStub, Name: name})
}

// AddFixed records a pre-installed package. Fixed nodes are never
// re-selected; the resolver treats their requirements as already met.
func (g *Graph) AddFixed(id catalog.PackageID) NodeID {
	if existing, ok := g.findNode(id.Name); ok {
		return existing
	}
	return g.addNode(Node{Kind: NodeFixed, Name: id.Name, ID: id})
}

// SetCandidate resolves a stub or candidate node to a concrete manifest,
// rewriting its outgoing requirement edges. Re-selecting the manifest the
// node already carries only clears the dirty flag; leaving the edges
// untouched keeps mutually-dependent packages from dirtying each other
// forever.
func (g *Graph) SetCandidate(id NodeID, m *catalog.Manifest) {
	n := &g.Nodes[id]

	if n.Kind == NodeCandidate && n.ID.Name == m.ID.Name && n.ID.Version.Equal(m.ID.Version) {
		n.Dirty = false
		return
	}

	g.clearRequirements(id)
	g.addManifestEdges(id, m)

	n = &g.Nodes[id] // addManifestEdges may grow the slice
	n.Kind = NodeCandidate
	n.ID = m.ID
	n.Dirty = false
}

// SetVirtual converts a stub to a virtual identifier node.
func (g *Graph) SetVirtual(id NodeID) {
	g.Nodes[id].Kind = NodeVirtual
}

// clearRequirements removes the node's outgoing edges, dropping any
// decision nodes hanging off it and dirtying affected candidates.
func (g *Graph) clearRequirements(id NodeID) {
	var decisions []NodeID

	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Deleted || e.From != id {
			continue
		}

		target := &g.Nodes[e.To]
		if target.Kind == NodeCandidate {
			target.Dirty = true
		}
		if target.Kind == NodeDecision {
			decisions = append(decisions, e.To)
		}

		e.Deleted = true
	}

	for _, decision := range decisions {
		g.Outgoing(decision, func(_ int, e *Edge) bool {
			if target := &g.Nodes[e.To]; target.Kind == NodeCandidate {
				target.Dirty = true
			}
			return true
		})
		g.removeNode(decision)
	}
}

// addManifestEdges writes the manifest's depends and conflicts
// relationships as edges leaving id, dirtying any candidate they touch.
func (g *Graph) addManifestEdges(id NodeID, m *catalog.Manifest) {
	dirty := func(target NodeID) {
		if n := &g.Nodes[target]; n.Kind == NodeCandidate {
			n.Dirty = true
		}
	}

	for _, rel := range m.Depends {
		if rel.AnyOf {
			decision := g.addNode(Node{Kind: NodeDecision})
			g.AddEdge(id, decision, EdgeDecision, version.Unbounded[version.Version]())

			for _, d := range rel.Descriptors {
				target := g.GetOrAddStub(d.Name)
				dirty(target)
				g.AddEdge(decision, target, EdgeAnyOf, d.Bounds)
			}
			continue
		}

		for _, d := range rel.Descriptors {
			target := g.GetOrAddStub(d.Name)
			dirty(target)
			g.AddEdge(id, target, EdgeDepends, d.Bounds)
		}
	}

	for _, rel := range m.Conflicts {
		for _, d := range rel.Descriptors {
			target := g.GetOrAddStub(d.Name)
			dirty(target)
			g.AddEdge(id, target, EdgeConflicts, d.Bounds)
		}
	}
}

// BoundsOn folds every version requirement reaching the node into a single
// bounds, or reports false when the requirements are impossible to fulfill
// together. Requirements arrive through depends edges directly, and through
// a selected decision's any_of bounds; option edges inherit the bounds of
// the decision's parent.
func (g *Graph) BoundsOn(id NodeID) (version.PackageBounds, bool) {
	bounds := version.Unbounded[version.Version]()

	ok := true
	g.Incoming(id, func(_ int, e *Edge) bool {
		switch e.Kind {
		case EdgeDepends:
			bounds, ok = bounds.Intersect(e.Bounds)
		case EdgeSelected:
			decision := e.From
			g.Incoming(id, func(_ int, sibling *Edge) bool {
				if sibling.From != decision {
					return true
				}

				switch sibling.Kind {
				case EdgeAnyOf:
					bounds, ok = bounds.Intersect(sibling.Bounds)
				case EdgeOption:
					parent, found := g.decisionParent(decision)
					if !found {
						return true
					}
					parentBounds, parentOK := g.BoundsOn(parent)
					if !parentOK {
						ok = false
						return false
					}
					bounds, ok = bounds.Intersect(parentBounds)
				}
				return ok
			})
		}
		return ok
	})

	if !ok {
		return version.PackageBounds{}, false
	}
	return bounds, true
}

func (g *Graph) decisionParent(decision NodeID) (NodeID, bool) {
	parent := NodeID(-1)
	g.Incoming(decision, func(_ int, e *Edge) bool {
		parent = e.From
		return false
	})
	if parent < 0 {
		return 0, false
	}
	return parent, true
}

// Candidates returns the package ids of all candidate nodes, in node order.
func (g *Graph) Candidates() []catalog.PackageID {
	var ids []catalog.PackageID
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if !n.Deleted && n.Kind == NodeCandidate {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// PruneLoose drops every node no longer required: unreachable from the
// meta node through depends, selected and decision edges. Conflicts edges
// and unselected alternatives do not keep a node alive.
func (g *Graph) PruneLoose() {
	reachable := make([]bool, len(g.Nodes))
	queue := []NodeID{g.Meta}
	reachable[g.Meta] = true

	// Pre-installed packages are roots in their own right.
	for i := range g.Nodes {
		if n := &g.Nodes[i]; !n.Deleted && n.Kind == NodeFixed {
			reachable[i] = true
			queue = append(queue, NodeID(i))
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		g.Outgoing(id, func(_ int, e *Edge) bool {
			switch e.Kind {
			case EdgeDepends, EdgeSelected, EdgeDecision:
				if !reachable[e.To] {
					reachable[e.To] = true
					queue = append(queue, e.To)
				}
			}
			return true
		})
	}

	for i := range g.Nodes {
		if !g.Nodes[i].Deleted && !reachable[i] {
			g.removeNode(NodeID(i))
		}
	}
}

// ClearAll drops every node except meta, disabling all packages.
func (g *Graph) ClearAll() {
	for i := range g.Nodes {
		if NodeID(i) != g.Meta && !g.Nodes[i].Deleted {
			g.removeNode(NodeID(i))
		}
	}
}
