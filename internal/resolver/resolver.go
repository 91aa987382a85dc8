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

// Package resolver computes a conflict-free, version-consistent set of
// packages to install from a set of requested targets and the catalog.
//
// The resolve runs breadth-first from the meta node, selecting a concrete
// version for every dirty or stub node it reaches, until a pass makes no
// progress. Choices the resolver cannot make on its own (a virtual
// identifier with several providers, an any_of dependency group) surface
// as decisions for the caller; everything unresolvable surfaces as typed
// per-identifier failures.
package resolver

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/version"
)

// Selection failures. They never abort a resolve pass; each affected node
// reports one of these in the final Failed status.
var (
	// ErrIdentifierNotFound means no manifest in the catalog provides the
	// identifier.
	ErrIdentifierNotFound = errors.New("identifier not found")
	// ErrNoVersionInBounds means manifests exist but none fit the folded
	// version bounds.
	ErrNoVersionInBounds = errors.New("no version within the required bounds")
	// ErrNoCompatibleGameVersion means version-eligible manifests exist
	// but none are compatible with the instance's game versions.
	ErrNoCompatibleGameVersion = errors.New("no version compatible with the game version")
	// ErrBoundsUnsatisfiable means the requirements placed on the
	// identifier have no intersection.
	ErrBoundsUnsatisfiable = errors.New("version requirements are impossible to fulfill")
)

// Target is one requirement handed to the resolver.
type Target struct {
	Name   string
	Bounds version.PackageBounds
}

// TargetFor pins a target to an exact package version.
func TargetFor(id catalog.PackageID) Target {
	return Target{Name: id.Name, Bounds: version.Exactly(id.Version)}
}

// DecisionInfo describes one choice the caller must make to continue a
// resolve.
type DecisionInfo struct {
	// Source is the identifier whose requirements created the choice.
	Source string
	// Options are the identifiers that would satisfy it.
	Options []string
}

// Failure is one unresolvable identifier and the reason.
type Failure struct {
	Name string
	Err  error
}

// StatusKind is the resolver's three-state result.
type StatusKind uint8

const (
	// Complete: every required identifier has a concrete, compatible
	// version and every decision has a selection.
	Complete StatusKind = iota
	// DecisionsRequired: the resolver is suspended awaiting AddDecision
	// calls for the listed choices.
	DecisionsRequired
	// Failed: an unavoidable conflict occurred; best presented to the
	// user per failure.
	Failed
)

// Status is the outcome of one AttemptResolve call.
type Status struct {
	Kind      StatusKind
	Decisions []DecisionInfo
	Failures  []Failure
}

// Tree is a dependency graph under resolution together with the inputs
// steering it. A fresh tree is complete and empty; AlterRequirements makes
// it in-progress until the next successful AttemptResolve.
//
// The resolve is deterministic: identical catalog, targets, decision set
// and game versions produce an identical completed graph.
type Tree struct {
	Graph *Graph
	// Decisions names identifiers to prefer when presented with a choice.
	Decisions map[string]bool
	// GameVersions are the game versions packages may be installed for.
	GameVersions []version.GameVersion
	Completed    bool
}

// NewTree returns an empty, completed tree for the given game versions.
func NewTree(gameVersions []version.GameVersion) *Tree {
	return &Tree{
		Graph:        NewGraph(),
		Decisions:    map[string]bool{},
		GameVersions: gameVersions,
		Completed:    true,
	}
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	decisions := make(map[string]bool, len(t.Decisions))
	for k, v := range t.Decisions {
		decisions[k] = v
	}

	return &Tree{
		Graph:        t.Graph.Clone(),
		Decisions:    decisions,
		GameVersions: append([]version.GameVersion(nil), t.GameVersions...),
		Completed:    t.Completed,
	}
}

// AlterRequirements attaches added targets to the meta node and detaches
// removed ones, returning the tree to the in-progress state. Nodes orphaned
// by a removal are collected by the prune pass after the next completed
// resolve.
func (t *Tree) AlterRequirements(add, remove []Target) {
	for _, target := range remove {
		t.Graph.Outgoing(t.Graph.Meta, func(i int, e *Edge) bool {
			if name, ok := t.Graph.Name(e.To); ok && name == target.Name {
				t.Graph.Edges[i].Deleted = true
			}
			return true
		})
	}

	for _, target := range add {
		id := t.Graph.GetOrAddStub(target.Name)
		t.Graph.AddEdge(t.Graph.Meta, id, EdgeDepends, target.Bounds)
		if n, ok := t.Graph.Node(id); ok && n.Kind == NodeCandidate {
			n.Dirty = true
		}
	}

	t.Completed = false
}

// AddDecision records an identifier to be selected whenever it appears
// among a decision's options. It may be called at any point between
// resolve passes.
func (t *Tree) AddDecision(name string) {
	t.Decisions[name] = true
}

// Packages returns the concrete package versions of a resolved tree, in
// graph order.
func (t *Tree) Packages() []catalog.PackageID {
	return t.Graph.Candidates()
}

// AttemptResolve runs resolve passes until the tree completes, a decision
// is required, or an unavoidable conflict fails the resolve. On
// DecisionsRequired the caller records preferences with AddDecision and
// calls AttemptResolve again.
func (t *Tree) AttemptResolve(cat *catalog.Catalog) Status {
	for {
		var failures []Failure
		var pendingDecisions []NodeID
		foundDirty := false

		visited := make([]bool, len(t.Graph.Nodes))
		queue := []NodeID{t.Graph.Meta}

		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]

			// Selection can grow the node slice.
			if int(id) >= len(visited) {
				grown := make([]bool, len(t.Graph.Nodes))
				copy(grown, visited)
				visited = grown
			}
			if visited[id] {
				continue
			}
			visited[id] = true

			n, ok := t.Graph.Node(id)
			if !ok {
				continue
			}

			switch n.Kind {
			case NodeFixed:
				// Immutable, its requirements are already met.

			case NodeCandidate:
				if n.Dirty {
					foundDirty = true
					if err := t.selectPackage(cat, id); err != nil {
						failures = append(failures, t.failureFor(id, err))
					}
				}
				queue = t.enqueueRequirements(queue, id)

			case NodeStub:
				foundDirty = true
				if err := t.selectPackage(cat, id); err != nil {
					failures = append(failures, t.failureFor(id, err))
				}
				// A failed stub has no outgoing edges, so this is safe.
				queue = t.enqueueRequirements(queue, id)

			case NodeDecision:
				// Deferred to the post-pass: unvisited requirements may
				// still force one of the options, letting the selection
				// happen implicitly.
				hasSelection := false
				t.Graph.Outgoing(id, func(_ int, e *Edge) bool {
					if e.Kind == EdgeSelected {
						queue = append(queue, e.To)
						hasSelection = true
					}
					return true
				})

				if !hasSelection {
					pendingDecisions = append(pendingDecisions, id)
				}

			case NodeMeta, NodeVirtual:
				queue = t.enqueueRequirements(queue, id)
			}
		}

		if len(failures) > 0 {
			t.Completed = false
			return Status{Kind: Failed, Failures: failures}
		}

		if foundDirty {
			continue
		}

		if len(pendingDecisions) == 0 {
			t.Completed = true
			t.Graph.PruneLoose()
			return Status{Kind: Complete}
		}

		selectionMade := false
		var required []DecisionInfo

		for _, decision := range pendingDecisions {
			selections := t.implicitSelections(decision)

			if len(selections) == 0 {
				required = append(required, t.decisionInfo(decision))
				continue
			}

			for _, target := range selections {
				t.Graph.AddEdge(decision, target, EdgeSelected, version.Unbounded[version.Version]())
			}
			selectionMade = true
		}

		if selectionMade {
			// New selections may force further implicit decisions; defer
			// asking the caller until the graph settles.
			continue
		}

		t.Completed = false
		return Status{Kind: DecisionsRequired, Decisions: required}
	}
}

// enqueueRequirements appends the targets the node must reach: depends,
// selected and decision edges. Conflicts edges need not target a required
// node, and any_of and option edges do not represent a selection.
func (t *Tree) enqueueRequirements(queue []NodeID, id NodeID) []NodeID {
	t.Graph.Outgoing(id, func(_ int, e *Edge) bool {
		switch e.Kind {
		case EdgeDepends, EdgeSelected, EdgeDecision:
			queue = append(queue, e.To)
		}
		return true
	})
	return queue
}

// selectPackage reads the requirements placed on a stub or candidate node
// and resolves it to the latest package meeting them, or converts it to a
// virtual node when several distinct packages provide the identifier. It
// finds only the latest compatible candidate; conflicts relationships are
// not checked, so a choice that conflicts with another selection does not
// fail the resolve.
func (t *Tree) selectPackage(cat *catalog.Catalog, id NodeID) error {
	n, _ := t.Graph.Node(id)
	name := n.Name

	bounds, ok := t.Graph.BoundsOn(id)
	if !ok {
		return ErrBoundsUnsatisfiable
	}

	providers := cat.GroupProviding(name)
	if len(providers) == 0 {
		return ErrIdentifierNotFound
	}

	if len(providers) == 1 {
		var manifests []*catalog.Manifest
		for _, group := range providers {
			manifests = group
		}

		manifests = catalog.FilterByBounds(manifests, bounds)
		if len(manifests) == 0 {
			return ErrNoVersionInBounds
		}

		manifests = catalog.FilterByGameVersions(manifests, t.GameVersions)
		if len(manifests) == 0 {
			return ErrNoCompatibleGameVersion
		}

		chosen := catalog.Latest(manifests)
		slog.Debug("Selected package",
			slog.String("identifier", name), slog.String("version", chosen.ID.Version.String()))
		t.Graph.SetCandidate(id, chosen)

		return nil
	}

	// Several distinct packages provide the identifier, so it is virtual;
	// represent the providers as a decision node.
	t.Graph.SetVirtual(id)
	decision := t.Graph.addNode(Node{Kind: NodeDecision})
	t.Graph.AddEdge(id, decision, EdgeDecision, version.Unbounded[version.Version]())

	names := make([]string, 0, len(providers))
	for providerName := range providers {
		names = append(names, providerName)
	}
	sort.Strings(names)

	for _, providerName := range names {
		provider := t.Graph.GetOrAddStub(providerName)
		t.Graph.AddEdge(decision, provider, EdgeOption, version.Unbounded[version.Version]())
	}

	return nil
}

// implicitSelections returns the options of a decision that are already
// required: named in the caller's decision set, or target of an existing
// depends or selected edge.
func (t *Tree) implicitSelections(decision NodeID) []NodeID {
	var selections []NodeID

	t.Graph.Outgoing(decision, func(_ int, e *Edge) bool {
		if e.Kind != EdgeAnyOf && e.Kind != EdgeOption {
			return true
		}

		if name, ok := t.Graph.Name(e.To); ok && t.Decisions[name] {
			selections = append(selections, e.To)
			return true
		}

		t.Graph.Incoming(e.To, func(_ int, requirement *Edge) bool {
			switch requirement.Kind {
			case EdgeDepends, EdgeSelected:
				selections = append(selections, e.To)
				return false
			}
			return true
		})

		return true
	})

	return selections
}

func (t *Tree) decisionInfo(decision NodeID) DecisionInfo {
	info := DecisionInfo{}

	if parent, ok := t.Graph.decisionParent(decision); ok {
		info.Source, _ = t.Graph.Name(parent)
	}

	t.Graph.Outgoing(decision, func(_ int, e *Edge) bool {
		if e.Kind == EdgeAnyOf || e.Kind == EdgeOption {
			if name, ok := t.Graph.Name(e.To); ok {
				info.Options = append(info.Options, name)
			}
		}
		return true
	})

	return info
}

func (t *Tree) failureFor(id NodeID, err error) Failure {
	name, _ := t.Graph.Name(id)
	return Failure{Name: name, Err: err}
}
