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

// Package catalog holds the immutable, in-memory collection of package
// manifests (the metadb) together with the build-id to game-version map
// used to identify installed games.
package catalog

import (
	"github.com/google/btree"
	"github.com/munpkg/munpkg/internal/version"
)

type item struct {
	manifest *Manifest
}

func (a item) Less(b btree.Item) bool {
	return a.manifest.ID.Compare(b.(item).manifest.ID) < 0
}

// Catalog is the set of all known package manifests, indexed by
// (identifier, version), plus the game build map. It is immutable after
// construction and safe for concurrent readers.
type Catalog struct {
	tree *btree.BTree
	// providers maps every identifier and provided alias to the manifests
	// supplying it.
	providers map[string][]*Manifest
	builds    map[int]string
}

// New assembles a catalog from parsed manifests and a build-id map.
// Manifests sharing an (identifier, version) key collapse to the first one
// seen.
func New(manifests []*Manifest, builds map[int]string) *Catalog {
	c := &Catalog{
		tree:      btree.New(2),
		providers: make(map[string][]*Manifest),
		builds:    builds,
	}

	for _, m := range manifests {
		if c.tree.Has(item{m}) {
			continue
		}
		c.tree.ReplaceOrInsert(item{m})

		c.providers[m.ID.Name] = append(c.providers[m.ID.Name], m)
		for _, alias := range m.Provides {
			if alias != m.ID.Name {
				c.providers[alias] = append(c.providers[alias], m)
			}
		}
	}

	return c
}

// Len returns the number of manifests in the catalog.
func (c *Catalog) Len() int {
	return c.tree.Len()
}

// ForEach iterates over every manifest in (identifier, version) order,
// stopping early if fn returns an error.
func (c *Catalog) ForEach(fn func(m *Manifest) error) error {
	var err error
	c.tree.Ascend(func(i btree.Item) bool {
		err = fn(i.(item).manifest)
		return err == nil
	})
	return err
}

// Get returns all manifests with the given identifier, in version order.
func (c *Catalog) Get(name string) (manifests []*Manifest) {
	c.tree.AscendGreaterOrEqual(item{&Manifest{ID: PackageID{Name: name}}}, func(i btree.Item) bool {
		m := i.(item).manifest
		if m.ID.Name != name {
			return false
		}

		manifests = append(manifests, m)
		return true
	})
	return
}

// ByID looks up the manifest for an exact (identifier, version) key.
func (c *Catalog) ByID(id PackageID) (*Manifest, bool) {
	i := c.tree.Get(item{&Manifest{ID: id}})
	if i == nil {
		return nil, false
	}

	m := i.(item).manifest
	if !m.ID.Version.Equal(id.Version) {
		// Compare-equal but not the same version string.
		return nil, false
	}
	return m, true
}

// GroupProviding returns every manifest whose identifier or provides list
// covers name, grouped by real identifier. The resolver uses the group
// count to detect virtual identifiers.
func (c *Catalog) GroupProviding(name string) map[string][]*Manifest {
	groups := make(map[string][]*Manifest)
	for _, m := range c.providers[name] {
		groups[m.ID.Name] = append(groups[m.ID.Name], m)
	}
	return groups
}

// MatchDescriptor returns all manifests satisfying the descriptor,
// considering provided aliases. The result may span several identifiers.
func (c *Catalog) MatchDescriptor(d Descriptor) (manifests []*Manifest) {
	for _, m := range c.providers[d.Name] {
		if m.MatchesDescriptor(d) {
			manifests = append(manifests, m)
		}
	}
	return
}

// GameVersionOf resolves a game build id to its version.
func (c *Catalog) GameVersionOf(buildID int) (version.GameVersion, bool) {
	s, ok := c.builds[buildID]
	if !ok {
		return version.GameVersion{}, false
	}

	v, err := version.ParseGame(s)
	if err != nil {
		return version.GameVersion{}, false
	}
	return v, true
}

// FilterByBounds keeps the manifests whose version lies within bounds.
func FilterByBounds(manifests []*Manifest, bounds version.PackageBounds) (out []*Manifest) {
	for _, m := range manifests {
		if bounds.Contains(m.ID.Version) {
			out = append(out, m)
		}
	}
	return
}

// FilterByGameVersions keeps the manifests compatible with at least one of
// the given game versions, honouring each manifest's strict flag.
func FilterByGameVersions(manifests []*Manifest, gameVersions []version.GameVersion) (out []*Manifest) {
	for _, m := range manifests {
		for _, v := range gameVersions {
			if version.CompatibleWithin(m.GameVersion, v, m.GameVersionStrict) {
				out = append(out, m)
				break
			}
		}
	}
	return
}

// Latest returns the manifest with the highest package version, or nil for
// an empty list.
func Latest(manifests []*Manifest) *Manifest {
	var latest *Manifest
	for _, m := range manifests {
		if latest == nil || m.ID.Version.Compare(latest.ID.Version) > 0 {
			latest = m
		}
	}
	return latest
}
