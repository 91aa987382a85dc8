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

package catalog

import (
	"github.com/munpkg/munpkg/internal/version"
)

// PackageID uniquely identifies a package in the catalog.
type PackageID struct {
	Name    string
	Version version.Version
}

// Compare orders IDs lexicographically by name, then by version.
func (id PackageID) Compare(other PackageID) int {
	if id.Name != other.Name {
		if id.Name < other.Name {
			return -1
		}
		return 1
	}
	return id.Version.Compare(other.Version)
}

func (id PackageID) String() string {
	return id.Name + "-" + id.Version.String()
}

// Descriptor names a range of packages: an identifier (or provided alias)
// plus version bounds. It is the target of a relationship.
type Descriptor struct {
	Name   string
	Bounds version.PackageBounds
}

// Relationship is one requirement declared by a manifest. A direct
// relationship carries a single descriptor; an any_of group carries several
// alternatives, any one of which satisfies it.
type Relationship struct {
	AnyOf       bool
	Descriptors []Descriptor
}

// Kind distinguishes ordinary packages from metapackages and DLC, neither
// of which has downloadable content.
type Kind uint8

const (
	KindPackage Kind = iota
	KindMetaPackage
	KindDLC
)

func (k Kind) String() string {
	switch k {
	case KindMetaPackage:
		return "metapackage"
	case KindDLC:
		return "dlc"
	default:
		return "package"
	}
}

// Installable reports whether the package has content to download and
// deploy.
func (k Kind) Installable() bool {
	return k == KindPackage
}

// ReleaseStatus is the upstream stability of a release.
type ReleaseStatus uint8

const (
	ReleaseStable ReleaseStatus = iota
	ReleaseTesting
	ReleaseDevelopment
)

func (s ReleaseStatus) String() string {
	switch s {
	case ReleaseTesting:
		return "testing"
	case ReleaseDevelopment:
		return "development"
	default:
		return "stable"
	}
}

// SourceKind discriminates the source of an install directive.
type SourceKind uint8

const (
	// SourceFile installs a fixed path within the archive.
	SourceFile SourceKind = iota
	// SourceFind installs the first entry whose archive-relative path
	// contains a substring.
	SourceFind
	// SourceFindRegExp installs the first entry whose archive-relative
	// path matches a regular expression.
	SourceFindRegExp
)

// DirectiveOptions are the optional modifiers of an install directive.
type DirectiveOptions struct {
	// As renames the matched file or directory at its destination.
	As string
	// Filter excludes files whose name or parent directory name matches.
	Filter []string
	// FilterRegExp excludes files whose path relative to the matched
	// source matches.
	FilterRegExp []string
	// IncludeOnly keeps only files whose name or parent directory name
	// matches.
	IncludeOnly []string
	// IncludeOnlyRegExp keeps only files whose path relative to the
	// matched source matches.
	IncludeOnlyRegExp []string
	// FindMatchesFiles lets find sources match files as well as
	// directories.
	FindMatchesFiles bool
	// Unknown holds optional directive keys this client does not
	// understand. The planner refuses directives carrying any.
	Unknown []string
}

// InstallDirective is one declarative install rule from a manifest.
type InstallDirective struct {
	Source    SourceKind
	SourceArg string
	// InstallTo is a path relative to the game directory. The literal
	// "GameRoot" denotes the game directory itself.
	InstallTo string
	Options   DirectiveOptions
}

// Manifest is the parsed metadata record for a single package release.
type Manifest struct {
	SpecVersion string
	ID          PackageID
	Name        string
	Abstract    string
	Authors     []string
	Licenses    []string

	Download            string
	DownloadSize        int64
	DownloadHashSHA1    string
	DownloadHashSHA256  string
	DownloadContentType string
	InstallSize         int64

	Install     []InstallDirective
	Description string
	ReleaseDate string

	ReleaseStatus     ReleaseStatus
	GameVersion       version.GameBounds
	GameVersionStrict bool

	Depends    []Relationship
	Recommends []Relationship
	Suggests   []Relationship
	Supports   []Relationship
	Conflicts  []Relationship
	ReplacedBy *Descriptor

	Kind          Kind
	Provides      []string
	Tags          []string
	Localizations []string
	Resources     map[string]string
}

// ProvidesName reports whether the manifest's identifier or one of its
// provided aliases equals name.
func (m *Manifest) ProvidesName(name string) bool {
	if m.ID.Name == name {
		return true
	}
	for _, alias := range m.Provides {
		if alias == name {
			return true
		}
	}
	return false
}

// MatchesDescriptor reports whether the manifest satisfies the descriptor,
// considering provided aliases and version bounds.
func (m *Manifest) MatchesDescriptor(d Descriptor) bool {
	return m.ProvidesName(d.Name) && d.Bounds.Contains(m.ID.Version)
}

// FulfillsRelationship reports whether the manifest satisfies any
// descriptor of the relationship.
func (m *Manifest) FulfillsRelationship(rel Relationship) bool {
	for _, d := range rel.Descriptors {
		if m.MatchesDescriptor(d) {
			return true
		}
	}
	return false
}

// Conflict reports whether either manifest declares a conflict fulfilled by
// the other.
func Conflict(a, b *Manifest) bool {
	for _, rel := range a.Conflicts {
		if b.FulfillsRelationship(rel) {
			return true
		}
	}
	for _, rel := range b.Conflicts {
		if a.FulfillsRelationship(rel) {
			return true
		}
	}
	return false
}
