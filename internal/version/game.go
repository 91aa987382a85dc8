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

package version

import (
	"fmt"
	"strconv"
	"strings"
)

// absent marks an optional game version component that was not supplied.
const absent = -1

// GameVersion is a specific version of the game, `MAJOR.MINOR[.PATCH[.BUILD]]`.
//
// The game does not follow semantic versioning; breaking changes usually
// land on minor version bumps. The build component identifies an exact
// binary and takes no part in ordering or equality, which avoids surprises
// such as `1.12.3 != 1.12.3.3173` when matching an instance against a mod
// constraint.
type GameVersion struct {
	Major int
	Minor int
	Patch int
	Build int
}

// ParseGame interprets a game version string with two to four dot-separated
// integer components. The literal "any" is rejected here; open constraints
// are represented by Bounds at the layer above.
func ParseGame(s string) (GameVersion, error) {
	if strings.EqualFold(s, "any") {
		return GameVersion{}, fmt.Errorf("%w: %q is not a concrete game version", ErrParse, s)
	}

	components := strings.Split(s, ".")
	if len(components) < 2 || len(components) > 4 {
		return GameVersion{}, fmt.Errorf("%w: game version %q must have 2 to 4 components", ErrParse, s)
	}

	v := GameVersion{Patch: absent, Build: absent}
	for i, component := range components {
		n, err := strconv.Atoi(component)
		if err != nil || n < 0 {
			return GameVersion{}, fmt.Errorf("%w: game version component %q is not an integer", ErrParse, component)
		}

		switch i {
		case 0:
			v.Major = n
		case 1:
			v.Minor = n
		case 2:
			v.Patch = n
		case 3:
			v.Build = n
		}
	}

	return v, nil
}

// MustParseGame is a convenience for tests and literals known to be valid.
func MustParseGame(s string) GameVersion {
	v, err := ParseGame(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v GameVersion) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%d", v.Major, v.Minor)
	if v.Patch != absent {
		fmt.Fprintf(&sb, ".%d", v.Patch)
		if v.Build != absent {
			fmt.Fprintf(&sb, ".%d", v.Build)
		}
	}
	return sb.String()
}

// HasPatch reports whether the patch component was supplied.
func (v GameVersion) HasPatch() bool {
	return v.Patch != absent
}

// Compare orders game versions by major, minor, then patch. A missing patch
// sorts before any concrete patch, and the build component is ignored
// entirely.
func (v GameVersion) Compare(other GameVersion) int {
	for _, pair := range [][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal ignores the build component, matching Compare.
func (v GameVersion) Equal(other GameVersion) bool {
	return v.Compare(other) == 0
}

// IsCompatibleWith reports whether a mod declaring compatibility with v is
// generally compatible with an instance running other. Major and minor must
// match; when both sides carry a patch, v's patch must not exceed other's.
func (v GameVersion) IsCompatibleWith(other GameVersion) bool {
	if v.Major != other.Major || v.Minor != other.Minor {
		return false
	}
	if v.HasPatch() && other.HasPatch() {
		return v.Patch <= other.Patch
	}
	return true
}
