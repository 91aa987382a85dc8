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

package deploy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/munpkg/munpkg/internal/catalog"
)

var (
	// ErrEmptyPlan is returned when a manifest's install directives match
	// nothing in the extracted archive.
	ErrEmptyPlan = errors.New("install directives produced no files")
	// ErrUnsupportedDirective is returned for directives carrying options
	// this client does not understand; they must not silently no-op.
	ErrUnsupportedDirective = errors.New("unsupported install directive")
)

// Instruction is one file to materialize: an absolute source inside the
// extracted archive and a destination relative to the game root.
type Instruction struct {
	Source string
	Dest   string
}

// InstallInstructions compiles a manifest's install directives against its
// extracted archive into file-granular (source, destination) pairs.
//
// A manifest without directives installs the top-most directory matching
// its identifier into GameData, per the metadata specification.
func InstallInstructions(m *catalog.Manifest, archiveRoot string) ([]Instruction, error) {
	directives := m.Install
	if len(directives) == 0 {
		directives = []catalog.InstallDirective{{
			Source:    catalog.SourceFind,
			SourceArg: m.ID.Name,
			InstallTo: "GameData",
		}}
	}

	var instructions []Instruction
	for _, directive := range directives {
		compiled, err := processDirective(directive, archiveRoot)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", m.ID, err)
		}
		instructions = append(instructions, compiled...)
	}

	if len(instructions) == 0 {
		return nil, fmt.Errorf("package %s: %w", m.ID, ErrEmptyPlan)
	}

	return instructions, nil
}

func processDirective(directive catalog.InstallDirective, archiveRoot string) ([]Instruction, error) {
	if len(directive.Options.Unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown options %v", ErrUnsupportedDirective, directive.Options.Unknown)
	}

	filter, err := newFileFilter(directive.Options)
	if err != nil {
		return nil, err
	}

	destBase := directive.InstallTo
	if destBase == "GameRoot" {
		destBase = ""
	}

	source, found, err := resolveSource(directive, archiveRoot)
	if err != nil {
		return nil, err
	}
	if !found {
		// Whether an unmatched directive is fatal is decided at the plan
		// level, once every directive has had its chance.
		return nil, nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to stat install source: %w", err)
	}

	name := filepath.Base(source)
	if directive.Options.As != "" {
		name = directive.Options.As
	}

	if !info.IsDir() {
		if !filter.keep(name) {
			return nil, nil
		}
		return []Instruction{{Source: source, Dest: filepath.Join(destBase, name)}}, nil
	}

	var instructions []Instruction
	err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}

		if !filter.keep(filepath.ToSlash(rel)) {
			return nil
		}

		instructions = append(instructions, Instruction{
			Source: path,
			Dest:   filepath.Join(destBase, name, rel),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk install source: %w", err)
	}

	return instructions, nil
}

// resolveSource locates the directive's source entry inside the archive.
func resolveSource(directive catalog.InstallDirective, archiveRoot string) (string, bool, error) {
	switch directive.Source {
	case catalog.SourceFile:
		path := filepath.Join(archiveRoot, filepath.FromSlash(directive.SourceArg))
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("failed to stat install source: %w", err)
		}
		return path, true, nil

	case catalog.SourceFind:
		return findEntry(archiveRoot, directive.Options.FindMatchesFiles, func(rel string) bool {
			return strings.Contains(rel, directive.SourceArg)
		})

	case catalog.SourceFindRegExp:
		re, err := regexp.Compile(directive.SourceArg)
		if err != nil {
			return "", false, fmt.Errorf("%w: bad find_regexp %q: %w", ErrUnsupportedDirective, directive.SourceArg, err)
		}
		return findEntry(archiveRoot, directive.Options.FindMatchesFiles, re.MatchString)

	default:
		return "", false, fmt.Errorf("%w: unknown source kind", ErrUnsupportedDirective)
	}
}

// findEntry walks the archive breadth-first and returns the first entry
// whose archive-relative path satisfies match. Unless matchFiles is set,
// only directories are considered.
func findEntry(archiveRoot string, matchFiles bool, match func(rel string) bool) (string, bool, error) {
	queue := []string{archiveRoot}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", false, fmt.Errorf("failed to read archive directory: %w", err)
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			rel, err := filepath.Rel(archiveRoot, path)
			if err != nil {
				return "", false, err
			}

			if (entry.IsDir() || matchFiles) && match(filepath.ToSlash(rel)) {
				return path, true, nil
			}

			if entry.IsDir() {
				queue = append(queue, path)
			}
		}
	}

	return "", false, nil
}

// fileFilter applies a directive's include/exclude options to paths
// relative to the matched source.
type fileFilter struct {
	filter            []string
	filterRegExp      []*regexp.Regexp
	includeOnly       []string
	includeOnlyRegExp []*regexp.Regexp
}

func newFileFilter(options catalog.DirectiveOptions) (*fileFilter, error) {
	f := &fileFilter{
		filter:      options.Filter,
		includeOnly: options.IncludeOnly,
	}

	for _, pattern := range options.FilterRegExp {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad filter_regexp %q: %w", ErrUnsupportedDirective, pattern, err)
		}
		f.filterRegExp = append(f.filterRegExp, re)
	}

	for _, pattern := range options.IncludeOnlyRegExp {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad include_only_regexp %q: %w", ErrUnsupportedDirective, pattern, err)
		}
		f.includeOnlyRegExp = append(f.includeOnlyRegExp, re)
	}

	return f, nil
}

// keep decides whether a file survives the filters. Plain filters match
// whole path segments (a file or parent directory name); regexp filters
// match anywhere in the relative path.
func (f *fileFilter) keep(rel string) bool {
	segments := strings.Split(rel, "/")

	for _, exclude := range f.filter {
		for _, segment := range segments {
			if segment == exclude {
				return false
			}
		}
	}
	for _, re := range f.filterRegExp {
		if re.MatchString(rel) {
			return false
		}
	}

	if len(f.includeOnly) == 0 && len(f.includeOnlyRegExp) == 0 {
		return true
	}

	for _, include := range f.includeOnly {
		for _, segment := range segments {
			if segment == include {
				return true
			}
		}
	}
	for _, re := range f.includeOnlyRegExp {
		if re.MatchString(rel) {
			return true
		}
	}

	return false
}
