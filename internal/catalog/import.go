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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/munpkg/munpkg/internal/version"
)

// ErrInvalidManifest is returned when a manifest document is missing
// required fields or carries values that cannot be interpreted.
var ErrInvalidManifest = errors.New("invalid manifest")

// sourceKeys are the mutually exclusive source fields of an install
// directive.
var sourceKeys = map[string]SourceKind{
	"file":        SourceFile,
	"find":        SourceFind,
	"find_regexp": SourceFindRegExp,
}

// optionalKeys are the install directive modifiers this client understands.
var optionalKeys = map[string]bool{
	"as":                  true,
	"filter":              true,
	"filter_regexp":       true,
	"include_only":        true,
	"include_only_regexp": true,
	"find_matches_files":  true,
	"install_to":          true,
}

// ParseManifest interprets a single package manifest document. Unknown
// top-level fields are ignored; missing required fields are an error.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	m := &Manifest{}

	specVersion, err := stringOrNumber(doc, "spec_version")
	if err != nil {
		return nil, err
	}
	m.SpecVersion = specVersion

	if err := requiredString(doc, "identifier", &m.ID.Name); err != nil {
		return nil, err
	}

	var versionStr string
	if err := requiredString(doc, "version", &versionStr); err != nil {
		return nil, err
	}
	m.ID.Version, err = version.Parse(versionStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidManifest, m.ID.Name, err)
	}

	if err := requiredString(doc, "name", &m.Name); err != nil {
		return nil, err
	}
	if err := requiredString(doc, "abstract", &m.Abstract); err != nil {
		return nil, err
	}

	m.Authors, err = oneOrMany(doc, "author")
	if err != nil {
		return nil, err
	}
	m.Licenses, err = oneOrMany(doc, "license")
	if err != nil {
		return nil, err
	}

	if raw, ok := doc["kind"]; ok {
		var kind string
		if err := json.Unmarshal(raw, &kind); err != nil {
			return nil, fmt.Errorf("%w: kind must be a string", ErrInvalidManifest)
		}
		switch kind {
		case "package":
			m.Kind = KindPackage
		case "metapackage":
			m.Kind = KindMetaPackage
		case "dlc":
			m.Kind = KindDLC
		default:
			return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidManifest, kind)
		}
	}

	if raw, ok := doc["download"]; ok {
		if err := json.Unmarshal(raw, &m.Download); err != nil {
			return nil, fmt.Errorf("%w: download must be a string", ErrInvalidManifest)
		}
	} else if m.Kind.Installable() {
		return nil, fmt.Errorf("%w: %q: download is required for installable packages", ErrInvalidManifest, m.ID.Name)
	}

	if raw, ok := doc["release_status"]; ok {
		var status string
		if err := json.Unmarshal(raw, &status); err != nil {
			return nil, fmt.Errorf("%w: release_status must be a string", ErrInvalidManifest)
		}
		switch status {
		case "stable":
			m.ReleaseStatus = ReleaseStable
		case "testing":
			m.ReleaseStatus = ReleaseTesting
		case "development":
			m.ReleaseStatus = ReleaseDevelopment
		default:
			return nil, fmt.Errorf("%w: unknown release_status %q", ErrInvalidManifest, status)
		}
	}

	gameExplicit := optionalVersionString(doc, "ksp_version")
	gameMin := optionalVersionString(doc, "ksp_version_min")
	gameMax := optionalVersionString(doc, "ksp_version_max")
	m.GameVersion, err = version.ParseGameBounds(gameExplicit, gameMin, gameMax)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidManifest, m.ID.Name, err)
	}

	if raw, ok := doc["ksp_version_strict"]; ok {
		if err := json.Unmarshal(raw, &m.GameVersionStrict); err != nil {
			return nil, fmt.Errorf("%w: ksp_version_strict must be a bool", ErrInvalidManifest)
		}
	}

	if raw, ok := doc["install"]; ok {
		m.Install, err = parseInstallDirectives(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidManifest, m.ID.Name, err)
		}
	}

	for key, dst := range map[string]*[]Relationship{
		"depends":    &m.Depends,
		"recommends": &m.Recommends,
		"suggests":   &m.Suggests,
		"supports":   &m.Supports,
		"conflicts":  &m.Conflicts,
	} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		*dst, err = parseRelationships(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %s: %w", ErrInvalidManifest, m.ID.Name, key, err)
		}
	}

	if raw, ok := doc["replaced_by"]; ok {
		d, err := parseDescriptor(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: replaced_by: %w", ErrInvalidManifest, m.ID.Name, err)
		}
		m.ReplacedBy = &d
	}

	if raw, ok := doc["provides"]; ok {
		if err := json.Unmarshal(raw, &m.Provides); err != nil {
			return nil, fmt.Errorf("%w: provides must be an array of strings", ErrInvalidManifest)
		}
	}

	_ = json.Unmarshal(doc["description"], &m.Description)
	_ = json.Unmarshal(doc["release_date"], &m.ReleaseDate)
	_ = json.Unmarshal(doc["download_size"], &m.DownloadSize)
	_ = json.Unmarshal(doc["install_size"], &m.InstallSize)
	_ = json.Unmarshal(doc["download_content_type"], &m.DownloadContentType)
	_ = json.Unmarshal(doc["tags"], &m.Tags)
	_ = json.Unmarshal(doc["localizations"], &m.Localizations)

	if raw, ok := doc["download_hash"]; ok {
		var hashes struct {
			SHA1   string `json:"sha1"`
			SHA256 string `json:"sha256"`
		}
		if err := json.Unmarshal(raw, &hashes); err != nil {
			return nil, fmt.Errorf("%w: download_hash must be an object", ErrInvalidManifest)
		}
		m.DownloadHashSHA1 = hashes.SHA1
		m.DownloadHashSHA256 = hashes.SHA256
	}

	if raw, ok := doc["resources"]; ok {
		var resources map[string]json.RawMessage
		if err := json.Unmarshal(raw, &resources); err != nil {
			return nil, fmt.Errorf("%w: resources must be an object", ErrInvalidManifest)
		}
		m.Resources = make(map[string]string, len(resources))
		for key, value := range resources {
			var s string
			if err := json.Unmarshal(value, &s); err == nil {
				m.Resources[key] = s
			}
		}
	}

	return m, nil
}

func parseInstallDirectives(raw json.RawMessage) ([]InstallDirective, error) {
	var objs []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, errors.New("install must be an array of objects")
	}

	directives := make([]InstallDirective, 0, len(objs))
	for _, obj := range objs {
		var directive InstallDirective

		var haveSource bool
		for key, kind := range sourceKeys {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			if haveSource {
				return nil, errors.New("install directive has multiple source fields")
			}
			if err := json.Unmarshal(raw, &directive.SourceArg); err != nil {
				return nil, fmt.Errorf("install directive %s must be a string", key)
			}
			directive.Source = kind
			haveSource = true
		}
		if !haveSource {
			return nil, errors.New("install directive has no source field")
		}

		raw, ok := obj["install_to"]
		if !ok {
			return nil, errors.New("install directive has no install_to field")
		}
		if err := json.Unmarshal(raw, &directive.InstallTo); err != nil {
			return nil, errors.New("install_to must be a string")
		}

		if raw, ok := obj["as"]; ok {
			if err := json.Unmarshal(raw, &directive.Options.As); err != nil {
				return nil, errors.New("as must be a string")
			}
		}

		var err error
		if directive.Options.Filter, err = oneOrManyRaw(obj, "filter"); err != nil {
			return nil, err
		}
		if directive.Options.FilterRegExp, err = oneOrManyRaw(obj, "filter_regexp"); err != nil {
			return nil, err
		}
		if directive.Options.IncludeOnly, err = oneOrManyRaw(obj, "include_only"); err != nil {
			return nil, err
		}
		if directive.Options.IncludeOnlyRegExp, err = oneOrManyRaw(obj, "include_only_regexp"); err != nil {
			return nil, err
		}

		if raw, ok := obj["find_matches_files"]; ok {
			if err := json.Unmarshal(raw, &directive.Options.FindMatchesFiles); err != nil {
				return nil, errors.New("find_matches_files must be a bool")
			}
		}

		for key := range obj {
			if !optionalKeys[key] {
				if _, isSource := sourceKeys[key]; !isSource {
					directive.Options.Unknown = append(directive.Options.Unknown, key)
				}
			}
		}

		directives = append(directives, directive)
	}

	return directives, nil
}

func parseRelationships(raw json.RawMessage) ([]Relationship, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, errors.New("must be an array")
	}

	relationships := make([]Relationship, 0, len(elements))
	for _, element := range elements {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(element, &obj); err != nil {
			return nil, errors.New("array elements must be objects")
		}

		if anyOf, ok := obj["any_of"]; ok {
			var alternatives []json.RawMessage
			if err := json.Unmarshal(anyOf, &alternatives); err != nil {
				return nil, errors.New("any_of must be an array")
			}

			rel := Relationship{AnyOf: true}
			for _, alternative := range alternatives {
				d, err := parseDescriptor(alternative)
				if err != nil {
					return nil, err
				}
				rel.Descriptors = append(rel.Descriptors, d)
			}
			relationships = append(relationships, rel)
			continue
		}

		d, err := parseDescriptor(element)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, Relationship{Descriptors: []Descriptor{d}})
	}

	return relationships, nil
}

func parseDescriptor(raw json.RawMessage) (Descriptor, error) {
	var fields struct {
		Name       string  `json:"name"`
		Version    *string `json:"version"`
		MinVersion *string `json:"min_version"`
		MaxVersion *string `json:"max_version"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Descriptor{}, errors.New("descriptor must be an object")
	}
	if fields.Name == "" {
		return Descriptor{}, errors.New("descriptor has no name")
	}

	parse := func(s *string) (*version.Version, error) {
		if s == nil {
			return nil, nil
		}
		v, err := version.Parse(*s)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}

	explicit, err := parse(fields.Version)
	if err != nil {
		return Descriptor{}, err
	}
	min, err := parse(fields.MinVersion)
	if err != nil {
		return Descriptor{}, err
	}
	max, err := parse(fields.MaxVersion)
	if err != nil {
		return Descriptor{}, err
	}

	bounds, err := version.NewBounds(explicit, min, max)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{Name: fields.Name, Bounds: bounds}, nil
}

func requiredString(doc map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := doc[key]
	if !ok {
		return fmt.Errorf("%w: missing required field %q", ErrInvalidManifest, key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: field %q must be a string", ErrInvalidManifest, key)
	}
	return nil
}

func stringOrNumber(doc map[string]json.RawMessage, key string) (string, error) {
	raw, ok := doc[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required field %q", ErrInvalidManifest, key)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}

	return "", fmt.Errorf("%w: field %q must be a string or number", ErrInvalidManifest, key)
}

func optionalVersionString(doc map[string]json.RawMessage, key string) string {
	raw, ok := doc[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some manifests use a bare number for versions like 1.12.
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	}
	return s
}

// oneOrMany handles fields that may be either a single string or an array
// of strings.
func oneOrMany(doc map[string]json.RawMessage, key string) ([]string, error) {
	if _, ok := doc[key]; !ok {
		return nil, fmt.Errorf("%w: missing required field %q", ErrInvalidManifest, key)
	}

	values, err := oneOrManyRaw(doc, key)
	if err != nil {
		return nil, fmt.Errorf("%w: field %q must be a string or array of strings", ErrInvalidManifest, key)
	}
	return values, nil
}

func oneOrManyRaw(doc map[string]json.RawMessage, key string) ([]string, error) {
	raw, ok := doc[key]
	if !ok {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}, nil
	}

	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("field %q must be a string or array of strings", key)
	}
	return values, nil
}
