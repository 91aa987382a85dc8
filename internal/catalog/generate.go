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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strconv"

	"github.com/dpeckett/archivefs/tarfs"
	"github.com/dpeckett/compressmagic"
)

// GenerateFromArchive builds a catalog from a tar archive (optionally
// compressed) of JSON manifest files plus an optional builds.json mapping
// game build ids to version strings. Entries that fail to parse are logged
// and skipped so a single bad manifest cannot poison an update.
func GenerateFromArchive(r io.Reader) (*Catalog, error) {
	dr, err := compressmagic.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress archive: %w", err)
	}

	// tarfs needs random access, so the decompressed archive is held in
	// memory; metadata archives are a few tens of megabytes at most.
	buf, err := io.ReadAll(dr)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	archiveFS, err := tarfs.Open(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var manifests []*Manifest
	builds := map[int]string{}

	err = fs.WalkDir(archiveFS, ".", func(entryPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := fs.ReadFile(archiveFS, entryPath)
		if err != nil {
			return fmt.Errorf("failed to read archive entry %s: %w", entryPath, err)
		}

		if path.Base(entryPath) == "builds.json" {
			builds, err = parseBuilds(data)
			if err != nil {
				return fmt.Errorf("failed to parse builds.json: %w", err)
			}
			return nil
		}

		if len(data) == 0 {
			slog.Warn("Skipping zero sized archive entry", slog.String("path", entryPath))
			return nil
		}

		m, err := ParseManifest(data)
		if err != nil {
			slog.Warn("Skipping unparseable manifest",
				slog.String("path", entryPath), slog.Any("error", err))
			return nil
		}

		manifests = append(manifests, m)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk archive: %w", err)
	}

	slog.Debug("Generated catalog",
		slog.Int("manifests", len(manifests)), slog.Int("builds", len(builds)))

	return New(manifests, builds), nil
}

func parseBuilds(data []byte) (map[int]string, error) {
	var doc struct {
		Builds map[string]string `json:"builds"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	builds := make(map[int]string, len(doc.Builds))
	for id, gameVersion := range doc.Builds {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("build id %q is not an integer", id)
		}
		builds[n] = gameVersion
	}

	return builds, nil
}
