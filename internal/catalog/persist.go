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
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorruptCatalog is returned when a persisted catalog cannot be decoded,
// for example after a format change. Callers handle it by regenerating the
// catalog from the archive.
var ErrCorruptCatalog = errors.New("corrupt catalog")

// blobFormatVersion is bumped whenever the persisted layout changes shape.
const blobFormatVersion = 1

type catalogBlob struct {
	FormatVersion int
	Manifests     []*Manifest
	Builds        map[int]string
}

// Save writes the catalog to path as a binary blob. The format is private
// to this program; only the same version can be expected to read it back.
func (c *Catalog) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create catalog file: %w", err)
	}
	defer f.Close()

	blob := catalogBlob{
		FormatVersion: blobFormatVersion,
		Builds:        c.builds,
	}
	_ = c.ForEach(func(m *Manifest) error {
		blob.Manifests = append(blob.Manifests, m)
		return nil
	})

	if err := gob.NewEncoder(f).Encode(blob); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	return nil
}

// Load reads a catalog previously written by Save. Decode failures and
// format mismatches surface as ErrCorruptCatalog.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	var blob catalogBlob
	if err := gob.NewDecoder(f).Decode(&blob); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptCatalog, err)
	}

	if blob.FormatVersion != blobFormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrCorruptCatalog, blob.FormatVersion, blobFormatVersion)
	}

	return New(blob.Manifests, blob.Builds), nil
}
