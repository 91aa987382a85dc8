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

// Package deploy materializes resolved packages into the game directory.
//
// Deployed files are hard links into the instance's deployment directory.
// Links are cheap to create, so there is no per-package install or
// uninstall: every change is a full clean followed by a full redeploy,
// which keeps the game directory an exact function of the resolved tree.
package deploy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/instance"
)

var (
	// ErrMissingPackage is returned when an enabled package is absent
	// from the catalog.
	ErrMissingPackage = errors.New("package is not present in the catalog")
	// ErrMissingContent is returned when an enabled package has no
	// extracted content under the deployment directory.
	ErrMissingContent = errors.New("package content has not been extracted")
	// ErrLinkFailed is returned when a hard link cannot be created, for
	// example across filesystem volumes.
	ErrLinkFailed = errors.New("failed to link file")
)

// Redeploy cleans the instance and links every enabled package's files
// into the game directory. It is idempotent: a second run with unchanged
// inputs produces identical on-disk state.
//
// On error the files linked so far stay recorded in the instance's
// tracking, so a later clean reverses exactly what was done.
func Redeploy(inst *instance.Instance, cat *catalog.Catalog) error {
	slog.Debug("Redeploying packages", slog.String("instance", inst.Name))

	if err := Clean(inst); err != nil {
		return err
	}

	for _, id := range inst.EnabledPackages() {
		m, ok := cat.ByID(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingPackage, id)
		}

		if !m.Kind.Installable() {
			continue
		}

		contentDir := inst.DeploymentPathFor(id)
		if _, err := os.Stat(contentDir); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingContent, id)
		}

		slog.Debug("Deploying package", slog.String("package", id.String()))

		instructions, err := InstallInstructions(m, contentDir)
		if err != nil {
			return err
		}

		for _, instruction := range instructions {
			dest := filepath.Join(inst.GameRoot, instruction.Dest)

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("failed to create deployment directory: %w", err)
			}

			if err := os.Link(instruction.Source, dest); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrLinkFailed, instruction.Dest, err)
			}

			inst.Tracked[id] = append(inst.Tracked[id], instruction.Dest)
		}
	}

	return nil
}

// Clean removes every tracked file from the game directory and empties the
// tracking. Files already gone are not errors.
func Clean(inst *instance.Instance) error {
	slog.Debug("Cleaning deployed packages", slog.String("instance", inst.Name))

	for id, files := range inst.Tracked {
		for _, rel := range files {
			path := filepath.Join(inst.GameRoot, rel)

			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s of %s: %w", rel, id, err)
			}
		}
	}

	inst.Tracked = map[catalog.PackageID][]string{}

	return nil
}
