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

// Package extract unpacks downloaded package archives into an instance's
// deployment directory.
package extract

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/download"
	"github.com/munpkg/munpkg/internal/instance"
)

var (
	// ErrNotInstallable is returned for metapackages and DLC, which have
	// no content of their own.
	ErrNotInstallable = errors.New("package has no installable content")
	// ErrUnsupportedContentType is returned for archives that are not
	// zip; nothing else is supported.
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrExtraction is returned when an archive cannot be unpacked.
	ErrExtraction = errors.New("extraction failed")
)

// ContentToDeployment unpacks a package's downloaded archive into the
// instance's deployment directory, where redeploy links it from. Already
// extracted content is left alone unless force is set.
func ContentToDeployment(conf *config.Config, inst *instance.Instance, m *catalog.Manifest, force bool) error {
	if !m.Kind.Installable() {
		return fmt.Errorf("%w: %s is a %s", ErrNotInstallable, m.ID, m.Kind)
	}

	// Absent content types overwhelmingly mean zip in practice.
	if ct := m.DownloadContentType; ct != "" && ct != "application/zip" {
		return fmt.Errorf("%w: %s: %s", ErrUnsupportedContentType, m.ID, ct)
	}

	targetDir := inst.DeploymentPathFor(m.ID)
	if _, err := os.Stat(targetDir); err == nil && !force {
		slog.Debug("Package already extracted", slog.String("package", m.ID.String()))
		return nil
	}

	return Unzip(download.PathFor(conf, m.ID), targetDir)
}

// Unzip writes all entries of a zip archive rooted at targetDir. On
// failure the partially populated target is removed before returning.
func Unzip(archivePath, targetDir string) error {
	if err := unzip(archivePath, targetDir); err != nil {
		_ = os.RemoveAll(targetDir)
		return fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return nil
}

func unzip(archivePath, targetDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	for _, f := range r.File {
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return fmt.Errorf("archive entry %q escapes the target directory", f.Name)
		}

		target := filepath.Join(targetDir, filepath.FromSlash(f.Name))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %q: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write %q: %w", target, err)
	}

	return nil
}
