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

package extract_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/download"
	"github.com/munpkg/munpkg/internal/extract"
	"github.com/munpkg/munpkg/internal/instance"
	"github.com/munpkg/munpkg/internal/resolver"
	"github.com/munpkg/munpkg/internal/testutil"
	"github.com/munpkg/munpkg/internal/version"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestUnzip(t *testing.T) {
	testutil.SetupGlobals(t)

	archivePath := filepath.Join(t.TempDir(), "mod.zip")
	writeZip(t, archivePath, map[string]string{
		"GameData/Mod/plugin.dll":   "plugin",
		"GameData/Mod/settings.cfg": "settings",
	})

	target := filepath.Join(t.TempDir(), "content")
	require.NoError(t, extract.Unzip(archivePath, target))

	data, err := os.ReadFile(filepath.Join(target, "GameData", "Mod", "plugin.dll"))
	require.NoError(t, err)
	require.Equal(t, "plugin", string(data))
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	testutil.SetupGlobals(t)

	archivePath := filepath.Join(t.TempDir(), "evil.zip")
	writeZip(t, archivePath, map[string]string{
		"../evil.txt": "gotcha",
	})

	target := filepath.Join(t.TempDir(), "content")
	err := extract.Unzip(archivePath, target)
	require.ErrorIs(t, err, extract.ErrExtraction)

	// The partially populated target was removed.
	_, statErr := os.Stat(target)
	require.True(t, os.IsNotExist(statErr))
}

func TestUnzipMissingArchive(t *testing.T) {
	testutil.SetupGlobals(t)

	err := extract.Unzip(filepath.Join(t.TempDir(), "nope.zip"), filepath.Join(t.TempDir(), "content"))
	require.ErrorIs(t, err, extract.ErrExtraction)
}

func TestContentToDeployment(t *testing.T) {
	testutil.SetupGlobals(t)

	conf := &config.Config{
		DataDir:     t.TempDir(),
		DownloadDir: t.TempDir(),
	}

	gameVersions := []version.GameVersion{version.MustParseGame("1.12.3")}
	root := t.TempDir()
	inst := &instance.Instance{
		Name:          "test",
		GameRoot:      filepath.Join(root, "game"),
		DeploymentDir: filepath.Join(root, "deploy"),
		Tree:          resolver.NewTree(gameVersions),
		Tracked:       map[catalog.PackageID][]string{},
	}

	m := &catalog.Manifest{
		SpecVersion:         "v1.4",
		ID:                  catalog.PackageID{Name: "Mod", Version: version.MustParse("1.0")},
		Name:                "Mod",
		Abstract:            "a test package",
		Authors:             []string{"test"},
		Licenses:            []string{"MIT"},
		Download:            "https://example.invalid/mod.zip",
		DownloadContentType: "application/zip",
		GameVersion:         version.Unbounded[version.GameVersion](),
	}

	writeZip(t, download.PathFor(conf, m.ID), map[string]string{
		"GameData/Mod/plugin.dll": "plugin",
	})

	t.Run("Extracts To Deployment Dir", func(t *testing.T) {
		require.NoError(t, extract.ContentToDeployment(conf, inst, m, false))
		require.FileExists(t, filepath.Join(inst.DeploymentPathFor(m.ID), "GameData", "Mod", "plugin.dll"))
	})

	t.Run("Already Extracted Is Skipped", func(t *testing.T) {
		marker := filepath.Join(inst.DeploymentPathFor(m.ID), "marker")
		require.NoError(t, os.WriteFile(marker, nil, 0o644))

		require.NoError(t, extract.ContentToDeployment(conf, inst, m, false))
		require.FileExists(t, marker)
	})

	t.Run("Unsupported Content Type", func(t *testing.T) {
		rar := *m
		rar.ID = catalog.PackageID{Name: "RarMod", Version: version.MustParse("1.0")}
		rar.DownloadContentType = "application/x-rar"

		err := extract.ContentToDeployment(conf, inst, &rar, false)
		require.ErrorIs(t, err, extract.ErrUnsupportedContentType)
	})

	t.Run("Metapackage Has No Content", func(t *testing.T) {
		meta := *m
		meta.ID = catalog.PackageID{Name: "Bundle", Version: version.MustParse("1.0")}
		meta.Kind = catalog.KindMetaPackage

		err := extract.ContentToDeployment(conf, inst, &meta, false)
		require.ErrorIs(t, err, extract.ErrNotInstallable)
	})
}
