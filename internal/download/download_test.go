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

package download_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/download"
	"github.com/munpkg/munpkg/internal/hashreader"
	"github.com/munpkg/munpkg/internal/testutil"
	"github.com/munpkg/munpkg/internal/version"
	"github.com/stretchr/testify/require"
)

var archiveContent = []byte("pretend this is a zip archive")

func downloadManifest(name, url, sha256Hex string) *catalog.Manifest {
	return &catalog.Manifest{
		SpecVersion:        "v1.4",
		ID:                 catalog.PackageID{Name: name, Version: version.MustParse("1.0")},
		Name:               name,
		Abstract:           "a test package",
		Authors:            []string{"test"},
		Licenses:           []string{"MIT"},
		Download:           url,
		DownloadHashSHA256: sha256Hex,
		GameVersion:        version.Unbounded[version.GameVersion](),
	}
}

func TestDownload(t *testing.T) {
	testutil.SetupGlobals(t)

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(archiveContent)
	}))
	t.Cleanup(server.Close)

	digest := sha256.Sum256(archiveContent)
	goodHash := hex.EncodeToString(digest[:])

	conf := &config.Config{
		DataDir:     t.TempDir(),
		DownloadDir: t.TempDir(),
		HTTPSOnly:   false,
	}

	t.Run("Verified Download", func(t *testing.T) {
		m := downloadManifest("PkgA", server.URL+"/PkgA.zip", goodHash)

		path, err := download.One(context.Background(), conf, m, false)
		require.NoError(t, err)
		require.Equal(t, download.PathFor(conf, m.ID), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, archiveContent, data)

		// No partial file left behind.
		_, err = os.Stat(path + ".part")
		require.True(t, os.IsNotExist(err))
	})

	t.Run("Cached Download Is Skipped", func(t *testing.T) {
		m := downloadManifest("PkgA", server.URL+"/PkgA.zip", goodHash)

		before := hits.Load()
		_, err := download.One(context.Background(), conf, m, false)
		require.NoError(t, err)
		require.Equal(t, before, hits.Load())
	})

	t.Run("Hash Mismatch", func(t *testing.T) {
		m := downloadManifest("PkgB", server.URL+"/PkgB.zip",
			"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")

		_, err := download.One(context.Background(), conf, m, false)
		require.ErrorIs(t, err, hashreader.ErrMismatch)

		// A failed download must not be claimed as complete.
		_, err = os.Stat(download.PathFor(conf, m.ID))
		require.True(t, os.IsNotExist(err))
	})

	t.Run("Missing URL", func(t *testing.T) {
		m := downloadManifest("PkgC", "", "")

		_, err := download.One(context.Background(), conf, m, false)
		require.ErrorIs(t, err, download.ErrUnavailable)
	})

	t.Run("HTTPS Only", func(t *testing.T) {
		strict := &config.Config{
			DataDir:     conf.DataDir,
			DownloadDir: t.TempDir(),
			HTTPSOnly:   true,
		}

		m := downloadManifest("PkgD", server.URL+"/PkgD.zip", goodHash)

		_, err := download.One(context.Background(), strict, m, false)
		require.ErrorIs(t, err, download.ErrUnavailable)
	})

	t.Run("All Reports Per Package", func(t *testing.T) {
		manifests := []*catalog.Manifest{
			downloadManifest("PkgE", server.URL+"/PkgE.zip", goodHash),
			downloadManifest("PkgF", "", ""),
		}

		results := download.All(context.Background(), conf, manifests, false)
		require.Len(t, results, 2)

		byName := map[string]download.Result{}
		for _, result := range results {
			byName[result.Manifest.ID.Name] = result
		}

		require.NoError(t, byName["PkgE"].Err)
		require.FileExists(t, byName["PkgE"].Path)
		require.ErrorIs(t, byName["PkgF"].Err, download.ErrUnavailable)
	})
}

func TestPathFor(t *testing.T) {
	conf := &config.Config{DownloadDir: "/downloads"}
	id := catalog.PackageID{Name: "MechJeb2", Version: version.MustParse("2.12.0.0")}

	require.Equal(t, filepath.Join("/downloads", "MechJeb22.12.0.0.zip"), download.PathFor(conf, id))
}
