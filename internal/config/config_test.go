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

package config_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/constants"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	conf := config.Default()

	require.NotEmpty(t, conf.DataDir)
	require.NotEmpty(t, conf.DownloadDir)
	require.Equal(t, constants.DefaultCatalogURL, conf.CatalogURL)
	require.True(t, conf.HTTPSOnly)

	require.Equal(t, filepath.Join(conf.DataDir, "metadb.bin"), conf.CatalogPath())
	require.Equal(t, filepath.Join(conf.DataDir, "instances"), conf.InstancesDir())
}

func TestFromYAML(t *testing.T) {
	conf, err := config.FromYAML(strings.NewReader(`
dataDir: /var/lib/munpkg
downloadDir: /var/cache/munpkg
httpsOnly: false
`))
	require.NoError(t, err)

	require.Equal(t, "/var/lib/munpkg", conf.DataDir)
	require.Equal(t, "/var/cache/munpkg", conf.DownloadDir)
	require.False(t, conf.HTTPSOnly)

	// Unset fields fall back to defaults.
	require.Equal(t, constants.DefaultCatalogURL, conf.CatalogURL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	conf, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), conf)
}

func TestRoundTrip(t *testing.T) {
	conf := config.Default()
	conf.DataDir = "/tmp/munpkg-test"

	var buf bytes.Buffer
	require.NoError(t, config.ToYAML(&buf, conf))

	loaded, err := config.FromYAML(&buf)
	require.NoError(t, err)
	require.Equal(t, conf, loaded)
}
