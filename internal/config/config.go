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

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/munpkg/munpkg/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds the client's directories and catalog source.
type Config struct {
	// DataDir stores the catalog blob and instance files.
	DataDir string `yaml:"dataDir"`
	// DownloadDir caches package archives, addressed by identifier and
	// version.
	DownloadDir string `yaml:"downloadDir"`
	// CatalogURL is the metadata repository archive to update from.
	CatalogURL string `yaml:"catalogURL"`
	// HTTPSOnly refuses plain http download URLs.
	HTTPSOnly bool `yaml:"httpsOnly"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	dataDir, _ := xdg.DataFile("munpkg")
	cacheDir, _ := xdg.CacheFile("munpkg")

	return &Config{
		DataDir:     dataDir,
		DownloadDir: filepath.Join(cacheDir, "downloads"),
		CatalogURL:  constants.DefaultCatalogURL,
		HTTPSOnly:   true,
	}
}

// Load reads the configuration from path, falling back to defaults when
// the file does not exist. Empty fields are filled from the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return FromYAML(f)
}

// FromYAML reads a configuration document.
func FromYAML(r io.Reader) (*Config, error) {
	conf := Default()
	if err := yaml.NewDecoder(r).Decode(conf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	defaults := Default()
	if conf.DataDir == "" {
		conf.DataDir = defaults.DataDir
	}
	if conf.DownloadDir == "" {
		conf.DownloadDir = defaults.DownloadDir
	}
	if conf.CatalogURL == "" {
		conf.CatalogURL = defaults.CatalogURL
	}

	return conf, nil
}

// ToYAML writes the configuration document.
func ToYAML(w io.Writer, conf *Config) error {
	if err := yaml.NewEncoder(w).Encode(conf); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return nil
}

// CatalogPath is where the persisted catalog blob lives.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "metadb.bin")
}

// InstancesDir is where instance files live.
func (c *Config) InstancesDir() string {
	return filepath.Join(c.DataDir, "instances")
}
