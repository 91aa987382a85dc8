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

// Package diskcache persists HTTP responses on disk, so catalog updates
// and repeated downloads do not hammer the upstream metadata repository.
package diskcache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/rogpeppe/go-internal/cache"
)

// DiskCache implements the httpcache.Cache interface on top of a
// content-addressed directory cache.
type DiskCache struct {
	cache     *cache.Cache
	namespace string
}

// NewDiskCache opens (creating if necessary) a cache in the given
// directory. The namespace separates multiple caches sharing a directory.
func NewDiskCache(dir, namespace string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating cache directory: %w", err)
	}

	c, err := cache.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("error opening cache: %w", err)
	}

	// Drop entries untouched for a few days.
	c.Trim()

	return &DiskCache{
		cache:     c,
		namespace: namespace,
	}, nil
}

func (c *DiskCache) Get(key string) ([]byte, bool) {
	responseBytes, _, err := c.cache.GetBytes(c.actionID(key))
	if err != nil {
		if !(errors.Is(err, os.ErrNotExist) || err.Error() == "cache entry not found") {
			slog.Warn("Error getting cached response",
				slog.String("key", key), slog.Any("error", err))
		} else {
			slog.Debug("Cache miss", slog.String("key", key))
		}

		return nil, false
	}

	slog.Debug("Cache hit", slog.String("key", key))

	return responseBytes, true
}

func (c *DiskCache) Set(key string, responseBytes []byte) {
	slog.Debug("Storing cached response", slog.String("key", key))

	if err := c.cache.PutBytes(c.actionID(key), responseBytes); err != nil {
		slog.Warn("Error setting cached response", slog.Any("error", err))
	}
}

func (c *DiskCache) Delete(string) {}

func (c *DiskCache) actionID(key string) cache.ActionID {
	h := cache.NewHash(c.namespace)
	_, _ = h.Write([]byte(key))
	return h.Sum()
}
