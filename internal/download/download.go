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

// Package download fetches package archives into the content-addressed
// download cache, verifying the manifest's digest on the way through.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/hashreader"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

// ErrUnavailable is returned for packages without downloadable content: a
// missing download URL, or a plain http URL when httpsOnly is set.
var ErrUnavailable = errors.New("package has no downloadable content")

// PathFor is the cache path of a package archive, addressed by identifier
// and version.
func PathFor(conf *config.Config, id catalog.PackageID) string {
	return filepath.Join(conf.DownloadDir, id.Name+id.Version.String()+".zip")
}

// Result pairs a package with the outcome of its download. The caller
// decides whether a partial batch is fatal.
type Result struct {
	Manifest *catalog.Manifest
	Path     string
	Err      error
}

// All downloads every package's archive, skipping those already cached
// unless force is set. Failures are reported per package.
func All(ctx context.Context, conf *config.Config, manifests []*catalog.Manifest, force bool) []Result {
	var progress *mpb.Progress
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		progress = mpb.NewWithContext(ctx)
		defer progress.Shutdown()
	}

	var bar *mpb.Bar
	if progress != nil {
		bar = progress.AddBar(int64(len(manifests)),
			mpb.PrependDecorators(
				decor.Name("Downloading: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
			),
		)
	}

	results := make([]Result, len(manifests))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(10)

	for i, m := range manifests {
		i, m := i, m

		g.Go(func() error {
			defer func() {
				if bar != nil {
					bar.Increment()
				}
			}()

			path, err := One(ctx, conf, m, force)
			results[i] = Result{Manifest: m, Path: path, Err: err}

			return nil
		})
	}

	_ = g.Wait()

	if bar != nil {
		bar.SetTotal(bar.Current(), true)
		bar.Wait()
	}

	return results
}

// One downloads a single package archive into the cache and returns its
// path. An existing archive is reused unless force is set. The archive
// only lands at its final path after its digest verifies; an interrupted
// download is never mistaken for a complete one.
func One(ctx context.Context, conf *config.Config, m *catalog.Manifest, force bool) (string, error) {
	path := PathFor(conf, m.ID)

	if _, err := os.Stat(path); err == nil && !force {
		slog.Debug("Package already downloaded", slog.String("package", m.ID.String()))
		return path, nil
	}

	if m.Download == "" {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, m.ID)
	}

	downloadURL, err := url.Parse(m.Download)
	if err != nil {
		return "", fmt.Errorf("failed to parse download URL: %w", err)
	}

	if conf.HTTPSOnly && downloadURL.Scheme != "https" {
		return "", fmt.Errorf("%w: %s: refusing %s URL", ErrUnavailable, m.ID, downloadURL.Scheme)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	slog.Debug("Downloading package",
		slog.String("package", m.ID.String()), slog.String("url", m.Download))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download package: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download package: unexpected status %s", resp.Status)
	}

	var hr *hashreader.HashReader
	var expected string
	switch {
	case m.DownloadHashSHA256 != "":
		hr = hashreader.NewReader(resp.Body)
		expected = m.DownloadHashSHA256
	case m.DownloadHashSHA1 != "":
		hr = hashreader.NewSHA1Reader(resp.Body)
		expected = m.DownloadHashSHA1
	}

	var body io.Reader = resp.Body
	if hr != nil {
		body = hr
	}

	partPath := path + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}

	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(partPath)
		return "", fmt.Errorf("failed to read package: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("failed to write download file: %w", err)
	}

	if hr != nil {
		if err := hr.Verify(expected); err != nil {
			_ = os.Remove(partPath)
			return "", fmt.Errorf("failed to verify package %s: %w", m.ID, err)
		}
	}

	if err := os.Rename(partPath, path); err != nil {
		return "", fmt.Errorf("failed to finalize download: %w", err)
	}

	return path, nil
}
