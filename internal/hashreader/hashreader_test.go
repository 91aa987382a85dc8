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

package hashreader_test

import (
	"io"
	"strings"
	"testing"

	"github.com/munpkg/munpkg/internal/hashreader"
	"github.com/stretchr/testify/require"
)

func TestHashReader(t *testing.T) {
	t.Run("SHA256", func(t *testing.T) {
		hr := hashreader.NewReader(strings.NewReader("hello world"))

		_, err := io.Copy(io.Discard, hr)
		require.NoError(t, err)

		require.NoError(t, hr.Verify("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"))
	})

	t.Run("SHA1", func(t *testing.T) {
		hr := hashreader.NewSHA1Reader(strings.NewReader("hello world"))

		_, err := io.Copy(io.Discard, hr)
		require.NoError(t, err)

		require.NoError(t, hr.Verify("2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"))
	})

	t.Run("Mismatch", func(t *testing.T) {
		hr := hashreader.NewReader(strings.NewReader("hello world"))

		_, err := io.Copy(io.Discard, hr)
		require.NoError(t, err)

		err = hr.Verify("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
		require.ErrorIs(t, err, hashreader.ErrMismatch)
	})

	t.Run("Invalid Hex", func(t *testing.T) {
		hr := hashreader.NewReader(strings.NewReader("hello world"))

		_, err := io.Copy(io.Discard, hr)
		require.NoError(t, err)

		require.Error(t, hr.Verify("not hex"))
	})
}
