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

package hashreader

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

// ErrMismatch is returned by Verify when the calculated digest does not
// match the expected one.
var ErrMismatch = errors.New("hash mismatch")

// HashReader wraps an io.Reader and calculates a digest of everything read
// through it.
type HashReader struct {
	reader io.Reader
	hasher hash.Hash
}

// NewReader creates a HashReader calculating a SHA-256 digest.
func NewReader(r io.Reader) *HashReader {
	return newReader(r, sha256.New())
}

// NewSHA1Reader creates a HashReader calculating a SHA-1 digest, for
// manifests that only publish the legacy hash.
func NewSHA1Reader(r io.Reader) *HashReader {
	return newReader(r, sha1.New())
}

func newReader(r io.Reader, hasher hash.Hash) *HashReader {
	return &HashReader{
		reader: io.TeeReader(r, hasher),
		hasher: hasher,
	}
}

// Read reads from the underlying reader and updates the digest.
func (hr *HashReader) Read(p []byte) (int, error) {
	return hr.reader.Read(p)
}

// Verify checks the calculated digest against an expected hex string.
func (hr *HashReader) Verify(expected string) error {
	expectedHash, err := hex.DecodeString(expected)
	if err != nil {
		return fmt.Errorf("invalid expected hash: %w", err)
	}

	if !hmac.Equal(hr.hasher.Sum(nil), expectedHash) {
		return ErrMismatch
	}

	return nil
}
