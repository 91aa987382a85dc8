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

package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// SetupGlobals routes the default slog logger to the test log at debug
// level for the duration of the test.
func SetupGlobals(t *testing.T) {
	var buf bytes.Buffer
	h := &bridge{
		t:   t,
		buf: &buf,
		mu:  &sync.Mutex{},
		Handler: slog.NewTextHandler(&buf, &slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}),
	}

	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	t.Cleanup(func() { slog.SetDefault(prev) })
}

type bridge struct {
	t   *testing.T
	buf *bytes.Buffer
	mu  *sync.Mutex
	slog.Handler
}

func (h *bridge) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	h.t.Log(strings.TrimSuffix(h.buf.String(), "\n"))
	h.buf.Reset()

	return nil
}
