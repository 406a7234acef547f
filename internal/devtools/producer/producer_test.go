// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package producer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/enrichment-consumer/internal/bus"
	"github.com/kraklabs/enrichment-consumer/internal/envelope"
)

func TestWalk_PublishesEachFileOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b"), 0o644))

	b := bus.NewFakeBus()
	p := New(b, "demo")

	result, err := p.Walk(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Published)
	assert.Len(t, b.Published(envelope.TopicFileRequested), 2)
}

func TestWalk_SkipsUnchangedFilesOnSecondPass(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))

	b := bus.NewFakeBus()
	p := New(b, "demo")

	_, err := p.Walk(context.Background(), dir, nil)
	require.NoError(t, err)

	result, err := p.Walk(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Published)
	assert.Equal(t, 1, result.Unchanged)
}

func TestWalk_RepublishesChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	b := bus.NewFakeBus()
	p := New(b, "demo")

	_, err := p.Walk(context.Background(), dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("package a // changed"), 0o644))
	result, err := p.Walk(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Published)
}

func TestWalk_FilterExcludesPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor", "dep.go"), []byte("package dep"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))

	b := bus.NewFakeBus()
	p := New(b, "demo")

	filter := func(path string) bool { return filepath.Base(filepath.Dir(path)) != "vendor" }
	result, err := p.Walk(context.Background(), dir, filter)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Published)
	assert.Equal(t, 1, result.Skipped)
}
