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

package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/identity"
	"github.com/kraklabs/enrichment-consumer/internal/model"
)

func TestUpsertPoint_DimensionMismatchIsFatalNotRetried(t *testing.T) {
	store := NewFake(1536)
	err := store.UpsertPoint(context.Background(), model.VectorPoint{
		PointID: 1, Embedding: make([]float32, 768),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
}

func TestUpsertPoint_IdempotentByDeterministicID(t *testing.T) {
	store := NewFake(3)
	ctx := context.Background()
	pointID := identity.PointID("demo", "/src/main.py", "hash1")

	point := model.VectorPoint{
		PointID: pointID, Embedding: []float32{0.1, 0.2, 0.3},
		ProjectName: "demo", AbsolutePath: "/src/main.py", IndexedAt: time.Now(),
	}
	require.NoError(t, store.UpsertPoint(ctx, point))
	require.NoError(t, store.UpsertPoint(ctx, point))

	assert.Equal(t, 1, store.PointCount())
}

func TestQueryByPath_FiltersByProjectAndSubstring(t *testing.T) {
	store := NewFake(0)
	ctx := context.Background()

	_ = store.UpsertPoint(ctx, model.VectorPoint{PointID: 1, ProjectName: "demo", AbsolutePath: "/src/main.py"})
	_ = store.UpsertPoint(ctx, model.VectorPoint{PointID: 2, ProjectName: "demo", AbsolutePath: "/src/util.py"})
	_ = store.UpsertPoint(ctx, model.VectorPoint{PointID: 3, ProjectName: "other", AbsolutePath: "/src/main.py"})

	results, err := store.QueryByPath(ctx, "demo", "main", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/src/main.py", results[0].AbsolutePath)
}
