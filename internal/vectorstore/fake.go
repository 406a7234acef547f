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
	"strings"
	"sync"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/model"
)

// Fake is an in-memory vector store used by orchestrator/consumer tests.
// It enforces the same dimension-mismatch-is-fatal rule as Store.
type Fake struct {
	mu        sync.Mutex
	dimension int
	points    map[uint64]model.VectorPoint
}

// NewFake builds a fake with a fixed expected dimension; pass 0 to accept
// any dimension (useful when dimension isn't the behavior under test).
func NewFake(dimension int) *Fake {
	return &Fake{dimension: dimension, points: make(map[uint64]model.VectorPoint)}
}

func (f *Fake) UpsertPoint(_ context.Context, point model.VectorPoint) error {
	if f.dimension > 0 && len(point.Embedding) != f.dimension {
		return apperr.NewFatal("embedding dimension mismatch", "", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[point.PointID] = point
	return nil
}

func (f *Fake) QueryByPath(_ context.Context, projectName, pathSubstring string, limit int) ([]model.VectorPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.VectorPoint
	for _, p := range f.points {
		if p.ProjectName == projectName && strings.Contains(p.AbsolutePath, pathSubstring) {
			out = append(out, p)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// PointCount exists for test assertions (idempotence scenarios in §8).
func (f *Fake) PointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}
