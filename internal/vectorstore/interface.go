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

// Package vectorstore implements the Vector Store Adapter (C3): idempotent
// upserts of content-addressed vectors with payload metadata and
// deterministic point IDs.
package vectorstore

import (
	"context"

	"github.com/kraklabs/enrichment-consumer/internal/model"
)

// Adapter is the Vector Store Adapter contract the orchestrator depends
// on. *Store (Qdrant) and *Fake (in-memory, tests) both satisfy it.
type Adapter interface {
	UpsertPoint(ctx context.Context, point model.VectorPoint) error
	QueryByPath(ctx context.Context, projectName, pathSubstring string, limit int) ([]model.VectorPoint, error)
}

var (
	_ Adapter = (*Store)(nil)
	_ Adapter = (*Fake)(nil)
)
