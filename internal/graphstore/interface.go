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

package graphstore

import (
	"context"

	"github.com/kraklabs/enrichment-consumer/internal/model"
)

// Adapter is the Graph Store Adapter contract the orchestrator depends on.
// *Store (Neo4j) and *Fake (in-memory, tests) both satisfy it.
type Adapter interface {
	UpsertNode(ctx context.Context, e model.Entity) error
	UpsertRelationship(ctx context.Context, rel model.Relationship) error
	LookupEntityID(ctx context.Context, projectName, path string) (string, bool, error)
	DetectOrphans(ctx context.Context, projectName string) ([]string, error)
	RecordUnresolvedImport()
	UnresolvedImports() int64
}

var (
	_ Adapter = (*Store)(nil)
	_ Adapter = (*Fake)(nil)
)
