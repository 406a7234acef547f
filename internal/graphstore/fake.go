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
	"sync"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/model"
)

// Fake is an in-memory graph store used by orchestrator/consumer tests so
// the six-stage pipeline can be exercised without a running Neo4j. It
// enforces the same REAL-node/no-placeholder invariant the real adapter
// enforces, rather than being a permissive stub.
type Fake struct {
	mu            sync.Mutex
	nodes         map[string]model.Entity
	relationships map[string]model.Relationship
	// hasEdge tracks, per entity_id, whether it has any incident relationship
	// (for DetectOrphans).
	hasEdge           map[string]bool
	unresolvedImports int64
}

func NewFake() *Fake {
	return &Fake{
		nodes:         make(map[string]model.Entity),
		relationships: make(map[string]model.Relationship),
		hasEdge:       make(map[string]bool),
	}
}

func (f *Fake) UpsertNode(_ context.Context, e model.Entity) error {
	if e.Name == "" || e.Name == "unknown" {
		return apperr.NewFatal("refusing to write placeholder node", e.EntityID, nil)
	}
	if _, ok := labelFor(e.EntityType); !ok {
		return apperr.NewFatal("unknown entity type", string(e.EntityType), nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[e.EntityID] = e
	return nil
}

func (f *Fake) UpsertRelationship(_ context.Context, rel model.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, srcOK := f.nodes[rel.SourceEntityID]
	tgt, tgtOK := f.nodes[rel.TargetEntityID]
	if !srcOK || !tgtOK || src.Name == "unknown" || tgt.Name == "unknown" {
		return apperr.NewFatal("relationship endpoint missing or is a placeholder", rel.RelationshipID, nil)
	}
	f.relationships[rel.RelationshipID] = rel
	f.hasEdge[rel.SourceEntityID] = true
	f.hasEdge[rel.TargetEntityID] = true
	return nil
}

func (f *Fake) LookupEntityID(_ context.Context, projectName, path string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, n := range f.nodes {
		if n.ProjectName == projectName && n.SourcePath == path && n.EntityType == model.EntityFile {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (f *Fake) DetectOrphans(_ context.Context, projectName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orphans []string
	for id, n := range f.nodes {
		if n.ProjectName == projectName && n.EntityType == model.EntityFile && !f.hasEdge[id] {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

func (f *Fake) RecordUnresolvedImport() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unresolvedImports++
}

func (f *Fake) UnresolvedImports() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unresolvedImports
}

// NodeCount and RelationshipCount exist for test assertions (idempotence
// scenarios in §8).
func (f *Fake) NodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes)
}

func (f *Fake) RelationshipCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.relationships)
}

// NodesByType returns every node of entityType, for assertions over which
// directories/entities got created (§8 nested-path scenarios).
func (f *Fake) NodesByType(entityType model.EntityType) []model.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Entity
	for _, n := range f.nodes {
		if n.EntityType == entityType {
			out = append(out, n)
		}
	}
	return out
}
