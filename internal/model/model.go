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

// Package model holds the data-model records (§3) shared across the
// Vector Store Adapter, Graph Store Adapter, and Enrichment Orchestrator,
// generalizing the entity/edge structs of the teacher's ingestion schema
// from a single CozoDB row shape to cross-package values passed between
// adapters over the network.
package model

import "time"

// FileRecord describes one source file flowing through the pipeline. A
// FileRecord is created by the ingester/producer, lives for the duration
// of a single pipeline run, and is discarded after completion.
type FileRecord struct {
	ProjectName  string
	AbsolutePath string
	RelativePath string
	ProjectRoot  string
	Content      []byte
	ContentHash  string // BLAKE3 or equivalent, hex-encoded
	Language     string
	ModifiedAt   time.Time
}

// EntityType is the closed set of node kinds the pipeline can write. Its
// values match identity.EntityType one for one; callers convert
// (identity.EntityType(t)) when minting ids.
type EntityType string

const (
	EntityFile      EntityType = "FILE"
	EntityDirectory EntityType = "DIRECTORY"
	EntityProject   EntityType = "PROJECT"
	EntityFunction  EntityType = "FUNCTION"
	EntityClass     EntityType = "CLASS"
	EntityMethod    EntityType = "METHOD"
	EntityVariable  EntityType = "VARIABLE"
	EntityConcept   EntityType = "CONCEPT"
	EntityPattern   EntityType = "PATTERN"
	EntityExample   EntityType = "CODE_EXAMPLE"
	EntityDocument  EntityType = "DOCUMENT"
)

// Entity is one node to be upserted into the graph store.
type Entity struct {
	EntityID     string
	EntityType   EntityType
	Name         string
	Description  string
	SourcePath   string
	ProjectName  string
	CreatedAt    time.Time
	ExtractionBy string  // extraction method, e.g. "tree-sitter", "regex"
	Confidence   float64 // extraction confidence, [0,1]
	FileHash     string
}

// RelationshipType is the closed set of edge kinds the pipeline can write.
type RelationshipType string

const (
	RelContains   RelationshipType = "CONTAINS"
	RelImports    RelationshipType = "IMPORTS"
	RelDefines    RelationshipType = "DEFINES"
	RelCoordinate RelationshipType = "COORDINATES"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelRelatesTo  RelationshipType = "RELATES_TO"
	RelHasConcept RelationshipType = "HAS_CONCEPT"
	RelDependsOn  RelationshipType = "DEPENDS_ON"
)

// Relationship is one edge to be upserted into the graph store. Source and
// target must already exist as REAL nodes (see graphstore package docs);
// this struct carries no information about whether that is true — the
// adapter enforces it at upsert time.
type Relationship struct {
	RelationshipID   string
	SourceEntityID   string
	TargetEntityID   string
	RelationshipType RelationshipType
	Strength         float64
	Context          map[string]string
	CreatedAt        time.Time
}

// EnrichmentPayload is the Stage-2/3 intelligence result for one file,
// consumed by the vector store payload and by graph entity/import upsert.
type EnrichmentPayload struct {
	Concepts       []string // ordered, ≤5
	Themes         []string // ordered, ≤5
	QualityScore   float64
	OnexCompliance bool
	Entities       []ExtractedEntity
	Imports        []ExtractedImport
	BlakeHash      string // from the metadata-stamping service, stage 3
	OnexMetadata   map[string]string
}

// ExtractedEntity is one entity found inside a file by the intelligence
// service, prior to id assignment by the Entity Identity Service.
type ExtractedEntity struct {
	Type       EntityType
	Name       string
	QualifiedName string
	StartLine  int
	EndLine    int
}

// ExtractedImport is one import/reference statement found inside a file,
// prior to resolution against the graph store's lookup_entity_id.
type ExtractedImport struct {
	ImportPath string // as written, e.g. "./b" or "github.com/org/pkg"
	Alias      string
	Line       int
}

// VectorPoint is the payload written to the vector store per §3/§6.
type VectorPoint struct {
	PointID        uint64
	Embedding      []float32
	AbsolutePath   string
	RelativePath   string
	ProjectName    string
	ProjectRoot    string
	IndexedAt      time.Time
	QualityScore   float64
	OnexCompliance bool
	Concepts       []string
	Themes         []string
}
