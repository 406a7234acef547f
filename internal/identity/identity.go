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

// Package identity implements the Entity Identity Service: deterministic,
// collision-resistant, schema-conforming identifiers for every node and
// relationship the pipeline writes. Two independent runs indexing the same
// file content at the same path must produce the same entity_id — this is
// the sole mechanism by which the graph store achieves upsert idempotence
// without a central registry.
package identity

import (
	"encoding/binary"
	"encoding/hex"
	"regexp"

	"lukechampine.com/blake3"
)

// EntityType enumerates the closed set of node kinds this service mints
// IDs for. The prefix each type maps to is fixed by the format invariant
// and must never be derived from free-form input.
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

// prefixes maps an EntityType to the lowercase prefix used in its id, per
// the format invariant in §4.2/§8 of the spec this package implements.
var prefixes = map[EntityType]string{
	EntityFile:      "file",
	EntityDirectory: "dir",
	EntityProject:   "project",
	EntityFunction:  "func",
	EntityClass:     "class",
	EntityMethod:    "method",
	EntityVariable:  "var",
	EntityConcept:   "concept",
	EntityPattern:   "pattern",
	EntityExample:   "example",
	EntityDocument:  "doc",
}

// formatRe is the single source of truth for what a well-formed entity_id
// looks like. Every validator in this codebase must route through
// ValidFormat rather than re-implementing this pattern.
var formatRe = regexp.MustCompile(`^(file|dir|project|func|class|method|var|concept|pattern|example|doc)_[a-f0-9]{12,}$`)

// hash computes first_n_hex(BLAKE3(parts joined by NUL)).
func hash(n int, parts ...string) string {
	h := blake3.New(32, nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	enc := hex.EncodeToString(sum)
	if n > len(enc) {
		n = len(enc)
	}
	return enc[:n]
}

// FileID computes the deterministic id of a FILE entity per §4.2:
// "file_" + first_12_hex(BLAKE3(project || absolute_path || content_hash)).
func FileID(projectName, absolutePath, contentHash string) string {
	return "file_" + hash(12, projectName, absolutePath, contentHash)
}

// DirectoryID computes the deterministic id of a DIRECTORY entity:
// "dir_" + first_12_hex(BLAKE3(project || absolute_path)).
func DirectoryID(projectName, absolutePath string) string {
	return "dir_" + hash(12, projectName, absolutePath)
}

// ProjectID computes the deterministic id of a PROJECT entity:
// "project_" + first_12_hex(BLAKE3(project_name)).
func ProjectID(projectName string) string {
	return "project_" + hash(12, projectName)
}

// EntityID computes the deterministic id for any owned-by-file entity kind
// (FUNCTION, CLASS, METHOD, VARIABLE, CONCEPT, PATTERN, CODE_EXAMPLE,
// DOCUMENT): "{prefix}_" + first_12_hex(BLAKE3(owning_file_id || qualified_name)).
// It panics on an unknown EntityType — the enum is closed and immutable
// after init, so an unknown value is a programming error, not input to
// validate.
func EntityID(entityType EntityType, owningFileID, qualifiedName string) string {
	prefix, ok := prefixes[entityType]
	if !ok {
		panic("identity: unknown entity type " + string(entityType))
	}
	return prefix + "_" + hash(12, owningFileID, qualifiedName)
}

// RelationshipID computes the deterministic id of an edge per §4.2:
// first_16_hex(BLAKE3(src || rel_type || tgt)).
func RelationshipID(sourceEntityID, relationshipType, targetEntityID string) string {
	return hash(16, sourceEntityID, relationshipType, targetEntityID)
}

// PointID derives the 64-bit integer vector-store point id from the same
// deterministic hash family used for FILE entity_ids, per §6: "Point ID is
// a 64-bit integer = low 64 bits of the deterministic BLAKE3 hash."
func PointID(projectName, absolutePath, contentHash string) uint64 {
	h := blake3.New(32, nil)
	h.Write([]byte(projectName))
	h.Write([]byte{0})
	h.Write([]byte(absolutePath))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[len(sum)-8:])
}

// ValidFormat enforces the format invariants of §4.2/§8: the closed prefix
// set, lowercase hex, minimum length, and (implicitly, via the regex
// anchors) the absence of ':', '/', '.', whitespace or uppercase anywhere
// in the id.
func ValidFormat(id string) bool {
	return formatRe.MatchString(id)
}

// HasPathFragment reports whether id looks like a stray path or
// module-qualified name was used in place of a proper entity_id — a colon,
// a slash, or a dot. Per §4.2 this is a HARD error for a FILE entity_id;
// callers must reject such ids outright rather than attempt to create a
// node with them.
func HasPathFragment(id string) bool {
	for _, r := range id {
		switch r {
		case ':', '/', '.':
			return true
		}
	}
	return false
}
