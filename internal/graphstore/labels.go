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

import "github.com/kraklabs/enrichment-consumer/internal/model"

// Label is a graph-node label. The set is closed and case-exact (§3):
// PROJECT is intentionally all-caps, everything else is PascalCase. No
// code path may construct a Label from a raw string; every Cypher query
// in this package sources labels from this enum, via labelFor or the
// Label constants.
type Label string

const (
	LabelFile        Label = "File"
	LabelDirectory   Label = "Directory"
	LabelProject     Label = "PROJECT"
	LabelFunction    Label = "Function"
	LabelClass       Label = "Class"
	LabelMethod      Label = "Method"
	LabelVariable    Label = "Variable"
	LabelConcept     Label = "Concept"
	LabelPattern     Label = "Pattern"
	LabelCodeExample Label = "CodeExample"
	LabelDocument    Label = "Document"
)

var labelByEntityType = map[model.EntityType]Label{
	model.EntityFile:      LabelFile,
	model.EntityDirectory: LabelDirectory,
	model.EntityProject:   LabelProject,
	model.EntityFunction:  LabelFunction,
	model.EntityClass:     LabelClass,
	model.EntityMethod:    LabelMethod,
	model.EntityVariable:  LabelVariable,
	model.EntityConcept:   LabelConcept,
	model.EntityPattern:   LabelPattern,
	model.EntityExample:   LabelCodeExample,
	model.EntityDocument:  LabelDocument,
}

// labelFor resolves the closed-enum label for an entity type. It returns
// ("", false) for any value outside the enum rather than guessing — a
// raw/unknown entity type must never reach Cypher as a label literal.
func labelFor(t model.EntityType) (Label, bool) {
	l, ok := labelByEntityType[t]
	return l, ok
}
