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

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileID_Deterministic(t *testing.T) {
	id1 := FileID("demo", "/src/main.py", "abc123")
	id2 := FileID("demo", "/src/main.py", "abc123")
	require.Equal(t, id1, id2)
	assert.True(t, ValidFormat(id1), "id %q must match the format invariant", id1)
	assert.False(t, HasPathFragment(id1))
}

func TestFileID_DifferentContentDifferentID(t *testing.T) {
	id1 := FileID("demo", "/src/main.py", "abc123")
	id2 := FileID("demo", "/src/main.py", "def456")
	assert.NotEqual(t, id1, id2)
}

func TestFileID_HasFilePrefix(t *testing.T) {
	id := FileID("demo", "/src/main.py", "abc123")
	assert.Regexp(t, `^file_[a-f0-9]{12}$`, id)
}

func TestDirectoryID_Deterministic(t *testing.T) {
	id1 := DirectoryID("demo", "/src")
	id2 := DirectoryID("demo", "/src")
	require.Equal(t, id1, id2)
	assert.Regexp(t, `^dir_[a-f0-9]{12}$`, id1)
}

func TestProjectID_Deterministic(t *testing.T) {
	id1 := ProjectID("demo")
	id2 := ProjectID("demo")
	require.Equal(t, id1, id2)
	assert.Regexp(t, `^project_[a-f0-9]{12}$`, id1)
}

func TestEntityID_DifferentOwningFiles(t *testing.T) {
	id1 := EntityID(EntityFunction, "file_aaaaaaaaaaaa", "foo")
	id2 := EntityID(EntityFunction, "file_bbbbbbbbbbbb", "foo")
	assert.NotEqual(t, id1, id2)
	assert.Regexp(t, `^func_[a-f0-9]{12}$`, id1)
}

func TestEntityID_AllPrefixesCovered(t *testing.T) {
	cases := map[EntityType]string{
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
	for et, prefix := range cases {
		if et == EntityFile || et == EntityDirectory || et == EntityProject {
			continue // these have dedicated constructors, not EntityID
		}
		id := EntityID(et, "file_aaaaaaaaaaaa", "q.Name")
		assert.Truef(t, len(id) > len(prefix)+1 && id[:len(prefix)+1] == prefix+"_", "id %q should have prefix %q", id, prefix)
		assert.True(t, ValidFormat(id))
	}
}

func TestEntityID_UnknownTypePanics(t *testing.T) {
	assert.Panics(t, func() {
		EntityID(EntityType("BOGUS"), "file_aaaaaaaaaaaa", "x")
	})
}

func TestRelationshipID_Deterministic(t *testing.T) {
	id1 := RelationshipID("file_aaaaaaaaaaaa", "IMPORTS", "file_bbbbbbbbbbbb")
	id2 := RelationshipID("file_aaaaaaaaaaaa", "IMPORTS", "file_bbbbbbbbbbbb")
	require.Equal(t, id1, id2)
	assert.Len(t, id1, 16)
}

func TestRelationshipID_OrderMatters(t *testing.T) {
	id1 := RelationshipID("file_aaaaaaaaaaaa", "IMPORTS", "file_bbbbbbbbbbbb")
	id2 := RelationshipID("file_bbbbbbbbbbbb", "IMPORTS", "file_aaaaaaaaaaaa")
	assert.NotEqual(t, id1, id2)
}

func TestPointID_Deterministic(t *testing.T) {
	p1 := PointID("demo", "/src/main.py", "abc123")
	p2 := PointID("demo", "/src/main.py", "abc123")
	require.Equal(t, p1, p2)
}

func TestPointID_DifferentInputsDifferentPoint(t *testing.T) {
	p1 := PointID("demo", "/src/main.py", "abc123")
	p2 := PointID("demo", "/src/other.py", "abc123")
	assert.NotEqual(t, p1, p2)
}

func TestValidFormat_RejectsColon(t *testing.T) {
	assert.False(t, ValidFormat("file:deadbeefcafe"))
}

func TestValidFormat_RejectsUppercase(t *testing.T) {
	assert.False(t, ValidFormat("file_DEADBEEFCAFE"))
}

func TestValidFormat_RejectsShortHash(t *testing.T) {
	assert.False(t, ValidFormat("file_abc"))
}

func TestValidFormat_RejectsUnknownPrefix(t *testing.T) {
	assert.False(t, ValidFormat("bogus_deadbeefcafe0"))
}

func TestHasPathFragment(t *testing.T) {
	assert.True(t, HasPathFragment("file:deadbeefcafe"))
	assert.True(t, HasPathFragment("src/main.py"))
	assert.True(t, HasPathFragment("pkg.Foo"))
	assert.False(t, HasPathFragment("file_deadbeefcafe"))
}
