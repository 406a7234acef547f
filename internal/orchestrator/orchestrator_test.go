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

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/enrichment-consumer/internal/graphstore"
	"github.com/kraklabs/enrichment-consumer/internal/intelligence"
	"github.com/kraklabs/enrichment-consumer/internal/model"
	"github.com/kraklabs/enrichment-consumer/internal/vectorstore"
)

func newTestOrchestrator(t *testing.T, mode Mode, handler http.HandlerFunc) (*Orchestrator, *vectorstore.Fake, *graphstore.Fake) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	intel := intelligence.New(intelligence.Config{IntelligenceURL: srv.URL}, nil)
	vec := vectorstore.NewFake(0)
	graph := graphstore.NewFake()
	return New(vec, graph, intel, mode, 5, nil), vec, graph
}

func sampleGenerateResponse() intelligence.GenerateResponse {
	return intelligence.GenerateResponse{
		Concepts:     []string{"parsing"},
		Themes:       []string{"compilers"},
		QualityScore: 0.8,
		Entities: []intelligence.Entity{
			{EntityType: "FUNCTION", Name: "parse", QualifiedName: "pkg.parse"},
		},
	}
}

func TestProcessFile_BusModeHappyPath(t *testing.T) {
	o, vec, graph := newTestOrchestrator(t, ModeAsyncBus, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sampleGenerateResponse())
	})

	file := model.FileRecord{ProjectName: "demo", AbsolutePath: "/src/main.py", Content: []byte("x = 1")}
	counts, err := o.ProcessFile(context.Background(), "corr-1", file)
	require.NoError(t, err)

	assert.Equal(t, 1, counts.FilesIndexed)
	assert.Equal(t, 1, counts.VectorsUpserted)
	assert.GreaterOrEqual(t, counts.EntitiesCreated, 2) // file node + at least one extracted entity
	assert.Equal(t, 1, vec.PointCount())
	assert.Greater(t, graph.NodeCount(), 0)
}

func TestProcessFile_HTTPFallbackSkipsStamping(t *testing.T) {
	called := false
	o, _, _ := newTestOrchestrator(t, ModeHTTPFallback, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process/document", r.URL.Path)
		called = true
		_ = json.NewEncoder(w).Encode(intelligence.ProcessDocumentResponse{GenerateResponse: sampleGenerateResponse()})
	})

	file := model.FileRecord{ProjectName: "demo", AbsolutePath: "/src/b.py", Content: []byte("y = 2")}
	_, err := o.ProcessFile(context.Background(), "corr-2", file)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestProcessFile_UnresolvedImportNeverCreatesPlaceholder(t *testing.T) {
	o, _, graph := newTestOrchestrator(t, ModeAsyncBus, func(w http.ResponseWriter, r *http.Request) {
		resp := sampleGenerateResponse()
		resp.Imports = []intelligence.Import{{Path: "/does/not/exist.py"}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	file := model.FileRecord{ProjectName: "demo", AbsolutePath: "/src/c.py", Content: []byte("z = 3")}
	counts, err := o.ProcessFile(context.Background(), "corr-3", file)
	require.NoError(t, err)

	assert.Equal(t, 1, counts.UnresolvedImports)
	assert.EqualValues(t, 1, graph.UnresolvedImports())
}

func TestProcessFile_NestedPathCreatesFullDirectoryChain(t *testing.T) {
	o, _, graph := newTestOrchestrator(t, ModeAsyncBus, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sampleGenerateResponse())
	})

	file := model.FileRecord{
		ProjectName:  "demo",
		ProjectRoot:  "/demo",
		AbsolutePath: "/demo/src/pkg/main.py",
		Content:      []byte("x = 1"),
	}
	counts, err := o.ProcessFile(context.Background(), "corr-5", file)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.FilesIndexed)

	dirs := graph.NodesByType(model.EntityDirectory)
	var paths []string
	for _, d := range dirs {
		paths = append(paths, d.SourcePath)
	}
	assert.ElementsMatch(t, []string{"/demo/src", "/demo/src/pkg"}, paths)
}

func TestProcessFile_IntelligenceFailureFailsFileNotBatch(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, ModeAsyncBus, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	file := model.FileRecord{ProjectName: "demo", AbsolutePath: "/src/d.py", Content: []byte("bad")}
	_, err := o.ProcessFile(context.Background(), "corr-4", file)
	require.Error(t, err)

	// Orchestrator itself imposes no batch concept; caller (consumer) is
	// expected to continue with the next file regardless of this error.
}
