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

// Package intelligencesvc is a reference implementation of the external
// intelligence service C5 talks to. It is not part of the consumer
// runtime's deployed surface — it exists so the pipeline can be exercised
// end-to-end without a real third-party intelligence backend, the same
// role the teacher's regex/tree-sitter parsers played for its local
// indexer. Extraction is tree-sitter based (Go, Python); it deliberately
// does NOT fall back to a placeholder/stub node for unresolved
// references — unresolved imports are simply omitted, matching C4's
// lookup-or-skip contract upstream.
package intelligencesvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// Request mirrors the wire shape of both intelligence endpoints (§6).
type Request struct {
	FilePath    string `json:"file_path"`
	Content     string `json:"content"`
	ProjectName string `json:"project_name"`
}

// ExtractedEntity is one function/class/method found in the file.
type ExtractedEntity struct {
	EntityType    string  `json:"entity_type"`
	Name          string  `json:"name"`
	QualifiedName string  `json:"qualified_name"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
}

// ExtractedImport is one import statement found in the file.
type ExtractedImport struct {
	Path string `json:"path"`
}

// Response is the shape both endpoints return (§6's generate-intelligence
// response shape; /process/document embeds it plus an embedding).
type Response struct {
	Concepts       []string          `json:"concepts"`
	Themes         []string          `json:"themes"`
	QualityScore   float64           `json:"quality_score"`
	OnexCompliance bool              `json:"onex_compliance"`
	Entities       []ExtractedEntity `json:"entities"`
	Imports        []ExtractedImport `json:"imports"`
}

// processResponse is /process/document's wider shape, used end-to-end by
// the HTTP-fallback path.
type processResponse struct {
	Response
	Embedding []float32 `json:"embedding"`
}

// Service extracts entities/imports from source text via tree-sitter and
// derives a lightweight quality signal, standing in for a real ML-backed
// intelligence backend.
type Service struct {
	goPool sync.Pool
	pyPool sync.Pool
	init   sync.Once
}

// New builds a Service.
func New() *Service {
	return &Service{}
}

func (s *Service) initParsers() {
	s.init.Do(func() {
		s.goPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(golang.GetLanguage())
			return p
		}
		s.pyPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(python.GetLanguage())
			return p
		}
	})
}

// Generate runs the extraction pipeline for one file's content.
func (s *Service) Generate(ctx context.Context, req Request) Response {
	s.initParsers()

	language := languageFor(req.FilePath)
	var entities []ExtractedEntity
	var imports []ExtractedImport

	switch language {
	case "go":
		parser := s.goPool.Get().(*sitter.Parser)
		defer s.goPool.Put(parser)
		entities, imports = extractGo(ctx, parser, []byte(req.Content))
	case "python":
		parser := s.pyPool.Get().(*sitter.Parser)
		defer s.pyPool.Put(parser)
		entities, imports = extractPython(ctx, parser, []byte(req.Content))
	}

	concepts, themes := deriveConceptsAndThemes(req.Content, entities)

	return Response{
		Concepts:       concepts,
		Themes:         themes,
		QualityScore:   qualityScore(req.Content, entities),
		OnexCompliance: len(entities) > 0,
		Entities:       entities,
		Imports:        imports,
	}
}

func languageFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".py"):
		return "python"
	default:
		return ""
	}
}

func extractGo(ctx context.Context, parser *sitter.Parser, content []byte) ([]ExtractedEntity, []ExtractedImport) {
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return nil, nil
	}
	defer tree.Close()

	var entities []ExtractedEntity
	var imports []ExtractedImport
	root := tree.RootNode()

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_declaration", "method_declaration":
			name := childText(n, "name", content)
			if name != "" {
				entities = append(entities, ExtractedEntity{
					EntityType: "FUNCTION", Name: name, QualifiedName: name, Confidence: 0.9,
				})
			}
		case "type_spec":
			name := childText(n, "name", content)
			if name != "" {
				entities = append(entities, ExtractedEntity{
					EntityType: "CLASS", Name: name, QualifiedName: name, Confidence: 0.85,
				})
			}
		case "import_spec":
			path := childText(n, "path", content)
			path = strings.Trim(path, `"`)
			if path != "" {
				imports = append(imports, ExtractedImport{Path: path})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return entities, imports
}

func extractPython(ctx context.Context, parser *sitter.Parser, content []byte) ([]ExtractedEntity, []ExtractedImport) {
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return nil, nil
	}
	defer tree.Close()

	var entities []ExtractedEntity
	var imports []ExtractedImport
	root := tree.RootNode()

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_definition":
			name := childText(n, "name", content)
			if name != "" {
				entities = append(entities, ExtractedEntity{
					EntityType: "FUNCTION", Name: name, QualifiedName: name, Confidence: 0.9,
				})
			}
		case "class_definition":
			name := childText(n, "name", content)
			if name != "" {
				entities = append(entities, ExtractedEntity{
					EntityType: "CLASS", Name: name, QualifiedName: name, Confidence: 0.9,
				})
			}
		case "import_from_statement", "import_statement":
			for i := 0; i < int(n.ChildCount()); i++ {
				child := n.Child(i)
				if child.Type() == "dotted_name" || child.Type() == "relative_import" {
					path := child.Content(content)
					if path != "" {
						imports = append(imports, ExtractedImport{Path: path})
						break
					}
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return entities, imports
}

func childText(n *sitter.Node, field string, content []byte) string {
	c := n.ChildByFieldName(field)
	if c == nil {
		return ""
	}
	return c.Content(content)
}

// deriveConceptsAndThemes is a deliberately simple heuristic: entity kinds
// present become "concepts", the file extension's ecosystem becomes a
// "theme". A real intelligence backend would use an LLM; this reference
// implementation exists to exercise the wire contract, not to be a good
// classifier.
func deriveConceptsAndThemes(content string, entities []ExtractedEntity) ([]string, []string) {
	seen := make(map[string]bool)
	var concepts []string
	for _, e := range entities {
		key := strings.ToLower(e.EntityType)
		if !seen[key] {
			seen[key] = true
			concepts = append(concepts, key)
		}
		if len(concepts) >= 5 {
			break
		}
	}

	var themes []string
	if strings.Contains(content, "func Test") || strings.Contains(content, "def test_") {
		themes = append(themes, "testing")
	}
	if strings.Contains(content, "http.") || strings.Contains(content, "fastapi") || strings.Contains(content, "flask") {
		themes = append(themes, "networking")
	}
	if len(themes) == 0 {
		themes = append(themes, "general")
	}
	if len(themes) > 5 {
		themes = themes[:5]
	}
	return concepts, themes
}

// qualityScore is a crude heuristic in [0,1]: files with at least one
// extracted entity and a non-trivial size score higher. Never meant to be
// a real quality model.
func qualityScore(content string, entities []ExtractedEntity) float64 {
	if len(content) == 0 {
		return 0
	}
	score := 0.4
	if len(entities) > 0 {
		score += 0.3
	}
	if len(content) > 200 {
		score += 0.2
	}
	if strings.Contains(content, "\"\"\"") || strings.Contains(content, "// ") {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// ContentHash computes the BLAKE3-equivalent-role hash the metadata
// stamping endpoint would otherwise supply; this reference service uses
// sha256 since it has no dependency on the pipeline's identity package.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Handler returns an http.Handler serving both endpoints §6 defines.
func Handler(svc *Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bridge/generate-intelligence", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := svc.Generate(r.Context(), req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/process/document", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := svc.Generate(r.Context(), req)
		out := processResponse{Response: resp, Embedding: fakeEmbedding(req.Content, 1536)}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}

// fakeEmbedding derives a deterministic pseudo-embedding from the content
// hash so repeated calls on identical content are idempotent, matching the
// vector store's re-call-is-a-no-op expectation without a real model.
func fakeEmbedding(content string, dimension int) []float32 {
	sum := sha256.Sum256([]byte(content))
	out := make([]float32, dimension)
	for i := range out {
		out[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return out
}
