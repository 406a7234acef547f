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

// Package orchestrator implements the Enrichment Orchestrator (C5): the
// six-stage per-file pipeline, its async-bus/sync-HTTP mode switch, and
// per-file retry-then-continue failure handling.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/graphstore"
	"github.com/kraklabs/enrichment-consumer/internal/identity"
	"github.com/kraklabs/enrichment-consumer/internal/intelligence"
	"github.com/kraklabs/enrichment-consumer/internal/model"
	"github.com/kraklabs/enrichment-consumer/internal/vectorstore"
)

// Mode is the execution path chosen once at startup, per §4.5.
type Mode string

const (
	ModeAsyncBus     Mode = "async_bus"
	ModeHTTPFallback Mode = "http_fallback"
)

// Counts accumulates the completion-event tallies §4.5 requires.
type Counts struct {
	FilesIndexed         int
	EntitiesCreated      int
	RelationshipsCreated int
	UnresolvedImports    int
	VectorsUpserted      int
}

// Orchestrator runs the six-stage pipeline for one file at a time.
type Orchestrator struct {
	vector      vectorstore.Adapter
	graph       graphstore.Adapter
	intel       *intelligence.Client
	log         *slog.Logger
	mode        Mode
	stageSem    chan struct{} // stage-2 fan-out bound, default 5
	warmQueries []WarmQuery
}

// WarmQuery is one pre-registered query issued during stage 6 cache
// warming.
type WarmQuery struct {
	ProjectName   string
	PathSubstring string
}

// New builds an Orchestrator. mode is decided once by the caller (the
// daemon entrypoint, at startup) based on intel.HasStamping().
func New(vector vectorstore.Adapter, graph graphstore.Adapter, intel *intelligence.Client, mode Mode, stageConcurrency int, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if stageConcurrency <= 0 {
		stageConcurrency = 5
	}
	return &Orchestrator{
		vector:   vector,
		graph:    graph,
		intel:    intel,
		log:      log,
		mode:     mode,
		stageSem: make(chan struct{}, stageConcurrency),
	}
}

// Mode reports the active execution path, surfaced by /ready.
func (o *Orchestrator) Mode() Mode { return o.mode }

// ProcessFile runs the six stages in sequence for one file. Stages 4 and
// 5 run in parallel; both must succeed for the file to count as indexed.
// A fatal error at any stage marks this file failed but never aborts a
// caller's batch — the caller decides what "batch" means.
func (o *Orchestrator) ProcessFile(ctx context.Context, correlationID string, file model.FileRecord) (Counts, error) {
	var counts Counts
	log := o.log.With("correlation_id", correlationID, "file", file.AbsolutePath, "mode", o.mode)

	// Stage 1: preparation.
	file.ContentHash = contentHash(file.Content)
	projectID := identity.ProjectID(file.ProjectName)
	fileID := identity.FileID(file.ProjectName, file.AbsolutePath, file.ContentHash)

	// Stage 2: intelligence generation (bounded fan-out slot acquired here;
	// within a single file there is one stage-2 call, but the semaphore is
	// shared across every file in flight on this Orchestrator).
	select {
	case o.stageSem <- struct{}{}:
	case <-ctx.Done():
		return counts, apperr.NewTransient("context cancelled awaiting stage-2 slot", file.AbsolutePath, ctx.Err())
	}
	payload, err := o.generateIntelligence(ctx, file)
	<-o.stageSem
	if err != nil {
		log.Error("orchestrator.stage2.failed", "error", err)
		return counts, err
	}

	// Stage 3: metadata stamping — skipped entirely in HTTP fallback mode.
	if o.mode == ModeAsyncBus && o.intel.HasStamping() {
		stamp, err := o.intel.StampMetadata(ctx, intelligence.DocumentRequest{
			FilePath: file.AbsolutePath, Content: string(file.Content), ProjectName: file.ProjectName,
		})
		if err != nil {
			log.Error("orchestrator.stage3.failed", "error", err)
			return counts, err
		}
		payload.BlakeHash = stamp.ContentHash
	}

	// Stages 4/5: vector write and graph write run in parallel.
	var (
		wg                sync.WaitGroup
		vectorErr, graphErr error
		graphCounts        Counts
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorErr = o.writeVector(ctx, file, payload)
	}()
	go func() {
		defer wg.Done()
		graphCounts, graphErr = o.writeGraph(ctx, correlationID, projectID, fileID, file, payload)
	}()
	wg.Wait()

	if vectorErr != nil {
		log.Error("orchestrator.stage4.failed", "error", vectorErr)
		return counts, vectorErr
	}
	if graphErr != nil {
		log.Error("orchestrator.stage5.failed", "error", graphErr)
		return counts, graphErr
	}
	counts = graphCounts
	counts.VectorsUpserted = 1
	counts.FilesIndexed = 1

	// Stage 6: cache warming — best-effort, never fails the file.
	o.warmCache(ctx, file.ProjectName)

	return counts, nil
}

// ProcessProject walks rootPath on local disk and runs ProcessFile over
// every regular file found, aggregating per-file counts into one
// project-level tally. One failed file is logged and skipped; it never
// aborts the walk — the caller reports the aggregate as the project's
// completion or failure outcome.
func (o *Orchestrator) ProcessProject(ctx context.Context, correlationID, projectName, rootPath string) (Counts, error) {
	var total Counts
	log := o.log.With("correlation_id", correlationID, "project", projectName, "root", rootPath)

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Error("orchestrator.project.read_failed", "file", path, "error", readErr)
			return nil
		}
		rel, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			rel = path
		}

		file := model.FileRecord{
			ProjectName:  projectName,
			AbsolutePath: path,
			RelativePath: rel,
			ProjectRoot:  rootPath,
			Content:      content,
			ModifiedAt:   time.Now().UTC(),
		}
		counts, fileErr := o.ProcessFile(ctx, correlationID, file)
		if fileErr != nil {
			log.Error("orchestrator.project.file_failed", "file", path, "error", fileErr)
			return nil
		}

		total.FilesIndexed += counts.FilesIndexed
		total.EntitiesCreated += counts.EntitiesCreated
		total.RelationshipsCreated += counts.RelationshipsCreated
		total.UnresolvedImports += counts.UnresolvedImports
		total.VectorsUpserted += counts.VectorsUpserted
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, nil
}

func (o *Orchestrator) generateIntelligence(ctx context.Context, file model.FileRecord) (*model.EnrichmentPayload, error) {
	req := intelligence.DocumentRequest{
		FilePath: file.AbsolutePath, Content: string(file.Content), ProjectName: file.ProjectName,
	}

	if o.mode == ModeHTTPFallback {
		resp, err := o.intel.ProcessDocument(ctx, req)
		if err != nil {
			return nil, err
		}
		return fromGenerateResponse(resp.GenerateResponse), nil
	}

	resp, err := o.intel.GenerateIntelligence(ctx, req)
	if err != nil {
		return nil, err
	}
	return fromGenerateResponse(*resp), nil
}

func fromGenerateResponse(r intelligence.GenerateResponse) *model.EnrichmentPayload {
	entities := make([]model.ExtractedEntity, 0, len(r.Entities))
	for _, e := range r.Entities {
		entities = append(entities, model.ExtractedEntity{
			Type:          model.EntityType(e.EntityType),
			Name:          e.Name,
			QualifiedName: e.QualifiedName,
		})
	}
	imports := make([]model.ExtractedImport, 0, len(r.Imports))
	for _, i := range r.Imports {
		imports = append(imports, model.ExtractedImport{ImportPath: i.Path})
	}
	return &model.EnrichmentPayload{
		Concepts:       firstN(r.Concepts, 5),
		Themes:         firstN(r.Themes, 5),
		QualityScore:   r.QualityScore,
		OnexCompliance: r.OnexCompliance,
		Entities:       entities,
		Imports:        imports,
	}
}

func (o *Orchestrator) writeVector(ctx context.Context, file model.FileRecord, payload *model.EnrichmentPayload) error {
	point := model.VectorPoint{
		PointID:        identity.PointID(file.ProjectName, file.AbsolutePath, file.ContentHash),
		AbsolutePath:   file.AbsolutePath,
		RelativePath:   file.RelativePath,
		ProjectName:    file.ProjectName,
		ProjectRoot:    file.ProjectRoot,
		IndexedAt:      time.Now().UTC(),
		QualityScore:   payload.QualityScore,
		OnexCompliance: payload.OnexCompliance,
		Concepts:       payload.Concepts,
		Themes:         payload.Themes,
	}
	// Embedding generation is considered part of stage 2's intelligence
	// response in this deployment; dimension mismatches surface from
	// vectorstore.UpsertPoint as a fatal, non-retried error.
	return o.vector.UpsertPoint(ctx, point)
}

func (o *Orchestrator) writeGraph(ctx context.Context, correlationID, projectID, fileID string, file model.FileRecord, payload *model.EnrichmentPayload) (Counts, error) {
	var counts Counts
	now := time.Now().UTC()

	if err := o.graph.UpsertNode(ctx, model.Entity{
		EntityID: projectID, EntityType: model.EntityProject, Name: file.ProjectName,
		ProjectName: file.ProjectName, CreatedAt: now,
	}); err != nil {
		return counts, err
	}

	dirID, dirCounts, err := o.ensureDirectoryChain(ctx, file, now)
	if err != nil {
		return counts, err
	}
	counts.EntitiesCreated += dirCounts.EntitiesCreated
	counts.RelationshipsCreated += dirCounts.RelationshipsCreated

	if err := o.graph.UpsertNode(ctx, model.Entity{
		EntityID: fileID, EntityType: model.EntityFile, Name: filepath.Base(file.AbsolutePath),
		SourcePath: file.AbsolutePath, ProjectName: file.ProjectName, CreatedAt: now, FileHash: file.ContentHash,
	}); err != nil {
		return counts, err
	}
	counts.EntitiesCreated++

	if err := o.upsertRelationship(ctx, dirID, fileID, model.RelContains, now); err != nil {
		return counts, err
	}
	counts.RelationshipsCreated++

	for _, e := range payload.Entities {
		entityID := identity.EntityID(identity.EntityType(e.Type), fileID, e.QualifiedName)
		if err := o.graph.UpsertNode(ctx, model.Entity{
			EntityID: entityID, EntityType: e.Type, Name: e.Name, SourcePath: file.AbsolutePath,
			ProjectName: file.ProjectName, CreatedAt: now, ExtractionBy: "intelligence-service",
		}); err != nil {
			return counts, err
		}
		counts.EntitiesCreated++

		if err := o.upsertRelationship(ctx, fileID, entityID, model.RelDefines, now); err != nil {
			return counts, err
		}
		counts.RelationshipsCreated++
	}

	for _, imp := range payload.Imports {
		targetID, found, err := o.graph.LookupEntityID(ctx, file.ProjectName, imp.ImportPath)
		if err != nil {
			return counts, err
		}
		if !found {
			o.graph.RecordUnresolvedImport()
			counts.UnresolvedImports++
			continue
		}
		if err := o.upsertRelationship(ctx, fileID, targetID, model.RelImports, now); err != nil {
			return counts, err
		}
		counts.RelationshipsCreated++
	}

	return counts, nil
}

// ensureDirectoryChain upserts a DIRECTORY node and CONTAINS edge for every
// path segment between the project root and the file's parent directory
// (inclusive), chaining PROJECT -> dir1 -> dir2 -> ... -> file's parent. It
// returns the immediate parent's entity ID so the caller can wire the FILE
// node to it.
func (o *Orchestrator) ensureDirectoryChain(ctx context.Context, file model.FileRecord, now time.Time) (string, Counts, error) {
	var counts Counts
	parentID := identity.ProjectID(file.ProjectName)

	dirs := directoryChain(file.ProjectRoot, filepath.Dir(file.AbsolutePath))
	for _, dir := range dirs {
		dirID := identity.DirectoryID(file.ProjectName, dir)
		if err := o.graph.UpsertNode(ctx, model.Entity{
			EntityID: dirID, EntityType: model.EntityDirectory, Name: filepath.Base(dir),
			SourcePath: dir, ProjectName: file.ProjectName, CreatedAt: now,
		}); err != nil {
			return "", counts, err
		}
		counts.EntitiesCreated++

		if err := o.upsertRelationship(ctx, parentID, dirID, model.RelContains, now); err != nil {
			return "", counts, err
		}
		counts.RelationshipsCreated++

		parentID = dirID
	}

	return parentID, counts, nil
}

// directoryChain returns the ordered, root-to-leaf list of directories
// between root and leaf (both inclusive of leaf, exclusive of root itself).
// When leaf isn't nested under root (root is empty, equal to leaf, or
// outside it), it falls back to a single-element chain containing just
// leaf, matching the one-level behavior used when no project root is known.
func directoryChain(root, leaf string) []string {
	if root == "" || root == leaf {
		return []string{leaf}
	}
	rel, err := filepath.Rel(root, leaf)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return []string{leaf}
	}

	segments := strings.Split(rel, string(filepath.Separator))
	chain := make([]string, 0, len(segments))
	current := root
	for _, seg := range segments {
		current = filepath.Join(current, seg)
		chain = append(chain, current)
	}
	return chain
}

func (o *Orchestrator) upsertRelationship(ctx context.Context, src, tgt string, relType model.RelationshipType, now time.Time) error {
	return o.graph.UpsertRelationship(ctx, model.Relationship{
		RelationshipID:   identity.RelationshipID(src, string(relType), tgt),
		SourceEntityID:   src,
		TargetEntityID:   tgt,
		RelationshipType: relType,
		Strength:         1.0,
		CreatedAt:        now,
	})
}

// warmCache issues the pre-registered query set against the vector store,
// best-effort. Failures are logged, never returned: §4.5 stage 6 is
// advisory cache priming, not part of the file's success/failure verdict.
func (o *Orchestrator) warmCache(ctx context.Context, projectName string) {
	for _, q := range o.warmQueries {
		if q.ProjectName != "" && q.ProjectName != projectName {
			continue
		}
		if _, err := o.vector.QueryByPath(ctx, projectName, q.PathSubstring, 1); err != nil {
			o.log.Warn("orchestrator.stage6.warm_cache_failed", "project", projectName, "error", err)
		}
	}
}

// SetWarmQueries configures the fixed pre-registered query set used by
// stage 6. Read-only after startup — the only shared cache the pipeline
// touches across workers.
func (o *Orchestrator) SetWarmQueries(queries []WarmQuery) {
	o.warmQueries = queries
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func firstN(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}

