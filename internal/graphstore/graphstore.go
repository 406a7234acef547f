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

// Package graphstore implements the Graph Store Adapter (C4): MERGE-by-id
// upserts of typed nodes and relationships under case-exact label
// discipline, with the invariant that no code path may create a
// placeholder/stub node as a side effect of relationship construction.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/identity"
	"github.com/kraklabs/enrichment-consumer/internal/model"
)

// retryPolicy mirrors the Vector Store Adapter's §4.3/§4.4 contract:
// base 250ms, factor 2, cap 8s, max 5 attempts.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 4)
}

// Store is the Graph Store Adapter. It wraps a Neo4j driver session
// factory, generalizing the teacher's embedded-CozoDB RWMutex-guarded
// wrapper shape to a networked graph database client.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	log      *slog.Logger

	unresolvedImports int64
}

// New dials Neo4j using basic auth, matching GRAPH_STORE_URL/
// GRAPH_STORE_USER/GRAPH_STORE_PASSWORD (§6).
func New(ctx context.Context, uri, user, password, database string, log *slog.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperr.NewRuntime("graph store dial failed", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, apperr.NewRuntime("graph store unreachable", uri, err)
	}
	if database == "" {
		database = "neo4j"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{driver: driver, database: database, log: log}, nil
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

// UpsertNode implements §4.4's upsert_node: MERGE-by-entity_id. A node
// written here is a REAL node — it must end up with >4 properties
// populated and name != "unknown", so this function refuses to write a
// degenerate entity rather than silently create a placeholder.
func (s *Store) UpsertNode(ctx context.Context, e model.Entity) error {
	if e.EntityID == "" || !identity.ValidFormat(e.EntityID) {
		return apperr.NewFatal("invalid entity_id", e.EntityID, nil)
	}
	if e.Name == "" || e.Name == "unknown" {
		return apperr.NewFatal("refusing to write placeholder node", e.EntityID, nil)
	}
	label, ok := labelFor(e.EntityType)
	if !ok {
		return apperr.NewFatal("unknown entity type", string(e.EntityType), nil)
	}

	cypher := fmt.Sprintf(`
MERGE (n:%s {entity_id: $entity_id})
SET n.name = $name,
    n.entity_type = $entity_type,
    n.source_path = $source_path,
    n.project_name = $project_name,
    n.description = $description,
    n.extraction_method = $extraction_method,
    n.confidence = $confidence,
    n.file_hash = $file_hash,
    n.created_at = coalesce(n.created_at, $created_at)
`, label)

	params := map[string]any{
		"entity_id":         e.EntityID,
		"name":              e.Name,
		"entity_type":       string(e.EntityType),
		"source_path":       e.SourcePath,
		"project_name":      e.ProjectName,
		"description":       e.Description,
		"extraction_method": e.ExtractionBy,
		"confidence":        e.Confidence,
		"file_hash":         e.FileHash,
		"created_at":        e.CreatedAt.UTC().Format(time.RFC3339),
	}

	return s.write(ctx, cypher, params)
}

// UpsertRelationship implements §4.4's upsert_relationship. CRITICAL
// CONTRACT: both endpoints must already exist as REAL nodes. If either is
// missing, this call fails rather than creating a placeholder — it never
// issues a MERGE that would create the endpoint node.
func (s *Store) UpsertRelationship(ctx context.Context, rel model.Relationship) error {
	if rel.SourceEntityID == rel.TargetEntityID {
		return apperr.NewFatal("relationship source == target", rel.SourceEntityID, nil)
	}

	cypher := `
MATCH (src {entity_id: $source_id})
MATCH (tgt {entity_id: $target_id})
WHERE src.name IS NOT NULL AND src.name <> 'unknown'
  AND tgt.name IS NOT NULL AND tgt.name <> 'unknown'
MERGE (src)-[r:` + string(rel.RelationshipType) + ` {relationship_id: $relationship_id}]->(tgt)
SET r.relationship_type = $relationship_type,
    r.strength = $strength,
    r.created_at = coalesce(r.created_at, $created_at)
RETURN count(r) AS written
`
	params := map[string]any{
		"source_id":         rel.SourceEntityID,
		"target_id":         rel.TargetEntityID,
		"relationship_id":   rel.RelationshipID,
		"relationship_type": string(rel.RelationshipType),
		"strength":          rel.Strength,
		"created_at":        rel.CreatedAt.UTC().Format(time.RFC3339),
	}

	written, err := s.writeReturningCount(ctx, cypher, params)
	if err != nil {
		return err
	}
	if written == 0 {
		return apperr.NewFatal("relationship endpoint missing or is a placeholder",
			fmt.Sprintf("%s -[%s]-> %s", rel.SourceEntityID, rel.RelationshipType, rel.TargetEntityID), nil)
	}
	return nil
}

// LookupEntityID implements §4.4's lookup_entity_id for import-resolution
// callers. It returns ("", false, nil) when no matching FILE exists —
// callers must treat that as "skip, do not create a placeholder."
func (s *Store) LookupEntityID(ctx context.Context, projectName, path string) (string, bool, error) {
	cypher := fmt.Sprintf(`
MATCH (n:%s {project_name: $project_name, source_path: $path})
RETURN n.entity_id AS entity_id LIMIT 1
`, LabelFile)
	params := map[string]any{"project_name": projectName, "path": path}

	var entityID string
	found := false
	err := s.read(ctx, cypher, params, func(rec *neo4j.Record) error {
		if v, ok := rec.Get("entity_id"); ok && v != nil {
			entityID = v.(string)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return entityID, found, nil
}

// RecordUnresolvedImport increments the unresolved-imports counter per
// §4.4's relationship-construction protocol step 4: "skip silently and
// record in an unresolved-imports counter; do NOT create a placeholder."
func (s *Store) RecordUnresolvedImport() {
	atomic.AddInt64(&s.unresolvedImports, 1)
}

// UnresolvedImports returns the running count for this store's lifetime.
func (s *Store) UnresolvedImports() int64 {
	return atomic.LoadInt64(&s.unresolvedImports)
}

// DetectOrphans implements §4.4's detect_orphans: FILE nodes with zero
// incoming or outgoing relationships, surfaced for an external dashboard.
func (s *Store) DetectOrphans(ctx context.Context, projectName string) ([]string, error) {
	cypher := fmt.Sprintf(`
MATCH (n:%s {project_name: $project_name})
WHERE NOT (n)-->() AND NOT (n)<--()
RETURN n.entity_id AS entity_id
`, LabelFile)
	params := map[string]any{"project_name": projectName}

	var ids []string
	err := s.read(ctx, cypher, params, func(rec *neo4j.Record) error {
		if v, ok := rec.Get("entity_id"); ok && v != nil {
			ids = append(ids, v.(string))
		}
		return nil
	})
	return ids, err
}

// write executes a write query with the shared §4.3/§4.4 retry policy,
// classifying the error as transient (retry) or fatal (return immediately).
func (s *Store) write(ctx context.Context, cypher string, params map[string]any) error {
	op := func() error {
		sess := s.session(ctx)
		defer sess.Close(ctx)
		_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return tx.Run(ctx, cypher, params)
		})
		return classify(err)
	}
	return runRetrying(ctx, op, s.log)
}

func (s *Store) writeReturningCount(ctx context.Context, cypher string, params map[string]any) (int64, error) {
	var count int64
	op := func() error {
		sess := s.session(ctx)
		defer sess.Close(ctx)
		res, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			rec, err := result.Single(ctx)
			if err != nil {
				return int64(0), nil //nolint:nilerr // no row means zero written, not an error
			}
			v, _ := rec.Get("written")
			n, _ := v.(int64)
			return n, nil
		})
		if err != nil {
			return classify(err)
		}
		count, _ = res.(int64)
		return nil
	}
	if err := runRetrying(ctx, op, s.log); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) read(ctx context.Context, cypher string, params map[string]any, onRecord func(*neo4j.Record) error) error {
	op := func() error {
		sess := s.session(ctx)
		defer sess.Close(ctx)
		_, err := sess.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, cypher, params)
			if err != nil {
				return nil, err
			}
			for result.Next(ctx) {
				if cbErr := onRecord(result.Record()); cbErr != nil {
					return nil, cbErr
				}
			}
			return nil, result.Err()
		})
		return classify(err)
	}
	return runRetrying(ctx, op, s.log)
}

// classify wraps a raw driver error into the apperr taxonomy. Connection
// loss is transient (§4.4); everything else (constraint violations,
// syntax) is fatal for the one call.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*apperr.Error); ok {
		return err
	}
	if neo4j.IsConnectivityError(err) || neo4j.IsRetryable(err) {
		return apperr.NewTransient("graph store connection", "", err)
	}
	return apperr.NewFatal("graph store write failed", "", err)
}

func runRetrying(ctx context.Context, op func() error, log *slog.Logger) error {
	var lastErr error
	err := backoff.Retry(func() error {
		err := op()
		lastErr = err
		if err == nil {
			return nil
		}
		if apperr.IsTransient(err) {
			if log != nil {
				log.Warn("graphstore.retry", "error", err)
			}
			return err // retry
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(retryPolicy(), ctx))
	if err != nil {
		return lastErr
	}
	return nil
}
