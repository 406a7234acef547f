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

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/model"
)

// Collection is the fixed collection name from §6: "Collection file_locations."
const Collection = "file_locations"

// retryPolicy implements §4.3's contract: base 250ms, factor 2, cap 8s,
// max 5 attempts.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 4)
}

// Store is the Qdrant-backed Vector Store Adapter. Generalizes the
// teacher's RWMutex-guarded embedded backend wrapper (pkg/storage/embedded.go)
// from an in-process CozoDB table to a networked gRPC collection.
type Store struct {
	client    *qdrant.Client
	dimension uint64
	log       *slog.Logger

	mu          sync.Mutex
	ensuredOnce bool
}

// New dials Qdrant at addr (host:port, per VECTOR_STORE_URL), ensures the
// file_locations collection exists with the configured dimension.
func New(ctx context.Context, addr string, dimension uint64, log *slog.Logger) (*Store, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host, portStr = addr, "6334"
	}
	port, _ := strconv.Atoi(portStr)

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, apperr.NewRuntime("vector store dial failed", addr, err)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{client: client, dimension: dimension, log: log}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensuredOnce {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, Collection)
	if err != nil {
		return apperr.NewTransient("vector store collection check", Collection, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return apperr.NewRuntime("create vector collection failed", Collection, err)
		}
	}
	s.ensuredOnce = true
	return nil
}

// UpsertPoint implements §4.3's upsert_point. Point ID is deterministic
// (computed by the caller via internal/identity.PointID), so re-calls with
// identical inputs are no-ops at the Qdrant level. Dimension mismatch is
// fatal and is never retried.
func (s *Store) UpsertPoint(ctx context.Context, point model.VectorPoint) error {
	if uint64(len(point.Embedding)) != s.dimension {
		return apperr.NewFatal("embedding dimension mismatch",
			fmt.Sprintf("got %d want %d", len(point.Embedding), s.dimension), nil)
	}

	payload := qdrant.NewValueMap(map[string]any{
		"absolute_path":   point.AbsolutePath,
		"relative_path":   point.RelativePath,
		"project_name":    point.ProjectName,
		"project_root":    point.ProjectRoot,
		"indexed_at":      point.IndexedAt.UTC().Format(time.RFC3339),
		"quality_score":   point.QualityScore,
		"onex_compliance": point.OnexCompliance,
		"concepts":        toAnySlice(firstN(point.Concepts, 5)),
		"themes":          toAnySlice(firstN(point.Themes, 5)),
	})

	op := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: Collection,
			Points: []*qdrant.PointStruct{
				{
					Id:      qdrant.NewIDNum(point.PointID),
					Vectors: qdrant.NewVectors(point.Embedding...),
					Payload: payload,
				},
			},
		})
		if err == nil {
			return nil
		}
		if isTransient(err) {
			s.log.Warn("vectorstore.retry", "point_id", point.PointID, "error", err)
			return err
		}
		return backoff.Permanent(apperr.NewFatal("vector upsert failed", "", err))
	}

	if err := backoff.Retry(op, backoff.WithContext(retryPolicy(), ctx)); err != nil {
		if permanent, ok := err.(*backoff.PermanentError); ok {
			return permanent.Err
		}
		return apperr.NewTransient("vector upsert exhausted retries", "", err)
	}
	return nil
}

// QueryByPath implements §4.3's query_by_path, used by the external search
// service. It scrolls the collection filtered by a substring match on
// absolute_path; C3 owns this payload schema.
func (s *Store) QueryByPath(ctx context.Context, projectName, pathSubstring string, limit int) ([]model.VectorPoint, error) {
	if limit <= 0 {
		limit = 20
	}
	lim := uint32(limit)

	resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: Collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("project_name", projectName),
				qdrant.NewMatchText("absolute_path", pathSubstring),
			},
		},
		Limit:       &lim,
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, apperr.NewTransient("vector query failed", pathSubstring, err)
	}

	points := make([]model.VectorPoint, 0, len(resp))
	for _, p := range resp {
		points = append(points, fromRetrievedPoint(p))
	}
	return points, nil
}

func fromRetrievedPoint(p *qdrant.RetrievedPoint) model.VectorPoint {
	payload := p.GetPayload()
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	indexedAt, _ := time.Parse(time.RFC3339, get("indexed_at"))
	var pointID uint64
	if num := p.GetId().GetNum(); num != 0 {
		pointID = num
	}
	return model.VectorPoint{
		PointID:      pointID,
		AbsolutePath: get("absolute_path"),
		RelativePath: get("relative_path"),
		ProjectName:  get("project_name"),
		ProjectRoot:  get("project_root"),
		IndexedAt:    indexedAt,
	}
}

func firstN(xs []string, n int) []string {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}

func toAnySlice(xs []string) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// isTransient classifies a Qdrant client error as retryable. Network/RPC
// unavailability is transient; anything else (including a dimension
// mismatch surfaced by the server) is treated as fatal for this call.
func isTransient(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"unavailable", "deadline exceeded", "connection refused", "transport", "EOF"} {
		if strings.Contains(strings.ToLower(msg), marker) {
			return true
		}
	}
	return false
}
