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

// Package consumer implements the Consumer Runtime (C6): a pool of worker
// goroutines pulling from the bus, validating through C1, handing valid
// messages to the orchestrator, and committing offsets only after the
// orchestrator returns.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/bus"
	"github.com/kraklabs/enrichment-consumer/internal/envelope"
	"github.com/kraklabs/enrichment-consumer/internal/model"
	"github.com/kraklabs/enrichment-consumer/internal/orchestrator"
)

// Processor is the subset of the Enrichment Orchestrator a worker depends
// on, narrowed so workers can be tested against a stub.
type Processor interface {
	ProcessFile(ctx context.Context, correlationID string, file model.FileRecord) (orchestrator.Counts, error)
	ProcessProject(ctx context.Context, correlationID, projectName, rootPath string) (orchestrator.Counts, error)
	Mode() orchestrator.Mode
}

// Runtime is one consumer instance: W workers pulling from a shared
// subscription, per §4.6.
type Runtime struct {
	bus        bus.Bus
	subject    string
	durable    string
	validator  *envelope.Validator
	proc       Processor
	workers    int
	fetchBatch int
	log        *slog.Logger

	metrics *Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Runtime with workers goroutines (default 8, per §6).
func New(b bus.Bus, subject, durable string, v *envelope.Validator, proc Processor, workers int, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 8
	}
	return &Runtime{
		bus: b, subject: subject, durable: durable, validator: v, proc: proc,
		workers: workers, fetchBatch: 20, log: log, metrics: NewMetrics(),
	}
}

// Metrics exposes the runtime's metrics sink for /metrics wiring.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// Start subscribes and launches the worker pool. It returns immediately;
// workers run until ctx is cancelled or Stop is called.
func (r *Runtime) Start(ctx context.Context) error {
	sub, err := r.bus.Subscribe(ctx, r.subject, r.durable)
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.workerLoop(workerCtx, sub)
	}
	r.log.Info("consumer.started", "subject", r.subject, "durable", r.durable, "workers", r.workers)
	return nil
}

// Stop cancels the worker pool and waits up to drain for in-flight
// messages to finish, per §4.6's 30s hard cap.
func (r *Runtime) Stop(drain time.Duration) {
	if r.cancel == nil {
		return
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("consumer.drained")
	case <-time.After(drain):
		r.log.Warn("consumer.drain_timeout", "drain", drain)
	}
}

func (r *Runtime) workerLoop(ctx context.Context, sub bus.Subscriber) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(ctx, r.fetchBatch)
		if err != nil {
			r.metrics.RecordError("fetch")
			continue
		}
		for _, m := range msgs {
			r.handle(ctx, m)
		}
	}
}

// handle runs one message through C1 then C5, committing the offset only
// after the orchestrator returns (success or logged failure), per §4.6. It
// then dispatches to the per-file or per-project path based on the
// envelope's topic, emitting the matching completion/failure event.
func (r *Runtime) handle(ctx context.Context, m bus.Message) {
	var env envelope.Envelope
	if err := json.Unmarshal(m.Data(), &env); err != nil {
		r.log.Warn("consumer.malformed_envelope", "subject", m.Subject(), "error", err)
		r.metrics.RecordInvalidEvent(envelope.ReasonMalformedPayload)
		_ = m.Term()
		return
	}
	env.Topic = m.Subject()

	if err := r.validator.Validate(env); err != nil {
		var verr *envelope.ValidationError
		reason := err.Error()
		if ok := asValidationError(err, &verr); ok {
			reason = verr.Reason
		}
		r.metrics.RecordInvalidEvent(reason)
		_ = m.Term() // schema-invalid: commit and never redeliver, per §7
		return
	}

	if env.Topic == envelope.TopicIndexProjectRequested {
		r.handleIndexProject(ctx, env, m)
		return
	}
	r.handleFileRequest(ctx, env, m)
}

// handleFileRequest expands a single-file or batch enrich-document-requested
// payload into one ProcessFile call per file, emitting a completed or
// failed event for each, and Naks the whole message (for redelivery) if any
// file hit a transient error, per §4.5/§4.6.
func (r *Runtime) handleFileRequest(ctx context.Context, env envelope.Envelope, m bus.Message) {
	files, ok := filesFromEnvelope(env)
	if !ok {
		r.metrics.RecordInvalidEvent(envelope.ReasonMissingFilePath)
		_ = m.Term()
		return
	}

	var transient bool
	for _, file := range files {
		counts, err := r.proc.ProcessFile(ctx, env.CorrelationID, file)
		if err != nil {
			r.metrics.RecordError(errorKind(err))
			if apperr.IsTransient(err) {
				transient = true
				continue
			}
			// domain-fatal-for-one-file: mark failed, continue the batch.
			r.log.Error("consumer.file_failed", "correlation_id", env.CorrelationID, "file", file.AbsolutePath, "error", err)
			r.publishEvent(ctx, env, envelope.EventFileFailed, envelope.TopicFileFailed, fileFailedPayload{
				FilePath: file.AbsolutePath, ProjectName: file.ProjectName, Reason: err.Error(),
			})
			continue
		}
		r.publishEvent(ctx, env, envelope.EventFileCompleted, envelope.TopicFileCompleted, fileCompletedPayload{
			FilePath: file.AbsolutePath, ProjectName: file.ProjectName, Counts: countsPayload(counts),
		})
	}

	if transient {
		_ = m.Nak() // transient: requeue with backoff, never commit
		return
	}
	_ = m.Ack()
}

// handleIndexProject runs a tree.index-project-requested bulk reindex and
// emits the project-level completion/failure event §4.5's Completion
// paragraph requires.
func (r *Runtime) handleIndexProject(ctx context.Context, env envelope.Envelope, m bus.Message) {
	projectName, rootPath, ok := indexProjectFromEnvelope(env)
	if !ok {
		r.metrics.RecordInvalidEvent(envelope.ReasonMissingFilePath)
		_ = m.Term()
		return
	}

	counts, err := r.proc.ProcessProject(ctx, env.CorrelationID, projectName, rootPath)
	if err != nil {
		r.metrics.RecordError(errorKind(err))
		if apperr.IsTransient(err) {
			_ = m.Nak()
			return
		}
		r.log.Error("consumer.project_failed", "correlation_id", env.CorrelationID, "project", projectName, "error", err)
		r.publishEvent(ctx, env, envelope.EventIndexProjectFailed, envelope.TopicIndexProjectFailed, indexProjectPayload{
			ProjectName: projectName, RootPath: rootPath, Reason: err.Error(), Counts: countsPayload(counts),
		})
		_ = m.Ack()
		return
	}

	r.publishEvent(ctx, env, envelope.EventIndexProjectCompleted, envelope.TopicIndexProjectCompleted, indexProjectPayload{
		ProjectName: projectName, RootPath: rootPath, Counts: countsPayload(counts),
	})
	_ = m.Ack()
}

// publishEvent derives a lifecycle envelope from parent (copying its
// correlation_id unchanged, per §3) and publishes it onto topic. Publish
// failures are logged, never escalated: lifecycle events are an
// observability signal, not part of the offset-commit decision.
func (r *Runtime) publishEvent(ctx context.Context, parent envelope.Envelope, eventType envelope.EventType, topic string, payload any) {
	derived, err := envelope.Derive(parent, eventType, topic, payload)
	if err != nil {
		r.log.Error("consumer.publish_derive_failed", "event_type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(derived)
	if err != nil {
		r.log.Error("consumer.publish_marshal_failed", "event_type", eventType, "error", err)
		return
	}
	if err := r.bus.Publish(ctx, topic, data); err != nil {
		r.log.Error("consumer.publish_failed", "event_type", eventType, "topic", topic, "error", err)
	}
}

func errorKind(err error) string {
	cat, ok := apperr.CategoryOf(err)
	if !ok {
		return "unknown"
	}
	return string(cat)
}

func asValidationError(err error, out **envelope.ValidationError) bool {
	verr, ok := err.(*envelope.ValidationError)
	if ok {
		*out = verr
	}
	return ok
}

// filesFromEnvelope extracts one or more FileRecords from a validated
// enrich-document-requested payload, expanding the batch shape
// ({"files": [...]}) into one record per entry.
func filesFromEnvelope(env envelope.Envelope) ([]model.FileRecord, bool) {
	var probe struct {
		Files json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(env.Payload, &probe); err == nil && probe.Files != nil {
		var batch envelope.BatchRequestPayload
		if err := json.Unmarshal(env.Payload, &batch); err == nil {
			files := make([]model.FileRecord, 0, len(batch.Files))
			for _, f := range batch.Files {
				if f.Path() == "" {
					continue
				}
				files = append(files, model.FileRecord{
					ProjectName:  f.ProjectName,
					AbsolutePath: f.Path(),
					Content:      []byte(f.Content),
				})
			}
			if len(files) > 0 {
				return files, true
			}
		}
		return nil, false
	}

	var single envelope.FileRequestPayload
	if err := json.Unmarshal(env.Payload, &single); err == nil && single.Path() != "" {
		return []model.FileRecord{{
			ProjectName:  single.ProjectName,
			AbsolutePath: single.Path(),
			Content:      []byte(single.Content),
		}}, true
	}
	return nil, false
}

// indexProjectFromEnvelope extracts the project name and root path from a
// validated tree.index-project-requested payload.
func indexProjectFromEnvelope(env envelope.Envelope) (projectName, rootPath string, ok bool) {
	var payload struct {
		ProjectName string `json:"project_name"`
		RootPath    string `json:"root_path"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil || payload.ProjectName == "" {
		return "", "", false
	}
	return payload.ProjectName, payload.RootPath, true
}

// countsFields mirrors orchestrator.Counts in the wire shape lifecycle
// events carry, per §4.5's "files indexed, entities created, relationships
// created, unresolved imports, vectors upserted" tally.
type countsFields struct {
	FilesIndexed         int `json:"files_indexed"`
	EntitiesCreated      int `json:"entities_created"`
	RelationshipsCreated int `json:"relationships_created"`
	UnresolvedImports    int `json:"unresolved_imports"`
	VectorsUpserted      int `json:"vectors_upserted"`
}

func countsPayload(c orchestrator.Counts) countsFields {
	return countsFields{
		FilesIndexed:         c.FilesIndexed,
		EntitiesCreated:      c.EntitiesCreated,
		RelationshipsCreated: c.RelationshipsCreated,
		UnresolvedImports:    c.UnresolvedImports,
		VectorsUpserted:      c.VectorsUpserted,
	}
}

// fileCompletedPayload is the enrichment.file.completed.v1 payload shape.
type fileCompletedPayload struct {
	FilePath    string       `json:"file_path"`
	ProjectName string       `json:"project_name"`
	Counts      countsFields `json:"counts"`
}

// fileFailedPayload is the enrichment.file.failed.v1 payload shape.
type fileFailedPayload struct {
	FilePath    string `json:"file_path"`
	ProjectName string `json:"project_name"`
	Reason      string `json:"reason"`
}

// indexProjectPayload is the shared payload shape for both
// tree.index-project.completed.v1 and tree.index-project.failed.v1; Reason
// is empty on the completed event.
type indexProjectPayload struct {
	ProjectName string       `json:"project_name"`
	RootPath    string       `json:"root_path"`
	Reason      string       `json:"reason,omitempty"`
	Counts      countsFields `json:"counts"`
}
