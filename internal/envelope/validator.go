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

package envelope

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ReasonLegacyCodeAnalysisOnEnrichmentTopic is the exact diagnostic string
// Testable Property #2 in §8 requires when a code-analysis-shaped payload
// (file_path or source_path plus content at top level, with no files array
// and no project_name) arrives on an enrichment topic.
const ReasonLegacyCodeAnalysisOnEnrichmentTopic = "Old code-analysis schema detected in enrichment topic"

// ValidationError describes why an envelope was rejected. Reason strings
// are stable identifiers used for counter bucketing in §8.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func invalid(reason, detail string) *ValidationError {
	return &ValidationError{Reason: reason, Detail: detail}
}

// Reason buckets used by Testable Property #2.
const (
	ReasonMissingCorrelationID = "missing correlation_id"
	ReasonMissingEventType     = "missing event_type"
	ReasonUnknownTopic         = "unrecognised_event"
	ReasonMalformedPayload     = "malformed payload JSON"
	ReasonEmptyFileList        = "batch payload has no files"
	ReasonMissingFilePath      = "file payload missing file_path"
)

// Validator enforces the schema invariants of §4.1 and tallies invalid
// events per reason and in total: every invalid event is logged as a
// warning, and every 100th invalid event overall is escalated to error
// with the per-reason breakdown.
type Validator struct {
	log     *slog.Logger
	counts  map[string]*int64
	unknown int64
	total   int64
}

// NewValidator builds a Validator that logs through log.
func NewValidator(log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	v := &Validator{log: log, counts: make(map[string]*int64)}
	for _, reason := range []string{
		ReasonMissingCorrelationID, ReasonMissingEventType, ReasonUnknownTopic,
		ReasonMalformedPayload, ReasonEmptyFileList, ReasonMissingFilePath,
		ReasonLegacyCodeAnalysisOnEnrichmentTopic,
	} {
		var c int64
		v.counts[reason] = &c
	}
	return v
}

// Validate checks envelope-level invariants shared by every topic, then
// dispatches to a topic-specific payload check. It returns a
// *ValidationError (never wrapped) on rejection so callers can inspect
// Reason directly.
func (v *Validator) Validate(env Envelope) error {
	if env.CorrelationID == "" {
		return v.reject(invalid(ReasonMissingCorrelationID, ""))
	}
	if env.EventType == "" {
		return v.reject(invalid(ReasonMissingEventType, ""))
	}

	switch env.Topic {
	case TopicFileRequested:
		return v.validateFileRequested(env)
	case TopicIndexProjectRequested:
		return v.validateIndexProjectRequested(env)
	case TopicFileCompleted, TopicFileFailed, TopicIndexProjectCompleted, TopicIndexProjectFailed:
		return nil // lifecycle events pass through unvalidated; C1 only gates requests
	default:
		return v.reject(invalid(ReasonUnknownTopic, env.Topic))
	}
}

func (v *Validator) validateFileRequested(env Envelope) error {
	if looksLikeLegacyCodeAnalysis(env.Payload) {
		return v.reject(invalid(ReasonLegacyCodeAnalysisOnEnrichmentTopic, ""))
	}

	var probe struct {
		Files json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(env.Payload, &probe); err != nil {
		return v.reject(invalid(ReasonMalformedPayload, err.Error()))
	}

	if probe.Files != nil {
		var batch BatchRequestPayload
		if err := json.Unmarshal(env.Payload, &batch); err != nil {
			return v.reject(invalid(ReasonMalformedPayload, err.Error()))
		}
		if len(batch.Files) == 0 {
			return v.reject(invalid(ReasonEmptyFileList, ""))
		}
		for _, f := range batch.Files {
			if f.Path() == "" {
				return v.reject(invalid(ReasonMissingFilePath, ""))
			}
		}
		return nil
	}

	var single FileRequestPayload
	if err := json.Unmarshal(env.Payload, &single); err != nil {
		return v.reject(invalid(ReasonMalformedPayload, err.Error()))
	}
	if single.Path() == "" {
		return v.reject(invalid(ReasonMissingFilePath, ""))
	}
	return nil
}

func (v *Validator) validateIndexProjectRequested(env Envelope) error {
	var payload struct {
		ProjectName string `json:"project_name"`
		RootPath    string `json:"root_path"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return v.reject(invalid(ReasonMalformedPayload, err.Error()))
	}
	if payload.ProjectName == "" {
		return v.reject(invalid(ReasonMissingFilePath, "project_name"))
	}
	return nil
}

// looksLikeLegacyCodeAnalysis detects the anti-pattern of a pre-migration
// code-analysis payload (top-level file_path or source_path plus content,
// no files array, no project_name) landing on an enrichment topic.
func looksLikeLegacyCodeAnalysis(raw json.RawMessage) bool {
	var probe struct {
		FilePath    string          `json:"file_path"`
		SourcePath  string          `json:"source_path"`
		Content     string          `json:"content"`
		ProjectName string          `json:"project_name"`
		Files       json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	path := probe.FilePath
	if path == "" {
		path = probe.SourcePath
	}
	return path != "" && probe.Content != "" && probe.ProjectName == "" && len(probe.Files) == 0
}

// reject logs the rejection, bumps the per-reason and total counters, and
// escalates to Error, with the per-reason breakdown, on every 100th
// rejection overall.
func (v *Validator) reject(verr *ValidationError) error {
	counter, known := v.counts[verr.Reason]
	if !known {
		counter = &v.unknown
	}
	n := atomic.AddInt64(counter, 1)
	total := atomic.AddInt64(&v.total, 1)

	attrs := []any{"reason", verr.Reason, "detail", verr.Detail, "count", n, "total", total}
	if total%100 == 0 {
		byReason := make(map[string]int64, len(v.counts))
		for reason, c := range v.counts {
			byReason[reason] = atomic.LoadInt64(c)
		}
		v.log.Error("envelope.invalid_event.escalated", append(attrs, "by_reason", byReason)...)
	} else {
		v.log.Warn("envelope.invalid_event", attrs...)
	}
	return verr
}

// Count returns how many times reason has been observed so far.
func (v *Validator) Count(reason string) int64 {
	counter, ok := v.counts[reason]
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}
