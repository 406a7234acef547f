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

// Package envelope implements the Event Envelope & Schema Validator (C1):
// it parses a raw bus message, classifies it by topic and event type, and
// enforces the minimal structural invariants required before the
// orchestrator is invoked.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of event classes C1 recognises.
type EventType string

const (
	EventCodeAnalysisRequested   EventType = "code-analysis-requested"
	EventEnrichDocumentRequested EventType = "enrich-document-requested"
	EventIndexProjectRequested   EventType = "tree.index-project-requested"
	EventFileCompleted           EventType = "enrichment.file.completed"
	EventFileFailed              EventType = "enrichment.file.failed"
	EventIndexProjectCompleted   EventType = "tree.index-project.completed"
	EventIndexProjectFailed      EventType = "tree.index-project.failed"
)

// Topic names, per §6.
const (
	TopicFileRequested         = "enrichment.file.requested.v1"
	TopicFileCompleted         = "enrichment.file.completed.v1"
	TopicFileFailed            = "enrichment.file.failed.v1"
	TopicIndexProjectRequested = "tree.index-project.requested.v1"
	TopicIndexProjectCompleted = "tree.index-project.completed.v1"
	TopicIndexProjectFailed    = "tree.index-project.failed.v1"
)

// Envelope is the wire shape every bus message and every derived event
// carries, per §3/§6.
type Envelope struct {
	CorrelationID string          `json:"correlation_id"`
	EventType     EventType       `json:"event_type"`
	Topic         string          `json:"topic"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewCorrelationID mints a v4 UUID for a freshly-initiated ingest, per §3:
// "Correlation IDs are UUIDs (v4 acceptable)."
func NewCorrelationID() string {
	return uuid.NewString()
}

// Derive builds a new envelope for a downstream event, copying
// correlation_id unchanged as §3/§8 require.
func Derive(parent Envelope, eventType EventType, topic string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		CorrelationID: parent.CorrelationID,
		EventType:     eventType,
		Topic:         topic,
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// FileRequestPayload is the single-file shape of an enrichment request.
type FileRequestPayload struct {
	FilePath    string `json:"file_path"`
	SourcePath  string `json:"source_path"` // legacy alias for FilePath
	Content     string `json:"content"`
	ProjectName string `json:"project_name"`
}

// Path returns FilePath, falling back to the legacy SourcePath alias.
func (p FileRequestPayload) Path() string {
	if p.FilePath != "" {
		return p.FilePath
	}
	return p.SourcePath
}

// BatchRequestPayload is the batch shape of an enrichment request.
type BatchRequestPayload struct {
	Files []FileRequestPayload `json:"files"`
}
