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

// Package producer is a reference bus producer used to exercise the
// consumer runtime end-to-end without a real upstream event source: it
// walks a directory, skips files whose content hash hasn't changed since
// the last walk, and publishes one file-requested envelope per changed
// file.
package producer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kraklabs/enrichment-consumer/internal/bus"
	"github.com/kraklabs/enrichment-consumer/internal/envelope"
)

// Producer walks a repository and publishes file-requested events for
// files whose content changed since the previous walk.
type Producer struct {
	bus         bus.Publisher
	projectName string

	mu         sync.Mutex
	lastHashes map[string]string
}

// New builds a Producer publishing onto b under projectName.
func New(b bus.Publisher, projectName string) *Producer {
	return &Producer{bus: b, projectName: projectName, lastHashes: make(map[string]string)}
}

// WalkResult summarizes one Walk call.
type WalkResult struct {
	Published int
	Unchanged int
	Skipped   int
}

// Walk walks root, publishing a file-requested envelope for every regular
// file whose content hash differs from the last Walk over the same path.
// A non-nil filter excludes paths it returns false for (e.g. vendor/.git).
func (p *Producer) Walk(ctx context.Context, root string, filter func(path string) bool) (WalkResult, error) {
	var result WalkResult

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if filter != nil && !filter(path) {
			result.Skipped++
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		content, err := os.ReadFile(path)
		if err != nil {
			result.Skipped++
			return nil
		}

		hash := contentHash(content)
		if !p.changed(path, hash) {
			result.Unchanged++
			return nil
		}

		if err := p.publish(ctx, path, content); err != nil {
			return err
		}
		result.Published++
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

func (p *Producer) changed(path, hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastHashes[path] == hash {
		return false
	}
	p.lastHashes[path] = hash
	return true
}

func (p *Producer) publish(ctx context.Context, path string, content []byte) error {
	payload := envelope.FileRequestPayload{
		FilePath:    path,
		Content:     string(content),
		ProjectName: p.projectName,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	env := envelope.Envelope{
		CorrelationID: envelope.NewCorrelationID(),
		EventType:     envelope.EventEnrichDocumentRequested,
		Topic:         envelope.TopicFileRequested,
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, envelope.TopicFileRequested, data)
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
