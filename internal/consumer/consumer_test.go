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

package consumer

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
	"github.com/kraklabs/enrichment-consumer/internal/bus"
	"github.com/kraklabs/enrichment-consumer/internal/envelope"
	"github.com/kraklabs/enrichment-consumer/internal/model"
	"github.com/kraklabs/enrichment-consumer/internal/orchestrator"
)

// stubProcessor lets tests control ProcessFile's outcome without a real
// orchestrator.
type stubProcessor struct {
	calls        int32
	projectCalls int32
	err          error
	mode         orchestrator.Mode
	counts       orchestrator.Counts
}

func (s *stubProcessor) ProcessFile(_ context.Context, _ string, _ model.FileRecord) (orchestrator.Counts, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.counts, s.err
}

func (s *stubProcessor) ProcessProject(_ context.Context, _, _, _ string) (orchestrator.Counts, error) {
	atomic.AddInt32(&s.projectCalls, 1)
	return s.counts, s.err
}

func (s *stubProcessor) Mode() orchestrator.Mode { return s.mode }

func publishFileRequest(t *testing.T, b *bus.FakeBus, subject string, payload envelope.FileRequestPayload) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env := envelope.Envelope{CorrelationID: "corr-1", EventType: envelope.EventEnrichDocumentRequested, Topic: subject, Payload: raw}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), subject, data))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRuntime_ValidMessageAcksAfterSuccess(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 2, nil)

	publishFileRequest(t, b, envelope.TopicFileRequested, envelope.FileRequestPayload{FilePath: "/a.py", Content: "x", ProjectName: "demo"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(100 * time.Millisecond)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&proc.calls) == 1 })
	waitFor(t, time.Second, func() bool { return b.Published(envelope.TopicFileRequested)[0].Acked() })
}

func TestRuntime_InvalidMessageNeverReachesOrchestrator(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 2, nil)

	// Missing correlation_id makes the envelope itself invalid.
	env := envelope.Envelope{Topic: envelope.TopicFileRequested, Payload: json.RawMessage(`{"file_path":"/a.py","content":"x"}`)}
	data, _ := json.Marshal(env)
	require.NoError(t, b.Publish(context.Background(), envelope.TopicFileRequested, data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(100 * time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&proc.calls))
	assert.EqualValues(t, 1, rt.Metrics().Snapshot(nil, "").InvalidEvents.TotalSkipped)
}

func TestRuntime_TransientFailureNaksForRedelivery(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{err: apperr.NewTransient("boom", "", nil)}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 1, nil)

	publishFileRequest(t, b, envelope.TopicFileRequested, envelope.FileRequestPayload{FilePath: "/a.py", Content: "x", ProjectName: "demo"})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rt.Start(ctx))

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&proc.calls) >= 2 })
	cancel()
	rt.Stop(100 * time.Millisecond)
}

func TestRuntime_FatalFailureAcksAndContinues(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{err: apperr.NewFatal("bad data", "", nil)}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 1, nil)

	publishFileRequest(t, b, envelope.TopicFileRequested, envelope.FileRequestPayload{FilePath: "/a.py", Content: "x", ProjectName: "demo"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(100 * time.Millisecond)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&proc.calls) == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&proc.calls)) // not retried
	waitFor(t, time.Second, func() bool { return b.Published(envelope.TopicFileRequested)[0].Acked() })
}

func TestRuntime_SuccessPublishesFileCompletedWithCorrelationID(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{counts: orchestrator.Counts{FilesIndexed: 1, EntitiesCreated: 2}}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 1, nil)

	publishFileRequest(t, b, envelope.TopicFileRequested, envelope.FileRequestPayload{FilePath: "/a.py", Content: "x", ProjectName: "demo"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(100 * time.Millisecond)

	waitFor(t, time.Second, func() bool { return len(b.Published(envelope.TopicFileCompleted)) == 1 })
	msg := b.Published(envelope.TopicFileCompleted)[0]
	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(msg.Data(), &env))
	assert.Equal(t, "corr-1", env.CorrelationID)
	var payload fileCompletedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "/a.py", payload.FilePath)
	assert.Equal(t, 2, payload.Counts.EntitiesCreated)
}

func TestRuntime_FatalFailurePublishesFileFailed(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{err: apperr.NewFatal("bad data", "", nil)}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 1, nil)

	publishFileRequest(t, b, envelope.TopicFileRequested, envelope.FileRequestPayload{FilePath: "/a.py", Content: "x", ProjectName: "demo"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(100 * time.Millisecond)

	waitFor(t, time.Second, func() bool { return len(b.Published(envelope.TopicFileFailed)) == 1 })
	assert.Empty(t, b.Published(envelope.TopicFileCompleted))
}

func TestRuntime_TransientFailureDoesNotPublishCompletionYet(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{err: apperr.NewTransient("boom", "", nil)}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 1, nil)

	publishFileRequest(t, b, envelope.TopicFileRequested, envelope.FileRequestPayload{FilePath: "/a.py", Content: "x", ProjectName: "demo"})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rt.Start(ctx))

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&proc.calls) >= 2 })
	cancel()
	rt.Stop(100 * time.Millisecond)

	assert.Empty(t, b.Published(envelope.TopicFileCompleted))
	assert.Empty(t, b.Published(envelope.TopicFileFailed))
}

func TestRuntime_BatchPayloadExpandsIntoOneProcessFileCallPerFile(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{}
	rt := New(b, envelope.TopicFileRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 1, nil)

	batch := envelope.BatchRequestPayload{Files: []envelope.FileRequestPayload{
		{FilePath: "/a.py", Content: "a", ProjectName: "demo"},
		{FilePath: "/b.py", Content: "b", ProjectName: "demo"},
	}}
	raw, err := json.Marshal(batch)
	require.NoError(t, err)
	env := envelope.Envelope{CorrelationID: "corr-1", EventType: envelope.EventEnrichDocumentRequested, Topic: envelope.TopicFileRequested, Payload: raw}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), envelope.TopicFileRequested, data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(100 * time.Millisecond)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&proc.calls) == 2 })
	assert.Equal(t, 0, int(rt.Metrics().Snapshot(nil, "").InvalidEvents.TotalSkipped))
	waitFor(t, time.Second, func() bool { return len(b.Published(envelope.TopicFileCompleted)) == 2 })
}

func TestRuntime_IndexProjectRequestDispatchesToProcessProject(t *testing.T) {
	b := bus.NewFakeBus()
	proc := &stubProcessor{counts: orchestrator.Counts{FilesIndexed: 3}}
	rt := New(b, envelope.TopicIndexProjectRequested, "enrichment-consumer", envelope.NewValidator(nil), proc, 1, nil)

	payload, err := json.Marshal(map[string]string{"project_name": "demo", "root_path": "/repo"})
	require.NoError(t, err)
	env := envelope.Envelope{CorrelationID: "corr-2", EventType: envelope.EventIndexProjectRequested, Topic: envelope.TopicIndexProjectRequested, Payload: payload}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), envelope.TopicIndexProjectRequested, data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(100 * time.Millisecond)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&proc.projectCalls) == 1 })
	waitFor(t, time.Second, func() bool { return len(b.Published(envelope.TopicIndexProjectCompleted)) == 1 })
	var completed envelope.Envelope
	require.NoError(t, json.Unmarshal(b.Published(envelope.TopicIndexProjectCompleted)[0].Data(), &completed))
	assert.Equal(t, "corr-2", completed.CorrelationID)
}
