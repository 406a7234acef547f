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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics backs the /metrics JSON endpoint (§4.6) with a small set of
// Prometheus gauges/counters, mirroring the teacher's pattern of keeping
// process-lifetime counters behind a registry even when the external
// surface is plain JSON rather than the Prometheus exposition format.
type Metrics struct {
	startedAt time.Time

	invalidTotal    int64
	invalidMu       sync.Mutex
	invalidByReason map[string]int64

	errorMu     sync.Mutex
	errorByKind map[string]int64

	registry             *prometheus.Registry
	invalidEventsCounter *prometheus.CounterVec
	errorsCounter        *prometheus.CounterVec
}

// NewMetrics builds an empty Metrics sink.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	invalidEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_consumer_invalid_events_total",
		Help: "Count of invalid events skipped by C1, by reason.",
	}, []string{"reason"})
	errors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrichment_consumer_errors_total",
		Help: "Count of processing errors, by kind.",
	}, []string{"kind"})
	registry.MustRegister(invalidEvents, errors)

	return &Metrics{
		startedAt:            time.Now(),
		invalidByReason:      make(map[string]int64),
		errorByKind:          make(map[string]int64),
		registry:             registry,
		invalidEventsCounter: invalidEvents,
		errorsCounter:        errors,
	}
}

// RecordInvalidEvent bumps the invalid-events counter for reason. Per
// §4.6's invalid-event metric contract, this counter is monotonic per
// process lifetime and by_reason preserves full error-message keys.
func (m *Metrics) RecordInvalidEvent(reason string) {
	atomic.AddInt64(&m.invalidTotal, 1)
	m.invalidMu.Lock()
	m.invalidByReason[reason]++
	m.invalidMu.Unlock()
	m.invalidEventsCounter.WithLabelValues(reason).Inc()
}

// RecordError bumps the error-by-kind counter.
func (m *Metrics) RecordError(kind string) {
	m.errorMu.Lock()
	m.errorByKind[kind]++
	m.errorMu.Unlock()
	m.errorsCounter.WithLabelValues(kind).Inc()
}

// reasonCount pairs a reason with its tally, for the ordered-desc by_reason
// list §4.6 requires.
type reasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// Snapshot is the JSON shape served at /metrics.
type Snapshot struct {
	UptimeSeconds  float64                `json:"uptime_seconds"`
	Consumer       ConsumerSnapshot       `json:"consumer"`
	Errors         map[string]int64       `json:"errors"`
	InvalidEvents  InvalidEventsSnapshot  `json:"invalid_events"`
	CircuitBreaker CircuitBreakerSnapshot `json:"circuit_breaker"`
}

type ConsumerSnapshot struct {
	TotalLag    int64            `json:"total_lag"`
	PerTopicLag map[string]int64 `json:"per_topic_lag"`
}

type InvalidEventsSnapshot struct {
	TotalSkipped int64         `json:"total_skipped"`
	ByReason     []reasonCount `json:"by_reason"`
}

type CircuitBreakerSnapshot struct {
	State string `json:"state"`
}

// Snapshot renders the current counters. lag and breakerState are supplied
// by the caller (consumer runtime owns lag tracking via the bus client;
// the intelligence client owns breaker state).
func (m *Metrics) Snapshot(perTopicLag map[string]int64, breakerState string) Snapshot {
	m.errorMu.Lock()
	errorsCopy := make(map[string]int64, len(m.errorByKind))
	for k, v := range m.errorByKind {
		errorsCopy[k] = v
	}
	m.errorMu.Unlock()

	m.invalidMu.Lock()
	byReason := make([]reasonCount, 0, len(m.invalidByReason))
	for reason, count := range m.invalidByReason {
		byReason = append(byReason, reasonCount{Reason: reason, Count: count})
	}
	m.invalidMu.Unlock()
	sort.Slice(byReason, func(i, j int) bool { return byReason[i].Count > byReason[j].Count })

	var totalLag int64
	for _, lag := range perTopicLag {
		totalLag += lag
	}

	return Snapshot{
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
		Consumer: ConsumerSnapshot{
			TotalLag:    totalLag,
			PerTopicLag: perTopicLag,
		},
		Errors: errorsCopy,
		InvalidEvents: InvalidEventsSnapshot{
			TotalSkipped: atomic.LoadInt64(&m.invalidTotal),
			ByReason:     byReason,
		},
		CircuitBreaker: CircuitBreakerSnapshot{State: breakerState},
	}
}
