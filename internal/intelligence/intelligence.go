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

// Package intelligence is the HTTP client C5 uses to reach the external
// intelligence and metadata-stamping services, wrapped in a circuit
// breaker and a bounded retry policy.
package intelligence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
)

// DocumentRequest is the shared request body for both intelligence
// endpoints, per §6.
type DocumentRequest struct {
	FilePath    string `json:"file_path"`
	Content     string `json:"content"`
	ProjectName string `json:"project_name"`
}

// Entity/Import mirror the shapes C2/C4 need out of a generate-intelligence
// response.
type Entity struct {
	EntityType    string  `json:"entity_type"`
	Name          string  `json:"name"`
	QualifiedName string  `json:"qualified_name"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
}

type Import struct {
	Path string `json:"path"`
}

// GenerateResponse is the response shape of /api/bridge/generate-intelligence.
type GenerateResponse struct {
	Concepts       []string `json:"concepts"`
	Themes         []string `json:"themes"`
	QualityScore   float64  `json:"quality_score"`
	OnexCompliance bool     `json:"onex_compliance"`
	Entities       []Entity `json:"entities"`
	Imports        []Import `json:"imports"`
}

// ProcessDocumentResponse is the response shape of /process/document (used
// end-to-end by the HTTP fallback path — it already embeds everything the
// bus-mode stamping round-trip would otherwise add).
type ProcessDocumentResponse struct {
	GenerateResponse
	Embedding []float32 `json:"embedding"`
}

// StampResponse is the metadata-stamping service's response.
type StampResponse struct {
	ContentHash    string  `json:"content_hash"`
	OnexCompliance float64 `json:"onex_compliance"`
}

// Client talks to the intelligence and stamping HTTP services. A closed
// circuit breaker guards the intelligence endpoints only (§5.3's readiness
// contract refers specifically to "downstream intelligence service
// healthy"); the stamping client's mere presence (not its health) decides
// §4.5's async-bus vs http-fallback mode at startup.
type Client struct {
	http            *http.Client
	intelligenceURL string
	stampingURL     string
	log             *slog.Logger
	breaker         *gobreaker.CircuitBreaker
}

// Config bundles the values §6 surfaces as environment keys.
type Config struct {
	IntelligenceURL string
	StampingURL     string // empty means "stamping client unavailable" → http_fallback mode
	TotalTimeout    time.Duration
	ConnectTimeout  time.Duration
}

// New builds a Client. StampingURL may be empty, per §4.5's mode decision.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TotalTimeout == 0 {
		cfg.TotalTimeout = 30 * time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{DialContext: dialer.DialContext}

	breakerSettings := gobreaker.Settings{
		Name:    "intelligence-service",
		Timeout: 30 * time.Second, // half-open probe delay, per §5.6
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("intelligence.circuit_breaker.state_change", "from", from, "to", to)
		},
	}

	return &Client{
		http:            &http.Client{Timeout: cfg.TotalTimeout, Transport: transport},
		intelligenceURL: cfg.IntelligenceURL,
		stampingURL:     cfg.StampingURL,
		log:             log,
		breaker:         gobreaker.NewCircuitBreaker(breakerSettings),
	}
}

// HasStamping reports whether a stamping endpoint was configured, the sole
// input to C5's once-at-startup async-bus-vs-http-fallback decision.
func (c *Client) HasStamping() bool {
	return c.stampingURL != ""
}

// BreakerState exposes the circuit breaker's current state for /ready.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// GenerateIntelligence calls POST /api/bridge/generate-intelligence.
func (c *Client) GenerateIntelligence(ctx context.Context, req DocumentRequest) (*GenerateResponse, error) {
	var out GenerateResponse
	err := c.breakerCall(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, c.intelligenceURL+"/api/bridge/generate-intelligence", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessDocument calls POST /process/document, the single round-trip the
// HTTP fallback path uses end-to-end.
func (c *Client) ProcessDocument(ctx context.Context, req DocumentRequest) (*ProcessDocumentResponse, error) {
	var out ProcessDocumentResponse
	err := c.breakerCall(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, c.intelligenceURL+"/process/document", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StampMetadata calls the metadata-stamping service. Only meaningful when
// HasStamping() is true; bus mode uses this directly, and it is skipped
// entirely in HTTP fallback mode per §4.5 stage 3.
func (c *Client) StampMetadata(ctx context.Context, req DocumentRequest) (*StampResponse, error) {
	var out StampResponse
	op := func() error {
		return c.postJSON(ctx, c.stampingURL+"/stamp", req, &out)
	}
	if err := backoff.Retry(op, backoff.WithContext(retryPolicy(), ctx)); err != nil {
		return nil, classifyHTTPErr(err)
	}
	return &out, nil
}

// breakerCall wraps op with the circuit breaker and the shared retry
// policy (the first attempt plus up to 3 retries with backoff).
func (c *Client) breakerCall(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		retryable := func() error { return op(ctx) }
		rerr := backoff.Retry(retryable, backoff.WithContext(intelligenceRetryPolicy(), ctx))
		return nil, rerr
	})
	if err == gobreaker.ErrOpenState {
		return apperr.NewTransient("intelligence service circuit breaker open", "", err)
	}
	if err != nil {
		return classifyHTTPErr(err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return apperr.NewFatal("encode intelligence request", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return apperr.NewFatal("build intelligence request", url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.NewTransient("intelligence request failed", url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return apperr.NewTransient("intelligence service error", fmt.Sprintf("status=%d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return apperr.NewFatal("intelligence request rejected", fmt.Sprintf("status=%d body=%s", resp.StatusCode, raw), nil)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.NewFatal("decode intelligence response", url, err)
		}
	}
	return nil
}

// retryPolicy implements the shared §4.3/§6 contract: base 250ms, factor
// 2, cap 8s, max 5 attempts.
func retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 4)
}

// intelligenceRetryPolicy implements §6's narrower "retried 3x" contract
// for the circuit-breaker-guarded intelligence endpoints specifically.
func intelligenceRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 3)
}

func classifyHTTPErr(err error) error {
	if _, ok := apperr.CategoryOf(err); ok {
		return err
	}
	return apperr.NewTransient("intelligence call exhausted retries", "", err)
}
