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

package intelligence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
)

func TestGenerateIntelligence_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bridge/generate-intelligence", r.URL.Path)
		_ = json.NewEncoder(w).Encode(GenerateResponse{
			Concepts: []string{"parsing"}, QualityScore: 0.9,
		})
	}))
	defer srv.Close()

	c := New(Config{IntelligenceURL: srv.URL}, nil)
	resp, err := c.GenerateIntelligence(context.Background(), DocumentRequest{FilePath: "a.py"})
	require.NoError(t, err)
	assert.Equal(t, []string{"parsing"}, resp.Concepts)
	assert.Equal(t, 0.9, resp.QualityScore)
}

func TestHasStamping_ReflectsConfiguredURL(t *testing.T) {
	withStamping := New(Config{StampingURL: "http://stamping.local"}, nil)
	assert.True(t, withStamping.HasStamping())

	withoutStamping := New(Config{}, nil)
	assert.False(t, withoutStamping.HasStamping())
}

func Test5xxResponse_IsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{IntelligenceURL: srv.URL}, nil)
	_, err := c.GenerateIntelligence(context.Background(), DocumentRequest{FilePath: "a.py"})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))
}

func Test4xxResponse_IsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{IntelligenceURL: srv.URL}, nil)
	_, err := c.GenerateIntelligence(context.Background(), DocumentRequest{FilePath: "a.py"})
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
}
