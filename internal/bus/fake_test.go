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

package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeBus_PublishThenFetch(t *testing.T) {
	b := NewFakeBus()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "enrichment.file.requested.v1", []byte(`{"a":1}`)))

	sub, err := b.Subscribe(ctx, "enrichment.file.requested.v1", "enrichment-consumer")
	require.NoError(t, err)

	msgs, err := sub.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"a":1}`, string(msgs[0].Data()))

	more, err := sub.Fetch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestFakeMessage_NakMakesMessageRedeliverable(t *testing.T) {
	b := NewFakeBus()
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "subj", []byte("x")))

	sub, _ := b.Subscribe(ctx, "subj", "grp")
	msgs, _ := sub.Fetch(ctx, 10)
	require.Len(t, msgs, 1)
	require.NoError(t, msgs[0].Nak())

	redelivered, err := sub.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
}

func TestFakeMessage_AckTermRecorded(t *testing.T) {
	m := &FakeMessage{subject: "s", data: []byte("x")}
	require.NoError(t, m.Term())
	assert.True(t, m.Termed())
	assert.False(t, m.Acked())
}
