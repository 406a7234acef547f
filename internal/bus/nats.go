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
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kraklabs/enrichment-consumer/internal/apperr"
)

// StreamName is the single JetStream stream every topic in §6 is bound to.
const StreamName = "ENRICHMENT_EVENTS"

// NatsBus wraps a JetStream context. Every BUS_CONSUMER_GROUP shares a
// durable name across replicas, so each event is processed exactly once
// within the group (competing consumers).
type NatsBus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Dial connects to servers (comma-separated, per BUS_BOOTSTRAP_SERVERS) and
// ensures the enrichment stream exists.
func Dial(servers string) (*NatsBus, error) {
	conn, err := nats.Connect(servers, nats.MaxReconnects(-1))
	if err != nil {
		return nil, apperr.NewRuntime("bus connect failed", servers, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, apperr.NewRuntime("jetstream context failed", servers, err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"enrichment.>", "tree.>"},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		conn.Close()
		return nil, apperr.NewRuntime("ensure stream failed", StreamName, err)
	}

	return &NatsBus{conn: conn, js: js}, nil
}

func (b *NatsBus) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := b.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return apperr.NewTransient("bus publish failed", subject, err)
	}
	return nil
}

// Subscribe creates a durable pull subscription bound to durable, the
// consumer-group name shared by all replicas, per §4.6.
func (b *NatsBus) Subscribe(_ context.Context, subject, durable string) (Subscriber, error) {
	sub, err := b.js.PullSubscribe(subject, durable, nats.BindStream(StreamName))
	if err != nil {
		return nil, apperr.NewRuntime("pull subscribe failed", fmt.Sprintf("%s/%s", subject, durable), err)
	}
	return &natsSubscriber{sub: sub}, nil
}

func (b *NatsBus) Close() error {
	b.conn.Close()
	return nil
}

type natsSubscriber struct {
	sub *nats.Subscription
}

// Fetch pulls up to max messages. A timeout on an empty queue is not an
// error — it's treated as "nothing arrived this round", matching the
// teacher's "continue on ErrTimeout" loop.
func (s *natsSubscriber) Fetch(ctx context.Context, max int) ([]Message, error) {
	msgs, err := s.sub.Fetch(max, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, apperr.NewTransient("bus fetch failed", "", err)
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &natsMessage{msg: m})
	}
	return out, nil
}

type natsMessage struct {
	msg *nats.Msg
}

func (m *natsMessage) Subject() string { return m.msg.Subject }
func (m *natsMessage) Data() []byte    { return m.msg.Data }
func (m *natsMessage) Ack() error      { return m.msg.Ack() }
func (m *natsMessage) Nak() error      { return m.msg.Nak() }
func (m *natsMessage) Term() error     { return m.msg.Term() }
