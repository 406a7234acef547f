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

// Package bus is the message-bus boundary the Consumer Runtime (C6) pulls
// from and publishes lifecycle events onto. The
// NATS JetStream implementation uses durable pull subscriptions as
// competing-consumer groups; Fake backs tests with no network dependency.
package bus

import "context"

// Message is a single delivery off the bus. Ack/Nak/Term map onto §7's
// offset-commit semantics: Ack commits, Nak requeues with backoff, Term
// commits-and-quarantines (schema-invalid, never redelivered).
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

// Subscriber is a durable pull-subscription consumer group handle.
type Subscriber interface {
	// Fetch pulls up to max pending messages, blocking until at least one
	// is available, ctx is cancelled, or the pull times out (an empty,
	// non-error result).
	Fetch(ctx context.Context, max int) ([]Message, error)
}

// Publisher emits events onto a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Bus bundles both sides of the boundary the Consumer Runtime needs.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, subject, durable string) (Subscriber, error)
	Close() error
}
