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

// Package apperr classifies errors into the categories the consumer runtime
// and orchestrator need to decide whether to skip, retry, or crash.
package apperr

import (
	"errors"
	"fmt"
)

// Category is one leaf of the error taxonomy.
type Category string

const (
	// CategorySchemaInvalid marks a message that failed C1 validation:
	// skip, count, commit the offset, never retry.
	CategorySchemaInvalid Category = "schema_invalid"

	// CategoryTransient marks a network or temporary resource failure:
	// retry with backoff, then escalate to fatal if retries are exhausted.
	CategoryTransient Category = "transient"

	// CategoryFatal marks a domain-fatal outcome scoped to one file:
	// mark the file failed, emit a failure event, keep processing the batch.
	CategoryFatal Category = "fatal"

	// CategoryRuntime marks a runtime-fatal condition: the process exits
	// with a non-zero code and is restarted by its supervisor.
	CategoryRuntime Category = "runtime"

	// CategoryConfig marks a startup configuration error (exit code 1).
	CategoryConfig Category = "config"
)

// Error is a structured, categorized application error.
type Error struct {
	Category Category
	Title    string
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Category, e.Title)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Category, e.Title, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Category, e.Title, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(cat Category, title, detail string, cause error) *Error {
	return &Error{Category: cat, Title: title, Detail: detail, Cause: cause}
}

// NewConfig builds a startup configuration error (exit code 1).
func NewConfig(title, detail string, cause error) *Error {
	return new_(CategoryConfig, title, detail, cause)
}

// NewSchemaInvalid builds a C1 validation failure carrying the skip reason.
func NewSchemaInvalid(reason string) *Error {
	return new_(CategorySchemaInvalid, "invalid event", reason, nil)
}

// NewTransient builds a retryable I/O failure.
func NewTransient(title, detail string, cause error) *Error {
	return new_(CategoryTransient, title, detail, cause)
}

// NewFatal builds a per-file-fatal error.
func NewFatal(title, detail string, cause error) *Error {
	return new_(CategoryFatal, title, detail, cause)
}

// NewRuntime builds a runtime-fatal error that should abort the process.
func NewRuntime(title, detail string, cause error) *Error {
	return new_(CategoryRuntime, title, detail, cause)
}

// CategoryOf extracts the Category from err, walking Unwrap chains. It
// returns ("", false) if err does not carry one of this package's errors.
func CategoryOf(err error) (Category, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Category, true
	}
	return "", false
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	cat, ok := CategoryOf(err)
	return ok && cat == CategoryTransient
}

// IsFatal reports whether err is scoped to a single file/message.
func IsFatal(err error) bool {
	cat, ok := CategoryOf(err)
	return ok && cat == CategoryFatal
}
