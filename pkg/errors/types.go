// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import "fmt"

// ValidationError represents user input validation failures.
// Use this for malformed requests, bad payloads, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource (breakpoint, watch, frame,
// test) does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "breakpoint", "watch", "frame")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConditionError represents a breakpoint or watch condition that failed
// to compile. A condition that does not compile is rejected at set time
// and the breakpoint or watch is not installed.
type ConditionError struct {
	// Expression is the condition text that was rejected
	Expression string

	// Message describes the compile failure
	Message string

	// Cause is the underlying compiler error
	Cause error
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("invalid condition %q: %s", e.Expression, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConditionError) Unwrap() error {
	return e.Cause
}

// ProtocolError represents a malformed or unexpected unit on the wire.
// Note that an unrecognized command line is not a protocol error; it
// falls through to the interactive statement path.
type ProtocolError struct {
	// Line is the offending wire line (may be truncated)
	Line string

	// Reason explains what is wrong with it
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (line %q)", e.Reason, e.Line)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid
// config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "connect.port")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
