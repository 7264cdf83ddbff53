// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/hacrvlq/skeld/sandbox"
)

// IncludeNotFoundError is returned when an include item cannot be
// located under any candidate <SKELD-DATA>/include directory.
type IncludeNotFoundError struct {
	Name string
}

func (e *IncludeNotFoundError) Error() string {
	return fmt.Sprintf("include not found: %s", e.Name)
}

// IncludeReadError wraps a failure reading or parsing a fragment that
// was otherwise successfully located (root, user-wide, or a resolved
// include).
type IncludeReadError struct {
	Path string
	Err  error
}

func (e *IncludeReadError) Error() string { return fmt.Sprintf("reading %s: %v", e.Path, e.Err) }
func (e *IncludeReadError) Unwrap() error  { return e.Err }

// MissingRequiredFieldError is returned when a required scalar is
// absent after the full merge (currently only project-dir).
type MissingRequiredFieldError struct {
	Field string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// AccessLevelConflictError is returned when the same resolved path is
// requested at two access levels that cannot coexist, per spec.md §3's
// conflict rules: Symlink and Tmpfs are mutually exclusive with every
// mount level, including each other.
type AccessLevelConflictError struct {
	Path     string
	Existing sandbox.AccessLevel
	Incoming sandbox.AccessLevel
}

func (e *AccessLevelConflictError) Error() string {
	return fmt.Sprintf("access level conflict at %s: %s vs %s", e.Path, e.Existing, e.Incoming)
}

// EmptyEditorArgvError is returned when the resolved editor argv (after
// any $(FILE) tokens are resolved or dropped) has no remaining elements.
type EmptyEditorArgvError struct{}

func (e *EmptyEditorArgvError) Error() string { return "editor argv is empty after resolution" }

// SymlinkReadError is returned when a whitelist-ln entry's resolved path
// is not actually a symlink on the host (or cannot be read), per
// spec.md §3's "the contract is documented, not auto-corrected": Skeld
// does not fall back to a different access level on the caller's
// behalf, it reports why the Symlink entry could not be built.
type SymlinkReadError struct {
	Path string
	Err  error
}

func (e *SymlinkReadError) Error() string {
	return fmt.Sprintf("reading symlink %s: %v", e.Path, e.Err)
}
func (e *SymlinkReadError) Unwrap() error { return e.Err }
