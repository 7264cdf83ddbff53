// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the raw, per-file configuration model (C2) and the
// include-graph resolver and merger that folds many such fragments into
// one effective sandbox specification (C3).
package config

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Fragment is the in-memory form of a single parsed configuration file,
// mirroring the schema table in spec.md §6 field for field. Unknown keys
// are rejected at parse time (DisallowUnknownFields below), matching
// spec.md §4.2's "unknown keys are rejected with a diagnostic".
//
// AutoNixShell, NoSandbox, and Editor.Detach are *bool rather than bool:
// spec.md §4.3 step 3 merges these as last-writer-wins scalars, which
// requires telling "explicitly false" apart from "absent from this
// fragment" (a plain bool zero-values to false either way, which would
// make an include's explicit `no-sandbox = false` indistinguishable
// from simply not mentioning the key). go-toml/v2 leaves a *bool field
// nil when its key is absent, same as it does for strings and slices.
type Fragment struct {
	ProjectDir   string `toml:"project-dir"`
	InitialFile  string `toml:"initial-file"`
	AutoNixShell *bool  `toml:"auto-nixshell"`
	NoSandbox    *bool  `toml:"no-sandbox"`

	WhitelistRO  []string `toml:"whitelist-ro"`
	WhitelistRW  []string `toml:"whitelist-rw"`
	WhitelistDev []string `toml:"whitelist-dev"`
	WhitelistLn  []string `toml:"whitelist-ln"`
	AddTmpfs     []string `toml:"add-tmpfs"`

	WhitelistAllEnvvars bool     `toml:"whitelist-all-envvars"`
	WhitelistEnvvar     []string `toml:"whitelist-envvar"`

	Include []string `toml:"include"`

	Editor EditorFragment `toml:"editor"`
}

// EditorFragment is the raw [editor] table of a fragment, per spec.md §3's
// Editor Spec and §6's editor.* keys.
type EditorFragment struct {
	CmdWithFile    []string `toml:"cmd-with-file"`
	CmdWithoutFile []string `toml:"cmd-without-file"`
	Detach         *bool    `toml:"detach"`
}

// ParseError wraps a TOML decoding failure with the source path, matching
// spec.md §7's requirement that parse/schema errors carry a source
// reference.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes one fragment file's contents. path is used only for error
// messages.
//
// Grounded on the teacher's sandbox.Profile/Mount struct-tag-driven
// unmarshal in sandbox/config.go, swapping gopkg.in/yaml.v3 for
// github.com/pelletier/go-toml/v2 since spec.md §6 fixes the on-disk
// format as TOML. go-toml/v2's strict-field decoding covers both
// spec.md §7's UnknownKey and TypeMismatch kinds: a rejected unknown key
// and a wrong-typed value both surface as a single decode error here,
// which ParseError reports with the offending path attached.
func Parse(path string, data []byte) (*Fragment, error) {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f Fragment
	if err := dec.Decode(&f); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if err := f.Validate(); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &f, nil
}

// Validate checks the one schema rule go-toml's struct decoding can't
// express on its own: spec.md §4.2's "editor.cmd-with-file /
// cmd-without-file are non-empty string arrays when present" — decoding
// already guarantees they're string arrays if given at all, but an
// explicit `cmd-with-file = []` would decode cleanly as an empty slice
// without this check.
//
// Grounded on the teacher's collect-into-error style (Profile.Validate
// in sandbox/config.go builds a []string of problems and joins them);
// Skeld's fragment has only this one cross-field rule to check, so a
// single early return reads more plainly than a collected list of one.
func (f *Fragment) Validate() error {
	if f.Editor.CmdWithFile != nil && len(f.Editor.CmdWithFile) == 0 {
		return fmt.Errorf("editor.cmd-with-file must not be an empty array")
	}
	if f.Editor.CmdWithoutFile != nil && len(f.Editor.CmdWithoutFile) == 0 {
		return fmt.Errorf("editor.cmd-without-file must not be an empty array")
	}
	return nil
}
