// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package project implements C7: enumerating the projects and bookmarks
// under <SKELD-DATA> and handing back opaque descriptors for the
// out-of-scope selector UI to present, deferring the actual fragment
// merge to the config package once one is chosen.
package project

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/hacrvlq/skeld/config"
)

// Entry is an opaque descriptor C7 hands to the UI: just enough to list
// and select from, per spec.md §4.7 — the full fragment merge happens
// later, in config, once an Entry is chosen.
type Entry struct {
	// Name is the display name: the bookmark's explicit name field, or
	// a project's file stem (spec.md §4.7: "projects derive name from
	// the file stem").
	Name string
	// Keybind is the bookmark's explicit keybind, or "" for a project
	// (spec.md §4.7: "projects... have no intrinsic keybind").
	Keybind string
	// Path is the entry's file: a project file is handed to
	// config.Resolver.Resolve once selected, a bookmark file to
	// ResolveBookmarkFragment and then
	// config.Resolver.ResolveBookmarkFragment.
	Path string
	// IsBookmark distinguishes a bookmarks/*.toml entry from a
	// projects/*.toml entry; the two take the different resolution
	// paths described on Path, and the UI may want to render them
	// differently.
	IsBookmark bool
}

// LoadError records a single file's load failure without aborting the
// rest of the scan, per spec.md §4.7's "read failures are reported as
// diagnostics but do not abort enumeration".
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error  { return e.Err }

// bookmarkHeader is the lightweight partial parse C7 needs from a
// bookmarks/*.toml file: just enough to list it, not the nested project
// fragment (that's left for config to parse in full once selected).
type bookmarkHeader struct {
	Name    string `toml:"name"`
	Keybind string `toml:"keybind"`
}

// LoadProjects enumerates projects/*.toml across every <SKELD-DATA> root
// in dirs. Nonexistent directories are skipped, not an error — a project
// search root with nothing in it yet is the common case on first run.
//
// Grounded on the teacher's ProfileLoader.LoadDirectory
// (sandbox/profile.go): glob by extension, tolerate a missing directory,
// keep going past a single bad file rather than aborting the whole
// scan. Adapted from bureau's single profile directory to spec.md's
// per-root projects/ subdirectory, and from a parsed profile to a
// file-stem-derived name since a project file carries no name field of
// its own.
func LoadProjects(dirs []string) ([]Entry, []error) {
	var entries []Entry
	var errs []error
	for _, root := range dirs {
		dir := filepath.Join(root, "projects")
		names, err := listTomlFiles(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, &LoadError{Path: dir, Err: err})
			}
			continue
		}
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.ReadFile(path); err != nil {
				errs = append(errs, &LoadError{Path: path, Err: err})
				continue
			}
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			entries = append(entries, Entry{Name: stem, Path: path})
		}
	}
	return entries, errs
}

// LoadBookmarks enumerates bookmarks/*.toml across every root in dirs,
// parsing only the top-level name/keybind fields (spec.md §4.7's
// "bookmarks carry name and keybind explicitly").
func LoadBookmarks(dirs []string) ([]Entry, []error) {
	var entries []Entry
	var errs []error
	for _, root := range dirs {
		dir := filepath.Join(root, "bookmarks")
		names, err := listTomlFiles(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, &LoadError{Path: dir, Err: err})
			}
			continue
		}
		for _, name := range names {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				errs = append(errs, &LoadError{Path: path, Err: err})
				continue
			}
			var hdr bookmarkHeader
			if err := toml.Unmarshal(data, &hdr); err != nil {
				errs = append(errs, &LoadError{Path: path, Err: err})
				continue
			}
			if hdr.Name == "" {
				errs = append(errs, &LoadError{Path: path, Err: fmt.Errorf("bookmark has no name field")})
				continue
			}
			entries = append(entries, Entry{
				Name:       hdr.Name,
				Keybind:    hdr.Keybind,
				Path:       path,
				IsBookmark: true,
			})
		}
	}
	return entries, errs
}

// listTomlFiles returns the .toml basenames directly inside dir, sorted
// by os.ReadDir's own ordering (lexicographic). Non-.toml files are
// silently skipped per spec.md §6's "files outside .toml extension are
// silently skipped".
func listTomlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// bookmarkFile is the full shape of a bookmarks/*.toml file: the header
// fields LoadBookmarks already reads, plus the nested [project] table
// holding an inline fragment — original_source/src/add_subcommand.rs's
// "a bookmark is a named, keybound wrapper around an inline fragment",
// supplemented here since C7 alone can't make a bookmark usable past
// listing it.
type bookmarkFile struct {
	Name    string          `toml:"name"`
	Keybind string          `toml:"keybind"`
	Project bookmarkProject `toml:"project"`
}

// bookmarkProject is the nested fragment table, decoded as a generic map
// and re-encoded to TOML bytes for config.Parse rather than re-declaring
// Fragment's schema a second time here; see ResolveBookmarkFragment.
type bookmarkProject map[string]any

// ResolveBookmarkFragment re-serializes a bookmark's nested [project]
// table back into standalone TOML and decodes it as an ordinary
// config.Fragment through config.Parse, so C3 never needs a second,
// bookmark-specific fragment schema — it only ever sees Fragment
// values, however they were sourced. path is used only for error
// messages.
func ResolveBookmarkFragment(path string) (*config.Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	var bf bookmarkFile
	if err := toml.Unmarshal(data, &bf); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	buf := &bytes.Buffer{}
	enc := toml.NewEncoder(buf)
	if err := enc.Encode(map[string]any(bf.Project)); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	frag, err := config.Parse(path, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return frag, nil
}
