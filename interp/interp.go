// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package interp expands the placeholder grammar Skeld fragments use in
// path and argv tokens: $(CONFIG), $(DATA), $(CACHE), $(STATE) for XDG
// base directories, $[VAR] / $[VAR:ALT] for environment variables, a
// leading ~ for the home directory, and $(FILE) for the file bound to an
// editor invocation.
//
// Expansion is a pure function of a template string and a Context: the
// same template against the same environment snapshot and home directory
// always produces the same result.
package interp

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoHomeDir is returned by NewContext when HOME is unset or empty;
// no other source of the home directory is consulted.
var ErrNoHomeDir = errors.New("home directory could not be determined")

// ErrRelativeHomeDir is returned when the resolved home directory is not
// an absolute path.
var ErrRelativeHomeDir = errors.New("home directory is not absolute")

// UnknownPlaceholderError is returned for a $(...) placeholder body that
// is not one of the recognized standard variables.
type UnknownPlaceholderError struct {
	Name string
}

func (e *UnknownPlaceholderError) Error() string {
	return fmt.Sprintf("unknown placeholder %q", e.Name)
}

// MissingEnvVarError is returned by $[NAME] when NAME is unset in the
// environment and no :ALT fallback was given.
type MissingEnvVarError struct {
	Name string
}

func (e *MissingEnvVarError) Error() string {
	return fmt.Sprintf("environment variable %q is not set", e.Name)
}

// RelativeXDGDirError is returned when an XDG_*_HOME variable is set but
// holds a relative path.
type RelativeXDGDirError struct {
	Var string
}

func (e *RelativeXDGDirError) Error() string {
	return fmt.Sprintf("%s must be an absolute path", e.Var)
}

// ErrFileVarNotAllowed is returned when $(FILE) appears in a template
// that is not an editor argv token (e.g. inside a whitelist path).
var ErrFileVarNotAllowed = errors.New("$(FILE) can only be used in the editor command")

// Context carries everything placeholder expansion needs: an environment
// snapshot (so resolution is reproducible even if the process environment
// changes mid-run) and the resolved home directory.
type Context struct {
	env  map[string]string
	home string
}

// NewContext snapshots the current process environment and resolves the
// home directory from $HOME.
//
// The teacher's Variables.Expand (sandbox/config.go) falls back silently
// to os.Getenv when a variable is absent from its map; Skeld always
// builds a Context from a full environment snapshot instead, so every
// lookup goes through the same map and the same template against the
// same snapshot always expands identically.
func NewContext() (Context, error) {
	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	home, ok := env["HOME"]
	if !ok || home == "" {
		return Context{}, ErrNoHomeDir
	}
	if !strings.HasPrefix(home, "/") {
		return Context{}, ErrRelativeHomeDir
	}
	return Context{env: env, home: home}, nil
}

// Getenv looks up a variable in the snapshot, matching os.Getenv's
// "empty string for unset" contract.
func (c Context) Getenv(name string) string {
	return c.env[name]
}

// lookupEnv matches os.LookupEnv's (value, ok) contract against the
// snapshot.
func (c Context) lookupEnv(name string) (string, bool) {
	v, ok := c.env[name]
	return v, ok
}

// HomeDir returns the resolved home directory.
func (c Context) HomeDir() string {
	return c.home
}

// xdgDir resolves one XDG base directory: the env var if set to a
// non-empty absolute path, otherwise home/fallback.
//
// Grounded on original_source/src/paths.rs get_xdg_base_dir: an XDG var
// present but empty is treated the same as unset (falls back), and a
// present-but-relative value is a hard error rather than a silent
// fallback.
func (c Context) xdgDir(envVar, fallback string) (string, error) {
	if v, ok := c.lookupEnv(envVar); ok && v != "" {
		if !strings.HasPrefix(v, "/") {
			return "", &RelativeXDGDirError{Var: envVar}
		}
		return v, nil
	}
	return c.home + "/" + fallback, nil
}

// ConfigDir returns $XDG_CONFIG_HOME or ~/.config.
func (c Context) ConfigDir() (string, error) { return c.xdgDir("XDG_CONFIG_HOME", ".config") }

// CacheDir returns $XDG_CACHE_HOME or ~/.cache.
func (c Context) CacheDir() (string, error) { return c.xdgDir("XDG_CACHE_HOME", ".cache") }

// DataDir returns $XDG_DATA_HOME or ~/.local/share.
func (c Context) DataDir() (string, error) { return c.xdgDir("XDG_DATA_HOME", ".local/share") }

// StateDir returns $XDG_STATE_HOME or ~/.local/state.
func (c Context) StateDir() (string, error) { return c.xdgDir("XDG_STATE_HOME", ".local/state") }

// SkeldDataDirs returns the two roots whose union forms <SKELD-DATA>:
// $XDG_CONFIG_HOME/skeld and $XDG_DATA_HOME/skeld.
func (c Context) SkeldDataDirs() ([]string, error) {
	configDir, err := c.ConfigDir()
	if err != nil {
		return nil, err
	}
	dataDir, err := c.DataDir()
	if err != nil {
		return nil, err
	}
	return []string{configDir + "/skeld", dataDir + "/skeld"}, nil
}

// Expand resolves every placeholder in template except $(FILE), which is
// rejected with ErrFileVarNotAllowed. Use it for whitelist/tmpfs/include
// path terms, which spec.md never binds to a file.
func (c Context) Expand(template string) (string, error) {
	return c.expand(template, nil)
}

// ExpandEditorArg resolves every placeholder in template, including
// $(FILE) when file is non-nil. If file is nil and the template contains
// an unresolvable $(FILE) (no :ALT fallback either), ok is false and the
// token should be dropped from the argv rather than erroring — this is
// spec.md §4.1's documented behavior for cmd_without_file.
func (c Context) ExpandEditorArg(template string, file *string) (resolved string, ok bool, err error) {
	dropped := false
	out, err := c.expand(template, &fileResolver{value: file, dropped: &dropped})
	if err != nil {
		return "", false, err
	}
	if dropped {
		return "", false, nil
	}
	return out, true, nil
}

// fileResolver supplies the current value of $(FILE), if any, to expand.
type fileResolver struct {
	value   *string // nil when no file is bound yet
	dropped *bool   // set to true if an unresolvable $(FILE) was encountered
}

func (c Context) expand(template string, file *fileResolver) (string, error) {
	var b strings.Builder
	rest := template

	// A leading ~ followed by '/' or end-of-string expands to the home
	// directory; only the very start of the template is eligible.
	if rest == "~" {
		return c.home, nil
	}
	if strings.HasPrefix(rest, "~/") {
		b.WriteString(c.home)
		rest = rest[1:]
	}

	for len(rest) > 0 {
		idx := strings.IndexAny(rest, "$")
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		rest = rest[idx:]

		if len(rest) < 2 || (rest[1] != '(' && rest[1] != '[') {
			// Bare '$' not starting a recognized placeholder: passes
			// through literally, per spec.md §4.1.
			b.WriteByte('$')
			rest = rest[1:]
			continue
		}

		open, close := rest[1], closingFor(rest[1])
		end := matchingBracket(rest[2:], rest[1], close)
		if end < 0 {
			// No closing bracket: treat the rest of the string literally,
			// matching the lexer's single-pass, non-erroring-on-garbage
			// posture for unmatched punctuation.
			b.WriteString(rest)
			break
		}
		body := rest[2 : 2+end]
		rest = rest[3+end:]

		var resolved string
		var err error
		if open == '(' {
			resolved, err = c.resolveRoundBracket(body, file)
		} else {
			resolved, err = c.resolveSquareBracket(body)
		}
		if err != nil {
			if file != nil && errors.Is(err, errUnresolvedFile) {
				*file.dropped = true
				return "", nil
			}
			return "", err
		}
		b.WriteString(resolved)
	}

	return b.String(), nil
}

var errUnresolvedFile = errors.New("$(FILE) has no bound value")

func closingFor(open byte) byte {
	if open == '(' {
		return ')'
	}
	return ']'
}

// matchingBracket finds the index within s of the close byte that
// matches the first open/close pair, accounting for nested pairs of the
// same bracket kind so that a $[VAR:ALT] fallback value may itself
// contain further $[...] placeholders (per spec.md §4.1, ALT is
// "recursively expanded"). Returns -1 if unmatched.
func matchingBracket(s string, open, close byte) int {
	depth := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (c Context) resolveRoundBracket(body string, file *fileResolver) (string, error) {
	switch body {
	case "CONFIG":
		return c.ConfigDir()
	case "CACHE":
		return c.CacheDir()
	case "DATA":
		return c.DataDir()
	case "STATE":
		return c.StateDir()
	case "FILE":
		if file == nil {
			return "", ErrFileVarNotAllowed
		}
		if file.value != nil {
			return *file.value, nil
		}
		return "", errUnresolvedFile
	default:
		return "", &UnknownPlaceholderError{Name: body}
	}
}

func (c Context) resolveSquareBracket(body string) (string, error) {
	name, alt, hasAlt := strings.Cut(body, ":")
	if v, ok := c.lookupEnv(name); ok {
		return v, nil
	}
	if !hasAlt {
		return "", &MissingEnvVarError{Name: name}
	}
	return c.expand(alt, nil)
}
