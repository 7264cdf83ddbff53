// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "strings"

// BuildNixShellArgv wraps argv as spec.md §3's auto-nixshell rule
// describes: ["nix-shell", "--run", <joined-quoted-argv>]. The exact
// quoting rule is left unspecified by spec.md itself; per DESIGN.md this
// follows original_source/src/sandbox.rs, which joins the editor argv
// with POSIX single-quote escaping (each argument wrapped in '...',
// embedded ' replaced by '\'') before handing the joined string to
// `nix-shell --run`, which re-splits it through a login shell.
func BuildNixShellArgv(argv []string) []string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shQuote(arg)
	}
	return []string{"nix-shell", "--run", strings.Join(quoted, " ")}
}

// shQuote wraps s in single quotes, escaping any embedded single quote
// as '\'' (close quote, escaped literal quote, reopen quote).
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// HasNixShellFile reports whether project-dir contains shell.nix or
// default.nix, the trigger condition for spec.md §3's auto-nixshell
// wrapping.
func HasNixShellFile(projectDir string, exists func(string) bool) bool {
	return exists(projectDir+"/shell.nix") || exists(projectDir+"/default.nix")
}
