// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package interp

import (
	"errors"
	"testing"
)

func testContext(env map[string]string, home string) Context {
	c := Context{env: map[string]string{}, home: home}
	for k, v := range env {
		c.env[k] = v
	}
	if _, ok := c.env["HOME"]; !ok {
		c.env["HOME"] = home
	}
	return c
}

func TestExpandXDGWithEnvSet(t *testing.T) {
	c := testContext(map[string]string{"XDG_CONFIG_HOME": "/home/u/.config"}, "/home/u")
	got, err := c.Expand("$(CONFIG)/nvim")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/u/.config/nvim" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandXDGFallsBackToHome(t *testing.T) {
	c := testContext(nil, "/home/u")
	got, err := c.Expand("$(CONFIG)/nvim")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/u/.config/nvim" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandXDGEmptyEnvFallsBack(t *testing.T) {
	c := testContext(map[string]string{"XDG_DATA_HOME": ""}, "/home/u")
	got, err := c.Expand("$(DATA)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/u/.local/share" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandXDGRelativeIsError(t *testing.T) {
	c := testContext(map[string]string{"XDG_CONFIG_HOME": "relative/path"}, "/home/u")
	_, err := c.Expand("$(CONFIG)")
	var target *RelativeXDGDirError
	if !errors.As(err, &target) {
		t.Fatalf("expected RelativeXDGDirError, got %v", err)
	}
}

func TestExpandEnvVar(t *testing.T) {
	c := testContext(map[string]string{"FOO": "bar"}, "/home/u")
	got, err := c.Expand("$[FOO]/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "bar/x" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVarMissingIsError(t *testing.T) {
	c := testContext(nil, "/home/u")
	_, err := c.Expand("$[NOPE]")
	var target *MissingEnvVarError
	if !errors.As(err, &target) {
		t.Fatalf("expected MissingEnvVarError, got %v", err)
	}
}

func TestExpandEnvVarFallback(t *testing.T) {
	c := testContext(nil, "/home/u")
	got, err := c.Expand("$[NOPE:default]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "default" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVarFallbackIsRecursivelyExpanded(t *testing.T) {
	c := testContext(map[string]string{"INNER": "resolved"}, "/home/u")
	got, err := c.Expand("$[NOPE:$[INNER]]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "resolved" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandLeadingTilde(t *testing.T) {
	c := testContext(nil, "/home/u")
	got, err := c.Expand("~/projects")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/u/projects" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandBareTildeNotAtStartIsLiteral(t *testing.T) {
	c := testContext(nil, "/home/u")
	got, err := c.Expand("/foo~/bar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/foo~/bar" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandUnknownPlaceholder(t *testing.T) {
	c := testContext(nil, "/home/u")
	_, err := c.Expand("$(NOPE)")
	var target *UnknownPlaceholderError
	if !errors.As(err, &target) {
		t.Fatalf("expected UnknownPlaceholderError, got %v", err)
	}
}

func TestExpandFileVarRejectedOutsideEditorArgv(t *testing.T) {
	c := testContext(nil, "/home/u")
	_, err := c.Expand("$(FILE)")
	if !errors.Is(err, ErrFileVarNotAllowed) {
		t.Fatalf("expected ErrFileVarNotAllowed, got %v", err)
	}
}

func TestExpandEditorArgWithFileBound(t *testing.T) {
	c := testContext(nil, "/home/u")
	file := "src/main.rs"
	got, ok, err := c.ExpandEditorArg("$(FILE)", &file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || got != "src/main.rs" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestExpandEditorArgFileUnboundIsDropped(t *testing.T) {
	c := testContext(nil, "/home/u")
	_, ok, err := c.ExpandEditorArg("$(FILE)", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected token to be dropped")
	}
}

func TestExpandPassThroughLiteralDollar(t *testing.T) {
	c := testContext(nil, "/home/u")
	got, err := c.Expand("price: $5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "price: $5" {
		t.Fatalf("got %q", got)
	}
}

func TestSkeldDataDirsIsUnionOfConfigAndData(t *testing.T) {
	c := testContext(map[string]string{
		"XDG_CONFIG_HOME": "/c",
		"XDG_DATA_HOME":   "/d",
	}, "/home/u")
	dirs, err := c.SkeldDataDirs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"/c/skeld", "/d/skeld"}
	if len(dirs) != len(want) || dirs[0] != want[0] || dirs[1] != want[1] {
		t.Fatalf("got %v want %v", dirs, want)
	}
}
