// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestDenyBlockedRecognizesEPERM(t *testing.T) {
	blocked, detail := denyBlocked(unix.EPERM)
	if !blocked {
		t.Fatalf("denyBlocked(EPERM) = false, detail %q", detail)
	}
}

func TestDenyBlockedRejectsOtherErrno(t *testing.T) {
	blocked, detail := denyBlocked(unix.ENOSYS)
	if blocked {
		t.Fatal("denyBlocked(ENOSYS) = true, want false")
	}
	if !strings.Contains(detail, "ENOSYS") {
		t.Errorf("detail = %q, want mention of ENOSYS", detail)
	}
}

func TestDenyBlockedRejectsNonErrno(t *testing.T) {
	blocked, _ := denyBlocked(errors.New("boom"))
	if blocked {
		t.Fatal("denyBlocked on a non-Errno error should not report blocked")
	}
}

func TestCheckDenySyscallSuccess(t *testing.T) {
	if err := checkDenySyscall("fake", 0); err == nil {
		t.Fatal("checkDenySyscall(0) should report the syscall as unexpectedly allowed")
	}
}

func TestCheckDenySyscallEPERM(t *testing.T) {
	if err := checkDenySyscall("fake", unix.EPERM); err != nil {
		t.Fatalf("checkDenySyscall(EPERM) = %v, want nil", err)
	}
}

func TestIsAllDigits(t *testing.T) {
	cases := map[string]bool{"123": true, "": false, "12a": false, "0": true}
	for in, want := range cases {
		if got := isAllDigits(in); got != want {
			t.Errorf("isAllDigits(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEscapeTestRunnerSummary(t *testing.T) {
	runner := &EscapeTestRunner{
		tests: []EscapeTest{
			{Name: "ok", Category: "x", Run: func(context.Context) error { return nil }},
			{Name: "bad", Category: "x", Run: func(context.Context) error { return errors.New("escaped") }},
		},
	}
	results := runner.RunAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("len(results) = %d", len(results))
	}
	passed, failed := runner.Summary()
	if passed != 1 || failed != 1 {
		t.Fatalf("Summary() = %d, %d, want 1, 1", passed, failed)
	}
	if !runner.HasFailures() {
		t.Error("HasFailures() = false, want true")
	}
}

func TestEscapeTestRunnerRunCategoryFilters(t *testing.T) {
	runner := &EscapeTestRunner{
		tests: []EscapeTest{
			{Name: "a", Category: "seccomp", Run: func(context.Context) error { return nil }},
			{Name: "b", Category: "filesystem", Run: func(context.Context) error { return nil }},
		},
	}
	results := runner.RunCategory(context.Background(), "seccomp")
	if len(results) != 1 || results[0].Test.Name != "a" {
		t.Fatalf("RunCategory filtered wrong set: %v", results)
	}
}
