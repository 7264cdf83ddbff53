// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// skeld opens a project's source tree inside a restricted sandbox,
// per spec.md. This binary exists to exercise C1-C7 end to end; the
// TUI, project-discovery UI, and `add` subcommand prompt are explicitly
// out of scope (spec.md §1) and are not reimplemented here.
//
// Usage:
//
//	skeld run [--bookmark|--path] <name> [-- editor-args-not-used]
//	skeld validate [--bookmark|--path] <name>
//	skeld list-projects
//	skeld seccomp-selftest [category]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hacrvlq/skeld/config"
	"github.com/hacrvlq/skeld/interp"
	"github.com/hacrvlq/skeld/lib/process"
	"github.com/hacrvlq/skeld/project"
	"github.com/hacrvlq/skeld/sandbox"
)

func main() {
	// The second fork of a detached launch re-execs this same binary
	// with sandbox.DetachHelperArg as argv[1]; dispatch to it before
	// anything else touches flag parsing or logging setup, matching
	// launcher_linux.go's RunDetachHelper contract.
	if len(os.Args) >= 2 && os.Args[1] == sandbox.DetachHelperArg {
		sandbox.RunDetachHelper(os.Args[2:])
		return // unreachable: RunDetachHelper always calls os.Exit
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("SKELD_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCmd(args, logger)
	case "validate":
		err = validateCmd(args, logger)
	case "list-projects":
		err = listProjectsCmd(logger)
	case "seccomp-selftest":
		err = seccompSelftestCmd(args)
	case "capabilities":
		err = capabilitiesCmd()
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if code, ok := sandbox.IsExitError(err); ok {
			os.Exit(code)
		}
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`skeld - open a project inside a restricted filesystem sandbox

USAGE
    skeld run [--bookmark|--path] <name>
    skeld validate [--bookmark|--path] <name>
    skeld list-projects
    skeld seccomp-selftest [category]
    skeld capabilities

COMMANDS
    run               Resolve <name> and launch its editor inside the sandbox
    validate          Resolve <name> and report what would be launched
    list-projects     List projects and bookmarks under <SKELD-DATA>
    seccomp-selftest  Run the escape-test catalogue (intended to run inside a live sandbox)
    capabilities      Report whether bwrap and unprivileged user namespaces are available

ENVIRONMENT
    SKELD_DEBUG          Enable debug logging
    XDG_CONFIG_HOME, XDG_DATA_HOME, XDG_CACHE_HOME, XDG_STATE_HOME, HOME
                         Consulted per spec.md section 6

This binary intentionally omits the interactive project-selector UI and
the "add" subcommand; see spec.md section 1's Non-goals.
`)
}

// sourceFlags are shared between run and validate: how to locate the
// fragment to resolve.
type sourceFlags struct {
	bookmark string
	path     string
}

func parseSourceFlags(fs *flag.FlagSet, args []string) (*sourceFlags, string, error) {
	sf := &sourceFlags{}
	fs.StringVar(&sf.bookmark, "bookmark", "", "resolve a bookmark by name instead of a project")
	fs.StringVar(&sf.path, "path", "", "resolve an arbitrary fragment file instead of a project")
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	return sf, fs.Arg(0), nil
}

// resolveSpec builds the sandbox.Spec for one of: a bare project name
// (looked up under <SKELD-DATA>/projects), a bookmark name (looked up
// under <SKELD-DATA>/bookmarks, nested [project] table), or an explicit
// fragment path.
func resolveSpec(sf *sourceFlags, name string, logger *slog.Logger) (*sandbox.Spec, error) {
	ctx, err := interp.NewContext()
	if err != nil {
		return nil, err
	}
	resolver, err := config.NewResolver(ctx)
	if err != nil {
		return nil, err
	}
	resolver.Logger = logger

	switch {
	case sf.path != "":
		return resolver.Resolve(sf.path)
	case sf.bookmark != "":
		path, err := findByName(resolver.SkeldDataDirs, "bookmarks", sf.bookmark)
		if err != nil {
			return nil, err
		}
		frag, err := project.ResolveBookmarkFragment(path)
		if err != nil {
			return nil, err
		}
		return resolver.ResolveBookmarkFragment(frag, path)
	case name != "":
		path, err := findByName(resolver.SkeldDataDirs, "projects", name)
		if err != nil {
			return nil, err
		}
		return resolver.Resolve(path)
	default:
		return nil, fmt.Errorf("a project name, --bookmark, or --path is required")
	}
}

func findByName(skeldDataDirs []string, subdir, name string) (string, error) {
	fileName := name
	if !strings.HasSuffix(fileName, ".toml") {
		fileName += ".toml"
	}
	for _, root := range skeldDataDirs {
		candidate := root + "/" + subdir + "/" + fileName
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: no such %s under <SKELD-DATA>/%s", name, subdir, subdir)
}

func runCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	sf, name, err := parseSourceFlags(fs, args)
	if err != nil {
		return err
	}

	spec, err := resolveSpec(sf, name, logger)
	if err != nil {
		return err
	}

	plan, err := sandbox.Prepare(spec)
	if err != nil {
		return err
	}

	launcher := &sandbox.Launcher{}
	outcome, err := launcher.Launch(plan)
	if err != nil {
		// A nonzero exit or a signalled child both surface as typed
		// errors here (ExitError / ChildSignalledError); main() unwraps
		// ExitError via sandbox.IsExitError to forward the exact code,
		// per spec.md §6's "the child's exit status forwarded on
		// attached runs".
		return err
	}
	if outcome.Aborted {
		logger.Warn("launch aborted by a second interrupt signal")
	}
	return nil
}

func validateCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	sf, name, err := parseSourceFlags(fs, args)
	if err != nil {
		return err
	}

	spec, err := resolveSpec(sf, name, logger)
	if err != nil {
		return err
	}

	if missing := spec.MissingMandatoryPaths(func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}); len(missing) > 0 {
		for _, p := range missing {
			fmt.Printf("missing mandatory path: %s\n", p)
		}
		return fmt.Errorf("%d mandatory whitelist path(s) missing", len(missing))
	}

	helperPath := "bwrap"
	if !spec.NoSandbox {
		if p, err := sandbox.BwrapPath(); err == nil {
			helperPath = p
		} else {
			return err
		}
	}
	fmt.Printf("working-dir: %s\n", spec.WorkingDir)
	fmt.Printf("detach: %v\n", spec.Detach)
	fmt.Printf("no-sandbox: %v\n", spec.NoSandbox)
	fmt.Printf("editor-argv: %v\n", spec.EditorArgv)
	if !spec.NoSandbox {
		for _, arg := range spec.ToHelperArgv(helperPath, 3) {
			fmt.Printf("  %s\n", arg)
		}
	}
	return nil
}

func listProjectsCmd(logger *slog.Logger) error {
	ctx, err := interp.NewContext()
	if err != nil {
		return err
	}
	dirs, err := ctx.SkeldDataDirs()
	if err != nil {
		return err
	}

	projects, projErrs := project.LoadProjects(dirs)
	bookmarks, bmErrs := project.LoadBookmarks(dirs)
	for _, e := range append(projErrs, bmErrs...) {
		logger.Warn("skipping entry", "error", e)
	}

	for _, p := range projects {
		fmt.Printf("project  %-30s %s\n", p.Name, p.Path)
	}
	for _, b := range bookmarks {
		fmt.Printf("bookmark %-30s [%s] %s\n", b.Name, b.Keybind, b.Path)
	}
	return nil
}

func seccompSelftestCmd(args []string) error {
	runner := sandbox.NewEscapeTestRunner()
	ctx := context.Background()
	if len(args) > 0 {
		runner.RunCategory(ctx, args[0])
	} else {
		runner.RunAll(ctx)
	}
	runner.PrintResults(os.Stdout)
	if runner.HasFailures() {
		return fmt.Errorf("one or more escape vectors succeeded")
	}
	return nil
}

func capabilitiesCmd() error {
	caps := sandbox.DetectCapabilities()
	fmt.Printf("bwrap available:        %v\n", caps.BwrapAvailable)
	if caps.BwrapAvailable {
		fmt.Printf("bwrap path:             %s\n", caps.BwrapPath)
		fmt.Printf("bwrap version:          %s\n", caps.BwrapVersion)
	}
	fmt.Printf("user namespaces:        %v\n", caps.UserNamespacesEnabled)
	if reason := caps.SkipReason(); reason != "" {
		fmt.Printf("sandboxing unavailable: %s\n", reason)
	}
	return nil
}
