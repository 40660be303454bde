package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInlineQueriesAreMarked(t *testing.T) {
	l := newLinter()
	if err := l.lintPaths([]string{filepath.Join("..", "..", "sqlinline")}); err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, v := range l.violations {
		t.Errorf("%s:%d %s (%s)", v.file, v.line, v.message, v.name)
	}
	if len(l.markers) == 0 {
		t.Fatal("no markers found; wrong directory?")
	}
}

func TestDetectsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	src := "package q\n\n" +
		"const QGood = `--sql 11111111-2222-3333-4444-555555555555\nselect 1`\n" +
		"const QDup = `--sql 11111111-2222-3333-4444-555555555555\nselect 2`\n" +
		"const QBare = `select 3`\n" +
		"const Greeting = \"hello\"\n"
	path := filepath.Join(dir, "q.go")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	l := newLinter()
	if err := l.lintPaths([]string{dir}); err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(l.violations) != 2 {
		t.Fatalf("violations = %+v, want 2", l.violations)
	}
	if l.violations[0].name != "QDup" || !strings.Contains(l.violations[0].message, "QGood") {
		t.Fatalf("unexpected duplicate violation %+v", l.violations[0])
	}
	if l.violations[1].name != "QBare" {
		t.Fatalf("unexpected missing-marker violation %+v", l.violations[1])
	}
}
