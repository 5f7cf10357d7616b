package main

import (
	"strings"
	"testing"
)

func TestCheckReportsLayeringViolations(t *testing.T) {
	pkgs := []packageInfo{
		{ImportPath: "rewind/internal/frame", Imports: []string{"strconv"}},
		{ImportPath: "rewind/internal/session", Imports: []string{"rewind/internal/frame", "rewind/internal/rollback"}},
		{ImportPath: "rewind/internal/rollback", Imports: []string{"rewind/internal/snapshot", "rewind/internal/checksum"}},
		{ImportPath: "rewind/internal/driver", Imports: []string{"rewind/internal/session", "rewind/internal/world"}},
		{ImportPath: "rewind/logging/rollback", Imports: []string{"rewind/logging"}},
	}

	got := check(pkgs, rules)
	want := []string{
		"rewind/internal/driver -> rewind/internal/world",
		"rewind/internal/session -> rewind/internal/rollback",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected violations:\n%s", strings.Join(got, "\n"))
	}
}

func TestDecodePackagesReadsConcatenatedJSON(t *testing.T) {
	input := `{"ImportPath":"rewind/internal/frame","Imports":["strconv"]}
{"ImportPath":"rewind/internal/checksum","Imports":["github.com/cespare/xxhash/v2"]}`
	pkgs, err := decodePackages(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkgs) != 2 || pkgs[1].ImportPath != "rewind/internal/checksum" {
		t.Fatalf("unexpected packages %+v", pkgs)
	}
}
