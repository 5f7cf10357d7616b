// Command depscheck fails when an engine package imports a package above it
// in the layering: the leaf packages stay free of sessions, sessions never
// see the registry, and nothing below the app imports the example host.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const module = "rewind/"

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// rule forbids packages under From from importing anything under one of Deny.
type rule struct {
	From string
	Deny []string
}

var rules = []rule{
	{From: "internal/frame", Deny: []string{"internal/"}},
	{From: "internal/checksum", Deny: []string{"internal/session", "internal/rollback", "internal/driver", "internal/world", "internal/app"}},
	{From: "internal/input", Deny: []string{"internal/session", "internal/rollback", "internal/driver", "internal/world", "internal/app"}},
	{From: "internal/snapshot", Deny: []string{"internal/session", "internal/rollback", "internal/driver", "internal/world", "internal/app"}},
	{From: "internal/session", Deny: []string{"internal/rollback", "internal/snapshot", "internal/driver", "internal/world", "internal/app"}},
	{From: "internal/rollback", Deny: []string{"internal/session", "internal/driver", "internal/world", "internal/app"}},
	{From: "internal/driver", Deny: []string{"internal/world", "internal/app"}},
	{From: "internal/world", Deny: []string{"internal/session", "internal/driver", "internal/app"}},
	{From: "logging", Deny: []string{"internal/"}},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	pkgs, err := decodePackages(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	if violations := check(pkgs, rules); len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func decodePackages(r io.Reader) ([]packageInfo, error) {
	decoder := json.NewDecoder(r)
	var pkgs []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return pkgs, nil
			}
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
}

func check(pkgs []packageInfo, rules []rule) []string {
	var violations []string
	for _, pkg := range pkgs {
		path := strings.TrimPrefix(pkg.ImportPath, module)
		for _, r := range rules {
			if !underPath(path, r.From) {
				continue
			}
			for _, imp := range pkg.Imports {
				if !strings.HasPrefix(imp, module) {
					continue
				}
				target := strings.TrimPrefix(imp, module)
				for _, deny := range r.Deny {
					if underPath(target, strings.TrimSuffix(deny, "/")) && !underPath(target, r.From) {
						violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
					}
				}
			}
		}
	}
	sort.Strings(violations)
	return violations
}

func underPath(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
