// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// Landscape is a small fixture: two applications, one the child of the
// other, linked to two IT components, and two active calculations.
const Landscape = `relation_types:
  - key: app_to_itc
    source: Application
    target: ITComponent

entities:
  - id: crm
    type: Application
    name: CRM
    attributes:
      risk: high
      users: 120
  - id: crm-mobile
    type: Application
    name: CRM Mobile
    parent: crm
    attributes:
      users: 40
  - id: db1
    type: ITComponent
    name: Database
    attributes:
      cost: 100
  - id: vm1
    type: ITComponent
    name: VM
    attributes:
      cost: 250

relations:
  - type: app_to_itc
    source: crm
    target: db1
  - type: app_to_itc
    source: crm
    target: vm1

calculations:
  - id: itc-cost
    name: Component cost
    type: Application
    field: component_cost
    formula: SUM(PLUCK(relations.app_to_itc, "attributes.cost"))
    order: 1
    active: true
  - id: risk-label
    name: Risk label
    type: Application
    field: risk_label
    formula: IF(data.risk == "high", "HIGH", "LOW")
    order: 2
    active: true
`

// SetupTestProject creates a temporary project directory holding
// landscape.yaml and returns the directory and the state database path.
func SetupTestProject(t *testing.T) (dir, statePath string) {
	t.Helper()

	dir = t.TempDir()
	WriteFile(t, dir, "landscape.yaml", Landscape)
	return dir, filepath.Join(dir, ".cardcalc", "state.db")
}

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
	return path
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if fenceCount := strings.Count(md, "```"); fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
