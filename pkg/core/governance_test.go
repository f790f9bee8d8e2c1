//go:build governance

package core_test

import (
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const modulePath = "github.com/leapstack-labs/cardcalc"

// TestGovernance_CoreCohesion verifies that exported names in pkg/core are
// shared by more than one package. Single-use types belong with their sole
// consumer.
func TestGovernance_CoreCohesion(t *testing.T) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedImports | packages.NeedTypes |
			packages.NeedTypesInfo | packages.NeedDeps,
	}
	pkgs, err := packages.Load(cfg, modulePath+"/...")
	if err != nil {
		t.Fatalf("Failed to load packages: %v", err)
	}

	var corePkg *packages.Package
	for _, p := range pkgs {
		if p.PkgPath == modulePath+"/pkg/core" {
			corePkg = p
			break
		}
	}
	if corePkg == nil {
		t.Fatal("Could not find pkg/core")
	}

	scope := corePkg.Types.Scope()
	usage := make(map[string]map[string]bool)
	for _, name := range scope.Names() {
		if scope.Lookup(name).Exported() {
			usage[name] = make(map[string]bool)
		}
	}

	base := modulePath + "/"
	for _, p := range pkgs {
		if p.PkgPath == corePkg.PkgPath || p.TypesInfo == nil {
			continue
		}
		for _, obj := range p.TypesInfo.Uses {
			if obj.Pkg() == nil || obj.Pkg().Path() != corePkg.PkgPath {
				continue
			}
			if users, ok := usage[obj.Name()]; ok {
				users[strings.TrimPrefix(p.PkgPath, base)] = true
			}
		}
	}

	for name, users := range usage {
		if isCohesionAllowlisted(name) {
			continue
		}
		switch len(users) {
		case 0:
			t.Logf("WARNING: Unused Core name: %s (consider deleting)", name)
		case 1:
			for user := range users {
				t.Errorf("COHESION VIOLATION: 'core.%s' is used ONLY by '%s'.\n"+
					"   Fix: Move it from pkg/core to %s.", name, user, user)
			}
		}
	}
}

// isCohesionAllowlisted returns true for names allowed to have a single user.
func isCohesionAllowlisted(name string) bool {
	allowlist := map[string]bool{
		"Store":                true, // implemented once, consumed everywhere through the interface
		"SortByExecutionOrder": true, // ordering contract of Store.ListActiveCalculations
		"CalculationSummary":   true, // reached through BatchSummary.PerCalc
		"RunStatus":            true, // reached through Run.Status
		"RunStatusRunning":     true,
		"RunStatusFailed":      true,
		"CycleError":           true, // error taxonomy, matched by callers with errors.As
		"ErrDuplicateTarget":   true,
		"ErrInactive":          true,
	}
	return allowlist[name]
}
