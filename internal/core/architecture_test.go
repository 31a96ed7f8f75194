package core

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"

	"tracecore/testutil"
)

// TestOnlyStorageBackendsImportDrivers ensures the database drivers and
// the cloud SDK stay confined to the persistence and blob backends.
// Every other package must go through the domain interfaces.
func TestOnlyStorageBackendsImportDrivers(t *testing.T) {
	allowedPrefixes := []string{
		"tracecore/internal/infra/persistence",
		"tracecore/internal/blob",
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "tracecore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})

	for _, pkg := range pkgs {
		if isAllowed(pkg.PkgPath, allowedPrefixes) {
			continue
		}
		for importPath := range pkg.Imports {
			if testutil.DriverImportForbidden(importPath) {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden driver import: %s", v)
		}
		t.Fatalf("found %d forbidden driver imports", len(violations))
	}
}

// TestMerklePackageStaysStdlibOnly keeps the commitment primitive free of
// module-internal and third-party dependencies so external verifiers can
// depend on it in isolation.
func TestMerklePackageStaysStdlibOnly(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "tracecore/pkg/merkle")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			if strings.Contains(importPath, ".") || strings.HasPrefix(importPath, "tracecore/") {
				t.Errorf("merkle package must not import %s", importPath)
			}
		}
	}
}

func isAllowed(pkgPath string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if pkgPath == prefix || strings.HasPrefix(pkgPath, prefix+"/") {
			return true
		}
	}
	return false
}
