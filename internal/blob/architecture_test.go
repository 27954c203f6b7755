package blob

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// infraBoundary names an infra tree and the production packages allowed to
// import it. Test variants are exempt so suites can build stores directly.
type infraBoundary struct {
	infra   string
	allowed []string
}

var infraBoundaries = []infraBoundary{
	{infra: "bloodlink/internal/infra/blob", allowed: []string{"bloodlink/internal/blob"}},
	{infra: "bloodlink/internal/infra/persistence", allowed: []string{"bloodlink/internal/core"}},
}

func TestInfraPackagesStayBehindTheirFacades(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "bloodlink/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		if pkg.ID != pkg.PkgPath {
			continue
		}
		for _, b := range infraBoundaries {
			if under(pkg.PkgPath, "bloodlink/internal/infra") || allowedFor(pkg.PkgPath, b.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if under(importPath, b.infra) {
					violations = append(violations, pkg.PkgPath+": "+importPath)
				}
			}
		}
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden infra import: %s", v)
	}
}

func allowedFor(pkgPath string, allowed []string) bool {
	for _, a := range allowed {
		if under(pkgPath, a) {
			return true
		}
	}
	return false
}

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
