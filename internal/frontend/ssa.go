package frontend

import (
	"fmt"

	gopackages "golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/orcc/xronos-sub010/internal/diag"
)

// BuildSSA constructs the SSA form of pkgs for validation. The returned slice
// is parallel to pkgs.
func BuildSSA(pkgs []*gopackages.Package, reporter *diag.Reporter) (*ssa.Program, []*ssa.Package, error) {
	if len(pkgs) == 0 {
		return nil, nil, fmt.Errorf("no packages to build")
	}
	prog, ssaPkgs := ssautil.Packages(pkgs, ssa.InstantiateGenerics)
	failed := false
	for i, p := range ssaPkgs {
		if p == nil {
			reporter.Errorf("package %s is not well typed", pkgs[i].PkgPath)
			failed = true
		}
	}
	if failed {
		return nil, nil, fmt.Errorf("ssa construction failed")
	}
	prog.Build()
	return prog, ssaPkgs, nil
}
