// Package frontend loads kernels written as a Go function and converts them
// into the kernel AST.
package frontend

import (
	"fmt"
	"go/token"
	"path/filepath"
	"strings"

	gopackages "golang.org/x/tools/go/packages"

	"github.com/orcc/xronos-sub010/internal/diag"
)

// LoadConfig names the source files holding a Go kernel and optional build
// tags. Every source must belong to the same package directory.
type LoadConfig struct {
	Sources   []string
	BuildTags []string
}

const loadMode = gopackages.NeedName | gopackages.NeedSyntax | gopackages.NeedFiles |
	gopackages.NeedCompiledGoFiles | gopackages.NeedTypes | gopackages.NeedTypesInfo |
	gopackages.NeedImports | gopackages.NeedDeps | gopackages.NeedTypesSizes

// LoadPackages type-checks the package containing cfg.Sources. Load and type
// errors are forwarded to reporter.
func LoadPackages(cfg LoadConfig, reporter *diag.Reporter) ([]*gopackages.Package, *token.FileSet, error) {
	if len(cfg.Sources) == 0 {
		return nil, nil, fmt.Errorf("no source files were provided")
	}
	dir := workingDir(cfg.Sources[0])
	for _, src := range cfg.Sources[1:] {
		if workingDir(src) != dir {
			return nil, nil, fmt.Errorf("sources %s and %s are in different directories", cfg.Sources[0], src)
		}
	}
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}

	fset := token.NewFileSet()
	loadCfg := &gopackages.Config{
		Mode:       loadMode,
		Fset:       fset,
		Dir:        dir,
		BuildFlags: buildTagFlag(cfg.BuildTags),
	}
	pkgs, err := gopackages.Load(loadCfg, ".")
	if err != nil {
		return nil, nil, err
	}
	reporter.SetFileSet(fset)

	failed := false
	gopackages.Visit(pkgs, nil, func(pkg *gopackages.Package) {
		for _, e := range pkg.Errors {
			reporter.Errorf("%s: %s", e.Pos, e.Msg)
			failed = true
		}
	})
	if failed {
		return nil, nil, fmt.Errorf("package loading failed")
	}
	if len(pkgs) != 1 {
		return nil, nil, fmt.Errorf("expected one kernel package in %s, found %d", dir, len(pkgs))
	}
	return pkgs, fset, nil
}

func buildTagFlag(tags []string) []string {
	joined := strings.Join(tags, ",")
	if joined == "" {
		return nil
	}
	return []string{"-tags=" + joined}
}

func workingDir(sample string) string {
	if sample == "" {
		return ""
	}
	dir := filepath.Dir(sample)
	if dir == "." {
		return ""
	}
	return dir
}
