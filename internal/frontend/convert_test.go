package frontend_test

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gopackages "golang.org/x/tools/go/packages"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/frontend"
	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/kernel"
	"github.com/orcc/xronos-sub010/internal/sim"
)

func load(t *testing.T, dir string) *gopackages.Package {
	t.Helper()
	rep := diag.NewReporter(io.Discard, "text")
	pkgs, _, err := frontend.LoadPackages(frontend.LoadConfig{
		Sources: []string{filepath.Join("testdata", dir, dir+".go")},
	}, rep)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	return pkgs[0]
}

func compile(t *testing.T, pkg *gopackages.Package, name string) *ir.Graph {
	t.Helper()
	k, err := frontend.Convert(pkg, name)
	require.NoError(t, err)
	g, err := kernel.Lower(k)
	require.NoError(t, err)
	require.NoError(t, g.Verify())
	return g
}

func run(t *testing.T, g *ir.Graph, inputs map[string]int64) map[string]int64 {
	t.Helper()
	res, err := sim.Run(g, inputs, sim.DefaultOptions())
	require.NoError(t, err)
	out := make(map[string]int64)
	for _, o := range res.Outputs {
		out[o.Name] = o.Value.Int64()
	}
	return out
}

func TestConvertSignature(t *testing.T) {
	k, err := frontend.Convert(load(t, "kernels"), "Kernel")
	require.NoError(t, err)
	assert.Equal(t, "Kernel", k.Name)
	require.Len(t, k.Inputs, 1)
	assert.Equal(t, ir.Signed(32), k.Inputs[0].Type)
	require.Len(t, k.Outputs, 2)
	assert.Equal(t, "acc", k.Outputs[0].Name)
	assert.Equal(t, "last", k.Outputs[1].Name)
	require.Len(t, k.Arrays, 1)
	assert.Equal(t, 8, k.Arrays[0].Size)
	assert.Equal(t, ir.Unsigned(8), k.Arrays[0].Elem)
	assert.Contains(t, k.Pos.Filename, "kernels.go")
	assert.Equal(t, 6, k.Pos.Line)
}

func TestConvertedKernelsRun(t *testing.T) {
	pkg := load(t, "kernels")

	g := compile(t, pkg, "Kernel")
	assert.Equal(t, map[string]int64{"acc": 10, "last": 49}, run(t, g, map[string]int64{"limit": 5}))

	g = compile(t, pkg, "Countdown")
	loops := g.Loops(g.Top)
	require.Len(t, loops, 1)
	assert.False(t, g.IsDecisionFirst(loops[0]), "a for loop ending in a break test runs its body first")
	assert.Equal(t, int64(4), run(t, g, map[string]int64{"from": 10})["steps"])
	assert.Equal(t, int64(1), run(t, g, map[string]int64{"from": 1})["steps"])

	g = compile(t, pkg, "Clamp")
	for in, want := range map[int64][2]int64{-5: {0, 1}, 50: {50, 0}, 500: {100, 1}} {
		out := run(t, g, map[string]int64{"v": in})
		assert.Equal(t, want[0], out["out"], "clamp(%d)", in)
		assert.Equal(t, want[1], out["clipped"], "clipped(%d)", in)
	}

	g = compile(t, pkg, "Table")
	assert.Equal(t, int64(20), run(t, g, nil)["total"])
}

func TestConvertRejects(t *testing.T) {
	pkg := load(t, "unsupported")
	cases := map[string]string{
		"Calls":       "function calls are not supported",
		"Swap":        "only single assignments are supported",
		"Unnamed":     "kernel results must be named",
		"Floats":      "type float64 is not supported",
		"NestedArray": "must be declared at the top level",
		"EarlyReturn": "return is only allowed as the last statement",
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := frontend.Convert(pkg, name)
			var ke *kernel.Error
			require.True(t, errors.As(err, &ke), "got %v", err)
			assert.Contains(t, ke.Msg, want)
			assert.True(t, ke.Pos.IsValid())
		})
	}

	_, err := frontend.Convert(pkg, "Missing")
	assert.ErrorContains(t, err, "no function Missing")
}

func TestLoadPackagesErrors(t *testing.T) {
	rep := diag.NewReporter(io.Discard, "text")
	_, _, err := frontend.LoadPackages(frontend.LoadConfig{}, rep)
	assert.ErrorContains(t, err, "no source files")

	_, _, err = frontend.LoadPackages(frontend.LoadConfig{
		Sources: []string{"testdata/kernels/kernels.go", "testdata/unsupported/unsupported.go"},
	}, rep)
	assert.ErrorContains(t, err, "different directories")
}

func TestBuildSSA(t *testing.T) {
	pkg := load(t, "kernels")
	rep := diag.NewReporter(io.Discard, "text")
	prog, pkgs, err := frontend.BuildSSA([]*gopackages.Package{pkg}, rep)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.NotNil(t, prog)
	assert.NotNil(t, pkgs[0].Func("Kernel"))
}
