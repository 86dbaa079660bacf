package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
)

func capture(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	t.Cleanup(func() {
		stdout, stderr = prevOut, prevErr
	})
	return out, errOut
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	capture(t)
	if err := run(nil); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("expected missing command error, got %v", err)
	}
	if err := run([]string{"frobnicate"}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestCompileUnrollsBoundedLoop(t *testing.T) {
	_, errOut := capture(t)
	output := filepath.Join(t.TempDir(), "sum.ir")
	if err := run([]string{"compile", "-o", output, filepath.Join("testdata", "sum.kd")}); err != nil {
		t.Fatalf("compile failed: %v\n%s", err, errOut)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	dump := string(data)
	if !strings.HasPrefix(dump, "design sum\n") {
		t.Fatalf("unexpected dump header:\n%s", dump)
	}
	if strings.Contains(dump, "loop sum_loop0 ") {
		t.Fatalf("bounded loop was not unrolled:\n%s", dump)
	}
	if !strings.Contains(dump, "loop sum_loop1 iterations=?") {
		t.Fatalf("input-dependent loop missing:\n%s", dump)
	}
	if !strings.Contains(errOut.String(), "1 loop(s) left rolled") {
		t.Fatalf("missing summary: %q", errOut.String())
	}
}

func TestCompileKeepsLoopsWhenUnrollingIsDisabled(t *testing.T) {
	capture(t)
	output := filepath.Join(t.TempDir(), "sum.ir")
	if err := run([]string{"compile", "-no-unroll", "-o", output, filepath.Join("testdata", "sum.kd")}); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "loop sum_loop0 iterations=5") {
		t.Fatalf("bounded loop should stay rolled and annotated:\n%s", data)
	}
}

func TestCompileEmitsDot(t *testing.T) {
	capture(t)
	output := filepath.Join(t.TempDir(), "sum.dot")
	if err := run([]string{"compile", "-emit=dot", "-o", output, filepath.Join("testdata", "sum.kd")}); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.HasPrefix(string(data), `digraph "sum" {`) {
		t.Fatalf("unexpected dot output:\n%s", data)
	}
}

func TestCompileRejectsUnknownEmitFormat(t *testing.T) {
	capture(t)
	err := run([]string{"compile", "-emit=verilog", filepath.Join("testdata", "sum.kd")})
	if err == nil || !strings.Contains(err.Error(), "unknown emit format") {
		t.Fatalf("expected emit format error, got %v", err)
	}
}

func TestCompileReportsSourceErrors(t *testing.T) {
	_, errOut := capture(t)
	err := run([]string{"compile", filepath.Join("testdata", "broken.kd")})
	if err == nil || !strings.Contains(err.Error(), "compilation failed") {
		t.Fatalf("expected compilation failure, got %v", err)
	}
	diagText := errOut.String()
	for _, want := range []string{`broken.kd:3:7: error: undefined variable "y"`, "  x = y + 1;\n", "      ^"} {
		if !strings.Contains(diagText, want) {
			t.Fatalf("diagnostics lack %q:\n%s", want, diagText)
		}
	}
}

func TestBoundsReportsEveryLoop(t *testing.T) {
	out, _ := capture(t)
	if err := run([]string{"bounds", filepath.Join("testdata", "sum.kd")}); err != nil {
		t.Fatalf("bounds failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per loop, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[0], "sum_loop0 (") || !strings.HasSuffix(lines[0], ": 5 iteration(s)") {
		t.Fatalf("unexpected bound for the counted loop: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "sum_loop1 (") || !strings.Contains(lines[1], ": unknown: ") {
		t.Fatalf("unexpected bound for the input-dependent loop: %q", lines[1])
	}
}

func TestSimPrintsOutputs(t *testing.T) {
	for _, extra := range [][]string{nil, {"-unroll"}} {
		out, _ := capture(t)
		args := append([]string{"sim", "-in", "n=3"}, extra...)
		args = append(args, filepath.Join("testdata", "sum.kd"))
		if err := run(args); err != nil {
			t.Fatalf("sim %v failed: %v", extra, err)
		}
		want := "acc = 15:s32\nj = 3:s32\n"
		if diff := cmp.Diff(want, out.String()); diff != "" {
			t.Fatalf("sim %v output mismatch (-want +got):\n%s", extra, diff)
		}
	}
}

func TestSimRejectsMalformedInputs(t *testing.T) {
	capture(t)
	err := run([]string{"sim", "-in", "n", filepath.Join("testdata", "sum.kd")})
	if err == nil || !strings.Contains(err.Error(), "name=value") {
		t.Fatalf("expected malformed input error, got %v", err)
	}
}

func TestGoKernelRoundTrip(t *testing.T) {
	source := filepath.Join("testdata", "gokernel", "gokernel.go")

	out, _ := capture(t)
	if err := run([]string{"sim", "-in", "n=7", source}); err != nil {
		t.Fatalf("sim failed: %v", err)
	}
	if got := out.String(); got != "acc = 28:s32\n" {
		t.Fatalf("unexpected sim output %q", got)
	}

	_, errOut := capture(t)
	if err := run([]string{"lint", source}); err != nil {
		t.Fatalf("lint failed: %v\n%s", err, errOut)
	}
	if !strings.Contains(errOut.String(), "gokernel.go: ok") {
		t.Fatalf("missing lint summary: %q", errOut.String())
	}
}

func TestInputFlag(t *testing.T) {
	f := inputFlag{}
	for _, v := range []string{"b=0x10", "a=-3"} {
		if err := f.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	if got := f.String(); got != "a=-3,b=16" {
		t.Fatalf("String() = %q", got)
	}
	if err := f.Set("=1"); err == nil {
		t.Fatalf("expected an error for an unnamed input")
	}
	if err := f.Set("x=abc"); err == nil {
		t.Fatalf("expected an error for a non-numeric value")
	}
}

func TestSimComparesExpectedOutput(t *testing.T) {
	capture(t)
	tmp := t.TempDir()
	good := filepath.Join(tmp, "good.sim")
	bad := filepath.Join(tmp, "bad.sim")
	if err := os.WriteFile(good, []byte("acc = 15:s32\nj = 2:s32\n\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(bad, []byte("acc = 16:s32\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	source := filepath.Join("testdata", "sum.kd")
	if err := run([]string{"sim", "-in", "n=2", "-expect", good, source}); err != nil {
		t.Fatalf("expected matching output, got %v", err)
	}
	err := run([]string{"sim", "-in", "n=2", "-expect", bad, source})
	if err == nil || !strings.Contains(err.Error(), "simulator output mismatch") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestDefaultSimExpectPath(t *testing.T) {
	got := defaultSimExpectPath(filepath.Join("tests", "e2e", "scale", "main.kd"))
	want := filepath.Join("tests", "e2e", "scale", "expected.sim")
	if got != want {
		t.Fatalf("defaultSimExpectPath = %s, want %s", got, want)
	}
	if got := defaultSimExpectPath(""); got != "" {
		t.Fatalf("empty input gave %q", got)
	}
}
