package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/dot"
	"github.com/orcc/xronos-sub010/internal/frontend"
	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/kernel"
	"github.com/orcc/xronos-sub010/internal/kernel/dsl"
	"github.com/orcc/xronos-sub010/internal/loopbound"
	"github.com/orcc/xronos-sub010/internal/passes"
	"github.com/orcc/xronos-sub010/internal/sim"
	"github.com/orcc/xronos-sub010/internal/unroll"
	"github.com/orcc/xronos-sub010/internal/validate"
)

// Results go to stdout, diagnostics and summaries to stderr.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printGlobalUsage()
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "compile":
		return runCompile(args[1:])
	case "bounds":
		return runBounds(args[1:])
	case "sim":
		return runSim(args[1:])
	case "lint":
		return runLint(args[1:])
	default:
		printGlobalUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printGlobalUsage() {
	fmt.Fprintf(stderr, "xronos loop back-end\n\n")
	fmt.Fprintf(stderr, "Usage:\n")
	fmt.Fprintf(stderr, "  xronos <command> [options] <file.kd|file.go>\n\n")
	fmt.Fprintf(stderr, "Commands:\n")
	fmt.Fprintf(stderr, "  compile    Lower a kernel, unroll bounded loops and emit the design (ir|dot)\n")
	fmt.Fprintf(stderr, "  bounds     Report the iteration count of every loop\n")
	fmt.Fprintf(stderr, "  sim        Run a kernel through the interpreter\n")
	fmt.Fprintf(stderr, "  lint       Check a kernel without emitting anything\n")
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	function   *string
	diagFormat *string
	verbosity  *int
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		function:   fs.String("func", "Kernel", "kernel function to convert when the input is Go source"),
		diagFormat: fs.String("diag-format", "text", "diagnostic output format (text|json)"),
		verbosity:  fs.Int("v", 0, "log verbosity (0 quiet, 1 info, 2 debug)"),
	}
}

func (c commonFlags) reporter() *diag.Reporter {
	commonlog.Configure(*c.verbosity, nil)
	return diag.NewReporter(stderr, *c.diagFormat)
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)
	emit := fs.String("emit", "ir", "output format (ir|dot)")
	output := fs.String("o", "", "output file path (stdout when omitted)")
	noUnroll := fs.Bool("no-unroll", false, "keep every loop rolled")
	noShrink := fs.Bool("no-shrink", false, "keep loop registers at their declared width")
	maxIter := fs.Int("max-iterations", unroll.DefaultOptions().MaxIterations, "largest trip count that is unrolled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("compile requires exactly one source file")
	}
	if *emit != "ir" && *emit != "dot" {
		return fmt.Errorf("unknown emit format: %s", *emit)
	}

	source := fs.Arg(0)
	reporter := common.reporter()
	g, err := loadDesign(source, *common.function, reporter)
	if err != nil {
		return err
	}

	cfg := passes.DefaultConfig()
	cfg.Unroll = !*noUnroll
	cfg.ShrinkRegisters = !*noShrink
	cfg.UnrollOptions.MaxIterations = *maxIter
	if err := runPipeline(g, cfg, reporter); err != nil {
		return err
	}

	if *emit == "dot" {
		err = dot.Emit(g, *output)
	} else {
		err = withOutputWriter(*output, func(w io.Writer) error {
			ir.Dump(g, w)
			return nil
		})
	}
	if err != nil {
		return err
	}
	summary(reporter, "compiled %s: %d loop(s) left rolled", source, len(g.Loops(g.Top)))
	return nil
}

func runBounds(args []string) error {
	fs := flag.NewFlagSet("bounds", flag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("bounds requires exactly one source file")
	}

	reporter := common.reporter()
	g, err := loadDesign(fs.Arg(0), *common.function, reporter)
	if err != nil {
		return err
	}
	if err := passes.NewWidthInference(reporter).Run(g); err != nil {
		return err
	}
	for _, id := range g.Loops(g.Top) {
		l := g.Component(id)
		n, err := loopbound.Analyze(g, id)
		where := ""
		if l.Source.IsValid() {
			where = " (" + l.Source.String() + ")"
		}
		if err != nil {
			fmt.Fprintf(stdout, "%s%s: unknown: %s\n", l.Name, where, err)
			continue
		}
		fmt.Fprintf(stdout, "%s%s: %d iteration(s)\n", l.Name, where, n)
	}
	return nil
}

func runSim(args []string) error {
	fs := flag.NewFlagSet("sim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)
	inputs := inputFlag{}
	fs.Var(inputs, "in", "kernel input as name=value (repeatable)")
	unrollFirst := fs.Bool("unroll", false, "run the pass pipeline before simulating")
	maxIter := fs.Int("max-iterations", sim.DefaultOptions().MaxIterations, "iteration limit for any single loop execution")
	showMemories := fs.Bool("memories", false, "print the final contents of every memory")
	expectPath := fs.String("expect", "", "path to file containing the expected output (defaults to expected.sim next to the source)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("sim requires exactly one source file")
	}

	if *expectPath == "" {
		if candidate := defaultSimExpectPath(fs.Arg(0)); candidate != "" {
			if _, err := os.Stat(candidate); err == nil {
				*expectPath = candidate
			}
		}
	}

	reporter := common.reporter()
	g, err := loadDesign(fs.Arg(0), *common.function, reporter)
	if err != nil {
		return err
	}
	if *unrollFirst {
		if err := runPipeline(g, passes.DefaultConfig(), reporter); err != nil {
			return err
		}
	}

	res, err := sim.Run(g, inputs, sim.Options{MaxIterations: *maxIter})
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, o := range res.Outputs {
		fmt.Fprintf(&buf, "%s = %s\n", o.Name, o.Value)
	}
	if *showMemories {
		names := make([]string, 0, len(res.Memories))
		for name := range res.Memories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			words := res.Memories[name]
			vals := make([]string, len(words))
			for i, w := range words {
				vals[i] = w.String()
			}
			fmt.Fprintf(&buf, "%s = [%s]\n", name, strings.Join(vals, " "))
		}
	}
	if _, err := stdout.Write(buf.Bytes()); err != nil {
		return err
	}
	if *expectPath != "" {
		return compareSimulatorOutput(*expectPath, buf.Bytes())
	}
	return nil
}

// defaultSimExpectPath returns the expected.sim file that sits next to a
// kernel source.
func defaultSimExpectPath(input string) string {
	if input == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(filepath.Clean(input)), "expected.sim")
}

func compareSimulatorOutput(expectPath string, got []byte) error {
	want, err := os.ReadFile(expectPath)
	if err != nil {
		return fmt.Errorf("read expect file: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(got), bytes.TrimSpace(want)) {
		return fmt.Errorf("simulator output mismatch\nexpected:\n%s\nactual:\n%s", want, got)
	}
	return nil
}

func runLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(stderr)

	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("lint requires exactly one source file")
	}

	reporter := common.reporter()
	g, err := loadDesign(fs.Arg(0), *common.function, reporter)
	if err != nil {
		return err
	}
	if err := passes.NewWidthInference(reporter).Run(g); err != nil {
		return err
	}
	if err := g.Verify(); err != nil {
		return err
	}
	summary(reporter, "%s: ok", fs.Arg(0))
	return nil
}

// loadDesign lowers a .kd kernel description or a function of a Go source
// file into a graph.
func loadDesign(path, function string, reporter *diag.Reporter) (*ir.Graph, error) {
	var (
		k   *kernel.Kernel
		err error
	)
	if filepath.Ext(path) == ".go" {
		k, err = convertGo(path, function, reporter)
	} else {
		k, err = dsl.ParseFile(path)
	}
	if err == nil {
		var g *ir.Graph
		g, err = kernel.Lower(k)
		if err == nil {
			return g, nil
		}
	}
	var ke *kernel.Error
	if errors.As(err, &ke) {
		reporter.ErrorAt(ke.Pos, ke.Msg)
		printExcerpt(ke.Pos)
		return nil, fmt.Errorf("%s: compilation failed", path)
	}
	return nil, err
}

func convertGo(path, function string, reporter *diag.Reporter) (*kernel.Kernel, error) {
	pkgs, fset, err := frontend.LoadPackages(frontend.LoadConfig{Sources: []string{path}}, reporter)
	if err != nil {
		return nil, err
	}
	if reporter.HasErrors() {
		return nil, fmt.Errorf("errors reported while loading packages")
	}
	reporter.SetFileSet(fset)
	prog, ssaPkgs, err := frontend.BuildSSA(pkgs, reporter)
	if err != nil {
		return nil, err
	}
	if err := validate.CheckProgram(prog, ssaPkgs, pkgs, reporter); err != nil {
		return nil, err
	}
	return frontend.Convert(pkgs[0], function)
}

func runPipeline(g *ir.Graph, cfg passes.Config, reporter *diag.Reporter) error {
	if err := passes.Pipeline(cfg, reporter).Run(g); err != nil {
		return err
	}
	if reporter.HasErrors() {
		return fmt.Errorf("analysis passes reported errors")
	}
	return nil
}

func printExcerpt(pos diag.Position) {
	if !pos.IsValid() || pos.Filename == "" {
		return
	}
	source, err := os.ReadFile(pos.Filename)
	if err != nil {
		return
	}
	if line, caret, ok := dsl.Excerpt(string(source), pos); ok {
		fmt.Fprintf(stderr, "  %s\n  %s\n", line, color.RedString(caret))
	}
}

func summary(reporter *diag.Reporter, format string, args ...interface{}) {
	c := color.New(color.FgGreen)
	if reporter.WarningCount() > 0 {
		c = color.New(color.FgYellow)
		format += fmt.Sprintf(" (%d warning(s))", reporter.WarningCount())
	}
	c.Fprintf(stderr, format+"\n", args...)
}

// inputFlag collects repeated -in name=value flags.
type inputFlag map[string]int64

func (f inputFlag) String() string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, f[name])
	}
	return strings.Join(parts, ",")
}

func (f inputFlag) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("input %q is not of the form name=value", v)
	}
	x, err := strconv.ParseInt(value, 0, 64)
	if err != nil {
		return fmt.Errorf("input %s: %w", name, err)
	}
	f[name] = x
	return nil
}

func withOutputWriter(path string, fn func(io.Writer) error) error {
	if path == "" || path == "-" {
		return fn(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = fn(f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return err
}
