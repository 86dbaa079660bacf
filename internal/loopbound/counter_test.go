package loopbound_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"

	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/kernel"
	"github.com/orcc/xronos-sub010/internal/kernel/dsl"
	"github.com/orcc/xronos-sub010/internal/loopbound"
	"github.com/orcc/xronos-sub010/internal/sim"
)

func lower(t *testing.T, src string) *ir.Graph {
	t.Helper()
	k, err := dsl.Parse("test.kd", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	g, err := kernel.Lower(k)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	return g
}

func onlyLoop(t *testing.T, g *ir.Graph) ir.ComponentID {
	t.Helper()
	loops := g.Loops(g.Top)
	if len(loops) != 1 {
		t.Fatalf("got %d loops, want 1", len(loops))
	}
	return loops[0]
}

func TestCountsConstantLoop(t *testing.T) {
	g := lower(t, `kernel sum() {
  var acc: s32 = 0;
  for (var i: s32 = 0; i < 5; i = i + 1) {
    acc = acc + i;
  }
  output acc;
}`)
	loop := onlyLoop(t, g)
	n, err := loopbound.Analyze(g, loop)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if n != 5 {
		t.Fatalf("got %d iterations, want 5", n)
	}
	if got := loopbound.Iterations(g, loop); got != 5 {
		t.Fatalf("Iterations = %d, want 5", got)
	}
}

func TestCircuitExcludesUnrelatedState(t *testing.T) {
	g := lower(t, `kernel sum() {
  var acc: s32 = 0;
  for (var i: s32 = 0; i < 5; i = i + 1) {
    acc = acc + i;
  }
  output acc;
}`)
	c, err := loopbound.BuildCircuit(g, onlyLoop(t, g))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(c.Tracked) != 1 {
		t.Fatalf("circuit tracks %d loop variables, want only i:\n%s", len(c.Tracked), spew.Sdump(c.Tracked))
	}
	port := c.Tracked[0]
	if name := g.Port(port).Name; name != "i" {
		t.Fatalf("tracked %q, want i", name)
	}
	if _, ok := c.Registers[port]; !ok {
		t.Fatalf("i must be carried by a feedback register")
	}
	if got := c.Start[port].Int64(); got != 0 {
		t.Fatalf("start value %d, want 0", got)
	}
	// i < 5, the constant 5, i + 1 and the constant 1.
	if len(c.Sequence) != 4 {
		names := make([]string, 0, len(c.Sequence))
		for _, id := range c.Sequence {
			names = append(names, g.Component(id).Kind.String())
		}
		t.Fatalf("sequence %v, want four components", names)
	}
	done := make(map[ir.ComponentID]bool)
	inSequence := make(map[ir.ComponentID]bool)
	for _, id := range c.Sequence {
		inSequence[id] = true
	}
	for _, id := range c.Sequence {
		for _, p := range g.Component(id).Ports {
			producer := g.Bus(c.PortBus[p]).Owner
			if inSequence[producer] && !done[producer] {
				t.Fatalf("%q is scheduled before its producer", g.Component(id).Name)
			}
		}
		done[id] = true
	}
}

func TestInputDependentBoundIsUnknown(t *testing.T) {
	g := lower(t, `kernel upto(n: s32) {
  var i: s32 = 0;
  while (i < n) {
    i = i + 1;
  }
  output i;
}`)
	loop := onlyLoop(t, g)
	n, err := loopbound.Analyze(g, loop)
	if n != ir.IterationsUnknown {
		t.Fatalf("got %d iterations, want unknown", n)
	}
	var ua *loopbound.UnanalyzableError
	if !errors.As(err, &ua) || !errors.Is(err, loopbound.ErrNonConstantInit) {
		t.Fatalf("got %v, want non-constant initial value", err)
	}
}

func TestInputDependentStepIsUnknown(t *testing.T) {
	g := lower(t, `kernel stride(n: s32) {
  var i: s32 = 0;
  while (i < 10) {
    i = i + n;
  }
  output i;
}`)
	n, err := loopbound.Analyze(g, onlyLoop(t, g))
	if n != ir.IterationsUnknown {
		t.Fatalf("got %d iterations, want unknown", n)
	}
	var ua *loopbound.UnanalyzableError
	if !errors.As(err, &ua) || !errors.Is(err, loopbound.ErrNonConstantInit) {
		t.Fatalf("got %v, want non-constant initial value", err)
	}
}

func TestIterationCap(t *testing.T) {
	g := lower(t, `kernel long() {
  var i: u32 = 0;
  while (i < 100000) {
    i = i + 1;
  }
  output i;
}`)
	loop := onlyLoop(t, g)
	if n, err := loopbound.Analyze(g, loop); n != ir.IterationsUnknown || !errors.Is(err, loopbound.ErrIterationCap) {
		t.Fatalf("got (%d, %v), want the iteration cap", n, err)
	}
}

func TestCapBoundary(t *testing.T) {
	for _, tc := range []struct {
		limit int
		want  int
	}{
		{loopbound.MaxIterations, loopbound.MaxIterations},
		{loopbound.MaxIterations + 1, ir.IterationsUnknown},
	} {
		g := lower(t, fmt.Sprintf(`kernel edge() {
  var i: u32 = 0;
  while (i < %d) {
    i = i + 1;
  }
  output i;
}`, tc.limit))
		if got := loopbound.Iterations(g, onlyLoop(t, g)); got != tc.want {
			t.Fatalf("limit %d: got %d, want %d", tc.limit, got, tc.want)
		}
	}
}

func TestNeverTakenLoop(t *testing.T) {
	g := lower(t, `kernel none() {
  var i: s32 = 9;
  while (i < 3) {
    i = i + 1;
  }
  output i;
}`)
	if got := loopbound.Iterations(g, onlyLoop(t, g)); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestDoWhileCountsDecisions(t *testing.T) {
	g := lower(t, `kernel twice() {
  var x: s32 = 0;
  do {
    x = x + 1;
  } while (x < 2);
  output x;
}`)
	if got := loopbound.Iterations(g, onlyLoop(t, g)); got != 1 {
		t.Fatalf("got %d, want 1 true decision", got)
	}
}

func TestInvariantOperandIsFolded(t *testing.T) {
	g := lower(t, `kernel steps() {
  var step: s32 = 3;
  var i: s32 = 0;
  while (i < 10) {
    i = i + step;
  }
  output i;
}`)
	loop := onlyLoop(t, g)
	c, err := loopbound.BuildCircuit(g, loop)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	latched := 0
	for _, p := range c.Tracked {
		if c.Next[p] == c.StartBus[p] {
			latched++
		}
	}
	if latched != 1 {
		t.Fatalf("got %d latched variables, want 1 (step)", latched)
	}
	if got := loopbound.Iterations(g, loop); got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
}

func TestMemoryReadIsNotEmulatable(t *testing.T) {
	g := lower(t, `kernel scan() {
  array a[4]: u8 = {1, 1, 0, 1};
  var i: u32 = 0;
  while (a[i] != 0) {
    i = i + 1;
  }
  output i;
}`)
	_, err := loopbound.Analyze(g, onlyLoop(t, g))
	if !errors.Is(err, loopbound.ErrNotEmulatable) {
		t.Fatalf("got %v, want ErrNotEmulatable", err)
	}
}

func TestAnalysisLeavesGraphUntouched(t *testing.T) {
	g := lower(t, `kernel sum() {
  var acc: s32 = 0;
  for (var i: s32 = 0; i < 5; i = i + 1) {
    acc = acc + i;
  }
  output acc;
}`)
	loop := onlyLoop(t, g)
	before := len(g.Components())
	first, err := loopbound.BuildCircuit(g, loop)
	if err != nil {
		t.Fatalf("build circuit: %v", err)
	}
	second, err := loopbound.BuildCircuit(g, loop)
	if err != nil {
		t.Fatalf("build circuit again: %v", err)
	}
	if diff := cmp.Diff(first.Sequence, second.Sequence); diff != "" {
		t.Fatalf("circuit sequence is not repeatable (-first +second):\n%s", diff)
	}
	if a, b := loopbound.Iterations(g, loop), loopbound.Iterations(g, loop); a != 5 || b != 5 {
		t.Fatalf("analysis is not repeatable: %d then %d", a, b)
	}
	if after := len(g.Components()); after != before {
		t.Fatalf("analysis changed the graph: %d components, then %d", before, after)
	}
}

type loopShape struct {
	Start int `fake:"{number:-40,40}"`
	Limit int `fake:"{number:-40,120}"`
	Step  int `fake:"{number:1,7}"`
}

func (s loopShape) trips() int {
	if s.Start >= s.Limit {
		return 0
	}
	return (s.Limit - s.Start + s.Step - 1) / s.Step
}

func TestRandomBoundsMatchExecution(t *testing.T) {
	gofakeit.Seed(20240611)
	for i := 0; i < 40; i++ {
		var s loopShape
		if err := gofakeit.Struct(&s); err != nil {
			t.Fatalf("fake: %v", err)
		}
		g := lower(t, fmt.Sprintf(`kernel rnd() {
  var n: s32 = 0;
  for (var i: s32 = %d; i < %d; i = i + %d) {
    n = n + 1;
  }
  output n;
}`, s.Start, s.Limit, s.Step))
		got := loopbound.Iterations(g, onlyLoop(t, g))
		if got != s.trips() {
			t.Fatalf("shape %s: got %d iterations, want %d", spew.Sdump(s), got, s.trips())
		}
		res, err := sim.Run(g, nil, sim.DefaultOptions())
		if err != nil {
			t.Fatalf("sim: %v", err)
		}
		if res.Iterations != got {
			t.Fatalf("shape %s: executed %d iterations, analysis says %d", spew.Sdump(s), res.Iterations, got)
		}
	}
}

func TestRanges(t *testing.T) {
	g := lower(t, `kernel down() {
  var i: s32 = 10;
  while (i > -3) {
    i = i - 2;
  }
  output i;
}`)
	c, err := loopbound.BuildCircuit(g, onlyLoop(t, g))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ranges, err := loopbound.Ranges(g, c)
	if err != nil {
		t.Fatalf("ranges: %v", err)
	}
	r := ranges[c.Tracked[0]]
	if r.Min != -4 || r.Max != 10 {
		t.Fatalf("range %d..%d, want -4..10", r.Min, r.Max)
	}
	if w := r.Width(); w != ir.Signed(5) {
		t.Fatalf("width %s, want s5", w)
	}
}
