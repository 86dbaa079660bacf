package kernel_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/kernel"
	"github.com/orcc/xronos-sub010/internal/kernel/dsl"
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
	if err := g.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return g
}

func run(t *testing.T, g *ir.Graph, inputs map[string]int64) *sim.Result {
	t.Helper()
	res, err := sim.Run(g, inputs, sim.DefaultOptions())
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	return res
}

func outputs(res *sim.Result) map[string]int64 {
	out := make(map[string]int64, len(res.Outputs))
	for _, o := range res.Outputs {
		out[o.Name] = o.Value.Int64()
	}
	return out
}

func TestLowerStraightLine(t *testing.T) {
	g := lower(t, `kernel arith(a: s16, b: s16) {
  var s: s32 = s32(a) + s32(b);
  var d: s16 = a - b;
  var m: bool = a < b;
  output s, d, m;
}`)
	top := g.Component(g.Top)
	if got := len(top.Ports); got != 2 {
		t.Fatalf("top has %d ports, want 2", got)
	}
	got := outputs(run(t, g, map[string]int64{"a": -7, "b": 20}))
	want := map[string]int64{"s": 13, "d": -27, "m": 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestLowerBranchesMergeWithMux(t *testing.T) {
	g := lower(t, `kernel clamp(x: s32) {
  var y: s32 = x;
  if (x > 100) {
    y = 100;
  } else if (x < 0) {
    y = 0;
  }
  output y;
}`)
	muxes := 0
	for _, id := range g.Subtree(g.Top) {
		if g.Component(id).Kind == ir.Mux {
			muxes++
		}
	}
	if muxes != 2 {
		t.Fatalf("got %d muxes, want 2", muxes)
	}
	for in, want := range map[int64]int64{-5: 0, 50: 50, 500: 100} {
		y, _ := run(t, g, map[string]int64{"x": in}).Output("y")
		if y.Int64() != want {
			t.Fatalf("clamp(%d) = %d, want %d", in, y.Int64(), want)
		}
	}
}

func TestLowerForLoop(t *testing.T) {
	g := lower(t, `kernel sum() {
  var acc: s32 = 0;
  for (var i: s32 = 0; i < 5; i = i + 1) {
    acc = acc + i;
  }
  output acc;
}`)
	loops := g.Loops(g.Top)
	if len(loops) != 1 {
		t.Fatalf("got %d loops, want 1", len(loops))
	}
	l := g.Component(loops[0])
	if !g.IsDecisionFirst(l.ID) {
		t.Fatalf("for loop must test before the body")
	}
	if got := len(l.Loop.DataRegisters); got != 2 {
		t.Fatalf("got %d data registers, want 2 (acc, i)", got)
	}
	if l.Loop.ControlRegister == ir.NoComponent {
		t.Fatalf("loop has no control register")
	}
	body := g.Component(l.Loop.Body)
	if body.Body.Update == ir.NoComponent {
		t.Fatalf("for loop lost its update block")
	}
	if err := g.CheckAcyclic(g.Top); err == nil {
		t.Fatalf("the feedback registers must close a cycle through the loop body")
	}
	acc, _ := run(t, g, nil).Output("acc")
	if acc.Int64() != 10 {
		t.Fatalf("acc = %d, want 10", acc.Int64())
	}
}

func TestLowerInvariantsBecomeLatches(t *testing.T) {
	g := lower(t, `kernel scale(k: s32) {
  var acc: s32 = 0;
  var i: s32 = 0;
  while (i < 3) {
    acc = acc + k;
    i = i + 1;
  }
  output acc;
}`)
	l := g.Component(g.Loops(g.Top)[0])
	if got := len(l.Loop.DataLatches); got != 1 {
		t.Fatalf("got %d latches, want 1 for k", got)
	}
	acc, _ := run(t, g, map[string]int64{"k": 7}).Output("acc")
	if acc.Int64() != 21 {
		t.Fatalf("acc = %d, want 21", acc.Int64())
	}
}

func TestLowerDoWhile(t *testing.T) {
	g := lower(t, `kernel twice() {
  var x: s32 = 0;
  do {
    x = x + 1;
  } while (x < 2);
  output x;
}`)
	l := g.Loops(g.Top)[0]
	if g.IsDecisionFirst(l) {
		t.Fatalf("do-while must test after the body")
	}
	x, _ := run(t, g, nil).Output("x")
	if x.Int64() != 2 {
		t.Fatalf("x = %d, want 2", x.Int64())
	}
}

func TestLowerArrays(t *testing.T) {
	g := lower(t, `kernel copy() {
  array src[4]: u8 = {3, 1, 4, 1};
  array dst[4]: u8;
  for (var i: u32 = 0; i < 4; i = i + 1) {
    if (src[i] > 2) {
      dst[i] = src[i];
    }
  }
}`)
	res := run(t, g, nil)
	var got []int64
	for _, w := range res.Memories["dst"] {
		got = append(got, w.Int64())
	}
	if diff := cmp.Diff([]int64{3, 0, 4, 0}, got); diff != "" {
		t.Fatalf("dst mismatch (-want +got):\n%s", diff)
	}
}

func TestLowerNestedLoops(t *testing.T) {
	g := lower(t, `kernel grid() {
  var n: s32 = 0;
  for (var i: s32 = 0; i < 3; i = i + 1) {
    for (var j: s32 = 0; j < 4; j = j + 1) {
      n = n + 1;
    }
  }
  output n;
}`)
	if got := len(g.Loops(g.Top)); got != 2 {
		t.Fatalf("got %d loops, want 2", got)
	}
	n, _ := run(t, g, nil).Output("n")
	if n.Int64() != 12 {
		t.Fatalf("n = %d, want 12", n.Int64())
	}
}

func TestLowerErrors(t *testing.T) {
	cases := []struct {
		name, src, want string
	}{
		{"undefined", "kernel k() { var x: s32 = y; }", `undefined variable "y"`},
		{"redeclared", "kernel k(a: s8) { var a: s8 = 1; }", `"a" redeclared`},
		{"assign undeclared", "kernel k() { z = 1; }", `undefined variable "z"`},
		{"missing output", "kernel k() { output q; }", `output "q" is not defined`},
		{"array", "kernel k() { var x: s32 = m[0]; }", `undefined array "m"`},
		{"loop in branch", "kernel k(a: s32) { var x: s32 = 0; if (a > 0) { while (x < 3) { x = x + 1; } } }",
			"loops inside conditionals are not supported"},
		{"declaration overflow", "kernel k() { var x: u8 = 300; }", "constant 300 overflows u8"},
		{"negative unsigned", "kernel k() { var x: u8 = -1; }", "constant -1 overflows u8"},
		{"bound overflow", "kernel k() { var i: u8 = 0; while (i < 300) { i = i + 1; } }", "constant 300 overflows u8"},
		{"array init overflow", "kernel k() { array m[2]: s8 = {1, 200}; }", `initial value 200 of array "m" overflows s8`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k, err := dsl.Parse("bad.kd", tc.src)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			_, err = kernel.Lower(k)
			var ke *kernel.Error
			if !errors.As(err, &ke) {
				t.Fatalf("got %v, want *kernel.Error", err)
			}
			if !strings.Contains(ke.Msg, tc.want) {
				t.Fatalf("got %q, want it to contain %q", ke.Msg, tc.want)
			}
			if !ke.Pos.IsValid() {
				t.Fatalf("error has no position")
			}
		})
	}
}

func TestLiteralsAtTypeLimits(t *testing.T) {
	g := lower(t, `kernel k() {
  var lo: s8 = -128;
  var hi: u8 = 255;
  output lo;
  output hi;
}`)
	res := run(t, g, nil)
	lo, _ := res.Output("lo")
	hi, _ := res.Output("hi")
	if lo.Int64() != -128 || hi.Int64() != 255 {
		t.Fatalf("lo = %d, hi = %d, want -128 and 255", lo.Int64(), hi.Int64())
	}
}
