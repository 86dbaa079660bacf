package unroll_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/go-cmp/cmp"

	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/kernel"
	"github.com/orcc/xronos-sub010/internal/kernel/dsl"
	"github.com/orcc/xronos-sub010/internal/loopbound"
	"github.com/orcc/xronos-sub010/internal/sim"
	"github.com/orcc/xronos-sub010/internal/unroll"
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

// unrollAll unrolls every loop of g innermost first and checks the result is
// a well-formed acyclic design.
func unrollAll(t *testing.T, g *ir.Graph) []ir.ComponentID {
	t.Helper()
	var blocks []ir.ComponentID
	for _, loop := range g.Loops(g.Top) {
		n, err := loopbound.Analyze(g, loop)
		if err != nil {
			t.Fatalf("analyze %q: %v", g.Component(loop).Name, err)
		}
		b, err := unroll.Unroll(g, loop, n, unroll.DefaultOptions())
		if err != nil {
			t.Fatalf("unroll: %v", err)
		}
		blocks = append(blocks, b)
	}
	if err := g.Verify(); err != nil {
		var buf bytes.Buffer
		ir.Dump(g, &buf)
		t.Fatalf("verify after unroll: %v\n%s", err, buf.String())
	}
	if err := g.CheckAcyclic(g.Top); err != nil {
		t.Fatalf("unrolled design has a cycle: %v", err)
	}
	if got := len(g.Loops(g.Top)); got != 0 {
		t.Fatalf("%d loops left after unrolling", got)
	}
	return blocks
}

func simulate(t *testing.T, g *ir.Graph, inputs map[string]int64) *sim.Result {
	t.Helper()
	res, err := sim.Run(g, inputs, sim.DefaultOptions())
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	return res
}

// clones counts the children of the iteration blocks of outer whose name
// starts with prefix.
func clones(g *ir.Graph, outer ir.ComponentID, prefix string) int {
	n := 0
	for _, it := range g.Component(outer).Module.Children {
		for _, c := range g.Component(it).Module.Children {
			if strings.HasPrefix(g.Component(c).Name, prefix) {
				n++
			}
		}
	}
	return n
}

func TestUnrollWhileLoop(t *testing.T) {
	g := lower(t, `kernel three() {
  var x: s32 = 0;
  while (x < 3) {
    x = x + 1;
  }
  output x;
}`)
	loop := g.Loops(g.Top)[0]
	name := g.Component(loop).Name
	blocks := unrollAll(t, g)
	outer := g.Component(blocks[0])

	if outer.Kind != ir.Block {
		t.Fatalf("replacement is a %s, want a block", outer.Kind)
	}
	// The init copy and one block per decision evaluation.
	if got := len(outer.Module.Children); got != 5 {
		t.Fatalf("unrolled block has %d children, want 5", got)
	}
	if got := clones(g, blocks[0], name+"_test"); got != 4 {
		t.Fatalf("got %d test copies, want 4", got)
	}
	if got := clones(g, blocks[0], name+"_body"); got != 3 {
		t.Fatalf("got %d body copies, want 3", got)
	}
	// Iterations follow document order: test then body, and the last one
	// only evaluates the test.
	iters := outer.Module.Children[1:]
	for i, it := range iters {
		var got []string
		for _, c := range g.Component(it).Module.Children {
			n := g.Component(c).Name
			switch {
			case strings.HasPrefix(n, name+"_test"):
				got = append(got, "test")
			case strings.HasPrefix(n, name+"_body"):
				got = append(got, "body")
			default:
				got = append(got, n)
			}
		}
		want := []string{"test", "body"}
		if i == len(iters)-1 {
			want = []string{"test"}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("iteration %d order mismatch (-want +got):\n%s", i, diff)
		}
	}
	if x, _ := simulate(t, g, nil).Output("x"); x.Int64() != 3 {
		t.Fatalf("x = %d, want 3", x.Int64())
	}
}

func TestUnrollDoWhileLoop(t *testing.T) {
	g := lower(t, `kernel twice() {
  var x: s32 = 0;
  do {
    x = x + 1;
  } while (x < 2);
  output x;
}`)
	loop := g.Loops(g.Top)[0]
	name := g.Component(loop).Name
	// The trip count is the number of true decisions: the body runs twice
	// but the test passes once, so count 1 yields two body copies.
	if n := loopbound.Iterations(g, loop); n != 1 {
		t.Fatalf("trip count %d, want 1", n)
	}
	blocks := unrollAll(t, g)
	if got := clones(g, blocks[0], name+"_body"); got != 2 {
		t.Fatalf("got %d body copies, want 2", got)
	}
	if got := clones(g, blocks[0], name+"_test"); got != 2 {
		t.Fatalf("got %d test copies, want 2", got)
	}
	// Every iteration runs the body before the test.
	for _, it := range g.Component(blocks[0]).Module.Children[1:] {
		kids := g.Component(it).Module.Children
		if first := g.Component(kids[0]).Name; !strings.HasPrefix(first, name+"_body") {
			t.Fatalf("iteration starts with %q, want the body", first)
		}
	}
	if x, _ := simulate(t, g, nil).Output("x"); x.Int64() != 2 {
		t.Fatalf("x = %d, want 2", x.Int64())
	}
}

func TestUnrollZeroIterations(t *testing.T) {
	g := lower(t, `kernel none() {
  var i: s32 = 9;
  while (i < 3) {
    i = i + 1;
  }
  output i;
}`)
	blocks := unrollAll(t, g)
	outer := g.Component(blocks[0])
	if got := len(outer.Module.Children); got != 2 {
		t.Fatalf("got %d children, want init and a single test", got)
	}
	if i, _ := simulate(t, g, nil).Output("i"); i.Int64() != 9 {
		t.Fatalf("i = %d, want 9", i.Int64())
	}
}

func TestUnrollKeepsShape(t *testing.T) {
	g := lower(t, `kernel scale(k: s32) {
  var acc: s32 = 0;
  var i: s32 = 0;
  while (i < 4) {
    acc = acc + k;
    i = i + 1;
  }
  output acc, i;
}`)
	loop := g.Component(g.Loops(g.Top)[0])
	type shape struct {
		Ports []string
		Buses []string
	}
	describe := func(c *ir.Component) shape {
		var s shape
		for _, p := range c.Ports {
			s.Ports = append(s.Ports, fmt.Sprintf("%s:%s", g.Port(p).Name, g.Port(p).Value))
		}
		for _, b := range g.Exit(g.MainExit(c.ID)).Buses {
			s.Buses = append(s.Buses, fmt.Sprintf("%s:%s", g.Bus(b).Name, g.Bus(b).Value))
		}
		return s
	}
	want := describe(loop)
	owner := loop.Owner
	index := -1
	for i, c := range g.Component(owner).Module.Children {
		if c == loop.ID {
			index = i
		}
	}
	blocks := unrollAll(t, g)
	outer := g.Component(blocks[0])
	if diff := cmp.Diff(want, describe(outer)); diff != "" {
		t.Fatalf("shape changed (-loop +block):\n%s", diff)
	}
	if got := g.Component(owner).Module.Children[index]; got != outer.ID {
		t.Fatalf("block is not in the loop's place")
	}
	if g.Component(loop.ID) != nil {
		t.Fatalf("loop component still exists")
	}
	res := simulate(t, g, map[string]int64{"k": 5})
	if acc, _ := res.Output("acc"); acc.Int64() != 20 {
		t.Fatalf("acc = %d, want 20", acc.Int64())
	}
}

func TestUnrollReleasesMemoryAccesses(t *testing.T) {
	g := lower(t, `kernel fill() {
  array a[4]: u8;
  for (var i: u32 = 0; i < 4; i = i + 1) {
    a[i] = u8(i * 3);
  }
}`)
	unrollAll(t, g)
	for _, id := range g.Resources() {
		r := g.Resource(id)
		for _, a := range r.Accesses {
			if !g.Contains(g.Top, a) {
				t.Fatalf("resource %q keeps an access outside the design", r.Name)
			}
		}
		// One write per body copy.
		if len(r.Accesses) != 4 {
			t.Fatalf("resource %q has %d accesses, want 4", r.Name, len(r.Accesses))
		}
	}
	res := simulate(t, g, nil)
	var got []int64
	for _, w := range res.Memories["a"] {
		got = append(got, w.Int64())
	}
	if diff := cmp.Diff([]int64{0, 3, 6, 9}, got); diff != "" {
		t.Fatalf("memory mismatch (-want +got):\n%s", diff)
	}
}

func TestUnrollNested(t *testing.T) {
	g := lower(t, `kernel grid() {
  var n: s32 = 0;
  for (var i: s32 = 0; i < 3; i = i + 1) {
    for (var j: s32 = 0; j < 2; j = j + 1) {
      n = n + i * j;
    }
  }
  output n;
}`)
	want := simulate(t, g, nil)
	unrollAll(t, g)
	got := simulate(t, g, nil)
	if diff := cmp.Diff(want.Outputs, got.Outputs); diff != "" {
		t.Fatalf("outputs changed (-loop +unrolled):\n%s", diff)
	}
	if got.Iterations != 0 {
		t.Fatalf("unrolled design still iterates %d times", got.Iterations)
	}
}

func TestUnrollRejects(t *testing.T) {
	src := `kernel k() {
  var i: s32 = 0;
  while (i < 50) {
    i = i + 1;
  }
  output i;
}`
	cases := []struct {
		name string
		n    int
		opts unroll.Options
		want error
	}{
		{"unknown", ir.IterationsUnknown, unroll.DefaultOptions(), unroll.ErrUnknownBound},
		{"iterations", 50, unroll.Options{MaxIterations: 10}, unroll.ErrTooManyIterations},
		{"size", 50, unroll.Options{MaxIterations: 100, MaxComponents: 20}, unroll.ErrTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := lower(t, src)
			loop := g.Loops(g.Top)[0]
			before := len(g.Components())
			if _, err := unroll.Unroll(g, loop, tc.n, tc.opts); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if after := len(g.Components()); after != before {
				t.Fatalf("rejected unroll changed the graph: %d components, then %d", before, after)
			}
		})
	}
}

func TestUnrollPreservesBehaviour(t *testing.T) {
	gofakeit.Seed(7)
	ops := []string{"+", "-", "^", "&", "|"}
	for i := 0; i < 25; i++ {
		start := gofakeit.Number(-20, 20)
		limit := start + gofakeit.Number(0, 12)
		op := ops[gofakeit.Number(0, len(ops)-1)]
		src := fmt.Sprintf(`kernel rnd(seed: s32) {
  var acc: s32 = seed;
  for (var i: s32 = %d; i < %d; i = i + 1) {
    if (i %% 2 == 0) {
      acc = acc %s i;
    } else {
      acc = acc * 3;
    }
  }
  output acc;
}`, start, limit, op)
		g := lower(t, src)
		in := map[string]int64{"seed": int64(gofakeit.Number(-1000, 1000))}
		want := simulate(t, g, in)
		unrollAll(t, g)
		got := simulate(t, g, in)
		if diff := cmp.Diff(want.Outputs, got.Outputs); diff != "" {
			t.Fatalf("kernel\n%s\noutputs changed (-loop +unrolled):\n%s", src, diff)
		}
	}
}
