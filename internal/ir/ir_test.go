package ir

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// adder builds a design computing a + b + 1 inside a nested block.
func adder(t *testing.T) (*Graph, ComponentID) {
	t.Helper()
	g := NewGraph("adder")
	top := g.NewBlock("top")
	g.SetTop(top)
	_, a := g.Import(top, "a", Signed(8))
	_, b := g.Import(top, "b", Signed(8))

	inner := g.NewBlock("inner")
	pa, _ := g.Import(inner, "x", Signed(8))
	pb, _ := g.Import(inner, "y", Signed(8))
	ic := g.Component(inner)
	x, y := g.InBufBus(ic.Ports[0]), g.InBufBus(ic.Ports[1])
	sum := g.NewOp(Add, "sum", Signed(8), Signed(8), Signed(8))
	g.Append(inner, sum)
	g.Connect(g.Component(sum).Entries[0], g.Component(sum).Ports[0], x)
	g.Connect(g.Component(sum).Entries[0], g.Component(sum).Ports[1], y)
	one := g.NewConstant("one", NewWord(1, Signed(8)))
	g.Append(inner, one)
	inc := g.NewOp(Add, "inc", Signed(8), Signed(8), Signed(8))
	g.Append(inner, inc)
	g.Connect(g.Component(inc).Entries[0], g.Component(inc).Ports[0], g.DataBus(sum, 0))
	g.Connect(g.Component(inc).Entries[0], g.Component(inc).Ports[1], g.DataBus(one, 0))
	g.Export(inner, "r", g.DataBus(inc, 0))
	g.Seal(inner)

	g.Append(top, inner)
	g.Connect(ic.Entries[0], pa, a)
	g.Connect(ic.Entries[0], pb, b)
	g.Export(top, "r", g.DataBus(inner, 0))
	g.Seal(top)
	return g, inner
}

func TestWordArithmetic(t *testing.T) {
	cases := []struct {
		name string
		got  Word
		want int64
	}{
		{"truncate", NewWord(300, Unsigned(8)), 44},
		{"sign", NewWord(-1, Signed(4)), -1},
		{"widen signed", NewWord(-3, Signed(4)).Resize(Signed(16)), -3},
		{"widen unsigned", NewWord(-3, Signed(4)).Resize(Unsigned(16)), 65533},
		{"zero extend", NewWord(15, Unsigned(4)).Resize(Signed(8)), 15},
	}
	for _, tc := range cases {
		if tc.got.Int64() != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.name, tc.got.Int64(), tc.want)
		}
	}
}

func TestMinWidthFor(t *testing.T) {
	cases := []struct {
		lo, hi int64
		want   Value
	}{
		{0, 0, Unsigned(1)},
		{0, 5, Unsigned(3)},
		{0, 255, Unsigned(8)},
		{-1, 0, Signed(1)},
		{-4, 3, Signed(3)},
		{-4, 10, Signed(5)},
		{-129, 0, Signed(9)},
	}
	for _, tc := range cases {
		if got := MinWidthFor(tc.lo, tc.hi); got != tc.want {
			t.Fatalf("MinWidthFor(%d, %d) = %s, want %s", tc.lo, tc.hi, got, tc.want)
		}
	}
}

func TestEmulate(t *testing.T) {
	g := NewGraph("ops")
	s8 := Signed(8)
	cases := []struct {
		kind   Kind
		result Value
		in     []Word
		want   int64
	}{
		{Add, s8, []Word{NewWord(100, s8), NewWord(100, s8)}, -56},
		{Sub, s8, []Word{NewWord(3, s8), NewWord(5, s8)}, -2},
		{Mul, Unsigned(8), []Word{NewWord(16, Unsigned(8)), NewWord(17, Unsigned(8))}, 16},
		{Div, s8, []Word{NewWord(-7, s8), NewWord(2, s8)}, -3},
		{Rem, s8, []Word{NewWord(-7, s8), NewWord(2, s8)}, -1},
		{Shr, s8, []Word{NewWord(-8, s8), NewWord(1, Unsigned(3))}, -4},
		{Shr, Unsigned(8), []Word{NewWord(0x80, Unsigned(8)), NewWord(7, Unsigned(3))}, 1},
		{Shl, Unsigned(8), []Word{NewWord(3, Unsigned(8)), NewWord(7, Unsigned(3))}, 128},
		{Lt, Bool, []Word{NewWord(-1, s8), NewWord(1, s8)}, 1},
		{Lt, Bool, []Word{NewWord(255, Unsigned(8)), NewWord(1, Unsigned(8))}, 0},
		{Mux, s8, []Word{BoolWord(false), NewWord(1, s8), NewWord(2, s8)}, 2},
		{Not, Bool, []Word{BoolWord(true)}, 0},
		{Neg, s8, []Word{NewWord(5, s8)}, -5},
	}
	for _, tc := range cases {
		operands := make([]Value, len(tc.in))
		for i, w := range tc.in {
			operands[i] = w.Type
		}
		id := g.NewOp(tc.kind, tc.kind.String(), tc.result, operands...)
		out, err := g.Emulate(id, tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		if got := out[0].Int64(); got != tc.want {
			t.Fatalf("%s%v = %d, want %d", tc.kind, tc.in, got, tc.want)
		}
	}

	div := g.NewOp(Div, "div", s8, s8, s8)
	if _, err := g.Emulate(div, []Word{NewWord(1, s8), NewWord(0, s8)}); !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("got %v, want ErrDivideByZero", err)
	}
	reg := g.NewReg("r", s8, NewWord(0, s8))
	if _, err := g.Emulate(reg, []Word{NewWord(0, s8)}); !errors.Is(err, ErrNotEmulatable) {
		t.Fatalf("got %v, want ErrNotEmulatable", err)
	}
}

func TestBuilderSequencesChildren(t *testing.T) {
	g, inner := adder(t)
	if err := g.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	ic := g.Component(inner)
	prev := g.DoneBus(ic.Module.InBuf)
	for _, child := range ic.Module.Children {
		c := g.Component(child)
		drv, ok := g.Driver(c.Entries[0], c.Go)
		if !ok || drv != prev {
			t.Fatalf("%q is not sequenced after its predecessor", c.Name)
		}
		prev = g.DoneBus(child)
	}
	out := g.Component(g.OutBufFor(inner, g.MainExit(inner)))
	if drv, _ := g.Driver(out.Entries[0], out.Go); drv != prev {
		t.Fatalf("outbuf go is not driven by the last child")
	}
	if got := g.PortFor(g.InBufBus(ic.Ports[1])); got != ic.Ports[1] {
		t.Fatalf("PortFor does not invert InBufBus")
	}
	if got := g.OutBufPort(g.DataBus(inner, 0)); got != out.Ports[0] {
		t.Fatalf("OutBufPort does not find the outbuf port")
	}
}

func TestVerifyReportsUndrivenPorts(t *testing.T) {
	g, inner := adder(t)
	extra := g.NewOp(Neg, "neg", Signed(8), Signed(8))
	g.Append(inner, extra)
	err := g.Verify()
	if err == nil {
		t.Fatalf("verify accepted an undriven port")
	}
	if !strings.Contains(err.Error(), `port "in0" of neg "neg" has 0 dependencies`) {
		t.Fatalf("unexpected error: %v", err)
	}

	g2, _ := adder(t)
	g2.NewConstant("stray", NewWord(0, Bool))
	if err := g2.Verify(); err == nil || !strings.Contains(err.Error(), "not part of the design") {
		t.Fatalf("got %v, want a stray component error", err)
	}
}

func TestCloneIsDetachedAndRemapped(t *testing.T) {
	g, inner := adder(t)
	before := len(g.Components())
	m := g.Clone(inner)
	clone := g.Component(m.Root)
	if clone.Owner != NoComponent {
		t.Fatalf("clone root has an owner")
	}
	if got := len(g.Components()) - before; got != len(g.Subtree(inner)) {
		t.Fatalf("clone created %d components, want %d", got, len(g.Subtree(inner)))
	}
	// The root's own dependencies are not copied.
	if deps := g.Entry(clone.Entries[0]).Deps; len(deps) != 0 {
		t.Fatalf("clone root has %d dependencies", len(deps))
	}
	// Inner dependencies read the copy.
	for _, id := range g.Subtree(m.Root) {
		for _, e := range g.Component(id).Entries {
			for _, d := range g.Entry(e).Deps {
				bus := g.Dependency(d).Bus
				if owner := g.Bus(bus).Owner; owner != NoComponent && g.Component(owner).Kind != Pin && !g.Contains(m.Root, owner) {
					t.Fatalf("%q reads %q outside the clone", g.Component(id).Name, g.Component(owner).Name)
				}
			}
		}
	}
	var names []string
	for _, c := range clone.Module.Children {
		names = append(names, g.Component(c).Name)
	}
	if diff := cmp.Diff([]string{"sum_1", "one_1", "inc_1"}, names); diff != "" {
		t.Fatalf("clone children (-want +got):\n%s", diff)
	}
}

func TestReplaceChildAndRedirect(t *testing.T) {
	g, inner := adder(t)
	top := g.Component(g.Top)
	m := g.Clone(inner)
	for k, b := range g.AllBuses(inner) {
		g.RedirectReaders(b, g.AllBuses(m.Root)[k])
	}
	g.MoveDependencies(inner, m.Root)
	g.ReplaceChild(inner, m.Root)
	g.Free(inner)

	if top.Module.Children[0] != m.Root {
		t.Fatalf("replacement is not in the original's place")
	}
	if g.Component(inner) != nil {
		t.Fatalf("freed component still resolves")
	}
	if err := g.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := g.CheckAcyclic(g.Top); err != nil {
		t.Fatalf("acyclic: %v", err)
	}
}

func TestResourcesTrackAccesses(t *testing.T) {
	g := NewGraph("mem")
	top := g.NewBlock("top")
	g.SetTop(top)
	res := g.NewResource(ArrayResource, "m", Unsigned(8), 4)
	idx := g.NewConstant("i", NewWord(1, Unsigned(2)))
	g.Append(top, idx)
	rd := g.NewAccess(ArrayRead, "rd", res, Unsigned(2))
	g.Append(top, rd)
	g.Connect(g.Component(rd).Entries[0], g.Component(rd).Ports[0], g.DataBus(idx, 0))
	g.Seal(top)

	m := g.Clone(top)
	if got := len(g.Resource(res).Accesses); got != 2 {
		t.Fatalf("resource has %d accesses after clone, want 2", got)
	}
	if n := g.DetachResources(m.Root); n != 1 {
		t.Fatalf("detached %d accesses, want 1", n)
	}
	if got := g.Resource(res).Accesses; len(got) != 1 || got[0] != rd {
		t.Fatalf("resource accesses %v, want only %d", got, rd)
	}
	g.Free(m.Root)
	if err := g.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestCheckAcyclicFindsCycle(t *testing.T) {
	g := NewGraph("cyc")
	top := g.NewBlock("top")
	g.SetTop(top)
	a := g.NewOp(Not, "a", Bool, Bool)
	b := g.NewOp(Not, "b", Bool, Bool)
	g.Append(top, a)
	g.Append(top, b)
	g.Connect(g.Component(a).Entries[0], g.Component(a).Ports[0], g.DataBus(b, 0))
	g.Connect(g.Component(b).Entries[0], g.Component(b).Ports[0], g.DataBus(a, 0))
	g.Seal(top)
	err := g.CheckAcyclic(g.Top)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("got %v, want a cycle", err)
	}
}

func TestDump(t *testing.T) {
	g, _ := adder(t)
	var buf bytes.Buffer
	Dump(g, &buf)
	out := buf.String()
	for _, want := range []string{
		"design adder",
		"block top",
		"    add inc",
		"<- go=one.done in0=sum.result in1=one.value",
		"const one = 1:s8",
		"-> done(r:s8)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump lacks %q:\n%s", want, out)
		}
	}
}
