package ir

import "fmt"

// LoopParts are the detached blocks a loop is assembled from.
//
// The loop variables are the body's data ports: the first len(body exit buses)
// of them are carried from one iteration to the next, the rest are invariant
// for the duration of the loop. Init produces one bus per loop variable, Test
// takes the loop variables and produces a one-bit condition on its first bus,
// Body and Update take the loop variables and produce the carried ones.
type LoopParts struct {
	Name          string
	DecisionFirst bool
	Init          ComponentID
	Test          ComponentID
	Body          ComponentID
	Update        ComponentID
}

// AssembleLoop builds a Loop from its parts and returns it. The loop's ports
// mirror the init block's ports and its single exit carries the final value of
// every carried variable.
func (g *Graph) AssembleLoop(p LoopParts) ComponentID {
	const op = "AssembleLoop"
	init, test, body := g.Component(p.Init), g.Component(p.Test), g.Component(p.Body)
	Assertf(init != nil && test != nil && body != nil, op, "loop %q is missing a part", p.Name)
	vars := len(body.Ports)
	carried := len(g.Exit(g.MainExit(p.Body)).Buses)
	Assertf(carried <= vars, op, "body of %q produces %d values for %d variables", p.Name, carried, vars)
	Assertf(len(g.Exit(g.MainExit(p.Init)).Buses) == vars, op, "init of %q does not produce every variable", p.Name)
	Assertf(len(test.Ports) == vars, op, "test of %q does not read every variable", p.Name)
	cond := g.Bus(g.DataBus(p.Test, 0))
	Assertf(cond != nil && cond.Value.Width == 1, op, "test of %q has no one-bit condition", p.Name)
	if p.Update != NoComponent {
		up := g.Component(p.Update)
		Assertf(up != nil && len(up.Ports) == vars, op, "update of %q does not read every variable", p.Name)
		Assertf(len(g.Exit(g.MainExit(p.Update)).Buses) == carried, op, "update of %q does not produce the carried variables", p.Name)
	}

	dec := g.assembleDecision(p.Name, p.Test)
	lb := g.assembleBody(p, dec, carried)

	loop := g.NewModule(Loop, p.Name)
	l := g.Component(loop)
	for _, id := range init.Ports {
		port := g.Port(id)
		g.AddModulePort(loop, port.Name, port.Value)
	}
	g.Append(loop, p.Init)
	inBuses := g.Exit(g.MainExit(l.Module.InBuf)).Buses
	for i, id := range init.Ports {
		g.Connect(init.Entries[0], id, inBuses[i])
	}
	g.AddChild(loop, lb)
	l.Loop.Init = p.Init
	l.Loop.Body = lb

	initExit := g.Exit(g.MainExit(p.Init))
	b := g.Component(lb)
	feedback := g.Exit(g.ExitByTag(lb, FeedbackExit))
	complete := g.Exit(g.ExitByTag(lb, CompleteExit))

	initEntry := b.Entries[0]
	g.Entry(initEntry).Driver = initExit.ID
	g.Connect(initEntry, b.Go, initExit.Done)
	for i, id := range b.Ports {
		g.Connect(initEntry, id, initExit.Buses[i])
	}

	fbEntry := g.AddEntry(lb, feedback.ID)
	for i := 0; i < carried; i++ {
		port := g.Port(b.Ports[i])
		reg := g.NewReg(fmt.Sprintf("%s_%s_reg", p.Name, port.Name), port.Value, NewWord(0, port.Value))
		g.AddDataRegister(loop, reg)
		r := g.Component(reg)
		g.Connect(r.Entries[0], r.Go, feedback.Done)
		g.Connect(r.Entries[0], r.Ports[0], feedback.Buses[i])
		g.Connect(fbEntry, port.ID, g.DataBus(reg, 0))
	}
	for i := carried; i < vars; i++ {
		port := g.Port(b.Ports[i])
		latch := g.NewLatch(fmt.Sprintf("%s_%s_latch", p.Name, port.Name), port.Value)
		g.AddDataLatch(loop, latch)
		lc := g.Component(latch)
		g.Connect(lc.Entries[0], lc.Go, initExit.Done)
		g.Connect(lc.Entries[0], lc.Ports[0], initExit.Buses[i])
		g.Connect(fbEntry, port.ID, g.DataBus(latch, 0))
	}
	ctl := g.NewReg(p.Name+"_go_reg", Bool, BoolWord(false))
	g.SetControlRegister(loop, ctl)
	cr := g.Component(ctl)
	g.Connect(cr.Entries[0], cr.Go, feedback.Done)
	g.Connect(cr.Entries[0], cr.Ports[0], feedback.Done)
	g.Connect(fbEntry, b.Go, g.DataBus(ctl, 0))

	done := g.AddModuleExit(loop, DoneExit)
	ob := g.Component(g.OutBufFor(loop, done))
	for i := 0; i < carried; i++ {
		src := g.Bus(complete.Buses[i])
		g.AddModuleBus(loop, done, src.Name, src.Value)
		g.Connect(ob.Entries[0], ob.Ports[i], src.ID)
	}
	g.Sequence(ob.ID, complete.Done)
	return loop
}

// assembleDecision wraps a test block. The true and false exits both carry the
// test's data buses; their done signals are the test's done gated by the
// condition and its complement.
func (g *Graph) assembleDecision(name string, test ComponentID) ComponentID {
	dec := g.NewModule(Decision, name+"_decision")
	d := g.Component(dec)
	t := g.Component(test)
	for _, id := range t.Ports {
		port := g.Port(id)
		g.AddModulePort(dec, port.Name, port.Value)
	}
	g.Append(dec, test)
	inBuses := g.Exit(g.MainExit(d.Module.InBuf)).Buses
	for i, id := range t.Ports {
		g.Connect(t.Entries[0], id, inBuses[i])
	}
	testExit := g.Exit(g.MainExit(test))
	condBus := testExit.Buses[0]
	d.Decision.Test = test
	d.Decision.TestComponent = g.ComponentOf(g.driverOfExitBus(condBus)).ID

	not := g.NewOp(Not, name+"_not", Bool, Bool)
	g.Append(dec, not)
	g.Connect(g.Component(not).Entries[0], g.Component(not).Ports[0], condBus)

	gate := func(tag ExitTag, sel BusID) {
		and := g.NewOp(And, fmt.Sprintf("%s_%s", name, tag), Bool, Bool, Bool)
		g.Append(dec, and)
		a := g.Component(and)
		g.Connect(a.Entries[0], a.Ports[0], testExit.Done)
		g.Connect(a.Entries[0], a.Ports[1], sel)
		exit := g.AddModuleExit(dec, tag)
		ob := g.Component(g.OutBufFor(dec, exit))
		for i, id := range testExit.Buses {
			src := g.Bus(id)
			g.AddModuleBus(dec, exit, src.Name, src.Value)
			g.Connect(ob.Entries[0], ob.Ports[i], id)
		}
		g.Sequence(ob.ID, g.DataBus(and, 0))
	}
	gate(TrueExit, condBus)
	gate(FalseExit, g.DataBus(not, 0))
	return dec
}

// driverOfExitBus returns the bus feeding the OutBuf port behind a module exit
// bus.
func (g *Graph) driverOfExitBus(exitBus BusID) BusID {
	port := g.Port(g.OutBufPort(exitBus))
	Assertf(port != nil, "driverOfExitBus", "bus %d is not a module exit bus", exitBus)
	bus, ok := g.Driver(g.Component(port.Owner).Entries[0], port.ID)
	Assertf(ok, "driverOfExitBus", "outbuf port %q is not driven", port.Name)
	return bus
}

func (g *Graph) assembleBody(p LoopParts, dec ComponentID, carried int) ComponentID {
	lb := g.NewModule(LoopBody, p.Name+"_iterate")
	b := g.Component(lb)
	b.Body.DecisionFirst = p.DecisionFirst
	b.Body.Decision = dec
	b.Body.Body = p.Body
	b.Body.Update = p.Update
	body := g.Component(p.Body)
	for _, id := range body.Ports {
		port := g.Port(id)
		g.AddModulePort(lb, port.Name, port.Value)
	}
	inExit := g.Exit(g.MainExit(b.Module.InBuf))
	feedback := g.AddModuleExit(lb, FeedbackExit)
	complete := g.AddModuleExit(lb, CompleteExit)
	for _, id := range g.Exit(g.MainExit(p.Body)).Buses {
		src := g.Bus(id)
		g.AddModuleBus(lb, feedback, src.Name, src.Value)
		g.AddModuleBus(lb, complete, src.Name, src.Value)
	}

	// connectVars drives c's variable ports with the carried values from
	// carriedFrom and the invariants from the body's InBuf.
	connectVars := func(c ComponentID, carriedFrom []BusID) {
		comp := g.Component(c)
		for i, id := range comp.Ports {
			src := inExit.Buses[i]
			if i < carried {
				src = carriedFrom[i]
			}
			g.Connect(comp.Entries[0], id, src)
		}
	}
	runBody := func() ComponentID {
		g.AddChild(lb, p.Body)
		connectVars(p.Body, inExit.Buses)
		last := p.Body
		if p.Update != NoComponent {
			g.AddChild(lb, p.Update)
			g.Sequence(p.Update, g.DoneBus(p.Body))
			connectVars(p.Update, g.Exit(g.MainExit(p.Body)).Buses)
			last = p.Update
		}
		return last
	}
	fbOut := g.Component(g.OutBufFor(lb, feedback))
	cmpOut := g.Component(g.OutBufFor(lb, complete))
	trueDone := g.Exit(g.ExitByTag(dec, TrueExit)).Done
	falseDone := g.Exit(g.ExitByTag(dec, FalseExit)).Done

	if p.DecisionFirst {
		g.AddChild(lb, dec)
		g.Sequence(dec, inExit.Done)
		connectVars(dec, inExit.Buses)
		last := runBody()
		g.Sequence(p.Body, trueDone)
		lastExit := g.Exit(g.MainExit(last))
		for i := 0; i < carried; i++ {
			g.Connect(fbOut.Entries[0], fbOut.Ports[i], lastExit.Buses[i])
			g.Connect(cmpOut.Entries[0], cmpOut.Ports[i], inExit.Buses[i])
		}
		g.Sequence(fbOut.ID, lastExit.Done)
		g.Sequence(cmpOut.ID, falseDone)
		return lb
	}

	last := runBody()
	g.Sequence(p.Body, inExit.Done)
	lastExit := g.Exit(g.MainExit(last))
	g.AddChild(lb, dec)
	g.Sequence(dec, lastExit.Done)
	connectVars(dec, lastExit.Buses)
	for i := 0; i < carried; i++ {
		g.Connect(fbOut.Entries[0], fbOut.Ports[i], lastExit.Buses[i])
		g.Connect(cmpOut.Entries[0], cmpOut.Ports[i], lastExit.Buses[i])
	}
	g.Sequence(fbOut.ID, trueDone)
	g.Sequence(cmpOut.ID, falseDone)
	return lb
}
