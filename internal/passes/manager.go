// Package passes holds the transformations applied to a design between
// lowering and emission, and the manager that runs them in order.
package passes

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/orcc/xronos-sub010/internal/diag"
	"github.com/orcc/xronos-sub010/internal/ir"
	"github.com/orcc/xronos-sub010/internal/unroll"
)

var log = commonlog.GetLogger("xronos.passes")

// Pass is a single transformation or analysis over a design.
type Pass interface {
	Name() string
	Run(g *ir.Graph) error
}

// Manager runs passes in the order they were added.
type Manager struct {
	passes []Pass
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add appends a pass.
func (m *Manager) Add(p Pass) {
	m.passes = append(m.passes, p)
}

// Passes returns the registered passes.
func (m *Manager) Passes() []Pass {
	return m.passes
}

// Run executes every pass, stopping at the first failure.
func (m *Manager) Run(g *ir.Graph) error {
	if g == nil {
		return fmt.Errorf("pass manager requires a non-nil design")
	}
	for _, p := range m.passes {
		log.Debugf("running %s on %s", p.Name(), g.Name)
		if err := p.Run(g); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// Config selects the optional passes of the standard pipeline.
type Config struct {
	Unroll          bool
	UnrollOptions   unroll.Options
	ShrinkRegisters bool
	Verify          bool
}

// DefaultConfig enables every pass.
func DefaultConfig() Config {
	return Config{
		Unroll:          true,
		UnrollOptions:   unroll.DefaultOptions(),
		ShrinkRegisters: true,
		Verify:          true,
	}
}

// Pipeline builds the standard pass sequence for cfg.
func Pipeline(cfg Config, reporter *diag.Reporter) *Manager {
	m := NewManager()
	m.Add(NewWidthInference(reporter))
	m.Add(NewLoopBounds())
	if cfg.Unroll {
		m.Add(NewLoopUnroll(cfg.UnrollOptions, reporter))
	}
	if cfg.ShrinkRegisters {
		m.Add(NewRegisterWidth())
	}
	if cfg.Verify {
		m.Add(Verify{})
	}
	return m
}

// Verify checks the design's structural invariants.
type Verify struct{}

// Name implements the Pass interface.
func (Verify) Name() string {
	return "verify"
}

// Run implements the Pass interface.
func (Verify) Run(g *ir.Graph) error {
	return g.Verify()
}
