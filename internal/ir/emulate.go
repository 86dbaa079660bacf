package ir

import "fmt"

// Emulate evaluates an emulatable component as a pure function. inputs are
// indexed like the component's data ports and must already be sized to the
// port values; the result is indexed like the data buses of its main exit.
// Emulate never reads or writes graph state besides the component's shape.
func (g *Graph) Emulate(id ComponentID, inputs []Word) ([]Word, error) {
	c := g.Component(id)
	if c == nil {
		return nil, fmt.Errorf("emulate: component %d does not exist", id)
	}
	if !c.Kind.Emulatable() {
		return nil, fmt.Errorf("emulate %s %q: %w", c.Kind, c.Name, ErrNotEmulatable)
	}
	if len(inputs) != len(c.Ports) {
		return nil, fmt.Errorf("emulate %s %q: expected %d inputs, got %d", c.Kind, c.Name, len(c.Ports), len(inputs))
	}
	out := g.Bus(g.DataBus(id, 0))
	if out == nil {
		return nil, fmt.Errorf("emulate %s %q: missing result bus", c.Kind, c.Name)
	}
	w, err := emulateKind(c, out.Value, inputs)
	if err != nil {
		return nil, fmt.Errorf("emulate %s %q: %w", c.Kind, c.Name, err)
	}
	return []Word{w}, nil
}

func emulateKind(c *Component, result Value, in []Word) (Word, error) {
	switch c.Kind {
	case Constant:
		return c.Const.Resize(result), nil
	case NoOp, Cast:
		return in[0].Resize(result), nil
	case Not:
		return NewUnsignedWord(^in[0].Resize(result).Bits, result), nil
	case Neg:
		return NewWord(-in[0].Resize(result).Int64(), result), nil
	case Add, Sub, Mul, And, Or, Xor:
		a, b := in[0].Resize(result), in[1].Resize(result)
		return NewUnsignedWord(arith(c.Kind, a.Bits, b.Bits), result), nil
	case Div, Rem:
		return divide(c.Kind, in[0].Resize(result), in[1].Resize(result), result)
	case Shl:
		amount := in[1].Uint64()
		if amount >= MaxWidth {
			return NewUnsignedWord(0, result), nil
		}
		return NewUnsignedWord(in[0].Resize(result).Bits<<amount, result), nil
	case Shr:
		a := in[0].Resize(result)
		amount := in[1].Uint64()
		if result.Signed {
			if amount >= MaxWidth {
				amount = MaxWidth - 1
			}
			return NewWord(a.Int64()>>amount, result), nil
		}
		if amount >= MaxWidth {
			return NewUnsignedWord(0, result), nil
		}
		return NewUnsignedWord(a.Uint64()>>amount, result), nil
	case Lt, Le, Gt, Ge, Eq, Ne:
		return BoolWord(compare(c.Kind, in[0], in[1])).Resize(result), nil
	case Mux:
		if in[0].IsZero() {
			return in[2].Resize(result), nil
		}
		return in[1].Resize(result), nil
	default:
		return Word{}, ErrNotEmulatable
	}
}

func arith(k Kind, a, b uint64) uint64 {
	switch k {
	case Add:
		return a + b
	case Sub:
		return a - b
	case Mul:
		return a * b
	case And:
		return a & b
	case Or:
		return a | b
	case Xor:
		return a ^ b
	}
	return 0
}

func divide(k Kind, a, b Word, result Value) (Word, error) {
	if b.IsZero() {
		return Word{}, ErrDivideByZero
	}
	if result.Signed {
		x, y := a.Int64(), b.Int64()
		if k == Div {
			return NewWord(x/y, result), nil
		}
		return NewWord(x%y, result), nil
	}
	x, y := a.Uint64(), b.Uint64()
	if k == Div {
		return NewUnsignedWord(x/y, result), nil
	}
	return NewUnsignedWord(x%y, result), nil
}

func compare(k Kind, a, b Word) bool {
	var lt, eq bool
	if a.Type.Signed || b.Type.Signed {
		x, y := a.Int64(), b.Int64()
		lt, eq = x < y, x == y
	} else {
		x, y := a.Uint64(), b.Uint64()
		lt, eq = x < y, x == y
	}
	switch k {
	case Lt:
		return lt
	case Le:
		return lt || eq
	case Gt:
		return !lt && !eq
	case Ge:
		return !lt
	case Eq:
		return eq
	case Ne:
		return !eq
	}
	return false
}
