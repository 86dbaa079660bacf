package ir

import (
	"fmt"
	"math/bits"
)

// MaxWidth is the widest value the model supports.
const MaxWidth = 64

// Value records the width and signedness carried by a bus or expected by a port.
type Value struct {
	Width  int
	Signed bool
}

// Bool is the one-bit unsigned value produced by comparisons.
var Bool = Value{Width: 1}

// Unsigned returns an unsigned value type of the given width.
func Unsigned(width int) Value {
	return Value{Width: width}
}

// Signed returns a signed value type of the given width.
func Signed(width int) Value {
	return Value{Width: width, Signed: true}
}

// IsUnknown reports whether the width has not been set.
func (v Value) IsUnknown() bool {
	return v.Width <= 0
}

// Mask returns the bit mask selecting the value's width.
func (v Value) Mask() uint64 {
	if v.Width <= 0 {
		return 0
	}
	if v.Width >= MaxWidth {
		return ^uint64(0)
	}
	return uint64(1)<<uint(v.Width) - 1
}

func (v Value) String() string {
	if v.Signed {
		return fmt.Sprintf("s%d", v.Width)
	}
	return fmt.Sprintf("u%d", v.Width)
}

// MinWidthFor returns the smallest value type able to hold every integer in
// [lo, hi].
func MinWidthFor(lo, hi int64) Value {
	if lo >= 0 {
		w := bits.Len64(uint64(hi))
		if w == 0 {
			w = 1
		}
		return Unsigned(w)
	}
	need := func(x int64) int {
		if x < 0 {
			return bits.Len64(uint64(^x)) + 1
		}
		return bits.Len64(uint64(x)) + 1
	}
	w := need(lo)
	if hw := need(hi); hw > w {
		w = hw
	}
	if w > MaxWidth {
		w = MaxWidth
	}
	return Signed(w)
}

// Word is a concrete fixed-width integer. Bits holds the value truncated to
// Type.Width; bits above the width are always zero.
type Word struct {
	Bits uint64
	Type Value
}

// NewWord truncates x into the value type t.
func NewWord(x int64, t Value) Word {
	return Word{Bits: uint64(x) & t.Mask(), Type: t}
}

// NewUnsignedWord truncates x into the value type t.
func NewUnsignedWord(x uint64, t Value) Word {
	return Word{Bits: x & t.Mask(), Type: t}
}

// BoolWord returns the one-bit encoding of b.
func BoolWord(b bool) Word {
	if b {
		return Word{Bits: 1, Type: Bool}
	}
	return Word{Type: Bool}
}

// Uint64 returns the zero-extended value.
func (w Word) Uint64() uint64 {
	return w.Bits & w.Type.Mask()
}

// Int64 returns the value extended according to its signedness.
func (w Word) Int64() int64 {
	x := w.Uint64()
	if !w.Type.Signed || w.Type.Width <= 0 || w.Type.Width >= MaxWidth {
		return int64(x)
	}
	shift := uint(MaxWidth - w.Type.Width)
	return int64(x<<shift) >> shift
}

// IsZero reports whether every bit is clear.
func (w Word) IsZero() bool {
	return w.Uint64() == 0
}

// Resize converts w into t, extending according to w's own signedness and then
// truncating.
func (w Word) Resize(t Value) Word {
	if w.Type.Signed {
		return NewWord(w.Int64(), t)
	}
	return NewUnsignedWord(w.Uint64(), t)
}

func (w Word) String() string {
	if w.Type.Signed {
		return fmt.Sprintf("%d:%s", w.Int64(), w.Type)
	}
	return fmt.Sprintf("%d:%s", w.Uint64(), w.Type)
}
