package vm

import (
	"fmt"

	"github.com/samber/lo"
)

// ValueKind is the tag of the Value sum type: Nil, Int, Float, Bool, Object.
//
// Re-expressed per the design note calling for an enum-style sum type rather
// than the polymorphic RuntimeVal interface a tree-walking interpreter would
// use: Value is a plain struct carrying its own discriminator, the same
// shape as the C tagged union it replaces.
type ValueKind uint8

const (
	KindNil ValueKind = iota
	KindInt
	KindFloat
	KindBool
	KindObject
)

// Value is the runtime representation of every value on the operand stack,
// in locals, in globals, and inside Lists. Exactly one of the payload fields
// is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind
	i    int64
	f    float64
	b    bool
	obj  Object
}

var nilValue = Value{Kind: KindNil}

func NilValue() Value            { return nilValue }
func IntValue(i int64) Value     { return Value{Kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, f: f} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, b: b} }
func ObjectValue(o Object) Value { return Value{Kind: KindObject, obj: o} }

func (v Value) IsNil() bool    { return v.Kind == KindNil }
func (v Value) IsInt() bool    { return v.Kind == KindInt }
func (v Value) IsFloat() bool  { return v.Kind == KindFloat }
func (v Value) IsBool() bool   { return v.Kind == KindBool }
func (v Value) IsObject() bool { return v.Kind == KindObject }
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

func (v Value) AsInt() int64     { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsBool() bool     { return v.b }
func (v Value) AsObject() Object { return v.obj }

// AsString asserts the value is a String object and returns its text.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindObject {
		return "", false
	}
	s, ok := v.obj.(*ObjectString)
	if !ok {
		return "", false
	}
	return string(s.Chars), true
}

// Float widens an Int/Float value to float64, per the arithmetic promotion
// rule in §4.1: used whenever one side of a binary op is already Float.
func (v Value) Float() float64 {
	if v.Kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Equal implements the == opcode's promotion rule: Int/Float compare
// numerically after widening, everything else compares by kind then payload
// (Objects compare by pointer identity, which doubles as content equality
// for interned Strings per invariant 1).
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.i == o.i
		}
		return v.Float() == o.Float()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindObject:
		if vs, ok := v.obj.(*ObjectString); ok {
			if os, ok := o.obj.(*ObjectString); ok {
				return vs == os // interned: pointer identity iff content equal
			}
			return false
		}
		return v.obj == o.obj
	}
	return false
}

// String renders a Value per the Print rules in §4.1: Nil -> "nil", Int ->
// decimal, Float -> fixed 3 decimals, Bool -> "true"/"false", String -> raw
// bytes, Function -> "func[<name>]", List -> "[v1, v2, ...]" (recursive).
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%.3f", v.f)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindObject:
		return v.obj.String()
	}
	return "<invalid value>"
}

func (o *ObjectString) String() string { return string(o.Chars) }

func (o *ObjectFunction) String() string { return "func[" + o.Name.String() + "]" }

func (o *ObjectList) String() string {
	parts := lo.Map(o.Elems.Values, func(el Value, _ int) string { return el.String() })
	s := "["
	for i, p := range parts {
		if i > 0 {
			s += ", "
		}
		s += p
	}
	return s + "]"
}
