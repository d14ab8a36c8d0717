package vm

import (
	"bufio"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
)

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// registerNatives wires every mandatory builtin (§5) into globals as a
// NativeFunction. Called once from New, before any bytecode image is
// loaded, so CALL_NATIVE's global lookup always resolves.
func (vm *VM) registerNatives() {
	vm.writer = bufio.NewWriter(vm.stdout)

	register := func(name string, arity int, fn NativeFn) {
		n := vm.newString([]byte(name))
		vm.globals.Set(n, ObjectValue(vm.newNativeFunction(n, arity, fn)))
	}

	register("print", 1, nativePrint)
	register("println", 1, nativePrintln)
	register("flush", 0, nativeFlush)
	register("List", 0, nativeList)
	register("append", 2, nativeAppend)
	register("len", 1, nativeLen)
	register("get", 2, nativeGet)
	register("set", 3, nativeSet)
	register("substring", 3, nativeSubstring)
	register("sort", 2, nativeSort)
	register("timeNs", 0, nativeTimeNs)
	register("timeMs", 0, nativeTimeMs)
	register("abs", 1, nativeAbs)
	register("randInt", 2, nativeRandInt)
	register("sleep", 1, nativeSleep)
}

func nativePrint(vm *VM, args []Value) (Value, error) {
	fmt.Fprint(vm.writer, args[0].String())
	return NilValue(), nil
}

func nativePrintln(vm *VM, args []Value) (Value, error) {
	fmt.Fprintln(vm.writer, args[0].String())
	return NilValue(), nil
}

func nativeFlush(vm *VM, args []Value) (Value, error) {
	if err := vm.writer.Flush(); err != nil {
		return Value{}, newNativeError("flush: " + err.Error())
	}
	return NilValue(), nil
}

func nativeList(vm *VM, args []Value) (Value, error) {
	return ObjectValue(vm.newList()), nil
}

func asList(v Value) (*ObjectList, bool) {
	l, ok := v.AsObject().(*ObjectList)
	return l, ok
}

func nativeAppend(vm *VM, args []Value) (Value, error) {
	l, ok := asList(args[0])
	if !ok {
		return Value{}, newNativeError("append: first argument must be a List")
	}
	l.Elems.Write(args[1])
	return ObjectValue(l), nil
}

func nativeLen(vm *VM, args []Value) (Value, error) {
	if l, ok := asList(args[0]); ok {
		return IntValue(int64(l.Elems.Count())), nil
	}
	if s, ok := args[0].AsString(); ok {
		return IntValue(int64(len(s))), nil
	}
	return Value{}, newNativeError("len: argument must be a List or String")
}

// resolveIndex applies Python-style negative indexing: -1 is the last
// element, and the result is validated against [0, length).
func resolveIndex(idx int64, length int) (int, bool) {
	if idx < 0 {
		idx += int64(length)
	}
	if idx < 0 || idx >= int64(length) {
		return 0, false
	}
	return int(idx), true
}

// nativeGet works on both Lists and Strings (§4.7): a String index returns
// the one-character substring at the resolved position, matching
// native_get's string branch in the reference implementation.
func nativeGet(vm *VM, args []Value) (Value, error) {
	if !args[1].IsInt() {
		return Value{}, newNativeError("get: index must be an Int")
	}
	if l, ok := asList(args[0]); ok {
		i, ok := resolveIndex(args[1].AsInt(), l.Elems.Count())
		if !ok {
			return Value{}, newNativeError("get: index out of bounds")
		}
		return l.Elems.Get(i), nil
	}
	if s, ok := args[0].AsString(); ok {
		i, ok := resolveIndex(args[1].AsInt(), len(s))
		if !ok {
			return Value{}, newNativeError("get: index out of bounds")
		}
		return ObjectValue(vm.newString([]byte{s[i]})), nil
	}
	return Value{}, newNativeError("get: first argument must be a List or String")
}

func nativeSet(vm *VM, args []Value) (Value, error) {
	l, ok := asList(args[0])
	if !ok {
		return Value{}, newNativeError("set: first argument must be a List")
	}
	if !args[1].IsInt() {
		return Value{}, newNativeError("set: index must be an Int")
	}
	i, ok := resolveIndex(args[1].AsInt(), l.Elems.Count())
	if !ok {
		return Value{}, newNativeError("set: index out of bounds")
	}
	l.Elems.Set(i, args[2])
	return NilValue(), nil
}

func nativeSubstring(vm *VM, args []Value) (Value, error) {
	s, ok := args[0].AsString()
	if !ok {
		return Value{}, newNativeError("substring: first argument must be a String")
	}
	if !args[1].IsInt() || !args[2].IsInt() {
		return Value{}, newNativeError("substring: start and end must be Ints")
	}
	n := len(s)
	start, ok := resolveBound(args[1].AsInt(), n)
	if !ok {
		return Value{}, newNativeError("substring: start out of range")
	}
	end, ok := resolveBound(args[2].AsInt(), n)
	if !ok {
		return Value{}, newNativeError("substring: end out of range")
	}
	if start > end {
		return Value{}, newNativeError("substring: start past end")
	}
	return ObjectValue(vm.newString([]byte(s[start:end]))), nil
}

// resolveBound is resolveIndex's cousin for slice endpoints, where n itself
// (one past the last element) is a valid value.
func resolveBound(idx int64, length int) (int, bool) {
	if idx < 0 {
		idx += int64(length)
	}
	if idx < 0 || idx > int64(length) {
		return 0, false
	}
	return int(idx), true
}

// nativeSort sorts a List in place. The second argument selects direction:
// false ascending, true descending — the descending pass is an ascending
// sort.SliceStable followed by lo.Reverse rather than a separate comparator.
func nativeSort(vm *VM, args []Value) (Value, error) {
	l, ok := asList(args[0])
	if !ok {
		return Value{}, newNativeError("sort: first argument must be a List")
	}
	if !args[1].IsBool() {
		return Value{}, newNativeError("sort: second argument must be a Bool")
	}
	elems := l.Elems.Values
	sort.SliceStable(elems, func(i, j int) bool {
		return lessValue(elems[i], elems[j])
	})
	if args[1].AsBool() {
		l.Elems.Values = lo.Reverse(elems)
	}
	return ObjectValue(l), nil
}

func lessValue(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.Float() < b.Float()
	}
	as, aok := a.AsString()
	bs, bok := b.AsString()
	if aok && bok {
		return as < bs
	}
	return false
}

func nativeTimeNs(vm *VM, args []Value) (Value, error) {
	return IntValue(time.Now().UnixNano()), nil
}

func nativeTimeMs(vm *VM, args []Value) (Value, error) {
	return IntValue(time.Now().UnixNano() / int64(time.Millisecond)), nil
}

// nativeAbs mirrors Go's native unary negation: abs(math.MinInt64) silently
// wraps back to math.MinInt64, since there is no representable positive
// counterpart in two's-complement int64.
func nativeAbs(vm *VM, args []Value) (Value, error) {
	switch args[0].Kind {
	case KindInt:
		n := args[0].AsInt()
		if n < 0 {
			n = -n
		}
		return IntValue(n), nil
	case KindFloat:
		return FloatValue(math.Abs(args[0].AsFloat())), nil
	}
	return Value{}, newNativeError("abs: argument must be a number")
}

func nativeRandInt(vm *VM, args []Value) (Value, error) {
	if !args[0].IsInt() || !args[1].IsInt() {
		return Value{}, newNativeError("randInt: both arguments must be Ints")
	}
	min, max := args[0].AsInt(), args[1].AsInt()
	if max < min {
		return Value{}, newNativeError("randInt: max is less than min")
	}
	span := max - min + 1
	return IntValue(min + rand.Int63n(span)), nil
}

func nativeSleep(vm *VM, args []Value) (Value, error) {
	if !args[0].IsInt() {
		return Value{}, newNativeError("sleep: argument must be an Int (milliseconds)")
	}
	time.Sleep(time.Duration(args[0].AsInt()) * time.Millisecond)
	return NilValue(), nil
}
