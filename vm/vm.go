package vm

import (
	"bufio"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	DefaultStackMax  = 1 << 17 // 131072 slots, §4.5
	DefaultFramesMax = 256
)

// Options configures a VM at construction. Every field has a sane default
// (DefaultOptions), since the host wrapper in cmd/uzavm only needs to
// override what a particular invocation's flags actually change.
type Options struct {
	StackMax  int
	FramesMax int
	HeapMin   int64
	Stdout    io.Writer
}

func DefaultOptions() Options {
	return Options{
		StackMax:  DefaultStackMax,
		FramesMax: DefaultFramesMax,
		HeapMin:   heapMinThreshold,
		Stdout:    os.Stdout,
	}
}

// VM is the whole interpreter: the chunk table produced by the loader, the
// shared operand stack, the fixed-depth call-frame stack, the globals and
// string-interning tables, and the GC's bookkeeping. It holds no logger and
// never calls os.Exit — that is the host wrapper's job (cmd/uzavm), kept
// strictly outside this package per the core/host split.
type VM struct {
	ID uuid.UUID

	chunks []*Chunk

	stack []Value
	sp    int

	frames     []frame
	frameCount int

	globals *Table
	strings *Table

	allocHead      Object
	gray           []Object
	bytesAllocated int64
	nextGC         int64
	heapMin        int64
	gcEnabled      bool

	stdout io.Writer
	writer *bufio.Writer

	interrupted atomic.Bool
	lastErr     *RuntimeError
}

// New constructs a VM ready to Load and Run a bytecode image. Natives are
// registered immediately so their names are resolvable the moment the
// loaded program's globals reference them.
func New(opts Options) *VM {
	if opts.StackMax <= 0 {
		opts.StackMax = DefaultStackMax
	}
	if opts.FramesMax <= 0 {
		opts.FramesMax = DefaultFramesMax
	}
	if opts.HeapMin <= 0 {
		opts.HeapMin = heapMinThreshold
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	vm := &VM{
		ID:      uuid.New(),
		stack:   make([]Value, opts.StackMax),
		frames:  make([]frame, opts.FramesMax),
		globals: NewTable(),
		strings: NewTable(),
		heapMin: opts.HeapMin,
		nextGC:  opts.HeapMin,
		stdout:  opts.Stdout,
	}
	vm.registerNatives()
	return vm
}

// Interrupt asks the running interpreter loop to stop at the next
// instruction boundary. Safe to call from a signal handler goroutine.
func (vm *VM) Interrupt() { vm.interrupted.Store(true) }

func (vm *VM) currentFrame() *frame { return &vm.frames[vm.frameCount-1] }

func (vm *VM) currentLine() int {
	fr := &vm.frames[vm.frameCount-1]
	return int(fr.fn.Chunk.lineAt(fr.ip))
}

func (vm *VM) push(v Value) *RuntimeError {
	if vm.sp >= len(vm.stack) {
		return NewRuntimeError("stack overflow", vm.currentLine())
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distFromTop int) Value {
	return vm.stack[vm.sp-1-distFromTop]
}

func (vm *VM) pushFrame(fn *ObjectFunction, base int) *RuntimeError {
	if vm.frameCount >= len(vm.frames) {
		return NewRuntimeError("stack overflow: too many nested calls", vm.currentLine())
	}
	vm.frames[vm.frameCount] = frame{fn: fn, ip: 0, base: base}
	vm.frameCount++
	return nil
}

func readUint16(code []byte, ip int) uint16 {
	return uint16(code[ip]) | uint16(code[ip+1])<<8
}

// Run loads program, enables the GC, and executes from chunk 0 until an
// EXITVM, the top-level function returns, an interrupt lands, or a fatal
// RuntimeError is hit. It returns the process exit code only (0 on
// EXITVM/top-frame RETURN, 1 on interrupt or fatal error); on abnormal
// termination, Err returns the RuntimeError describing why. The core
// package never logs this itself — that is the host wrapper's job.
func (vm *VM) Run(program []byte) int {
	code, err := vm.run(program)
	vm.lastErr = err
	if vm.writer != nil {
		vm.writer.Flush()
	}
	return code
}

// Err returns the RuntimeError from the most recent Run, or nil if it
// completed normally (or hasn't run yet).
func (vm *VM) Err() *RuntimeError { return vm.lastErr }

func (vm *VM) run(program []byte) (int, *RuntimeError) {
	if err := vm.Load(program); err != nil {
		return 1, err
	}
	if len(vm.chunks) == 0 {
		return 1, NewRuntimeError("bytecode image declares no chunks", 0)
	}

	entryName := vm.newString([]byte("<script>"))
	entry := vm.newFunction(entryName, 0, vm.chunks[0])
	vm.frames[0] = frame{fn: entry, ip: 0, base: 0}
	vm.frameCount = 1
	vm.sp = entry.Chunk.LocalCount

	vm.gcEnabled = true

	return vm.interpret()
}

func (vm *VM) interpret() (int, *RuntimeError) {
	for {
		if vm.interrupted.Load() {
			return 1, NewRuntimeError("interrupted", vm.currentLine())
		}

		fr := vm.currentFrame()
		chunk := fr.fn.Chunk
		code := chunk.Code

		op := OpCode(code[fr.ip])
		fr.ip++

		switch op {
		case OP_CONST_L, OP_CONST_D, OP_CONST_STR:
			idx := code[fr.ip]
			fr.ip++
			if err := vm.push(chunk.Consts.Get(int(idx))); err != nil {
				return 1, err
			}

		case OP_BOOLTRUE:
			if err := vm.push(BoolValue(true)); err != nil {
				return 1, err
			}
		case OP_BOOLFALSE:
			if err := vm.push(BoolValue(false)); err != nil {
				return 1, err
			}
		case OP_NIL:
			if err := vm.push(NilValue()); err != nil {
				return 1, err
			}
		case OP_POP:
			vm.pop()

		case OP_ADD:
			// Operands stay on the stack (peek, not pop) while a string
			// concatenation is still possible: concatStrings may allocate,
			// and an allocation may trigger a collection, so both operands
			// must still be rooted by the stack until the result is safely
			// pushed in their place.
			b, a := vm.peek(0), vm.peek(1)
			as, aIsStr := a.AsObject().(*ObjectString)
			bs, bIsStr := b.AsObject().(*ObjectString)
			if aIsStr && bIsStr {
				result := vm.concatStrings(as, bs)
				vm.pop()
				vm.pop()
				if err := vm.push(ObjectValue(result)); err != nil {
					return 1, err
				}
				break
			}
			if !a.IsNumber() || !b.IsNumber() {
				return 1, NewRuntimeError("ADD requires two numbers or two strings", vm.currentLine())
			}
			vm.pop()
			vm.pop()
			if a.Kind == KindInt && b.Kind == KindInt {
				if err := vm.push(IntValue(a.AsInt() + b.AsInt())); err != nil {
					return 1, err
				}
			} else {
				if err := vm.push(FloatValue(a.Float() + b.Float())); err != nil {
					return 1, err
				}
			}

		case OP_SUB, OP_MUL, OP_DIV, OP_MOD:
			b, a := vm.pop(), vm.pop()
			if !a.IsNumber() || !b.IsNumber() {
				return 1, NewRuntimeError(op.String()+" requires two numbers", vm.currentLine())
			}
			result, rerr := arithmetic(op, a, b)
			if rerr != nil {
				rerr.Line = vm.currentLine()
				return 1, rerr
			}
			if err := vm.push(result); err != nil {
				return 1, err
			}

		case OP_NEG:
			a := vm.pop()
			switch a.Kind {
			case KindInt:
				if err := vm.push(IntValue(-a.AsInt())); err != nil {
					return 1, err
				}
			case KindFloat:
				if err := vm.push(FloatValue(-a.AsFloat())); err != nil {
					return 1, err
				}
			default:
				return 1, NewRuntimeError("NEG requires a number", vm.currentLine())
			}

		case OP_EQ:
			b, a := vm.pop(), vm.pop()
			if err := vm.push(BoolValue(a.Equal(b))); err != nil {
				return 1, err
			}
		case OP_NE:
			b, a := vm.pop(), vm.pop()
			if err := vm.push(BoolValue(!a.Equal(b))); err != nil {
				return 1, err
			}

		case OP_LT, OP_LE, OP_GT, OP_GE:
			b, a := vm.pop(), vm.pop()
			if !a.IsNumber() || !b.IsNumber() {
				return 1, NewRuntimeError(op.String()+" requires two numbers", vm.currentLine())
			}
			var result bool
			if a.Kind == KindInt && b.Kind == KindInt {
				ai, bi := a.AsInt(), b.AsInt()
				switch op {
				case OP_LT:
					result = ai < bi
				case OP_LE:
					result = ai <= bi
				case OP_GT:
					result = ai > bi
				case OP_GE:
					result = ai >= bi
				}
			} else {
				af, bf := a.Float(), b.Float()
				switch op {
				case OP_LT:
					result = af < bf
				case OP_LE:
					result = af <= bf
				case OP_GT:
					result = af > bf
				case OP_GE:
					result = af >= bf
				}
			}
			if err := vm.push(BoolValue(result)); err != nil {
				return 1, err
			}

		case OP_NOT:
			a := vm.pop()
			if !a.IsBool() {
				return 1, NewRuntimeError("NOT requires a bool", vm.currentLine())
			}
			if err := vm.push(BoolValue(!a.AsBool())); err != nil {
				return 1, err
			}

		case OP_TOSTRING:
			a := vm.pop()
			if err := vm.push(ObjectValue(vm.newString([]byte(a.String())))); err != nil {
				return 1, err
			}

		case OP_TOINT:
			a := vm.pop()
			v, terr := vm.toInt(a)
			if terr != nil {
				terr.Line = vm.currentLine()
				return 1, terr
			}
			if err := vm.push(v); err != nil {
				return 1, err
			}

		case OP_TOFLOAT:
			a := vm.pop()
			switch a.Kind {
			case KindFloat:
				if err := vm.push(a); err != nil {
					return 1, err
				}
			case KindInt:
				if err := vm.push(FloatValue(float64(a.AsInt()))); err != nil {
					return 1, err
				}
			default:
				return 1, NewRuntimeError("TOFLOAT requires an int or float", vm.currentLine())
			}

		case OP_DEFGLOBAL, OP_SETGLOBAL:
			idx := code[fr.ip]
			fr.ip++
			nameObj, ok := chunk.Consts.Get(int(idx)).AsObject().(*ObjectString)
			if !ok {
				return 1, NewRuntimeError("global name constant is not a string", vm.currentLine())
			}
			vm.globals.Set(nameObj, vm.pop())

		case OP_GETGLOBAL:
			idx := code[fr.ip]
			fr.ip++
			nameObj, ok := chunk.Consts.Get(int(idx)).AsObject().(*ObjectString)
			if !ok {
				return 1, NewRuntimeError("global name constant is not a string", vm.currentLine())
			}
			val, ok := vm.globals.Get(nameObj)
			if !ok {
				return 1, NewRuntimeError("undefined global: "+nameObj.String(), vm.currentLine())
			}
			if err := vm.push(val); err != nil {
				return 1, err
			}

		case OP_DEFLOCAL, OP_SETLOCAL:
			slot := code[fr.ip]
			fr.ip++
			vm.stack[fr.base+int(slot)] = vm.pop()

		case OP_GETLOCAL:
			slot := code[fr.ip]
			fr.ip++
			if err := vm.push(vm.stack[fr.base+int(slot)]); err != nil {
				return 1, err
			}

		case OP_JUMP:
			off := readUint16(code, fr.ip)
			fr.ip += int(off) + 2

		case OP_LOOP:
			off := readUint16(code, fr.ip)
			fr.ip -= int(off) + 1

		case OP_JUMP_IF_FALSE:
			off := readUint16(code, fr.ip)
			cond := vm.peek(0)
			if !cond.IsBool() {
				return 1, NewRuntimeError("JUMP_IF_FALSE requires a bool", vm.currentLine())
			}
			if !cond.AsBool() {
				fr.ip += int(off) + 2
			} else {
				fr.ip += 2
			}

		case OP_JUMP_IF_TRUE:
			off := readUint16(code, fr.ip)
			cond := vm.peek(0)
			if !cond.IsBool() {
				return 1, NewRuntimeError("JUMP_IF_TRUE requires a bool", vm.currentLine())
			}
			if cond.AsBool() {
				fr.ip += int(off) + 2
			} else {
				fr.ip += 2
			}

		case OP_CALL:
			nameVal := vm.pop()
			nameObj, ok := nameVal.AsObject().(*ObjectString)
			if !ok {
				return 1, NewRuntimeError("CALL target is not a string", vm.currentLine())
			}
			callee := nameObj.cachedFunc
			if callee == nil {
				gv, ok := vm.globals.Get(nameObj)
				if !ok {
					return 1, NewRuntimeError("unknown global in CALL: "+nameObj.String(), vm.currentLine())
				}
				f, ok := gv.AsObject().(*ObjectFunction)
				if !ok || f.Native != nil {
					return 1, NewRuntimeError(nameObj.String()+" is not callable", vm.currentLine())
				}
				callee = f
				nameObj.cachedFunc = f
			}
			base := vm.sp - callee.Arity
			if base < 0 {
				return 1, NewRuntimeError("not enough arguments for "+callee.String(), vm.currentLine())
			}
			if err := vm.pushFrame(callee, base); err != nil {
				return 1, err
			}
			for i := base + callee.Arity; i < base+callee.Chunk.LocalCount; i++ {
				vm.stack[i] = NilValue()
			}
			vm.sp = base + callee.Chunk.LocalCount

		case OP_CALL_NATIVE:
			idx := code[fr.ip]
			fr.ip++
			nameObj, ok := chunk.Consts.Get(int(idx)).AsObject().(*ObjectString)
			if !ok {
				return 1, NewRuntimeError("CALL_NATIVE name constant is not a string", vm.currentLine())
			}
			gv, ok := vm.globals.Get(nameObj)
			if !ok {
				return 1, NewRuntimeError("unknown native: "+nameObj.String(), vm.currentLine())
			}
			callee, ok := gv.AsObject().(*ObjectFunction)
			if !ok || callee.Native == nil {
				return 1, NewRuntimeError(nameObj.String()+" is not a native function", vm.currentLine())
			}
			if vm.sp < callee.Arity {
				return 1, NewRuntimeError("not enough arguments for "+callee.String(), vm.currentLine())
			}
			args := make([]Value, callee.Arity)
			for i := callee.Arity - 1; i >= 0; i-- {
				args[i] = vm.pop()
			}
			result, nerr := callee.Native(vm, args)
			if nerr != nil {
				if re, ok := nerr.(*RuntimeError); ok {
					re.Line = vm.currentLine()
					return 1, re
				}
				return 1, NewRuntimeError(nerr.Error(), vm.currentLine())
			}
			if err := vm.push(result); err != nil {
				return 1, err
			}

		case OP_LFUNC:
			idx := code[fr.ip]
			fr.ip++
			idxVal := chunk.Consts.Get(int(idx))
			if !idxVal.IsInt() {
				return 1, NewRuntimeError("LFUNC chunk index constant is not an int", vm.currentLine())
			}
			chunkIdx := int(idxVal.AsInt())
			if chunkIdx < 0 || chunkIdx >= len(vm.chunks) {
				return 1, NewRuntimeError("LFUNC references an unknown chunk", vm.currentLine())
			}
			arityVal := vm.pop()
			nameVal := vm.pop()
			nameObj, ok := nameVal.AsObject().(*ObjectString)
			if !ok {
				return 1, NewRuntimeError("LFUNC name is not a string", vm.currentLine())
			}
			fn := vm.newFunction(nameObj, int(arityVal.AsInt()), vm.chunks[chunkIdx])
			vm.globals.Set(nameObj, ObjectValue(fn))

		case OP_RETURN:
			retVal := vm.peek(0)
			vm.sp = fr.base
			vm.frameCount--
			if vm.frameCount == 0 {
				return 0, nil
			}
			if err := vm.push(retVal); err != nil {
				return 1, err
			}

		case OP_EXITVM:
			return 0, nil

		default:
			return 1, NewRuntimeError("unknown opcode", vm.currentLine())
		}
	}
}

// arithmetic implements SUB/MUL/DIV/MOD's Int/Int vs Float/Float promotion,
// per §4.1: mixed operands widen to Float, integer division or modulo by
// zero is a fatal RuntimeError, float division by zero follows IEEE-754
// (±Inf/NaN).
func arithmetic(op OpCode, a, b Value) (Value, *RuntimeError) {
	bothInt := a.Kind == KindInt && b.Kind == KindInt
	switch op {
	case OP_SUB:
		if bothInt {
			return IntValue(a.AsInt() - b.AsInt()), nil
		}
		return FloatValue(a.Float() - b.Float()), nil
	case OP_MUL:
		if bothInt {
			return IntValue(a.AsInt() * b.AsInt()), nil
		}
		return FloatValue(a.Float() * b.Float()), nil
	case OP_DIV:
		if bothInt {
			if b.AsInt() == 0 {
				return Value{}, NewRuntimeError("integer division by zero", 0)
			}
			return IntValue(a.AsInt() / b.AsInt()), nil
		}
		return FloatValue(a.Float() / b.Float()), nil
	case OP_MOD:
		if !bothInt {
			return Value{}, NewRuntimeError("MOD requires two ints", 0)
		}
		if b.AsInt() == 0 {
			return Value{}, NewRuntimeError("integer modulo by zero", 0)
		}
		return IntValue(a.AsInt() % b.AsInt()), nil
	}
	return Value{}, NewRuntimeError("unreachable arithmetic op", 0)
}

func (vm *VM) toInt(a Value) (Value, *RuntimeError) {
	switch a.Kind {
	case KindInt:
		return a, nil
	case KindFloat:
		return IntValue(int64(a.AsFloat())), nil
	case KindObject:
		if s, ok := a.AsString(); ok {
			n, err := parseInt(s)
			if err != nil {
				return Value{}, NewRuntimeError("TOINT: cannot parse \""+s+"\" as an int", 0)
			}
			return IntValue(n), nil
		}
	}
	return Value{}, NewRuntimeError("TOINT requires an int, float, or string", 0)
}
