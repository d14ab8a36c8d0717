package vm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func runImage(t *testing.T, image []byte) (string, int) {
	t.Helper()
	var out bytes.Buffer
	machine := New(Options{Stdout: &out})
	code := machine.Run(image)
	if machine.Err() != nil {
		t.Logf("run error: %v", machine.Err())
	}
	return out.String(), code
}

func TestE2EArithmeticAndPrint(t *testing.T) {
	c := &chunkAsm{}
	two := c.constInt(2)
	three := c.constInt(3)
	println_ := c.constStr("println")
	c.emit(OP_CONST_L, two)
	c.emit(OP_CONST_L, three)
	c.emit(OP_ADD)
	c.emit(OP_CALL_NATIVE, println_)
	c.emit(OP_EXITVM)

	out, code := runImage(t, assembleImage(c))
	require.Equal(t, 0, code)
	require.Equal(t, "5\n", out)
}

func TestE2EStringConcat(t *testing.T) {
	c := &chunkAsm{}
	a := c.constStr("hello ")
	b := c.constStr("world")
	println_ := c.constStr("println")
	c.emit(OP_CONST_STR, a)
	c.emit(OP_CONST_STR, b)
	c.emit(OP_ADD)
	c.emit(OP_CALL_NATIVE, println_)
	c.emit(OP_EXITVM)

	out, code := runImage(t, assembleImage(c))
	require.Equal(t, 0, code)
	require.Equal(t, "hello world\n", out)
}

func TestE2EGlobals(t *testing.T) {
	c := &chunkAsm{}
	x := c.constStr("x")
	ten := c.constInt(10)
	five := c.constInt(5)
	println_ := c.constStr("println")
	c.emit(OP_CONST_L, ten)
	c.emit(OP_DEFGLOBAL, x)
	c.emit(OP_GETGLOBAL, x)
	c.emit(OP_CONST_L, five)
	c.emit(OP_ADD)
	c.emit(OP_CALL_NATIVE, println_)
	c.emit(OP_EXITVM)

	out, code := runImage(t, assembleImage(c))
	require.Equal(t, 0, code)
	require.Equal(t, "15\n", out)
}

func TestE2EFunctionCall(t *testing.T) {
	sq := &chunkAsm{localCount: 1}
	sq.emit(OP_GETLOCAL, 0)
	sq.emit(OP_GETLOCAL, 0)
	sq.emit(OP_MUL)
	sq.emit(OP_RETURN)

	main := &chunkAsm{}
	sqName := main.constStr("sq")
	arity := main.constInt(1)
	chunkIdx := main.constInt(1)
	main.emit(OP_CONST_STR, sqName)
	main.emit(OP_CONST_L, arity)
	main.emit(OP_LFUNC, chunkIdx)

	seven := main.constInt(7)
	sqNameAgain := main.constStr("sq")
	println_ := main.constStr("println")
	main.emit(OP_CONST_L, seven)
	main.emit(OP_CONST_STR, sqNameAgain)
	main.emit(OP_CALL)
	main.emit(OP_CALL_NATIVE, println_)
	main.emit(OP_EXITVM)

	out, code := runImage(t, assembleImage(main, sq))
	require.Equal(t, 0, code)
	require.Equal(t, "49\n", out)
}

func TestE2ELoop(t *testing.T) {
	c := &chunkAsm{localCount: 1}
	zero := c.constInt(0)
	one := c.constInt(1)
	five := c.constInt(5)
	println_ := c.constStr("println")

	c.emit(OP_CONST_L, zero)
	c.emit(OP_DEFLOCAL, 0)

	loopStart := len(c.code)
	c.emit(OP_GETLOCAL, 0)
	c.emit(OP_CONST_L, five)
	c.emit(OP_LT)
	jifPos := c.emitJump(OP_JUMP_IF_FALSE)
	c.emit(OP_POP)

	c.emit(OP_GETLOCAL, 0)
	c.emit(OP_CALL_NATIVE, println_)
	c.emit(OP_POP)

	c.emit(OP_GETLOCAL, 0)
	c.emit(OP_CONST_L, one)
	c.emit(OP_ADD)
	c.emit(OP_SETLOCAL, 0)
	c.emitLoop(loopStart)

	c.patchJumpHere(jifPos)
	c.emit(OP_POP)
	c.emit(OP_EXITVM)

	out, code := runImage(t, assembleImage(c))
	require.Equal(t, 0, code)
	require.Equal(t, "0\n1\n2\n3\n4\n", out)
}

func TestE2EList(t *testing.T) {
	c := &chunkAsm{}
	listName := c.constStr("List")
	appendName := c.constStr("append")
	three := c.constInt(3)
	one := c.constInt(1)
	two := c.constInt(2)
	sortName := c.constStr("sort")
	println_ := c.constStr("println")

	c.emit(OP_CALL_NATIVE, listName)
	c.emit(OP_CONST_L, three)
	c.emit(OP_CALL_NATIVE, appendName)
	c.emit(OP_CONST_L, one)
	c.emit(OP_CALL_NATIVE, appendName)
	c.emit(OP_CONST_L, two)
	c.emit(OP_CALL_NATIVE, appendName)
	c.emit(OP_BOOLFALSE)
	c.emit(OP_CALL_NATIVE, sortName)
	c.emit(OP_CALL_NATIVE, println_)
	c.emit(OP_EXITVM)

	out, code := runImage(t, assembleImage(c))
	require.Equal(t, 0, code)
	require.Equal(t, "[1, 2, 3]\n", out)
}
