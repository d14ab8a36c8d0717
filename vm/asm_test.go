package vm

import (
	"encoding/binary"
	"math"
)

// chunkAsm assembles one Chunk's worth of bytecode by hand, the same shape
// a real compiler's code generator would emit. Used only by tests, which
// stand in for the compiler this module deliberately doesn't have.
type chunkAsm struct {
	code       []byte
	lines      []uint16
	consts     []testConst
	localCount uint16
}

type testConst struct {
	tag byte
	i   int64
	f   float64
	b   bool
	s   string
}

func (c *chunkAsm) constInt(n int64) byte {
	c.consts = append(c.consts, testConst{tag: constTagInt, i: n})
	return byte(len(c.consts) - 1)
}

func (c *chunkAsm) constBool(b bool) byte {
	c.consts = append(c.consts, testConst{tag: constTagBool, b: b})
	return byte(len(c.consts) - 1)
}

func (c *chunkAsm) constFloat(f float64) byte {
	c.consts = append(c.consts, testConst{tag: constTagFloat, f: f})
	return byte(len(c.consts) - 1)
}

func (c *chunkAsm) constStr(s string) byte {
	c.consts = append(c.consts, testConst{tag: constTagObject, s: s})
	return byte(len(c.consts) - 1)
}

func (c *chunkAsm) emit(op OpCode, operands ...byte) {
	c.code = append(c.code, byte(op))
	c.lines = append(c.lines, 1)
	for _, b := range operands {
		c.code = append(c.code, b)
		c.lines = append(c.lines, 1)
	}
}

// emitJump appends a 2-byte little-endian placeholder and returns its
// offset in code, for emitPatch to fill in once the target is known.
func (c *chunkAsm) emitJump(op OpCode) int {
	c.code = append(c.code, byte(op), 0, 0)
	c.lines = append(c.lines, 1, 1, 1)
	return len(c.code) - 2
}

// patchJumpHere sets the 2-byte operand at pos so that a forward jump
// lands at the current end of code (ip += offset + 2 == len(code)).
func (c *chunkAsm) patchJumpHere(pos int) {
	target := len(c.code)
	offset := uint16(target - (pos + 2))
	binary.LittleEndian.PutUint16(c.code[pos:pos+2], offset)
}

// emitLoop appends LOOP with an offset computed so that ip -= offset + 1
// lands exactly at target.
func (c *chunkAsm) emitLoop(target int) {
	pos := len(c.code) + 1
	offset := uint16(pos - target - 1)
	c.code = append(c.code, byte(OP_LOOP))
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, offset)
	c.code = append(c.code, buf...)
	c.lines = append(c.lines, 1, 1, 1)
}

func (c *chunkAsm) bytes() []byte {
	var out []byte
	out = append(out, byte(len(c.consts)))
	for _, k := range c.consts {
		out = append(out, k.tag)
		switch k.tag {
		case constTagInt:
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64(k.i))
			out = append(out, buf...)
		case constTagBool:
			if k.b {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case constTagFloat:
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, math.Float64bits(k.f))
			out = append(out, buf...)
		case constTagObject:
			out = append(out, objTagString)
			lenBuf := make([]byte, 8)
			binary.LittleEndian.PutUint64(lenBuf, uint64(len(k.s)))
			out = append(out, lenBuf...)
			out = append(out, []byte(k.s)...)
		}
	}
	localBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(localBuf, c.localCount)
	out = append(out, localBuf...)

	codeLenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(codeLenBuf, uint32(len(c.code)))
	out = append(out, codeLenBuf...)
	out = append(out, c.code...)

	for _, ln := range c.lines {
		lb := make([]byte, 2)
		binary.LittleEndian.PutUint16(lb, ln)
		out = append(out, lb...)
	}
	return out
}

// assembleImage builds a complete wire-format image (header + chunks) from
// a list of chunk assemblers, chunk 0 is the entry point.
func assembleImage(chunks ...*chunkAsm) []byte {
	var out []byte
	out = append(out, 0, 1, 0) // version 0.1.0
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(chunks)))
	out = append(out, countBuf...)
	for _, c := range chunks {
		out = append(out, c.bytes()...)
	}
	return out
}
