package vm

// frame is a per-call record: the executing function (borrowed, not owned),
// an instruction pointer into that function's Chunk, and the index into the
// shared operand stack where this frame's locals begin. Frames never
// outlive their owning call; they are pushed on CALL and popped on RETURN.
type frame struct {
	fn   *ObjectFunction
	ip   int
	base int
}
