package vm

// ObjectType tags the heap-object sum type: String, Function,
// NativeFunction, List. Mirrors the Value tag but for the reference-counted
// (here, GC-traced) half of the type system.
type ObjectType uint8

const (
	ObjString ObjectType = iota
	ObjFunction
	ObjNativeFunction
	ObjList
)

// Object is implemented by every heap-allocated variant. Every Object must
// expose its GC header so the allocator can link it into the VM's global
// allocation list and the collector can mark/sweep it uniformly regardless
// of concrete type.
type Object interface {
	ObjType() ObjectType
	String() string
	header() *objHeader
}

// objHeader is the intrusive allocation-list link plus the GC mark bit,
// embedded in every concrete Object. The VM exclusively owns this list;
// every other holder of an Object (stack slots, constant pools, globals,
// frame function pointers, the interning table) is a non-owning reference.
type objHeader struct {
	marked bool
	next   Object
	size   int64 // approximate bytes charged against the GC threshold
}

func (h *objHeader) header() *objHeader { return h }

// ObjectString is an immutable byte sequence with a precomputed FNV-1a hash
// and an optional cached pointer to the function it resolves to when used
// as a CALL target (§4.2's "cached function pointer").
type ObjectString struct {
	objHeader
	Chars      []byte
	Hash       uint32
	cachedFunc *ObjectFunction
}

func (o *ObjectString) ObjType() ObjectType { return ObjString }

// NativeFn is the Go shape of a builtin: the interpreter pops its arguments
// off the operand stack and passes them in order as args, and the one result
// value it returns is pushed back in their place.
type NativeFn func(vm *VM, args []Value) (Value, error)

// ObjectFunction is either a user function (Chunk != nil) or, when Native is
// set, a NativeFunction wrapping a Go callable registered at VM init.
type ObjectFunction struct {
	objHeader
	Name   *ObjectString
	Arity  int
	Chunk  *Chunk
	Native NativeFn
}

func (o *ObjectFunction) ObjType() ObjectType {
	if o.Native != nil {
		return ObjNativeFunction
	}
	return ObjFunction
}

func (o *ObjectFunction) IsNative() bool { return o.Native != nil }

// ObjectList is a growable, in-place-mutable sequence of Values.
type ObjectList struct {
	objHeader
	Elems ValueArray
}

func (o *ObjectList) ObjType() ObjectType { return ObjList }
