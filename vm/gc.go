package vm

// gcState is the collector's view of the VM: the same *VM, aliased so
// Table.MarkAll (and anything else outside this file) can depend on a
// narrower name than "*VM" for the mark callbacks it needs.
type gcState = VM

const (
	heapGrowFactor   = 2
	heapMinThreshold = 1 << 20 // 1 MiB floor, per §4.6
)

// markValue shades the object (if any) referenced by v.
func (vm *gcState) markValue(v Value) {
	if v.Kind == KindObject {
		vm.markObject(v.obj)
	}
}

// markObject shades o grey: sets its mark bit and pushes it on the gray
// worklist for later tracing. Idempotent — an already-marked object is
// left alone, which is what keeps cyclic structures (a List containing
// itself) from looping forever.
func (vm *gcState) markObject(o Object) {
	if o == nil {
		return
	}
	h := o.header()
	if h.marked {
		return
	}
	h.marked = true
	vm.gray = append(vm.gray, o)
}

// blacken traces the outgoing references of a grey object, shading each one
// grey in turn. Strings are leaves. Functions mark their name and (for user
// functions) every constant in their chunk. Lists mark every element.
func (vm *gcState) blacken(o Object) {
	switch t := o.(type) {
	case *ObjectString:
		// no outgoing references
	case *ObjectFunction:
		vm.markObject(t.Name)
		if t.Chunk != nil {
			for _, c := range t.Chunk.Consts.Values {
				vm.markValue(c)
			}
		}
	case *ObjectList:
		for _, e := range t.Elems.Values {
			vm.markValue(e)
		}
	}
}

// collectGarbage runs one full mark-trace-weak-cleanup-sweep cycle. It is
// triggered from allocateObject once bytesAllocated crosses nextGC, and
// allocateObject only does so after Run has set gcEnabled, so loading and
// registering natives never collects something still being wired up.
func (vm *VM) collectGarbage() {
	vm.gray = vm.gray[:0]

	for i := 0; i < vm.sp; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		vm.markObject(vm.frames[i].fn)
	}
	vm.globals.MarkAll(vm)

	for len(vm.gray) > 0 {
		o := vm.gray[len(vm.gray)-1]
		vm.gray = vm.gray[:len(vm.gray)-1]
		vm.blacken(o)
	}

	vm.strings.RemoveWhite()
	vm.sweep()

	vm.nextGC = vm.bytesAllocated * heapGrowFactor
	if vm.nextGC < vm.heapMin {
		vm.nextGC = vm.heapMin
	}
}

// sweep walks the intrusive allocation list, unlinking and discarding every
// object left unmarked by the trace phase, and clearing the mark bit on
// every survivor so the next cycle starts white.
func (vm *VM) sweep() {
	var prev Object
	obj := vm.allocHead
	for obj != nil {
		h := obj.header()
		next := h.next
		if h.marked {
			h.marked = false
			prev = obj
		} else {
			vm.bytesAllocated -= h.size
			if prev != nil {
				prev.header().next = next
			} else {
				vm.allocHead = next
			}
		}
		obj = next
	}
}

// allocateObject charges size against bytesAllocated and collects first if
// that crosses nextGC, only linking o into the VM's allocation list
// afterward. The order matters: o isn't traceable by sweep until it's on
// allocHead, so if the collection ran after linking, a GC provoked by this
// very allocation could sweep o right back out before its caller ever roots
// it (it is unmarked and, being brand new, not yet reachable from anything
// the mark phase walks).
func (vm *VM) allocateObject(o Object, size int64) {
	vm.bytesAllocated += size
	if vm.gcEnabled && vm.bytesAllocated > vm.nextGC {
		vm.collectGarbage()
	}

	h := o.header()
	h.size = size
	h.next = vm.allocHead
	vm.allocHead = o
}

const (
	stringOverhead   = 32
	functionOverhead = 64
	listOverhead     = 32
)

// newString interns chars if an equal string already exists, otherwise
// allocates a new ObjectString and adds it to the interning table. chars is
// copied, so it is safe to pass a slice backed by memory this VM doesn't
// otherwise track (e.g. a freshly built concatenation buffer).
func (vm *VM) newString(chars []byte) *ObjectString {
	hash := hashBytes(chars)
	if existing := vm.strings.FindString(chars, hash); existing != nil {
		return existing
	}
	owned := make([]byte, len(chars))
	copy(owned, chars)
	s := &ObjectString{Chars: owned, Hash: hash}
	vm.allocateObject(s, int64(len(owned))+stringOverhead)
	vm.strings.Set(s, NilValue())
	return s
}

func (vm *VM) newFunction(name *ObjectString, arity int, chunk *Chunk) *ObjectFunction {
	f := &ObjectFunction{Name: name, Arity: arity, Chunk: chunk}
	vm.allocateObject(f, functionOverhead)
	return f
}

func (vm *VM) newNativeFunction(name *ObjectString, arity int, fn NativeFn) *ObjectFunction {
	f := &ObjectFunction{Name: name, Arity: arity, Native: fn}
	vm.allocateObject(f, functionOverhead)
	return f
}

func (vm *VM) newList() *ObjectList {
	l := &ObjectList{Elems: NewValueArray()}
	vm.allocateObject(l, listOverhead)
	return l
}

// concatStrings builds the ADD-on-Strings result. a and b are ordinary Go
// pointers here, kept alive by Go's own GC through the caller's locals for
// the duration of this call regardless of where they sit (or don't) on the
// VM's operand stack, so a collection triggered by the allocation below
// cannot invalidate them.
func (vm *VM) concatStrings(a, b *ObjectString) *ObjectString {
	buf := make([]byte, 0, len(a.Chars)+len(b.Chars))
	buf = append(buf, a.Chars...)
	buf = append(buf, b.Chars...)
	return vm.newString(buf)
}
