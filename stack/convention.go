package stack

import (
	"github.com/regvm/vmheap/heap"
)

// MaxValueRegisters is the largest value, in registers, that is passed or returned in registers. Anything
// larger travels by pointer.
const MaxValueRegisters = 2

// Param describes one argument or result of a call
type Param struct {
	Type *heap.TypeInfo
	// Reference marks reference-semantics values, such as class objects and ref structs, which are always
	// passed as a pointer to the object
	Reference bool
}

// Argument is where one Param lives in the callee's frame
type Argument struct {
	Register int
	Count    int
	// ByPointer means the single register holds the address of the value rather than the value itself.
	// The address is always the start of an object's payload.
	ByPointer bool
	// Pointers has one entry per register, set where that register holds a managed pointer
	Pointers []bool
}

// Layout is the register assignment of a call
type Layout struct {
	// ReturnStorage means the caller passes result storage in ReturnStorageRegister
	ReturnStorage bool
	Arguments     []Argument
	// Result is where a result returned in registers is found once the callee returns, relative to the
	// callee frame. It is empty when there is no result or it is returned in memory.
	Result Argument
	// Size is the number of registers the capture, return storage and arguments occupy
	Size int
}

func isValueShape(shape heap.Shape) bool {
	switch shape {
	case heap.ShapeStruct, heap.ShapeFunction, heap.ShapeClosure, heap.ShapeTraitObject, heap.ShapeStaticList:
		return true
	}
	return false
}

// PassByValue reports whether a value of the given type is copied into registers rather than passed as
// a pointer
func PassByValue(info *heap.TypeInfo) bool {
	return isValueShape(info.Shape) && info.PayloadWords() <= MaxValueRegisters
}

// ReturnsInMemory reports whether a result of the given type is written into caller-provided storage
func ReturnsInMemory(info *heap.TypeInfo) bool {
	return isValueShape(info.Shape) && !PassByValue(info)
}

func placeParam(p Param, register int) Argument {
	if p.Reference || !PassByValue(p.Type) {
		return Argument{Register: register, Count: 1, ByPointer: true, Pointers: []bool{true}}
	}

	words := p.Type.PayloadWords()
	pointers := make([]bool, words)
	for _, word := range p.Type.PointerWords {
		if word < words {
			pointers[word] = true
		}
	}
	return Argument{Register: register, Count: words, Pointers: pointers}
}

// ArgumentLayout assigns registers to a call's parameters and result. Register 0 always holds the capture.
// A large result is returned through storage whose address is passed immediately after it, and arguments
// follow in declaration order.
func ArgumentLayout(params []Param, result *Param) Layout {
	layout := Layout{Size: CaptureRegister + 1}

	if result != nil && !result.Reference && ReturnsInMemory(result.Type) {
		layout.ReturnStorage = true
		layout.Size = ReturnStorageRegister + 1
	}

	for _, p := range params {
		arg := placeParam(p, layout.Size)
		layout.Arguments = append(layout.Arguments, arg)
		layout.Size += arg.Count
	}

	if result != nil && !layout.ReturnStorage {
		layout.Result = placeParam(*result, 0)
	}

	return layout
}
