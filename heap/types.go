package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/regvm/vmheap/memutils"
	"golang.org/x/exp/slices"
)

// TypeToken identifies a type in the TypeRegistry. It is stored as the type id of every object header.
// Token zero is never assigned.
type TypeToken uint32

// Shape is the closed set of payload layouts an object can have
type Shape uint8

const (
	// ShapeStruct is a fixed layout whose pointer words are listed in TypeInfo.PointerWords
	ShapeStruct Shape = iota
	// ShapeFunction holds a single function id
	ShapeFunction
	// ShapeClosure holds a function id followed by a pointer to the captured environment
	ShapeClosure
	// ShapeTraitObject holds a vtable id followed by a pointer to the implementing object
	ShapeTraitObject
	// ShapeDynamicObject is an inline member map of fixed capacity: a member count, a bitmap of
	// pointer-valued members, then (name id, value) pairs. Pointer members are reported by a NativeScanner.
	ShapeDynamicObject
	// ShapeStaticList is a fixed number of one-word elements
	ShapeStaticList
	// ShapeDynamicList is a length word followed by a fixed capacity of one-word elements. Only the first
	// length elements are live, so pointer elements are reported by a NativeScanner.
	ShapeDynamicList
)

var shapeMapping = map[Shape]string{
	ShapeStruct:        "Struct",
	ShapeFunction:      "Function",
	ShapeClosure:       "Closure",
	ShapeTraitObject:   "TraitObject",
	ShapeDynamicObject: "DynamicObject",
	ShapeStaticList:    "StaticList",
	ShapeDynamicList:   "DynamicList",
}

func (s Shape) String() string {
	return shapeMapping[s]
}

// WordReader gives scanners and finalizers read access to the heap
type WordReader interface {
	Load(addr Addr) Reg
}

// NativeScanner reports the address of every payload word of obj that may hold a managed pointer and that
// the inline pointer mask does not already cover.
type NativeScanner func(mem WordReader, obj Addr, visit func(slot Addr))

// Finalizer runs once before an unreachable object's storage is reused. Finalizers must not allocate.
type Finalizer func(mem WordReader, obj Addr)

// TypeInfo is everything the heap and collector need to know about a type in order to size, place and scan
// its objects
type TypeInfo struct {
	Token TypeToken
	Name  string
	Shape Shape
	// Size is the payload size in bytes. Every payload holds at least one word, which is needed for the
	// forwarding address of a moved object.
	Size int
	// PointerWords lists, in ascending order, the payload words that hold managed pointers
	PointerWords []int

	NativeScanner NativeScanner
	Finalizer     Finalizer
}

//go:generate mockgen -package mocks -destination ./mocks/type_registry.go github.com/regvm/vmheap/heap TypeRegistry

// TypeRegistry is the type-metadata collaborator consulted by the heap and collector
type TypeRegistry interface {
	Type(token TypeToken) (*TypeInfo, error)
}

func (t *TypeInfo) PayloadWords() int {
	words := memutils.WordsFor(t.Size)
	if words < 1 {
		words = 1
	}
	return words
}

func (t *TypeInfo) HasFinalizer() bool {
	return t.Finalizer != nil
}

func (t *TypeInfo) HasPointers() bool {
	return len(t.PointerWords) > 0 || t.NativeScanner != nil
}

// PointerMask is the inline bitmap over the first InlineMaskWords payload words
func (t *TypeInfo) PointerMask() uint8 {
	var mask uint8
	for _, word := range t.PointerWords {
		if word >= InlineMaskWords {
			break
		}
		mask |= 1 << word
	}
	return mask
}

// HeaderPrototype is the header every freshly allocated object of this type starts from, before the
// allocator adds region-specific bits
func (t *TypeInfo) HeaderPrototype() ObjHeader {
	var flags HeaderFlags
	if t.HasPointers() {
		flags |= HasPointerMember
	}
	if t.HasFinalizer() {
		flags |= HasFinalizer
	}
	if t.NativeScanner != nil {
		flags |= HasNativeScanner
	}

	return NewHeader(uint32(t.Token), t.PayloadWords(), flags, t.PointerMask())
}

func (t *TypeInfo) Validate() error {
	if t.Size < 0 {
		return errors.Newf("type %q has negative size %d", t.Name, t.Size)
	}

	if !slices.IsSorted(t.PointerWords) {
		return errors.Newf("type %q lists its pointer words out of order", t.Name)
	}

	words := t.PayloadWords()
	for i, word := range t.PointerWords {
		if word < 0 || word >= words {
			return errors.Newf("type %q has pointer word %d outside its %d word payload", t.Name, word, words)
		}
		if i > 0 && t.PointerWords[i-1] == word {
			return errors.Newf("type %q lists pointer word %d twice", t.Name, word)
		}
	}

	return nil
}
