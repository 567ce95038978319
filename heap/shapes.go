package heap

import (
	"github.com/cockroachdb/errors"
)

const (
	FunctionIDWord = 0

	ClosureFunctionWord = 0
	ClosureCaptureWord  = 1

	TraitObjectVTableWord = 0
	TraitObjectDataWord   = 1

	DynamicObjectCountWord    = 0
	DynamicObjectPointersWord = 1
	dynamicObjectMembersStart = 2
	// MaxDynamicObjectMembers is bounded by the width of the pointer bitmap word
	MaxDynamicObjectMembers = 64

	DynamicListLengthWord = 0
	dynamicListElemStart  = 1
)

// DynamicObjectMember returns the payload word indices of the name and value of member i
func DynamicObjectMember(i int) (nameWord, valueWord int) {
	nameWord = dynamicObjectMembersStart + 2*i
	return nameWord, nameWord + 1
}

// DynamicListElement returns the payload word index of element i
func DynamicListElement(i int) int {
	return dynamicListElemStart + i
}

// StructType describes a plain aggregate of words
func StructType(name string, words int, pointerWords ...int) TypeInfo {
	return TypeInfo{
		Name:         name,
		Shape:        ShapeStruct,
		Size:         words * 8,
		PointerWords: pointerWords,
	}
}

func FunctionType(name string) TypeInfo {
	return TypeInfo{
		Name:  name,
		Shape: ShapeFunction,
		Size:  8,
	}
}

func ClosureType(name string) TypeInfo {
	return TypeInfo{
		Name:         name,
		Shape:        ShapeClosure,
		Size:         16,
		PointerWords: []int{ClosureCaptureWord},
	}
}

func TraitObjectType(name string) TypeInfo {
	return TypeInfo{
		Name:         name,
		Shape:        ShapeTraitObject,
		Size:         16,
		PointerWords: []int{TraitObjectDataWord},
	}
}

// DynamicObjectType describes an inline member map with room for capacity members
func DynamicObjectType(name string, capacity int) (TypeInfo, error) {
	if capacity < 0 || capacity > MaxDynamicObjectMembers {
		return TypeInfo{}, errors.Newf("dynamic object %q: capacity %d is outside [0, %d]", name, capacity, MaxDynamicObjectMembers)
	}

	return TypeInfo{
		Name:          name,
		Shape:         ShapeDynamicObject,
		Size:          (dynamicObjectMembersStart + 2*capacity) * 8,
		NativeScanner: scanDynamicObject,
	}, nil
}

func scanDynamicObject(mem WordReader, obj Addr, visit func(slot Addr)) {
	count := int(mem.Load(obj.Words(DynamicObjectCountWord)))
	pointers := uint64(mem.Load(obj.Words(DynamicObjectPointersWord)))

	for i := 0; i < count && i < MaxDynamicObjectMembers; i++ {
		if pointers&(1<<i) == 0 {
			continue
		}
		_, valueWord := DynamicObjectMember(i)
		visit(obj.Words(valueWord))
	}
}

// StaticListType describes a list of length one-word elements
func StaticListType(name string, length int, pointerElements bool) TypeInfo {
	info := TypeInfo{
		Name:  name,
		Shape: ShapeStaticList,
		Size:  length * 8,
	}

	if pointerElements {
		info.PointerWords = make([]int, length)
		for i := range info.PointerWords {
			info.PointerWords[i] = i
		}
	}

	return info
}

// DynamicListType describes a list holding up to capacity one-word elements behind a length word
func DynamicListType(name string, capacity int, pointerElements bool) TypeInfo {
	info := TypeInfo{
		Name:  name,
		Shape: ShapeDynamicList,
		Size:  (dynamicListElemStart + capacity) * 8,
	}

	if pointerElements {
		info.NativeScanner = func(mem WordReader, obj Addr, visit func(slot Addr)) {
			length := int(mem.Load(obj.Words(DynamicListLengthWord)))
			if length > capacity {
				length = capacity
			}
			for i := 0; i < length; i++ {
				visit(obj.Words(DynamicListElement(i)))
			}
		}
	}

	return info
}
