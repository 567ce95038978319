package heap

import (
	"fmt"

	"github.com/regvm/vmheap/internal/utils"
)

// HeaderFlags are the per-object bits stored in an ObjHeader
type HeaderFlags uint8

var headerFlagsMapping = utils.NewFlagStringMapping[HeaderFlags]()

func (f HeaderFlags) Register(str string) {
	headerFlagsMapping.Register(f, str)
}
func (f HeaderFlags) String() string {
	return headerFlagsMapping.FlagsToString(f)
}

const (
	// HasPointerMember indicates that at least one payload word may hold a managed pointer
	HasPointerMember HeaderFlags = 1 << iota
	// HasFinalizer indicates that the type's finalizer must run before the object's storage is reused
	HasFinalizer
	// HasNativeScanner indicates that pointer members past the inline mask are reported by the type's
	// NativeScanner rather than by its pointer word list
	HasNativeScanner
	// IsMoved indicates that the object was evacuated and its first payload word holds the forwarding address
	IsMoved
	// IsMinor indicates that the object lives in a Minor page
	IsMinor
)

func init() {
	HasPointerMember.Register("HasPointerMember")
	HasFinalizer.Register("HasFinalizer")
	HasNativeScanner.Register("HasNativeScanner")
	IsMoved.Register("IsMoved")
	IsMinor.Register("IsMinor")
}

// Color is the tri-color mark state of an elder object. It shares header storage with the age of Minor objects.
type Color uint8

const (
	White Color = iota
	Gray
	Black
)

var colorMapping = map[Color]string{
	White: "White",
	Gray:  "Gray",
	Black: "Black",
}

func (c Color) String() string {
	return colorMapping[c]
}

const (
	// BigObjectSize is the compressed size sentinel: the payload is too large to encode and the true size
	// must come from type metadata
	BigObjectSize = 0xFF
	// InlineMaskWords is the number of leading payload words covered by the header's pointer mask
	InlineMaskWords = 8

	typeIDBits    = 0
	sizeShift     = 32
	ageShift      = 40
	flagsShift    = 48
	maskShift     = 56
	byteFieldMask = 0xFF
)

// ObjHeader is the single word immediately preceding every object payload. From the low bits up it holds the
// type id (32 bits), the compressed payload size in words, the age (Minor) or color (elder), the HeaderFlags,
// and an inline pointer bitmap over the first InlineMaskWords payload words.
type ObjHeader uint64

// NewHeader packs an ObjHeader. Payloads of BigObjectSize words or more store the sentinel.
func NewHeader(typeID uint32, payloadWords int, flags HeaderFlags, pointerMask uint8) ObjHeader {
	size := payloadWords
	if size >= BigObjectSize {
		size = BigObjectSize
	}

	return ObjHeader(uint64(typeID)<<typeIDBits |
		uint64(size)<<sizeShift |
		uint64(flags)<<flagsShift |
		uint64(pointerMask)<<maskShift)
}

func (h ObjHeader) TypeID() uint32 { return uint32(h >> typeIDBits) }

// CompressedSize is the payload size in words, or BigObjectSize if the size must come from type metadata
func (h ObjHeader) CompressedSize() int { return int((h >> sizeShift) & byteFieldMask) }

// IsBig reports whether the compressed size is the sentinel
func (h ObjHeader) IsBig() bool { return h.CompressedSize() == BigObjectSize }

func (h ObjHeader) Age() uint8 { return uint8((h >> ageShift) & byteFieldMask) }

func (h ObjHeader) Color() Color { return Color(h.Age()) }

func (h ObjHeader) Flags() HeaderFlags { return HeaderFlags((h >> flagsShift) & byteFieldMask) }

func (h ObjHeader) Has(flags HeaderFlags) bool { return h.Flags()&flags == flags }

func (h ObjHeader) PointerMask() uint8 { return uint8(h >> maskShift) }

func (h ObjHeader) WithAge(age uint8) ObjHeader {
	return h&^(byteFieldMask<<ageShift) | ObjHeader(age)<<ageShift
}

func (h ObjHeader) WithColor(color Color) ObjHeader {
	return h.WithAge(uint8(color))
}

func (h ObjHeader) WithFlags(flags HeaderFlags) ObjHeader {
	return h | ObjHeader(flags)<<flagsShift
}

func (h ObjHeader) WithoutFlags(flags HeaderFlags) ObjHeader {
	return h &^ (ObjHeader(flags) << flagsShift)
}

func (h ObjHeader) String() string {
	return fmt.Sprintf("{type:%d size:%d age:%d flags:%s mask:%08b}", h.TypeID(), h.CompressedSize(), h.Age(), h.Flags(), h.PointerMask())
}
