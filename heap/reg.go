package heap

import (
	"fmt"
	"math"
)

const (
	// PageSize is the size in bytes of a single arena page. Every page begins at an address aligned to PageSize.
	PageSize = 4096
	// WordsPerPage is the number of Reg-sized words in a single page
	WordsPerPage = PageSize / 8
)

// Addr is a byte address in the VM's virtual address space. Object pointers address the first payload word,
// one word past the object's header.
type Addr uint64

// NullAddr is the null pointer. No page is ever mapped at address zero.
const NullAddr Addr = 0

// PageID identifies a single PageSize-aligned page of the address space
type PageID uint64

func (a Addr) Page() PageID { return PageID(a / PageSize) }

// Words offsets the address by a signed number of words
func (a Addr) Words(words int) Addr {
	return Addr(int64(a) + int64(words)*8)
}

// Header returns the address of the header word of the object whose payload begins at a
func (a Addr) Header() Addr { return a - 8 }

func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

func (p PageID) Base() Addr { return Addr(p) * PageSize }

// Reg is the uniform 8-byte unit shared by registers and object fields. The same bits may be reinterpreted as a
// signed or unsigned integer, a float, or a pointer, depending on how the compiler typed the slot.
type Reg uint64

func IntReg(v int64) Reg       { return Reg(v) }
func FloatReg(v float64) Reg   { return Reg(math.Float64bits(v)) }
func PointerReg(addr Addr) Reg { return Reg(addr) }

func (r Reg) Int() int64     { return int64(r) }
func (r Reg) Uint() uint64   { return uint64(r) }
func (r Reg) Float() float64 { return math.Float64frombits(uint64(r)) }
func (r Reg) Pointer() Addr  { return Addr(r) }
func (r Reg) IsNull() bool   { return r == 0 }

// Slot is a location holding a Reg: either a word inside the managed heap, or a Go-side location such as a
// register or an explicitly registered root. Exactly one of Addr and Ref is set.
type Slot struct {
	Addr Addr
	Ref  *Reg
}

func HeapSlot(addr Addr) Slot { return Slot{Addr: addr} }
func RegSlot(ref *Reg) Slot   { return Slot{Ref: ref} }

// IsHeap reports whether the slot lives inside the managed heap
func (s Slot) IsHeap() bool { return s.Ref == nil }

func (s Slot) String() string {
	if s.IsHeap() {
		return s.Addr.String()
	}
	return fmt.Sprintf("reg@%p", s.Ref)
}
