package heap

// VisitPointerSlots calls visit with the address of every payload word of obj that may hold a managed pointer.
// The header's inline mask covers the first InlineMaskWords words; the type's pointer word list covers the
// rest of a fixed layout, and its NativeScanner covers layouts that a word list cannot describe.
func (h *Heap) VisitPointerSlots(obj Addr, visit func(slot Addr)) error {
	header := h.Header(obj)
	if !header.Has(HasPointerMember) {
		return nil
	}

	mask := header.PointerMask()
	for word := 0; mask != 0; word++ {
		if mask&1 != 0 {
			visit(obj.Words(word))
		}
		mask >>= 1
	}

	words, err := h.SizeOf(header)
	if err != nil {
		return err
	}
	if words <= InlineMaskWords && !header.Has(HasNativeScanner) {
		return nil
	}

	info, err := h.types.Type(TypeToken(header.TypeID()))
	if err != nil {
		return err
	}

	for _, word := range info.PointerWords {
		if word >= InlineMaskWords {
			visit(obj.Words(word))
		}
	}

	if header.Has(HasNativeScanner) && info.NativeScanner != nil {
		info.NativeScanner(h, obj, visit)
	}

	return nil
}

// VisitPointers is VisitPointerSlots, skipping slots that currently hold null
func (h *Heap) VisitPointers(obj Addr, visit func(slot Addr, value Addr)) error {
	return h.VisitPointerSlots(obj, func(slot Addr) {
		if value := h.Load(slot).Pointer(); value != NullAddr {
			visit(slot, value)
		}
	})
}
