package freelist

import "unsafe"

// Link is a non-owning reference to a free block, stored as the block's address. The zero value is
// the absent link. A Link is only meaningful while the block it names is free: once the block is handed
// out, its owner may overwrite the header the Link resolves to.
type Link uintptr

const (
	// NoLink is the absent link
	NoLink Link = 0
)

// LinkTo returns a link to the block at addr
func LinkTo(addr uintptr) Link {
	return Link(addr)
}

// IsSome returns true if the link is present
func (l Link) IsSome() bool {
	return l != NoLink
}

// Addr returns the address of the block the link refers to, or 0 for NoLink
func (l Link) Addr() uintptr {
	return uintptr(l)
}

// Resolve returns the header written at the start of the linked block. It returns false for NoLink.
func (l Link) Resolve() (*Header, bool) {
	if !l.IsSome() {
		return nil, false
	}

	return headerAt(uintptr(l)), true
}

// Header is written into the first bytes of every free block
type Header struct {
	next Link
}

// HeaderSize is the number of bytes a free block must have available to hold its Header
const HeaderSize = int(unsafe.Sizeof(Header{}))

// Next returns the link to the following block in the same free list
func (h *Header) Next() Link {
	return h.next
}

func headerAt(addr uintptr) *Header {
	return (*Header)(unsafe.Pointer(addr))
}

// Bytes returns a view of size bytes of managed memory starting at addr. The caller must own the
// range, typically because it was returned by an allocator that carves blocks out of memory
// reached through this package.
func Bytes(addr uintptr, size int) []byte {
	if size == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
