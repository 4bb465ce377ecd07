// Package freelist stores singly linked lists of free memory blocks inside the blocks themselves.
//
// Every raw address conversion performed on behalf of a heap happens in this package: callers deal in
// plain uintptr addresses, and FreeList writes and reads the Header at the front of each free block.
// Nothing here validates that an address is aligned, inside some heap, or not already listed; that is
// the responsibility of the allocator using the list.
package freelist

import "github.com/pkg/errors"

// FreeList is a LIFO collection of equally sized free blocks. The zero value is an empty list.
type FreeList struct {
	head   Link
	length int
}

// Len returns the number of blocks in the list
func (l *FreeList) Len() int {
	return l.length
}

// Empty returns true if the list holds no blocks
func (l *FreeList) Empty() bool {
	return !l.head.IsSome()
}

// Head returns a link to the most recently pushed block
func (l *FreeList) Head() Link {
	return l.head
}

// Push writes a header into the block at addr and places it at the front of the list
func (l *FreeList) Push(addr uintptr) {
	block := headerAt(addr)
	block.next = l.head
	l.head = LinkTo(addr)
	l.length++
}

// Pop unlinks the block at the front of the list and returns its address. It returns false if the
// list is empty.
func (l *FreeList) Pop() (uintptr, bool) {
	block, ok := l.head.Resolve()
	if !ok {
		return 0, false
	}

	addr := l.head.Addr()
	l.head = block.next
	block.next = NoLink
	l.length--

	return addr, true
}

// Remove searches the list for the block at addr and unlinks it, returning true if it was found. This
// is a linear scan.
func (l *FreeList) Remove(addr uintptr) bool {
	target := LinkTo(addr)
	if !target.IsSome() {
		return false
	}

	prev := &l.head
	for prev.IsSome() {
		current := headerAt(prev.Addr())

		if *prev == target {
			*prev = current.next
			current.next = NoLink
			l.length--
			return true
		}

		prev = &current.next
	}

	return false
}

// Contains returns true if the block at addr is in the list
func (l *FreeList) Contains(addr uintptr) bool {
	it := l.Iter()
	for block, ok := it.Next(); ok; block, ok = it.Next() {
		if block == addr {
			return true
		}
	}

	return false
}

// Clear forgets every block in the list without touching their memory
func (l *FreeList) Clear() {
	l.head = NoLink
	l.length = 0
}

// Iter returns an iterator positioned at the front of the list. Blocks are produced most recently
// pushed first. Each call to Iter starts over.
func (l *FreeList) Iter() Iterator {
	return Iterator{current: l.head}
}

// Validate walks the list and verifies that its length matches the number of linked blocks
func (l *FreeList) Validate() error {
	count := 0
	for link := l.head; link.IsSome(); link = headerAt(link.Addr()).next {
		count++

		if count > l.length {
			return errors.Errorf("free list links more than its recorded length of %d blocks, it may contain a cycle", l.length)
		}
	}

	if count != l.length {
		return errors.Errorf("free list records %d blocks but only %d are linked", l.length, count)
	}

	return nil
}

// Iterator walks a FreeList. It must not be used after the list is modified.
type Iterator struct {
	current Link
}

// Next returns the address of the next block, or false once the list is exhausted
func (it *Iterator) Next() (uintptr, bool) {
	block, ok := it.current.Resolve()
	if !ok {
		return 0, false
	}

	addr := it.current.Addr()
	it.current = block.next

	return addr, true
}
