// Package bootparams carries the parameters the early boot process hands to the rest of the kernel:
// where the kernel image, heap and stack live, where the multiboot info structure is, and the memory
// map reported by firmware.
package bootparams

import (
	"github.com/cockroachdb/errors"
	"github.com/sos-kernel/kalloc/memutils"
)

// Frame is the index of a physical page
type Frame uintptr

// FrameContaining returns the frame that addr falls in
func FrameContaining(addr uintptr) Frame {
	return Frame(addr >> memutils.PageShift)
}

// Address returns the address of the first byte in the frame
func (f Frame) Address() uintptr {
	return uintptr(f) << memutils.PageShift
}

// FrameRange is the half-open range of frames [Start, End)
type FrameRange struct {
	Start Frame
	End   Frame
}

// Len returns the number of frames in the range
func (r FrameRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Contains returns true if frame is in the range
func (r FrameRange) Contains(frame Frame) bool {
	return frame >= r.Start && frame < r.End
}

// framesBetween covers every frame touched by the inclusive address range [base, top]
func framesBetween(base, top uintptr) FrameRange {
	return FrameRange{
		Start: FrameContaining(base),
		End:   FrameContaining(top) + 1,
	}
}

// InitParams are produced by the boot process. Tops are the last address in each range.
type InitParams struct {
	KernelBase uintptr
	KernelTop  uintptr
	HeapBase   uintptr
	HeapTop    uintptr
	StackBase  uintptr
	StackTop   uintptr

	multibootStart uintptr
	multibootEnd   uintptr
	hasMultiboot   bool

	MemoryMap MemoryMap
}

// SetMultiboot records the location of the multiboot info structure
func (p *InitParams) SetMultiboot(start, end uintptr) {
	p.multibootStart = start
	p.multibootEnd = end
	p.hasMultiboot = true
}

// MultibootStart returns the start address of the multiboot info structure, or false if the kernel
// was not booted through multiboot
func (p *InitParams) MultibootStart() (uintptr, bool) {
	return p.multibootStart, p.hasMultiboot
}

// MultibootEnd returns the end address of the multiboot info structure, or false if the kernel was
// not booted through multiboot
func (p *InitParams) MultibootEnd() (uintptr, bool) {
	return p.multibootEnd, p.hasMultiboot
}

// KernelFrames returns the frames holding the kernel image
func (p *InitParams) KernelFrames() FrameRange {
	return framesBetween(p.KernelBase, p.KernelTop)
}

// HeapFrames returns the frames set aside for the kernel heap
func (p *InitParams) HeapFrames() FrameRange {
	return framesBetween(p.HeapBase, p.HeapTop)
}

// StackFrames returns the frames holding the kernel stack
func (p *InitParams) StackFrames() FrameRange {
	return framesBetween(p.StackBase, p.StackTop)
}

// Validate checks that each range's base does not come after its top
func (p *InitParams) Validate() error {
	if p.KernelBase > p.KernelTop {
		return errors.Newf("kernel base %#x is above kernel top %#x", p.KernelBase, p.KernelTop)
	}

	if p.HeapBase > p.HeapTop {
		return errors.Newf("heap base %#x is above heap top %#x", p.HeapBase, p.HeapTop)
	}

	if p.StackBase > p.StackTop {
		return errors.Newf("stack base %#x is above stack top %#x", p.StackBase, p.StackTop)
	}

	if p.hasMultiboot && p.multibootStart > p.multibootEnd {
		return errors.Newf("multiboot start %#x is above multiboot end %#x", p.multibootStart, p.multibootEnd)
	}

	return nil
}
