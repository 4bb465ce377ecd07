package bootparams

import (
	"github.com/cockroachdb/errors"
)

// MaxMemAreas is the number of areas a MemoryMap can hold
const MaxMemAreas = 32

// ErrMemoryMapFull is returned from MemoryMap.AddArea once MaxMemAreas areas have been added
var ErrMemoryMapFull = errors.New("memory map is full")

// MemoryKind identifies what firmware reports a memory area as being used for
type MemoryKind uint32

const (
	// MemoryUsable is free RAM
	MemoryUsable MemoryKind = iota + 1
	// MemoryReserved is in use by firmware or hardware and must not be touched
	MemoryReserved
	// MemoryACPIReclaimable holds ACPI tables and can be reused once they have been read
	MemoryACPIReclaimable
	// MemoryNVS must be preserved across hibernation
	MemoryNVS
	// MemoryBad is defective RAM
	MemoryBad
)

var memoryKindMapping = map[MemoryKind]string{
	MemoryUsable:          "Usable",
	MemoryReserved:        "Reserved",
	MemoryACPIReclaimable: "ACPIReclaimable",
	MemoryNVS:             "NVS",
	MemoryBad:             "BadMemory",
}

func (k MemoryKind) String() string {
	str, ok := memoryKindMapping[k]
	if !ok {
		return "Unknown"
	}
	return str
}

// Area is a physical memory range reported by firmware
type Area struct {
	Start  uintptr
	Length uintptr
	Kind   MemoryKind
}

// End returns the first address past the end of the area
func (a Area) End() uintptr {
	return a.Start + a.Length
}

// ContainsRange returns true if [start, end) lies entirely inside the area
func (a Area) ContainsRange(start, end uintptr) bool {
	return start >= a.Start && end <= a.End() && start <= end
}

// MemoryMap is a fixed-capacity list of firmware-reported memory areas. The zero value is an
// empty map.
type MemoryMap struct {
	areas [MaxMemAreas]Area
	count int
}

// AddArea appends an area to the map. It returns ErrMemoryMapFull if the map already holds
// MaxMemAreas areas.
func (m *MemoryMap) AddArea(area Area) error {
	if m.count >= MaxMemAreas {
		return errors.Wrapf(ErrMemoryMapFull, "cannot add area at %#x", area.Start)
	}

	m.areas[m.count] = area
	m.count++
	return nil
}

// Len returns the number of areas in the map
func (m *MemoryMap) Len() int {
	return m.count
}

// Areas returns the areas in the order they were added. The returned slice aliases the map.
func (m *MemoryMap) Areas() []Area {
	return m.areas[:m.count]
}

// VisitAreas calls visit for each area until it returns false
func (m *MemoryMap) VisitAreas(visit func(area Area) bool) {
	for i := 0; i < m.count; i++ {
		if !visit(m.areas[i]) {
			return
		}
	}
}

// UsableBytes returns the total length of every MemoryUsable area
func (m *MemoryMap) UsableBytes() uintptr {
	var total uintptr
	m.VisitAreas(func(area Area) bool {
		if area.Kind == MemoryUsable {
			total += area.Length
		}
		return true
	})

	return total
}
