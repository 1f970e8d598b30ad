package kernel

import "github.com/kahiteam/cowfork/internal/pte"

// frame is one physical page. ref counts the page-table entries that map
// it; the frame returns to the free list when ref drops to zero.
type frame struct {
	data []byte
	ref  int32
}

// physmem is the physical page arena. Frame 0 is reserved so that a zero
// physical page number never names a real page.
type physmem struct {
	frames []frame
	free   []uint32
}

func newPhysmem(npages int) *physmem {
	pm := &physmem{
		frames: make([]frame, npages),
		free:   make([]uint32, 0, npages),
	}
	for ppn := npages - 1; ppn >= 1; ppn-- {
		pm.free = append(pm.free, uint32(ppn))
	}
	return pm
}

// alloc returns a zeroed frame with a reference count of zero.
func (pm *physmem) alloc() (uint32, error) {
	if len(pm.free) == 0 {
		return 0, ENOMEM
	}
	ppn := pm.free[len(pm.free)-1]
	pm.free = pm.free[:len(pm.free)-1]
	f := &pm.frames[ppn]
	if f.data == nil {
		f.data = make([]byte, pte.PGSIZE)
	} else {
		clear(f.data)
	}
	f.ref = 0
	return ppn, nil
}

func (pm *physmem) incref(ppn uint32) {
	pm.frames[ppn].ref++
}

func (pm *physmem) decref(ppn uint32) {
	f := &pm.frames[ppn]
	if f.ref <= 0 {
		panic("decref of free frame")
	}
	f.ref--
	if f.ref == 0 {
		pm.free = append(pm.free, ppn)
	}
}

// page returns the contents of frame ppn.
func (pm *physmem) page(ppn uint32) []byte {
	return pm.frames[ppn].data
}

func (pm *physmem) refcount(ppn uint32) int32 {
	return pm.frames[ppn].ref
}

func (pm *physmem) nfree() int {
	return len(pm.free)
}
