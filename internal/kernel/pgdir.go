package kernel

import "github.com/kahiteam/cowfork/internal/pte"

type pageTable [pte.NPTENTRIES]pte.Entry

// pgdir is a two-level page directory. Page tables live in kernel memory
// and are created on first use; the directory entry for a table is
// reported as present, user and writable once the table exists.
type pgdir struct {
	tables [pte.NPDENTRIES]*pageTable
}

// walk returns the entry for va, creating its page table if create is set.
// It returns nil if the table does not exist and create is false.
func (d *pgdir) walk(va pte.VA, create bool) *pte.Entry {
	pt := d.tables[pte.PDX(va)]
	if pt == nil {
		if !create {
			return nil
		}
		pt = new(pageTable)
		d.tables[pte.PDX(va)] = pt
	}
	return &pt[pte.PTX(va)]
}

// lookup returns the entry for va, or zero if nothing is mapped.
func (d *pgdir) lookup(va pte.VA) pte.Entry {
	if p := d.walk(va, false); p != nil {
		return *p
	}
	return 0
}

func (d *pgdir) pde(pdx uint32) pte.Entry {
	if pdx >= pte.NPDENTRIES || d.tables[pdx] == nil {
		return 0
	}
	return pte.MakeEntry(0, pte.P|pte.U|pte.W)
}

// insert maps frame ppn at va with perm, replacing any previous mapping.
// The new frame is referenced before the old one is released so that
// re-mapping a page onto itself keeps it alive.
func (d *pgdir) insert(pm *physmem, va pte.VA, ppn uint32, perm pte.Perm) {
	p := d.walk(va, true)
	pm.incref(ppn)
	if p.IsPresent() {
		pm.decref(p.PPN())
	}
	*p = pte.MakeEntry(ppn, perm|pte.P)
}

// remove unmaps va. It is a no-op if nothing is mapped there.
func (d *pgdir) remove(pm *physmem, va pte.VA) {
	p := d.walk(va, false)
	if p == nil || !p.IsPresent() {
		return
	}
	pm.decref(p.PPN())
	*p = 0
}

// free releases every user mapping.
func (d *pgdir) free(pm *physmem) {
	for pdx, pt := range d.tables {
		if pt == nil {
			continue
		}
		for ptx, e := range pt {
			if e.IsPresent() {
				pm.decref(e.PPN())
				pt[ptx] = 0
			}
		}
		d.tables[pdx] = nil
	}
}
