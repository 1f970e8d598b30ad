// Package pte defines page-table entries, permission bits, and the user
// address-space layout shared by the kernel and the user-space runtime.
package pte

import (
	"fmt"
	"strings"
)

// Perm is the flag portion of a page-table entry.
type Perm uint32

const (
	P   Perm = 1 << 0 // present
	W   Perm = 1 << 1 // writable
	U   Perm = 1 << 2 // user-accessible
	PWT Perm = 1 << 3
	PCD Perm = 1 << 4
	A   Perm = 1 << 5 // accessed
	D   Perm = 1 << 6 // dirty
	PS  Perm = 1 << 7

	// AVAIL bits are ignored by the hardware and left to user software.
	AVAIL Perm = 0xe00

	// COW marks a mapping that is logically writable but physically
	// shared. It is one of the AVAIL bits.
	COW Perm = 0x800

	// Syscall is the set of bits user environments may pass to the
	// page mapping system calls.
	Syscall Perm = P | U | W | AVAIL

	flagMask Perm = 0xfff
)

// Has reports whether all bits in want are set.
func (p Perm) Has(want Perm) bool { return p&want == want }

func (p Perm) IsPresent() bool  { return p&P != 0 }
func (p Perm) IsWritable() bool { return p&W != 0 }
func (p Perm) IsUser() bool     { return p&U != 0 }
func (p Perm) IsCOW() bool      { return p&COW != 0 }

// IsUserPresent reports whether the mapping is present and reachable from
// user mode.
func (p Perm) IsUserPresent() bool { return p.Has(P | U) }

// ValidSyscall reports whether p is acceptable as a permission argument to
// PageAlloc or PageMap: U and P must be set and nothing outside Syscall.
func (p Perm) ValidSyscall() bool {
	return p.Has(P|U) && p&^Syscall == 0
}

var permNames = []struct {
	bit  Perm
	name string
}{
	{P, "P"}, {W, "W"}, {U, "U"}, {COW, "COW"}, {A, "A"}, {D, "D"},
}

func (p Perm) String() string {
	if p == 0 {
		return "-"
	}
	var parts []string
	rest := p
	for _, n := range permNames {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Entry is a page-table entry: a physical page number in the high bits and
// a Perm in the low twelve.
type Entry uint32

// MakeEntry builds an entry for physical page ppn with permissions perm.
func MakeEntry(ppn uint32, perm Perm) Entry {
	return Entry(ppn<<PGSHIFT | uint32(perm&flagMask))
}

// PPN returns the physical page number the entry refers to.
func (e Entry) PPN() uint32 { return uint32(e) >> PGSHIFT }

// Perm returns the flag bits of the entry.
func (e Entry) Perm() Perm { return Perm(e) & flagMask }

func (e Entry) IsPresent() bool  { return e.Perm().IsPresent() }
func (e Entry) IsWritable() bool { return e.Perm().IsWritable() }
func (e Entry) IsUser() bool     { return e.Perm().IsUser() }
func (e Entry) IsCOW() bool      { return e.Perm().IsCOW() }

func (e Entry) String() string {
	if !e.IsPresent() {
		return "not present"
	}
	return fmt.Sprintf("ppn %#x [%s]", e.PPN(), e.Perm())
}
