package pte

// VA is a user virtual address.
type VA uint32

const (
	PGSHIFT = 12
	PGSIZE  = 1 << PGSHIFT // bytes mapped by a page

	PTXSHIFT   = 12
	PDXSHIFT   = 22
	NPTENTRIES = 1024 // entries per page table
	NPDENTRIES = 1024 // entries per page directory
	PTSIZE     = PGSIZE * NPTENTRIES
)

// Virtual memory layout, highest addresses first:
//
//	UTOP, UXSTACKTOP  -> +---------------------------+
//	                     | user exception stack      | one page
//	                     +---------------------------+ UXSTACKTOP - PGSIZE
//	                     | empty guard page          |
//	USTACKTOP         -> +---------------------------+
//	                     | normal user stack         |
//	                     ~ program data, heap ...    ~
//	UTEXT             -> +---------------------------+
//	                     | PFTEMP scratch page       |
//	UTEMP             -> +---------------------------+
//	                     | unmapped                  |
//	0                 -> +---------------------------+
const (
	UTOP       VA = 0xeec00000
	UXSTACKTOP VA = UTOP
	USTACKTOP  VA = UTOP - 2*PGSIZE

	// UTEMP is the lowest address ever used for ordinary user data, heap,
	// or stack. Nothing below it is mapped in a user environment, so the
	// fork address-space scan starts here.
	UTEMP VA = PTSIZE

	// PFTEMP is the scratch page the fault handler maps a fresh copy at
	// before moving it into place.
	PFTEMP VA = UTEMP + PTSIZE - PGSIZE

	UTEXT VA = 2 * PTSIZE
)

// PGNUM returns the virtual page number of va.
func PGNUM(va VA) uint32 { return uint32(va) >> PTXSHIFT }

// PDX returns the page-directory index of va.
func PDX(va VA) uint32 { return uint32(va) >> PDXSHIFT & 0x3ff }

// PTX returns the page-table index of va.
func PTX(va VA) uint32 { return uint32(va) >> PTXSHIFT & 0x3ff }

// PGOFF returns the offset of va within its page.
func PGOFF(va VA) uint32 { return uint32(va) & (PGSIZE - 1) }

// PageVA returns the address of virtual page pn.
func PageVA(pn uint32) VA { return VA(pn << PGSHIFT) }

// RoundDown rounds va down to its page boundary.
func RoundDown(va VA) VA { return va &^ (PGSIZE - 1) }

// Aligned reports whether va is page aligned.
func Aligned(va VA) bool { return PGOFF(va) == 0 }
