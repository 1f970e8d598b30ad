package lib

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/pte"
)

var (
	// ErrNotCOW is returned by the copy-on-write fault handler for any
	// fault other than a write to a COW page.
	ErrNotCOW = errors.New("not a copy-on-write fault")

	// ErrForkAborted wraps failures after the child was created. The
	// child is left not runnable and is not torn down.
	ErrForkAborted = errors.New("fork aborted")

	// ErrNotImplemented is returned by Sfork.
	ErrNotImplemented = errors.New("not implemented")
)

// cowPerm is the mapping both sides of a fork get for a writable page.
const cowPerm = pte.P | pte.U | pte.COW

func hexva(va pte.VA) string { return fmt.Sprintf("%#x", uint32(va)) }

// pgfault gives the faulting environment a private writable copy of a
// copy-on-write page. The shared page it copied from stays mapped in
// every other environment that maps it.
func pgfault(p *Process, utf kernel.UTrapframe) error {
	addr := pte.RoundDown(utf.FaultVA)
	ent := p.sys.UVPT(pte.PGNUM(utf.FaultVA))
	if !utf.Err.IsWrite() || !ent.IsCOW() {
		return p.cowFatal(utf, fmt.Errorf("%s fault on [%s]: %w", utf.Err, ent.Perm(), ErrNotCOW))
	}

	if err := p.sys.PageAlloc(0, pte.PFTEMP, pte.P|pte.U|pte.W); err != nil {
		return p.cowFatal(utf, fmt.Errorf("alloc PFTEMP: %w", err))
	}
	buf := make([]byte, pte.PGSIZE)
	if err := p.sys.Read(addr, buf); err != nil {
		return p.cowFatal(utf, fmt.Errorf("read %s: %w", hexva(addr), err))
	}
	if err := p.sys.Write(pte.PFTEMP, buf); err != nil {
		return p.cowFatal(utf, fmt.Errorf("copy to PFTEMP: %w", err))
	}
	if err := p.sys.PageMap(0, pte.PFTEMP, 0, addr, pte.P|pte.U|pte.W); err != nil {
		return p.cowFatal(utf, fmt.Errorf("map PFTEMP at %s: %w", hexva(addr), err))
	}
	if err := p.sys.PageUnmap(0, pte.PFTEMP); err != nil {
		return p.cowFatal(utf, fmt.Errorf("unmap PFTEMP: %w", err))
	}

	p.logger.Debug("cow page privatized", "env", p.thisenv, "va", hexva(addr))
	p.emit(events.CowResolved, "va", hexva(addr))
	return nil
}

func (p *Process) cowFatal(utf kernel.UTrapframe, err error) error {
	p.logger.Error("pgfault", "env", p.thisenv, "va", hexva(utf.FaultVA), "error", err)
	p.emit(events.CowFatal, "va", hexva(utf.FaultVA), "error", err.Error())
	return fmt.Errorf("pgfault at %s: %w", hexva(utf.FaultVA), err)
}

// duppage maps our virtual page pn into child at the same address. A
// writable or copy-on-write page is mapped copy-on-write in the child and
// then re-mapped copy-on-write in our own address space, so that neither
// side can write the shared page directly. A read-only page is shared as
// is.
func (p *Process) duppage(child kernel.EnvID, pn uint32) (bool, error) {
	va := pte.PageVA(pn)
	ent := p.sys.UVPT(pn)
	if ent.IsWritable() || ent.IsCOW() {
		if err := p.sys.PageMap(0, va, child, va, cowPerm); err != nil {
			return false, fmt.Errorf("duppage %s: map into child: %w", hexva(va), err)
		}
		if err := p.sys.PageMap(0, va, 0, va, cowPerm); err != nil {
			return false, fmt.Errorf("duppage %s: remap cow: %w", hexva(va), err)
		}
		return true, nil
	}
	if err := p.sys.PageMap(0, va, child, va, pte.P|pte.U); err != nil {
		return false, fmt.Errorf("duppage %s: share read-only: %w", hexva(va), err)
	}
	return false, nil
}

// Fork creates a child environment with a copy-on-write copy of the
// address space. In the parent it returns the child's id. The child
// resumes inside Fork, where it returns 0 and then runs child, the rest of
// the program from the child's point of view. If the child cannot be
// created the kernel's negative status is returned and nothing is
// replicated. Failures after that return ErrForkAborted and leave the
// child not runnable.
func (p *Process) Fork(child Program) (kernel.EnvID, error) {
	if err := p.SetPgfaultHandler(pgfault); err != nil {
		return kernel.EnvID(kernel.Code(err)), fmt.Errorf("fork: %w", err)
	}

	snap := *p
	tf := kernel.Trapframe{
		Resume: func(sys *kernel.Syscalls, ret kernel.EnvID) error {
			c := resumeChild(snap, sys)
			if _, err := c.forked(ret, nil); err != nil {
				return err
			}
			if child == nil {
				return nil
			}
			return child(c)
		},
	}
	id, err := p.forked(p.sys.Exofork(tf))
	if err != nil || id == 0 {
		return id, err
	}

	cow, shared, err := p.replicate(id)
	if err != nil {
		return p.forkAborted(id, err)
	}
	if err := p.sys.PageAlloc(id, pte.UXSTACKTOP-pte.PGSIZE, pte.P|pte.U|pte.W); err != nil {
		return p.forkAborted(id, fmt.Errorf("alloc child exception stack: %w", err))
	}
	if err := p.sys.EnvSetPgfaultUpcall(id, pgfaultUpcall); err != nil {
		return p.forkAborted(id, fmt.Errorf("set child pgfault upcall: %w", err))
	}
	if err := p.sys.EnvSetStatus(id, kernel.Runnable); err != nil {
		return p.forkAborted(id, fmt.Errorf("mark child runnable: %w", err))
	}

	p.logger.Info("fork", "env", p.thisenv, "child", id, "cow_pages", cow, "shared_pages", shared)
	p.emit(events.ForkCompleted,
		"child", id.String(),
		"cow_pages", strconv.Itoa(cow),
		"shared_pages", strconv.Itoa(shared))
	return id, nil
}

// forked splits the return of Exofork into its three outcomes: an error,
// the child's own execution, or the parent's.
func (p *Process) forked(id kernel.EnvID, err error) (kernel.EnvID, error) {
	switch {
	case err != nil:
		p.logger.Error("fork: exofork", "env", p.thisenv, "error", err)
		p.emit(events.ForkFailed, "error", err.Error())
		if id >= 0 {
			id = kernel.EnvID(kernel.Code(err))
		}
		return id, fmt.Errorf("fork: exofork: %w", err)
	case id < 0:
		p.emit(events.ForkFailed, "error", kernel.Errno(id).Error())
		return id, fmt.Errorf("fork: exofork: %w", kernel.Errno(id))
	case id == 0:
		// Memory is shared with the parent, so the cached id is the
		// parent's until refreshed.
		p.thisenv = p.sys.GetEnvID()
		return 0, nil
	}
	return id, nil
}

// resumeChild builds the child's runtime from the copy of the parent's taken
// at the call to Fork, the way the child finds the parent's variables in
// its copy of memory. Changes the parent makes after Fork are not seen.
func resumeChild(snap Process, sys *kernel.Syscalls) *Process {
	c := snap
	c.sys = sys
	sys.SetProcLocal(&c)
	return &c
}

// replicate runs duppage on every present user page in [UTEMP, USTACKTOP).
// Page tables whose directory entry is absent are skipped whole.
func (p *Process) replicate(child kernel.EnvID) (cow, shared int, err error) {
	for va := pte.UTEMP; va < pte.USTACKTOP; {
		if !p.sys.UVPD(pte.PDX(va)).IsPresent() {
			va = va&^(pte.PTSIZE-1) + pte.PTSIZE
			continue
		}
		pn := pte.PGNUM(va)
		if p.sys.UVPT(pn).Perm().IsUserPresent() {
			isCOW, err := p.duppage(child, pn)
			if err != nil {
				return cow, shared, err
			}
			mode := "shared"
			if isCOW {
				cow++
				mode = "cow"
			} else {
				shared++
			}
			p.emit(events.PageDuplicated, "child", child.String(), "va", hexva(va), "mode", mode)
		}
		va += pte.PGSIZE
	}
	return cow, shared, nil
}

func (p *Process) forkAborted(child kernel.EnvID, err error) (kernel.EnvID, error) {
	p.logger.Error("fork aborted", "env", p.thisenv, "child", child, "error", err)
	p.emit(events.ForkFailed, "child", child.String(), "error", err.Error())
	return kernel.EnvID(kernel.Code(err)), fmt.Errorf("fork: %w: %w", ErrForkAborted, err)
}

// Sfork would fork with every page shared directly between parent and
// child. It is not implemented and changes nothing.
func (p *Process) Sfork(Program) (kernel.EnvID, error) {
	return kernel.EnvID(kernel.EINVAL), fmt.Errorf("sfork: %w", ErrNotImplemented)
}
