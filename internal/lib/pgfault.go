package lib

import (
	"errors"
	"fmt"

	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/pte"
)

// Handler handles a page fault in the environment p runs in. A non-nil
// error is fatal: the kernel destroys the environment.
type Handler func(p *Process, utf kernel.UTrapframe) error

var errNoHandler = errors.New("page fault with no handler registered")

// SetPgfaultHandler installs h as the environment's page-fault handler.
// The first call also allocates the exception stack and points the
// kernel's upcall at the runtime trampoline; later calls only swap h.
func (p *Process) SetPgfaultHandler(h Handler) error {
	if p.handler == nil {
		if err := p.sys.PageAlloc(0, pte.UXSTACKTOP-pte.PGSIZE, pte.P|pte.U|pte.W); err != nil {
			return fmt.Errorf("alloc exception stack: %w", err)
		}
		if err := p.sys.EnvSetPgfaultUpcall(0, pgfaultUpcall); err != nil {
			return fmt.Errorf("set pgfault upcall: %w", err)
		}
	}
	p.handler = h
	return nil
}

// pgfaultUpcall is the entry point the kernel reflects faults to in every
// environment using this runtime. It finds the faulting environment's own
// runtime and dispatches to the handler registered there.
func pgfaultUpcall(sys *kernel.Syscalls, utf kernel.UTrapframe) error {
	p, ok := sys.ProcLocal().(*Process)
	if !ok || p.handler == nil {
		return errNoHandler
	}
	return p.handler(p, utf)
}
