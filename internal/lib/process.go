// Package lib is the user-space runtime linked into every environment. It
// provides copy-on-write fork on top of the kernel's page mapping system
// calls and the page-fault handler that makes it work.
package lib

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/pte"
)

// Syscaller is the system call surface the runtime needs from the kernel.
// *kernel.Syscalls implements it.
type Syscaller interface {
	GetEnvID() kernel.EnvID
	PageAlloc(env kernel.EnvID, va pte.VA, perm pte.Perm) error
	PageMap(srcenv kernel.EnvID, srcva pte.VA, dstenv kernel.EnvID, dstva pte.VA, perm pte.Perm) error
	PageUnmap(env kernel.EnvID, va pte.VA) error
	Exofork(tf kernel.Trapframe) (kernel.EnvID, error)
	EnvSetStatus(env kernel.EnvID, status kernel.Status) error
	EnvSetPgfaultUpcall(env kernel.EnvID, upcall kernel.Upcall) error
	UVPT(pn uint32) pte.Entry
	UVPD(pdx uint32) pte.Entry
	SetProcLocal(v any)
	ProcLocal() any
	Read(va pte.VA, buf []byte) error
	Write(va pte.VA, buf []byte) error
}

// Program is code that runs inside an environment.
type Program func(p *Process) error

// Options configures a Process.
type Options struct {
	Logger *slog.Logger
	Bus    *events.Bus
}

// Process is the runtime state of one environment. It lives in the
// environment's own memory: a forked child starts with a copy of its
// parent's Process, stale environment id included.
type Process struct {
	sys     Syscaller
	thisenv kernel.EnvID
	handler Handler

	logger *slog.Logger
	bus    *events.Bus
}

// New attaches a runtime to the environment behind sys.
func New(sys Syscaller, opts Options) *Process {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Process{
		sys:     sys,
		thisenv: sys.GetEnvID(),
		logger:  logger,
		bus:     opts.Bus,
	}
	sys.SetProcLocal(p)
	return p
}

// Boot creates a runnable environment that runs main with a fresh runtime
// once the kernel schedules it.
func Boot(k *kernel.Kernel, main Program, opts Options) (kernel.EnvID, error) {
	return k.Create(kernel.Trapframe{
		Resume: func(sys *kernel.Syscalls, _ kernel.EnvID) error {
			return main(New(sys, opts))
		},
	})
}

// EnvID returns the environment id the runtime believes it runs in.
func (p *Process) EnvID() kernel.EnvID { return p.thisenv }

// Sys returns the system call interface of the environment.
func (p *Process) Sys() Syscaller { return p.sys }

// Alloc maps a fresh zeroed page at va.
func (p *Process) Alloc(va pte.VA, perm pte.Perm) error {
	if err := p.sys.PageAlloc(0, va, perm); err != nil {
		return fmt.Errorf("alloc %#x: %w", uint32(va), err)
	}
	return nil
}

// Read loads len(buf) bytes at va.
func (p *Process) Read(va pte.VA, buf []byte) error {
	return p.sys.Read(va, buf)
}

// ReadString loads n bytes at va and returns them as a string.
func (p *Process) ReadString(va pte.VA, n int) (string, error) {
	buf := make([]byte, n)
	if err := p.sys.Read(va, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Write stores data at va.
func (p *Process) Write(va pte.VA, data []byte) error {
	return p.sys.Write(va, data)
}

// emit publishes an event tagged with the current environment.
func (p *Process) emit(typ events.EventType, kv ...string) {
	if p.bus == nil {
		return
	}
	data := map[string]string{"env": p.thisenv.String()}
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	p.bus.Publish(events.Event{Type: typ, Data: data})
}
