package kernel

import (
	"fmt"
	"log/slog"

	"github.com/kahiteam/cowfork/internal/pte"
)

// EnvID identifies an environment. Zero names the calling environment in
// system calls; negative values are error codes.
type EnvID int32

const (
	logNEnv     = 10
	maxEnv      = 1 << logNEnv
	envGenShift = 12
)

// envx returns the table slot of id.
func envx(id EnvID) int { return int(id) & (maxEnv - 1) }

func (id EnvID) String() string { return fmt.Sprintf("%08x", int32(id)) }

func (id EnvID) LogValue() slog.Value { return slog.StringValue(id.String()) }

// Trapframe is the saved execution state of an environment. Resume
// continues execution in the environment; ret is the value the system call
// that created it returns there, always 0 for a freshly forked child.
type Trapframe struct {
	Resume func(sys *Syscalls, ret EnvID) error
}

// FaultCode describes the cause of a page fault.
type FaultCode uint32

const (
	FaultPresent FaultCode = 1 << 0 // the page was present
	FaultWrite   FaultCode = 1 << 1 // the access was a write
	FaultUser    FaultCode = 1 << 2 // the access came from user mode
)

func (c FaultCode) IsWrite() bool   { return c&FaultWrite != 0 }
func (c FaultCode) IsPresent() bool { return c&FaultPresent != 0 }

func (c FaultCode) String() string {
	s := "read"
	if c.IsWrite() {
		s = "write"
	}
	if c.IsPresent() {
		return s + " protection"
	}
	return s + " not-present"
}

// UTrapframe is the fault record delivered to a page-fault upcall.
type UTrapframe struct {
	FaultVA pte.VA
	Err     FaultCode
}

// Upcall is a page-fault entry point. It runs synchronously in the
// faulting environment; a non-nil error destroys the environment.
type Upcall func(sys *Syscalls, utf UTrapframe) error

// Env is one environment: an address space plus its run state.
type Env struct {
	id     EnvID
	parent EnvID
	status Status
	pgdir  pgdir
	tf     Trapframe
	upcall Upcall
	local  any
}

func (k *Kernel) envAlloc(parent EnvID) (*Env, error) {
	for i, e := range k.envs {
		if e != nil && e.status != Free {
			continue
		}
		var gen EnvID
		if e != nil {
			gen = e.id &^ (1<<envGenShift - 1)
		}
		gen += 1 << envGenShift
		if gen <= 0 {
			gen = 1 << envGenShift
		}
		ne := &Env{
			id:     gen | EnvID(i),
			parent: parent,
			status: Free,
		}
		k.envs[i] = ne
		return ne, nil
	}
	return nil, ENOFREEENV
}

// envid2env resolves id relative to cur. With checkperm set the target
// must be cur itself or one of its immediate children.
func (k *Kernel) envid2env(cur *Env, id EnvID, checkperm bool) (*Env, error) {
	if id == 0 && cur != nil {
		return cur, nil
	}
	if id <= 0 {
		return nil, EBADENV
	}
	e := k.envs[envx(id)%len(k.envs)]
	if e == nil || e.status == Free || e.id != id {
		return nil, EBADENV
	}
	if checkperm && e != cur && e.parent != cur.id {
		return nil, EBADENV
	}
	return e, nil
}

// current returns the live environment behind a system call handle.
func (k *Kernel) current(id EnvID) (*Env, error) {
	if id <= 0 {
		return nil, ErrKilled
	}
	e := k.envs[envx(id)%len(k.envs)]
	if e == nil || e.status == Free || e.id != id {
		return nil, ErrKilled
	}
	return e, nil
}

// destroy frees e's address space and returns its slot to the table.
func (k *Kernel) destroy(e *Env, reason string) {
	e.pgdir.free(k.pm)
	e.upcall = nil
	e.local = nil
	e.tf = Trapframe{}
	if err := e.transition(Free); err != nil {
		k.logger.Error("destroy", "env", e.id, "error", err)
		return
	}
	k.logger.Info("env destroyed", "env", e.id, "reason", reason)
	k.queue(envDestroyedEvent(e, reason))
}
