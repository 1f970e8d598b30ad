package kernel

import (
	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/pte"
)

// Syscalls is the system call interface of one environment. An EnvID of 0
// passed to any call names the calling environment itself.
type Syscalls struct {
	k  *Kernel
	id EnvID
}

// Kernel returns the kernel the handle belongs to.
func (s *Syscalls) Kernel() *Kernel { return s.k }

// GetEnvID returns the calling environment's id.
func (s *Syscalls) GetEnvID() EnvID { return s.id }

func checkva(va pte.VA) error {
	if va >= pte.UTOP || !pte.Aligned(va) {
		return EINVAL
	}
	return nil
}

// PageAlloc allocates a zeroed page and maps it at va in env with perm,
// replacing any page already mapped there.
func (s *Syscalls) PageAlloc(env EnvID, va pte.VA, perm pte.Perm) error {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return err
	}
	e, err := k.envid2env(cur, env, true)
	if err != nil {
		return err
	}
	if err := checkva(va); err != nil {
		return err
	}
	if !perm.ValidSyscall() {
		return EINVAL
	}
	ppn, err := k.pm.alloc()
	if err != nil {
		k.logger.Warn("page_alloc: out of memory", "env", e.id, "va", hexva(va))
		return err
	}
	e.pgdir.insert(k.pm, va, ppn, perm)
	k.logger.Debug("page_alloc", "env", e.id, "va", hexva(va), "ppn", ppn, "perm", perm.String())
	return nil
}

// PageMap maps the page at srcva in srcenv at dstva in dstenv with perm.
// perm may only include W if the source mapping is writable.
func (s *Syscalls) PageMap(srcenv EnvID, srcva pte.VA, dstenv EnvID, dstva pte.VA, perm pte.Perm) error {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return err
	}
	src, err := k.envid2env(cur, srcenv, true)
	if err != nil {
		return err
	}
	dst, err := k.envid2env(cur, dstenv, true)
	if err != nil {
		return err
	}
	if err := checkva(srcva); err != nil {
		return err
	}
	if err := checkva(dstva); err != nil {
		return err
	}
	ent := src.pgdir.lookup(srcva)
	if !ent.IsPresent() {
		return EINVAL
	}
	if !perm.ValidSyscall() {
		return EINVAL
	}
	if perm.IsWritable() && !ent.IsWritable() {
		return EINVAL
	}
	dst.pgdir.insert(k.pm, dstva, ent.PPN(), perm)
	k.logger.Debug("page_map",
		"src", src.id, "srcva", hexva(srcva),
		"dst", dst.id, "dstva", hexva(dstva),
		"ppn", ent.PPN(), "perm", perm.String())
	return nil
}

// PageUnmap removes the mapping at va in env, if any.
func (s *Syscalls) PageUnmap(env EnvID, va pte.VA) error {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return err
	}
	e, err := k.envid2env(cur, env, true)
	if err != nil {
		return err
	}
	if err := checkva(va); err != nil {
		return err
	}
	e.pgdir.remove(k.pm, va)
	k.logger.Debug("page_unmap", "env", e.id, "va", hexva(va))
	return nil
}

// Exofork creates a child environment with an empty address space. The
// child starts NotRunnable and resumes from tf with a return value of 0
// once it is scheduled. The caller gets the child's id.
func (s *Syscalls) Exofork(tf Trapframe) (EnvID, error) {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return EnvID(EBADENV), err
	}
	child, err := k.envAlloc(cur.id)
	if err != nil {
		k.logger.Warn("exofork failed", "env", cur.id, "error", err)
		return EnvID(Code(err)), err
	}
	child.tf = tf
	if err := child.transition(NotRunnable); err != nil {
		return EnvID(EUNSPECIFIED), err
	}
	k.logger.Debug("exofork", "env", cur.id, "child", child.id)
	k.queue(envEvent(events.EnvCreated, child))
	return child.id, nil
}

// EnvSetStatus sets env's status to Runnable or NotRunnable.
func (s *Syscalls) EnvSetStatus(env EnvID, status Status) error {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return err
	}
	e, err := k.envid2env(cur, env, true)
	if err != nil {
		return err
	}
	if status != Runnable && status != NotRunnable {
		return EINVAL
	}
	if e.status == status {
		return nil
	}
	if err := e.transition(status); err != nil {
		return EINVAL
	}
	if status == Runnable {
		k.queue(envEvent(events.EnvRunnable, e))
	}
	k.logger.Debug("env_set_status", "env", e.id, "status", status.String())
	return nil
}

// EnvSetPgfaultUpcall sets the entry point page faults in env are
// reflected to.
func (s *Syscalls) EnvSetPgfaultUpcall(env EnvID, upcall Upcall) error {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return err
	}
	e, err := k.envid2env(cur, env, true)
	if err != nil {
		return err
	}
	e.upcall = upcall
	return nil
}

// EnvDestroy destroys env and frees its address space.
func (s *Syscalls) EnvDestroy(env EnvID) error {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return err
	}
	e, err := k.envid2env(cur, env, true)
	if err != nil {
		return err
	}
	k.destroy(e, "env_destroy")
	return nil
}

// UVPT returns the caller's page-table entry for virtual page pn. It is
// the read-only page-table view mapped into every environment.
func (s *Syscalls) UVPT(pn uint32) pte.Entry {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return 0
	}
	return cur.pgdir.lookup(pte.PageVA(pn))
}

// UVPD returns the caller's page-directory entry at index pdx.
func (s *Syscalls) UVPD(pdx uint32) pte.Entry {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return 0
	}
	return cur.pgdir.pde(pdx)
}

// SetProcLocal stores the user runtime's per-environment state. It models
// a global variable in the environment's own memory.
func (s *Syscalls) SetProcLocal(v any) {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	if cur, err := k.current(s.id); err == nil {
		cur.local = v
	}
}

// ProcLocal returns the value stored by SetProcLocal, or nil.
func (s *Syscalls) ProcLocal() any {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	cur, err := k.current(s.id)
	if err != nil {
		return nil
	}
	return cur.local
}
