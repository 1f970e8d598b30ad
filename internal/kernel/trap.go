package kernel

import (
	"fmt"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/pte"
)

func hexva(va pte.VA) string { return fmt.Sprintf("%#x", uint32(va)) }

// Read copies len(buf) bytes at va into buf as the calling environment
// would with ordinary loads, raising page faults as needed.
func (s *Syscalls) Read(va pte.VA, buf []byte) error {
	return s.access(va, buf, false)
}

// Write stores buf at va as the calling environment would with ordinary
// stores. Writing a page that is not mapped writable raises a page fault
// that is reflected to the environment's upcall.
func (s *Syscalls) Write(va pte.VA, buf []byte) error {
	return s.access(va, buf, true)
}

func (s *Syscalls) access(va pte.VA, buf []byte, write bool) error {
	for len(buf) > 0 {
		n := min(len(buf), pte.PGSIZE-int(pte.PGOFF(va)))
		if err := s.accessPage(va, buf[:n], write); err != nil {
			return err
		}
		va += pte.VA(n)
		buf = buf[n:]
	}
	return nil
}

// accessPage performs an access that stays within one page. A fault is
// delivered at most once per access: if the upcall returns without making
// the access legal the environment is destroyed.
func (s *Syscalls) accessPage(va pte.VA, buf []byte, write bool) error {
	k := s.k
	delivered := false
	for {
		k.mu.Lock()
		cur, err := k.current(s.id)
		if err != nil {
			k.unlock()
			return err
		}
		ent := cur.pgdir.lookup(va)
		if va < pte.UTOP && ent.IsUser() && ent.IsPresent() && (!write || ent.IsWritable()) {
			page := k.pm.page(ent.PPN())
			off := pte.PGOFF(va)
			if write {
				copy(page[off:], buf)
			} else {
				copy(buf, page[off:])
			}
			k.unlock()
			return nil
		}

		code := FaultUser
		if ent.IsPresent() {
			code |= FaultPresent
		}
		if write {
			code |= FaultWrite
		}
		utf := UTrapframe{FaultVA: va, Err: code}

		if reason := k.undeliverable(cur, utf, delivered); reason != "" {
			k.logger.Error("user fault", "env", cur.id, "va", hexva(va), "fault", code.String(), "reason", reason)
			k.destroy(cur, reason)
			k.unlock()
			return fmt.Errorf("%w: %s fault at %s: %s", ErrKilled, code, hexva(va), reason)
		}
		upcall := cur.upcall
		k.queue(faultEvent(cur, utf))
		k.unlock()

		if err := upcall(s, utf); err != nil {
			k.mu.Lock()
			if e, cerr := k.current(s.id); cerr == nil {
				k.logger.Error("page fault handler failed", "env", e.id, "va", hexva(va), "error", err)
				k.destroy(e, "page fault handler failed")
			}
			k.unlock()
			return fmt.Errorf("%w: page fault at %s: %w", ErrKilled, hexva(va), err)
		}
		delivered = true
	}
}

// undeliverable returns why a fault cannot be reflected to cur's upcall,
// or "" if it can.
func (k *Kernel) undeliverable(cur *Env, utf UTrapframe, delivered bool) string {
	switch {
	case utf.FaultVA >= pte.UTOP:
		return "access above UTOP"
	case delivered:
		return "fault persists after upcall"
	case cur.upcall == nil:
		return "no page fault upcall"
	}
	xs := cur.pgdir.lookup(pte.UXSTACKTOP - pte.PGSIZE)
	if !xs.Perm().Has(pte.P | pte.U | pte.W) {
		return "exception stack not mapped"
	}
	return ""
}

func faultEvent(e *Env, utf UTrapframe) events.Event {
	ev := envEvent(events.PageFault, e)
	ev.Data["va"] = hexva(utf.FaultVA)
	ev.Data["cause"] = utf.Err.String()
	return ev
}
