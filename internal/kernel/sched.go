package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/pte"
)

// newEnv allocates an environment with a single user stack page mapped
// just below USTACKTOP and moves it to status.
func (k *Kernel) newEnv(tf Trapframe, status Status) (*Env, error) {
	e, err := k.envAlloc(0)
	if err != nil {
		return nil, err
	}
	ppn, err := k.pm.alloc()
	if err != nil {
		return nil, err
	}
	e.pgdir.insert(k.pm, pte.USTACKTOP-pte.PGSIZE, ppn, pte.P|pte.U|pte.W)
	e.tf = tf
	if err := e.transition(status); err != nil {
		e.pgdir.free(k.pm)
		return nil, err
	}
	k.queue(envEvent(events.EnvCreated, e))
	if status == Runnable {
		k.queue(envEvent(events.EnvRunnable, e))
	}
	return e, nil
}

// Create creates a runnable environment that starts executing tf when
// scheduled.
func (k *Kernel) Create(tf Trapframe) (EnvID, error) {
	k.mu.Lock()
	defer k.unlock()
	e, err := k.newEnv(tf, Runnable)
	if err != nil {
		return EnvID(Code(err)), fmt.Errorf("env create: %w", err)
	}
	k.logger.Info("env created", "env", e.id)
	return e.id, nil
}

// Bootstrap creates an environment that is already running and returns
// its system call handle, so the caller can act as that environment
// directly instead of through the scheduler.
func (k *Kernel) Bootstrap() (*Syscalls, error) {
	k.mu.Lock()
	defer k.unlock()
	e, err := k.newEnv(Trapframe{}, Running)
	if err != nil {
		return nil, fmt.Errorf("env bootstrap: %w", err)
	}
	k.logger.Info("env bootstrapped", "env", e.id)
	return &Syscalls{k: k, id: e.id}, nil
}

// Exit destroys the calling environment.
func (s *Syscalls) Exit() {
	k := s.k
	k.mu.Lock()
	defer k.unlock()
	if cur, err := k.current(s.id); err == nil {
		k.destroy(cur, "exit")
	}
}

// RunEnv runs the runnable environment id until its trapframe returns,
// then destroys it. It returns the error the environment finished with.
func (k *Kernel) RunEnv(ctx context.Context, id EnvID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k.mu.Lock()
	e, err := k.envid2env(nil, id, false)
	if err != nil {
		k.unlock()
		return err
	}
	if e.status != Runnable {
		k.unlock()
		return fmt.Errorf("run env %s: status %s: %w", id, e.status, EINVAL)
	}
	if err := e.transition(Running); err != nil {
		k.unlock()
		return err
	}
	tf := e.tf
	k.queue(envEvent(events.EnvRunning, e))
	k.unlock()

	var runErr error
	if tf.Resume != nil {
		runErr = tf.Resume(&Syscalls{k: k, id: id}, 0)
	}

	k.mu.Lock()
	if cur, err := k.current(id); err == nil {
		k.destroy(cur, "exit")
	}
	k.unlock()
	return runErr
}

// pickRunnable returns the next runnable environment after the
// round-robin cursor.
func (k *Kernel) pickRunnable() (EnvID, bool) {
	k.mu.Lock()
	defer k.unlock()
	n := len(k.envs)
	for i := range n {
		e := k.envs[(k.next+i)%n]
		if e != nil && e.status == Runnable {
			k.next = (k.next + i + 1) % n
			return e.id, true
		}
	}
	return 0, false
}

// Run schedules runnable environments one at a time until none remain or
// ctx is done. Environments that finish with an error are logged; they do
// not stop the scheduler.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := k.pickRunnable()
		if !ok {
			return nil
		}
		if err := k.RunEnv(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			k.logger.Error("env exited with error", "env", id, "error", err)
		}
	}
}
