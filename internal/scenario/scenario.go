// Package scenario runs a configured fork experiment on a kernel: the
// parent maps pages, forks, and then both sides perform their steps. The
// resulting report shows what each side read and how every page was mapped
// at each stage.
package scenario

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/kahiteam/cowfork/internal/config"
	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/lib"
	"github.com/kahiteam/cowfork/internal/pte"
)

// Stages at which page mappings are captured.
const (
	StageForked     = "forked"
	StageParentExit = "parent-exit"
	StageChildExit  = "child-exit"
)

// Options configures Run.
type Options struct {
	Logger *slog.Logger
	Bus    *events.Bus
}

// Access is one executed step.
type Access struct {
	Env   string `json:"env"`
	Op    string `json:"op"`
	Addr  string `json:"addr"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Mapping is the state of one scenario page in one environment.
type Mapping struct {
	Env    string `json:"env"`
	Addr   string `json:"addr"`
	Entry  string `json:"entry"`
	COW    bool   `json:"cow"`
	Digest string `json:"digest"`
}

// Snapshot groups the mappings captured at one stage.
type Snapshot struct {
	Stage    string    `json:"stage"`
	Mappings []Mapping `json:"mappings"`
}

// Report is the outcome of a scenario run.
type Report struct {
	Parent    string     `json:"parent"`
	Child     string     `json:"child,omitempty"`
	ForkError string     `json:"fork_error,omitempty"`
	Accesses  []Access   `json:"accesses"`
	Snapshots []Snapshot `json:"snapshots"`
	FreePages int        `json:"free_pages"`
}

// Find returns the mapping of addr in env captured at stage.
func (r *Report) Find(stage, env, addr string) (Mapping, bool) {
	for _, s := range r.Snapshots {
		if s.Stage != stage {
			continue
		}
		for _, m := range s.Mappings {
			if m.Env == env && m.Addr == addr {
				return m, true
			}
		}
	}
	return Mapping{}, false
}

type page struct {
	va       pte.VA
	writable bool
	fill     []byte
}

type step struct {
	op   string
	va   pte.VA
	data []byte
	n    int
}

type runner struct {
	k      *kernel.Kernel
	logger *slog.Logger
	pages  []page

	mu     sync.Mutex
	report Report
}

// Run boots a parent environment on k that performs sc, and schedules until
// every environment has exited.
func Run(ctx context.Context, k *kernel.Kernel, sc config.ScenarioConfig, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pages, err := parsePages(sc.Pages)
	if err != nil {
		return nil, err
	}
	parentSteps, err := parseSteps(sc.Parent)
	if err != nil {
		return nil, fmt.Errorf("parent: %w", err)
	}
	childSteps, err := parseSteps(sc.Child)
	if err != nil {
		return nil, fmt.Errorf("child: %w", err)
	}

	r := &runner{k: k, logger: logger, pages: pages}
	child := func(c *lib.Process) error {
		defer r.snapshot(StageChildExit, c.EnvID())
		return r.steps(c, "child", childSteps)
	}
	parent := func(p *lib.Process) error {
		if err := r.setup(p); err != nil {
			return err
		}
		id, err := p.Fork(child)
		if err != nil {
			r.mu.Lock()
			r.report.ForkError = err.Error()
			r.mu.Unlock()
			return err
		}
		r.mu.Lock()
		r.report.Child = id.String()
		r.mu.Unlock()
		r.snapshot(StageForked, p.EnvID(), id)
		defer r.snapshot(StageParentExit, p.EnvID(), id)
		return r.steps(p, "parent", parentSteps)
	}

	id, err := lib.Boot(k, parent, lib.Options{Logger: logger, Bus: opts.Bus})
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	r.report.Parent = id.String()
	logger.Info("scenario started", "parent", id, "pages", len(pages))

	if err := k.Run(ctx); err != nil {
		return nil, err
	}
	r.report.FreePages = k.FreePages()
	return &r.report, nil
}

// setup maps and fills the parent's pages. Read-only pages are filled while
// writable and then downgraded.
func (r *runner) setup(p *lib.Process) error {
	for _, pg := range r.pages {
		if err := p.Alloc(pg.va, pte.P|pte.U|pte.W); err != nil {
			return err
		}
		if len(pg.fill) > 0 {
			if err := p.Write(pg.va, pg.fill); err != nil {
				return err
			}
		}
		if !pg.writable {
			if err := p.Sys().PageMap(0, pg.va, 0, pg.va, pte.P|pte.U); err != nil {
				return fmt.Errorf("make %#x read-only: %w", uint32(pg.va), err)
			}
		}
	}
	return nil
}

func (r *runner) steps(p *lib.Process, who string, steps []step) error {
	for _, s := range steps {
		a := Access{Env: who, Op: s.op, Addr: hexva(s.va)}
		var err error
		switch s.op {
		case "read":
			a.Data, err = p.ReadString(s.va, s.n)
		case "write":
			a.Data = string(s.data)
			err = p.Write(s.va, s.data)
		}
		if err != nil {
			a.Error = err.Error()
		}
		r.mu.Lock()
		r.report.Accesses = append(r.report.Accesses, a)
		r.mu.Unlock()
		if err != nil {
			r.logger.Warn("scenario step failed", "env", p.EnvID(), "op", s.op, "addr", a.Addr, "error", err)
			return err
		}
	}
	return nil
}

// snapshot records how every scenario page is mapped in each of ids.
// Environments that no longer exist are skipped.
func (r *runner) snapshot(stage string, ids ...kernel.EnvID) {
	snap := Snapshot{Stage: stage}
	for _, id := range ids {
		who := "parent"
		if id.String() != r.report.Parent {
			who = "child"
		}
		for _, pg := range r.pages {
			ent, err := r.k.Lookup(id, pg.va)
			if err != nil {
				break
			}
			snap.Mappings = append(snap.Mappings, Mapping{
				Env:    who,
				Addr:   hexva(pg.va),
				Entry:  ent.String(),
				COW:    ent.IsCOW(),
				Digest: r.digest(id, pg.va, ent),
			})
		}
	}
	r.mu.Lock()
	r.report.Snapshots = append(r.report.Snapshots, snap)
	r.mu.Unlock()
}

// digest fingerprints the page's contents so reports show when two
// environments see the same bytes.
func (r *runner) digest(id kernel.EnvID, va pte.VA, ent pte.Entry) string {
	if !ent.IsPresent() {
		return "-"
	}
	data, err := r.k.Peek(id, va, pte.PGSIZE)
	if err != nil {
		return "-"
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func parsePages(cfgs []config.PageConfig) ([]page, error) {
	pages := make([]page, 0, len(cfgs))
	for i, c := range cfgs {
		va, err := config.ParseAddr(c.Addr)
		if err != nil {
			return nil, fmt.Errorf("pages[%d]: %w", i, err)
		}
		if !pte.Aligned(va) {
			return nil, fmt.Errorf("pages[%d]: %s is not page aligned", i, c.Addr)
		}
		pages = append(pages, page{
			va:       va,
			writable: c.Writable == nil || *c.Writable,
			fill:     []byte(c.Fill),
		})
	}
	return pages, nil
}

var errUnknownOp = errors.New("unknown op")

func parseSteps(cfgs []config.StepConfig) ([]step, error) {
	steps := make([]step, 0, len(cfgs))
	for i, c := range cfgs {
		va, err := config.ParseAddr(c.Addr)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		s := step{op: c.Op, va: va, data: []byte(c.Data), n: c.Len}
		switch c.Op {
		case "read":
			if s.n <= 0 {
				s.n = 4
			}
		case "write":
		default:
			return nil, fmt.Errorf("step %d: %w %q", i, errUnknownOp, c.Op)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func hexva(va pte.VA) string { return fmt.Sprintf("%#x", uint32(va)) }
