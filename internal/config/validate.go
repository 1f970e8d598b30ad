package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kahiteam/cowfork/internal/logging"
	"github.com/kahiteam/cowfork/internal/pte"
)

var validFormats = map[string]bool{
	"": true, "json": true, "text": true,
}

var validOps = map[string]bool{
	"read": true, "write": true,
}

// maxEnv is the size of the kernel's environment table.
const maxEnv = 1024

// ParseAddr parses a user virtual address written in Go integer syntax,
// such as "0x800000".
func ParseAddr(s string) (pte.VA, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return pte.VA(v), nil
}

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Kernel.NPages < 2 {
		errs = append(errs, fmt.Errorf("kernel: npages must be >= 2, got %d", cfg.Kernel.NPages))
	}
	if cfg.Kernel.NEnv < 1 || cfg.Kernel.NEnv > maxEnv {
		errs = append(errs, fmt.Errorf("kernel: nenv must be between 1 and %d, got %d", maxEnv, cfg.Kernel.NEnv))
	}
	if err := logging.ValidateLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if !validFormats[strings.ToLower(cfg.Log.Format)] {
		errs = append(errs, fmt.Errorf("log: format must be json or text, got %q", cfg.Log.Format))
	}

	seen := map[pte.VA]bool{}
	for i, p := range cfg.Scenario.Pages {
		prefix := fmt.Sprintf("scenario.pages[%d]", i)
		va, err := ParseAddr(p.Addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			continue
		}
		switch {
		case !pte.Aligned(va):
			errs = append(errs, fmt.Errorf("%s: addr %s is not page aligned", prefix, p.Addr))
		case va < pte.UTEMP || va >= pte.USTACKTOP-pte.PGSIZE:
			errs = append(errs, fmt.Errorf("%s: addr %s is outside [%#x, %#x)", prefix, p.Addr,
				uint32(pte.UTEMP), uint32(pte.USTACKTOP-pte.PGSIZE)))
		case va == pte.PFTEMP:
			errs = append(errs, fmt.Errorf("%s: addr %s is the fault handler's scratch page", prefix, p.Addr))
		case seen[va]:
			errs = append(errs, fmt.Errorf("%s: addr %s mapped twice", prefix, p.Addr))
		}
		seen[va] = true
		if len(p.Fill) > pte.PGSIZE {
			errs = append(errs, fmt.Errorf("%s: fill longer than a page", prefix))
		}
	}

	sides := []struct {
		name  string
		steps []StepConfig
	}{
		{"parent", cfg.Scenario.Parent},
		{"child", cfg.Scenario.Child},
	}
	for _, side := range sides {
		for i, s := range side.steps {
			prefix := fmt.Sprintf("scenario.%s[%d]", side.name, i)
			if !validOps[s.Op] {
				errs = append(errs, fmt.Errorf("%s: op must be read or write, got %q", prefix, s.Op))
			}
			va, err := ParseAddr(s.Addr)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			} else if va >= pte.UTOP {
				errs = append(errs, fmt.Errorf("%s: addr %s is above UTOP", prefix, s.Addr))
			}
			if s.Op == "write" && s.Data == "" {
				errs = append(errs, fmt.Errorf("%s: write needs data", prefix))
			}
			if s.Len < 0 || s.Len > pte.PGSIZE {
				errs = append(errs, fmt.Errorf("%s: len must be between 0 and %d, got %d", prefix, pte.PGSIZE, s.Len))
			}
		}
	}

	return errs
}
