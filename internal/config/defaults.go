package config

// Default sizes for the simulated machine.
const (
	DefaultNPages = 1024
	DefaultNEnv   = 1024
)

// defaultReadLen is the number of bytes a read step loads when len is unset.
const defaultReadLen = 4

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Kernel.NPages == 0 {
		cfg.Kernel.NPages = DefaultNPages
	}
	if cfg.Kernel.NEnv == 0 {
		cfg.Kernel.NEnv = DefaultNEnv
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// An empty scenario runs the classic demonstration.
	s := &cfg.Scenario
	if len(s.Pages) == 0 && len(s.Parent) == 0 && len(s.Child) == 0 {
		s.Pages = []PageConfig{{Addr: "0x800000", Fill: "AAAA"}}
		s.Parent = []StepConfig{
			{Op: "write", Addr: "0x800000", Data: "BBBB"},
			{Op: "read", Addr: "0x800000"},
		}
		s.Child = []StepConfig{{Op: "read", Addr: "0x800000"}}
	}

	for i := range s.Pages {
		if s.Pages[i].Writable == nil {
			t := true
			s.Pages[i].Writable = &t
		}
	}
	for _, steps := range [][]StepConfig{s.Parent, s.Child} {
		for i := range steps {
			if steps[i].Op == "read" && steps[i].Len == 0 {
				steps[i].Len = defaultReadLen
			}
		}
	}
}
