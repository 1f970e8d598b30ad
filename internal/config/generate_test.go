package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigIsValidTOML(t *testing.T) {
	cfg, warnings, err := LoadBytes([]byte(DefaultConfigTOML), "generated")
	if err != nil {
		t.Fatalf("generated config is invalid: %v", err)
	}
	if len(warnings) > 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(cfg.Scenario.Pages) != 1 || len(cfg.Scenario.Parent) != 2 || len(cfg.Scenario.Child) != 1 {
		t.Errorf("unexpected scenario shape: %+v", cfg.Scenario)
	}
}

func TestDefaultConfigContainsAllSections(t *testing.T) {
	for _, section := range []string{
		"[kernel]",
		"[log]",
		"[metrics]",
		"[[scenario.pages]]",
		"[[scenario.parent]]",
		"[[scenario.child]]",
	} {
		if !strings.Contains(DefaultConfigTOML, section) {
			t.Errorf("missing section %q in generated config", section)
		}
	}
}

func TestGenerateTOMLSetsMachineSize(t *testing.T) {
	out, err := GenerateTOML(KernelConfig{NPages: 64, NEnv: 8})
	if err != nil {
		t.Fatal(err)
	}
	cfg, warnings, err := LoadBytes([]byte(out), "generated")
	if err != nil || len(warnings) > 0 {
		t.Fatalf("err = %v, warnings = %v", err, warnings)
	}
	if cfg.Kernel.NPages != 64 || cfg.Kernel.NEnv != 8 {
		t.Errorf("kernel = %+v", cfg.Kernel)
	}
	if !strings.Contains(out, "# physical pages") {
		t.Errorf("comments lost:\n%s", out)
	}
}

func TestGenerateTOMLZeroKeepsDefaults(t *testing.T) {
	out, err := GenerateTOML(KernelConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if out != DefaultConfigTOML {
		t.Error("zero machine size should produce the sample unchanged")
	}
}

func TestGenerateTOMLRejectsInvalidSize(t *testing.T) {
	_, err := GenerateTOML(KernelConfig{NPages: 1})
	if err == nil || !strings.Contains(err.Error(), "npages must be >= 2") {
		t.Fatalf("err = %v", err)
	}
}
