package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// knownKeys lists the keys each table accepts. Array tables are keyed
// without an index, the way toml reports undecoded keys.
var knownKeys = map[string][]string{
	"kernel":          {"npages", "nenv"},
	"log":             {"level", "format"},
	"metrics":         {"listen"},
	"scenario":        {"pages", "parent", "child"},
	"scenario.pages":  {"addr", "writable", "fill"},
	"scenario.parent": {"op", "addr", "data", "len"},
	"scenario.child":  {"op", "addr", "data", "len"},
}

// Load reads a TOML config file, applies defaults, validates, and returns
// the config along with any warnings about keys it ignored.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read config: %s: %w", path, err)
	}
	return LoadBytes(data, path)
}

// Defaults returns the built-in configuration: a 1024-page machine running
// the classic fork scenario.
func Defaults() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// LoadBytes parses TOML from raw bytes. The path argument is used only for
// messages.
func LoadBytes(data []byte, path string) (*Config, []string, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}

	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, unknownKey(key))
	}
	// An explicit scenario replaces the built-in one wholesale, so a
	// partial one is usually a mistake.
	if len(cfg.Scenario.Pages) > 0 && len(cfg.Scenario.Parent) == 0 && len(cfg.Scenario.Child) == 0 {
		warnings = append(warnings, "scenario.pages set without parent or child steps; the run only forks")
	}

	ApplyDefaults(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, warnings, fmt.Errorf("config validation failed in %s (npages=%d, nenv=%d):\n  %s",
			path, cfg.Kernel.NPages, cfg.Kernel.NEnv, strings.Join(msgs, "\n  "))
	}

	return &cfg, warnings, nil
}

// unknownKey describes an undecoded key, naming the keys its table does
// accept when the table itself is known.
func unknownKey(key toml.Key) string {
	if len(key) == 0 {
		return "unknown config key"
	}
	table := strings.Join(key[:len(key)-1], ".")
	name := key[len(key)-1]
	if known, ok := knownKeys[table]; ok && !slices.Contains(known, name) {
		return fmt.Sprintf("unknown config key: %s (%s accepts %s)",
			strings.Join(key, "."), table, strings.Join(known, ", "))
	}
	return fmt.Sprintf("unknown config key: %s", strings.Join(key, "."))
}
