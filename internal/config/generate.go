package config

import (
	"fmt"
	"strings"
)

// DefaultConfigTOML is a complete, commented sample cowfork.toml.
const DefaultConfigTOML = `# cowfork configuration file

[kernel]
# npages = 1024                 # physical pages in the simulated machine
# nenv = 1024                   # environment table size (1-1024)

[log]
# level = "info"                # debug, info, warn, error
# format = ""                   # json, text (default: text on a terminal)

[metrics]
# listen = ""                   # serve /metrics here after the run, e.g. "127.0.0.1:9100"

# The parent maps these pages, then forks.
[[scenario.pages]]
addr = "0x800000"
# writable = true               # read-only pages are shared, not copy-on-write
fill = "AAAA"

# Steps the parent runs after fork returns the child's id.
[[scenario.parent]]
op = "write"
addr = "0x800000"
data = "BBBB"

[[scenario.parent]]
op = "read"
addr = "0x800000"
# len = 4

# Steps the child runs after fork returns 0.
[[scenario.child]]
op = "read"
addr = "0x800000"
`

// GenerateTOML returns DefaultConfigTOML with the machine size set from k.
// Zero fields stay commented out at their defaults. The result is checked
// with LoadBytes so init never writes a file validate would reject.
func GenerateTOML(k KernelConfig) (string, error) {
	out := DefaultConfigTOML
	if k.NPages != 0 {
		out = strings.Replace(out, "# npages = 1024 ", fmt.Sprintf("npages = %-8d", k.NPages), 1)
	}
	if k.NEnv != 0 {
		out = strings.Replace(out, "# nenv = 1024 ", fmt.Sprintf("nenv = %-10d", k.NEnv), 1)
	}
	if _, _, err := LoadBytes([]byte(out), "generated config"); err != nil {
		return "", err
	}
	return out, nil
}
