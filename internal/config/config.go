// Package config handles loading and validating cowfork configuration.
package config

// Config is the top-level cowfork configuration.
type Config struct {
	Kernel   KernelConfig   `toml:"kernel"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Scenario ScenarioConfig `toml:"scenario"`
}

// KernelConfig sizes the simulated machine.
type KernelConfig struct {
	NPages int `toml:"npages"`
	NEnv   int `toml:"nenv"`
}

// LogConfig holds logger settings. An empty format lets the CLI pick one
// based on the terminal.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ScenarioConfig describes the parent's initial memory and what parent and
// child do after the fork.
type ScenarioConfig struct {
	Pages  []PageConfig `toml:"pages"`
	Parent []StepConfig `toml:"parent"`
	Child  []StepConfig `toml:"child"`
}

// PageConfig is a page the parent maps before forking.
type PageConfig struct {
	Addr     string `toml:"addr"`
	Writable *bool  `toml:"writable"`
	Fill     string `toml:"fill"`
}

// StepConfig is one memory access performed after the fork.
type StepConfig struct {
	Op   string `toml:"op"`
	Addr string `toml:"addr"`
	Data string `toml:"data"`
	Len  int    `toml:"len"`
}
