package config

import (
	"errors"
	"fmt"
	"os"
)

// EnvVar names the environment variable that points at a config file.
const EnvVar = "COWFORK_CONFIG"

// DefaultSearchPaths is the ordered list of config file paths to try.
var DefaultSearchPaths = []string{
	"./cowfork.toml",
	"/etc/cowfork/cowfork.toml",
	"/etc/cowfork.toml",
}

// Source records where a resolved config came from.
type Source int

const (
	SourceBuiltin Source = iota // no file; built-in defaults
	SourceFlag                  // -c flag
	SourceEnv                   // COWFORK_CONFIG
	SourceSearch                // first hit in DefaultSearchPaths
)

func (s Source) String() string {
	switch s {
	case SourceFlag:
		return "flag"
	case SourceEnv:
		return "env"
	case SourceSearch:
		return "search"
	}
	return "builtin"
}

// ErrNoConfig is returned by Resolve when no file was named and none of
// DefaultSearchPaths exists.
var ErrNoConfig = errors.New("no config file found")

// Resolve finds the config file path by checking, in order:
//  1. Explicit path from -c flag (if non-empty)
//  2. COWFORK_CONFIG environment variable
//  3. DefaultSearchPaths
//
// A named file that does not exist is an error. Finding nothing returns
// SourceBuiltin and an error wrapping ErrNoConfig.
func Resolve(explicit string) (string, Source, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", SourceFlag, fmt.Errorf("cannot read config: %s: %w", explicit, err)
		}
		return explicit, SourceFlag, nil
	}

	if env := os.Getenv(EnvVar); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", SourceEnv, fmt.Errorf("cannot read config from %s: %s: %w", EnvVar, env, err)
		}
		return env, SourceEnv, nil
	}

	for _, p := range DefaultSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p, SourceSearch, nil
		}
	}

	return "", SourceBuiltin, fmt.Errorf("%w; searched %v", ErrNoConfig, DefaultSearchPaths)
}

// LoadOrDefault resolves and loads the config. When nothing was named and
// the search finds no file, it returns Defaults. The returned path is
// empty in that case.
func LoadOrDefault(explicit string) (*Config, string, []string, error) {
	path, _, err := Resolve(explicit)
	if errors.Is(err, ErrNoConfig) {
		return Defaults(), "", nil, nil
	}
	if err != nil {
		return nil, "", nil, err
	}
	cfg, warnings, err := Load(path)
	return cfg, path, warnings, err
}
