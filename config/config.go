// Package config handles screwtape.toml / screwtape.yaml runner configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/containerd/errdefs"
	"gopkg.in/yaml.v3"

	"github.com/MarcinKonowalczyk/screwtape/st"
)

// Names the shim looks for next to a program entrypoint, in order.
var Filenames = []string{"screwtape.toml", "screwtape.yaml", "screwtape.yml"}

// File is the on-disk shape of the configuration.
type File struct {
	Interval        string           `toml:"interval" yaml:"interval"`
	Policy          string           `toml:"policy" yaml:"policy"`
	MaxSteps        uint64           `toml:"max_steps" yaml:"max_steps"`
	TapeFromOpcodes bool             `toml:"tape_from_opcodes" yaml:"tape_from_opcodes"`
	Opcodes         map[string]int32 `toml:"opcodes" yaml:"opcodes"`
}

// Config is the validated runner configuration.
type Config struct {
	Interval        time.Duration
	Policy          st.Policy
	MaxSteps        uint64
	TapeFromOpcodes bool
	Opcodes         st.Opcodes

	// Path is the file the configuration was loaded from, if any.
	Path string
}

func Default() *Config {
	return &Config{
		Policy:  st.Wrap,
		Opcodes: st.DefaultOpcodes(),
	}
}

// Load reads a configuration file. The format follows the extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unsupported config format %q", ext))
	}

	c, err := f.Config()
	if err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Find returns the first config file present in dir, or "" when there is none.
func Find(dir string) string {
	for _, name := range Filenames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Config validates the file and fills in defaults.
func (f *File) Config() (*Config, error) {
	c := Default()

	if f.Interval != "" {
		d, err := time.ParseDuration(f.Interval)
		if err != nil {
			return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("interval %q: %v", f.Interval, err))
		}
		if d < 0 {
			return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("interval %q is negative", f.Interval))
		}
		c.Interval = d
	}

	policy, ok := st.ParsePolicy(f.Policy)
	if !ok {
		return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("unknown policy %q", f.Policy))
	}
	c.Policy = policy
	c.MaxSteps = f.MaxSteps
	c.TapeFromOpcodes = f.TapeFromOpcodes

	if len(f.Opcodes) > 0 {
		opcodes, err := ParseOpcodes(f.Opcodes)
		if err != nil {
			return nil, err
		}
		c.Opcodes = opcodes
	}
	return c, nil
}

// ParseOpcodes converts a character-keyed table into st.Opcodes. Every key
// must be exactly one character.
func ParseOpcodes(table map[string]int32) (st.Opcodes, error) {
	opcodes := make(st.Opcodes, len(table))
	for key, value := range table {
		if utf8.RuneCountInString(key) != 1 {
			return nil, errdefs.ErrInvalidArgument.WithMessage(fmt.Sprintf("opcode key %q is not a single character", key))
		}
		r, _ := utf8.DecodeRuneInString(key)
		opcodes[r] = value
	}
	return opcodes, nil
}

// Options turns the configuration into interpreter options.
func (c *Config) Options() []st.Option {
	return []st.Option{st.WithPolicy(c.Policy)}
}
