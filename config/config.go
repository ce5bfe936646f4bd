// Package config holds the startup settings of a runtime and the demo that
// drives it. Settings come from compile-time defaults, optionally
// overridden by an HCL or JSON file, and finally by command-line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"coretask/constants"
	"coretask/coreset"
	"coretask/profiling"
	"coretask/tasking"
)

// ErrInvalid is returned for settings that cannot start a runtime.
var ErrInvalid = errors.New("config: invalid setting")

// Config is the full set of startup settings. Attributes missing from a
// file keep their default.
type Config struct {
	// Cores is the number of cores to run on, taken from the front of the
	// available set. Zero means every available core.
	Cores int `hcl:"cores,optional"`
	// CoreList is an explicit list such as "0-3,6". Mutually exclusive with
	// Cores.
	CoreList string `hcl:"core_list,optional"`

	ArrayLength int  `hcl:"array_length,optional"`
	ArenaSlots  int  `hcl:"arena_slots,optional"`
	SpinBudget  int  `hcl:"spin_budget,optional"`
	Profiling   bool `hcl:"profiling,optional"`
	QueueLength bool `hcl:"queue_length,optional"`

	// Num is the number of dummy tasks a driver spawns per round.
	Num int `hcl:"num,optional"`
	// Count is the number of driver rounds per core.
	Count int `hcl:"count,optional"`

	TracePath  string `hcl:"trace_path,optional"`
	SQLitePath string `hcl:"sqlite_path,optional"`
}

// Default returns the compile-time defaults.
func Default() Config {
	return Config{
		ArrayLength: constants.TaskingArrayLength,
		ArenaSlots:  constants.ArenaSlots,
		SpinBudget:  constants.SpinBudget,
		Profiling:   true,
		QueueLength: constants.QueueLengthTracing,
		Num:         8,
		Count:       4,
		TracePath:   "trace.json",
	}
}

// Load reads path on top of the defaults. The format follows the file
// extension: ".hcl" or ".json".
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.Merge(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Merge decodes path into c, overriding only the attributes it sets, and
// validates the result.
func (c *Config) Merge(path string) error {
	parser := hclparse.NewParser()

	var (
		file  *hcl.File
		diags hcl.Diagnostics
	)
	switch filepath.Ext(path) {
	case ".hcl":
		file, diags = parser.ParseHCLFile(path)
	case ".json":
		file, diags = parser.ParseJSONFile(path)
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalid, path)
	}
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	if diags := gohcl.DecodeBody(file.Body, nil, c); diags.HasErrors() {
		return fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}
	return c.Validate()
}

// Validate rejects settings no runtime can start with.
func (c Config) Validate() error {
	switch {
	case c.Cores < 0:
		return fmt.Errorf("%w: cores %d", ErrInvalid, c.Cores)
	case c.Cores != 0 && c.CoreList != "":
		return fmt.Errorf("%w: cores and core_list are mutually exclusive", ErrInvalid)
	case c.ArrayLength <= 0:
		return fmt.Errorf("%w: array_length %d", ErrInvalid, c.ArrayLength)
	case c.ArenaSlots <= 0 || uint64(c.ArenaSlots) >= 1<<32-1:
		return fmt.Errorf("%w: arena_slots %d", ErrInvalid, c.ArenaSlots)
	case c.SpinBudget <= 0:
		return fmt.Errorf("%w: spin_budget %d", ErrInvalid, c.SpinBudget)
	case c.Num < 0:
		return fmt.Errorf("%w: num %d", ErrInvalid, c.Num)
	case c.Count <= 0:
		return fmt.Errorf("%w: count %d", ErrInvalid, c.Count)
	}
	return nil
}

// CoreSet resolves Cores or CoreList against the cores this process may
// run on.
func (c Config) CoreSet() (coreset.CoreSet, error) {
	if c.CoreList != "" {
		return coreset.Parse(c.CoreList)
	}
	n := c.Cores
	if n == 0 {
		n = len(coreset.Available())
	}
	return coreset.Build(n)
}

// RuntimeOptions maps the settings onto tasking.Options.
func (c Config) RuntimeOptions() tasking.Options {
	return tasking.Options{
		ArenaSlots: c.ArenaSlots,
		SpinBudget: c.SpinBudget,
		Profiling:  c.Profiling,
		Trace: profiling.Options{
			Capacity:    c.ArrayLength,
			QueueLength: c.QueueLength,
		},
	}
}
