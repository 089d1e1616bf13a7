package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/inhies/go-bytesize"
	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"gopkg.in/yaml.v3"
)

// MemoryLimits mirrors the `memory` block of the limits file. Max/SwapMax
// are kept as raw strings — the cgroup manager writes them verbatim to the
// kernel, which accepts decimal byte counts, the literal "max", or a human
// suffix such as "256M". This package only validates them early; it never
// rewrites them.
type MemoryLimits struct {
	Max      string `yaml:"max"`
	SwapMax  string `yaml:"swap_max"`
	OOMGroup *bool  `yaml:"oom_group"`
}

// CPULimits mirrors the `cpu` block. Max is the raw "<quota_us> <period_us>"
// string passed straight to cpu.max; Weight is 1..10000 passed to
// cpu.weight. Either, both, or neither may be set.
type CPULimits struct {
	Max    string `yaml:"max"`
	Weight int    `yaml:"weight"`
}

// PidsLimits mirrors the `pids` block.
type PidsLimits struct {
	Max int `yaml:"max"`
}

// IOLimits mirrors the `io` block.
type IOLimits struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
	RBytes  string `yaml:"rbytes"`
	WBytes  string `yaml:"wbytes"`
}

// Limits is the cgroup enablement gate plus per-controller knobs. Immutable
// once loaded.
type Limits struct {
	Enabled bool         `yaml:"enabled"`
	Memory  MemoryLimits `yaml:"memory"`
	CPU     CPULimits    `yaml:"cpu"`
	Pids    PidsLimits   `yaml:"pids"`
	IO      IOLimits     `yaml:"io"`
}

// DisabledLimits returns the zero-value limits with cgroups gated off, the
// fallback the original implementation uses when the limits file is absent.
func DisabledLimits() *Limits {
	return &Limits{Enabled: false}
}

// isSizeToken reports whether s is a size value the kernel understands
// verbatim: the literal "max", a decimal byte count, or a suffixed string
// bytesize.Parse accepts. Empty strings are valid — they mean "caller did
// not set this field".
func isSizeToken(s string) error {
	if s == "" || s == "max" {
		return nil
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return nil
	}
	if _, err := bytesize.Parse(s); err != nil {
		return fmt.Errorf("%q: %w", s, err)
	}
	return nil
}

// LoadLimits reads the limits YAML document at path. A missing file is not
// an error: it yields DisabledLimits(), matching the original's behavior
// of running without resource caps when no limits file has been deployed.
func LoadLimits(path string) (*Limits, error) {
	if path == "" {
		path = DefaultLimitsPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DisabledLimits(), nil
		}
		return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, fmt.Sprintf("read %s", path), err)
	}

	var l Limits
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, fmt.Sprintf("parse %s", path), err)
	}

	if !l.Enabled {
		return &l, nil
	}

	if err := isSizeToken(l.Memory.Max); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, "memory.max", err)
	}
	if err := isSizeToken(l.Memory.SwapMax); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, "memory.swap_max", err)
	}
	if l.CPU.Weight != 0 && (l.CPU.Weight < 1 || l.CPU.Weight > 10000) {
		return nil, sandboxerr.New(sandboxerr.ConfigInvalid, fmt.Sprintf("cpu.weight out of range [1,10000]: %d", l.CPU.Weight))
	}
	if l.IO.Enabled {
		if l.IO.Device == "" {
			return nil, sandboxerr.New(sandboxerr.ConfigInvalid, "io.enabled requires io.device")
		}
		if err := isSizeToken(l.IO.RBytes); err != nil {
			return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, "io.rbytes", err)
		}
		if err := isSizeToken(l.IO.WBytes); err != nil {
			return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, "io.wbytes", err)
		}
	}

	return &l, nil
}

// OOMGroupOrDefault returns the configured oom_group flag, defaulting to
// true when unset — per spec, honor the limits file and default true.
func (m MemoryLimits) OOMGroupOrDefault() bool {
	if m.OOMGroup == nil {
		return true
	}
	return *m.OOMGroup
}

// MemoryMaxOrDefault returns the configured memory.max, defaulting to
// "256M" when unset, matching the original's default.
func (m MemoryLimits) MemoryMaxOrDefault() string {
	if m.Max == "" {
		return "256M"
	}
	return m.Max
}

// SwapMaxOrDefault returns the configured memory.swap_max, defaulting to
// "0" (no swap) when unset.
func (m MemoryLimits) SwapMaxOrDefault() string {
	if m.SwapMax == "" {
		return "0"
	}
	return m.SwapMax
}
