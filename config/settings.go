// Package config loads the two read-only configuration blobs the sandbox
// executor consumes: Settings (paths and defaults) and Limits (cgroup
// knobs). Both are YAML documents, grounded on sandbox/config.py and
// sandbox/config_limits.py from the original implementation.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandboxrun/sandboxrun/sandboxerr"
	"gopkg.in/yaml.v3"
)

// DefaultSettingsPath is used when neither --conf nor $SANDBOX_CONF is set.
const DefaultSettingsPath = "conf/sandbox.yaml"

// DefaultLimitsPath mirrors the original's fixed limits file location. It
// is not overridden by $SANDBOX_CONF; only the settings path is.
const DefaultLimitsPath = "conf/limits.yaml"

// EnvConfOverride is the environment variable that overrides the settings
// file location.
const EnvConfOverride = "SANDBOX_CONF"

// Defaults holds per-run executor flag defaults, as loaded from the
// settings file's `defaults` block.
type Defaults struct {
	TimeoutS       int  `yaml:"timeout_s"`
	NoexecWork     bool `yaml:"noexec_work"`
	EnableLoopback bool `yaml:"enable_loopback"`
	BindFullEtc    bool `yaml:"bind_full_etc"`
}

// Settings is the `rootfs`/`jobs_dir`/`defaults` configuration blob.
// Immutable once loaded.
type Settings struct {
	Rootfs   string `yaml:"rootfs"`
	JobsDir  string `yaml:"jobs_dir"`
	Defaults Defaults `yaml:"defaults"`

	// Interpreter is the in-sandbox path to the interpreter binary the
	// runner execs against the job's entry file. Not part of spec.md's
	// Settings shape; generalized from the original's hardcoded
	// "/usr/bin/python3" since nothing in this repository assumes Python
	// specifically.
	Interpreter string `yaml:"interpreter"`
}

type rawSettings struct {
	Rootfs      string   `yaml:"rootfs"`
	JobsDir     string   `yaml:"jobs_dir"`
	Defaults    Defaults `yaml:"defaults"`
	Interpreter string   `yaml:"interpreter"`
}

// defaultInterpreter matches the original implementation's hardcoded path.
const defaultInterpreter = "/usr/bin/python3"

// settingsPath resolves the settings file location: an explicit path wins,
// then $SANDBOX_CONF, then DefaultSettingsPath.
func settingsPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(EnvConfOverride); v != "" {
		return v
	}
	return DefaultSettingsPath
}

// LoadSettings reads and validates the settings YAML document at path (or
// its resolved default). Missing required keys (`rootfs`, `jobs_dir`) are
// rejected with ConfigInvalid. Unknown keys are ignored for forward
// compatibility.
func LoadSettings(path string) (*Settings, error) {
	resolved := settingsPath(path)

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, fmt.Sprintf("read %s", resolved), err)
	}

	var raw rawSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, sandboxerr.Wrap(sandboxerr.ConfigInvalid, fmt.Sprintf("parse %s", resolved), err)
	}

	if raw.Rootfs == "" {
		return nil, sandboxerr.New(sandboxerr.ConfigInvalid, "missing required key: rootfs")
	}
	if raw.JobsDir == "" {
		return nil, sandboxerr.New(sandboxerr.ConfigInvalid, "missing required key: jobs_dir")
	}
	if !filepath.IsAbs(raw.Rootfs) {
		return nil, sandboxerr.New(sandboxerr.ConfigInvalid, fmt.Sprintf("rootfs must be absolute: %q", raw.Rootfs))
	}
	if !filepath.IsAbs(raw.JobsDir) {
		return nil, sandboxerr.New(sandboxerr.ConfigInvalid, fmt.Sprintf("jobs_dir must be absolute: %q", raw.JobsDir))
	}

	s := &Settings{
		Rootfs:      raw.Rootfs,
		JobsDir:     raw.JobsDir,
		Interpreter: raw.Interpreter,
		Defaults: Defaults{
			TimeoutS:       raw.Defaults.TimeoutS,
			NoexecWork:     raw.Defaults.NoexecWork,
			EnableLoopback: raw.Defaults.EnableLoopback,
			BindFullEtc:    raw.Defaults.BindFullEtc,
		},
	}
	if s.Defaults.TimeoutS <= 0 {
		s.Defaults.TimeoutS = 8
	}
	if s.Interpreter == "" {
		s.Interpreter = defaultInterpreter
	}

	return s, nil
}

// JobDir resolves the absolute path of a job's source tree.
func (s *Settings) JobDir(id string) string {
	return filepath.Join(s.JobsDir, id)
}
