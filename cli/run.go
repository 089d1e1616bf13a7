// Package cli wires the sandboxrun flag surface spec.md §6 defines onto
// executor.Run, in the teacher's urfave/cli/v3 idiom (options/options.go):
// a single cli.Command, a helper that builds a typed request from the
// parsed flags, and an Action that does the work and prints the result.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sandboxrun/sandboxrun/config"
	"github.com/sandboxrun/sandboxrun/executor"
	"github.com/sandboxrun/sandboxrun/logger"
	"github.com/sandboxrun/sandboxrun/runner"
	"github.com/sandboxrun/sandboxrun/version"
	"github.com/urfave/cli/v3"
)

// exitTimeout is the process exit code for a guest that missed its
// deadline, per spec.md §6.
const exitTimeout = 124

// buildJobFromCLI resolves the run subcommand's flags against the loaded
// Settings, falling through to Settings.Defaults wherever a flag wasn't
// given explicitly — mirroring cli.py's `args.X or cfg.defaults.get(...)`
// fallback chain from the original implementation.
func buildJobFromCLI(c *cli.Command, settings *config.Settings) executor.JobRequest {
	timeout := int(c.Int("timeout"))
	if timeout <= 0 {
		timeout = settings.Defaults.TimeoutS
	}

	return executor.JobRequest{
		JobDir:         settings.JobDir(c.String("job")),
		Entry:          c.String("entry"),
		TimeoutS:       timeout,
		NoexecWork:     c.Bool("noexec-work") || settings.Defaults.NoexecWork,
		EnableLoopback: c.Bool("enable-loopback") || settings.Defaults.EnableLoopback,
		BindFullEtc:    c.Bool("bind-full-etc") || settings.Defaults.BindFullEtc,
	}
}

// exitCodeFor maps a RunResult onto the process exit code spec.md §6
// requires: 0 on guest success, the guest's own code on guest failure,
// 124 on timeout, 1 on sandbox error.
func exitCodeFor(result executor.RunResult) int {
	switch result.Status {
	case executor.StatusFinished:
		if result.Returncode != nil {
			return *result.Returncode
		}
		return 0
	case executor.StatusTimeout:
		return exitTimeout
	default:
		return 1
	}
}

// Command builds the "run" subcommand.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Usage:   "Execute a job inside an isolated single-use sandbox.",
		Version: version.Version(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "job",
				Usage:    "Job `ID`, resolved as <jobs_dir>/<ID>",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "entry",
				Usage:    "Entry script `FILE`, relative to the job directory",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Wall-clock deadline in `SEC` (defaults to the settings file)",
			},
			&cli.BoolFlag{
				Name:  "noexec-work",
				Usage: "Mount /work with MS_NOEXEC",
			},
			&cli.BoolFlag{
				Name:  "enable-loopback",
				Usage: "Bring up the loopback interface inside the sandbox's network namespace",
			},
			&cli.BoolFlag{
				Name:  "bind-full-etc",
				Usage: "Bind the host's full /etc instead of the narrow hosts/nsswitch.conf/ld.so.cache/localtime set",
			},
			&cli.StringFlag{
				Name:  "conf",
				Usage: "Settings file `PATH` (defaults to $SANDBOX_CONF or conf/sandbox.yaml)",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.CreateLogger(&logger.LoggerOpts{LogLevel: 0, LogFormat: logger.LogText})

			settings, err := config.LoadSettings(c.String("conf"))
			if err != nil {
				log.Error("failed to load settings", "err", err)
				return cli.Exit(err.Error(), 1)
			}
			limits, err := config.LoadLimits(config.DefaultLimitsPath)
			if err != nil {
				log.Error("failed to load limits", "err", err)
				return cli.Exit(err.Error(), 1)
			}

			job := buildJobFromCLI(c, settings)
			run := runner.Interpreted{InterpreterPath: settings.Interpreter}

			result := executor.Run(job, settings, limits, run)
			for _, warning := range result.CleanupWarnings {
				log.Warn("cleanup warning", "detail", warning)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return cli.Exit(fmt.Sprintf("encode result: %v", err), 1)
			}

			return cli.Exit("", exitCodeFor(result))
		},
	}
}
