package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"tracefold/internal/config"
	"tracefold/internal/logging"
	"tracefold/internal/pipeline"
	"tracefold/internal/prof"
)

// session holds the state shared by every command of one invocation.
type session struct {
	cfg     config.Config
	log     *slog.Logger
	quiet   bool
	timings bool
	ui      switchMode
	jobs    int

	stopTracing func(failed bool)
	profiler    *prof.Session
}

var current *session

func setupSession(cmd *cobra.Command, args []string) error {
	flags := cmd.Root().PersistentFlags()

	colorMode, _ := flags.GetString("color")
	if err := applyColorMode(colorMode); err != nil {
		return err
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flags.Changed("cache-dir") {
		cfg.Cache.Dir, _ = flags.GetString("cache-dir")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("strict") {
		cfg.Parse.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("jobs") {
		cfg.Run.Jobs, _ = flags.GetInt("jobs")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	s := &session{cfg: cfg, log: log, jobs: cfg.Run.Jobs}
	s.quiet, _ = flags.GetBool("quiet")
	s.timings, _ = flags.GetBool("timings")
	uiValue, _ := flags.GetString("ui")
	if s.ui, err = parseSwitch("--ui", uiValue); err != nil {
		return err
	}
	if s.jobs <= 0 {
		s.jobs = config.Default().Run.Jobs
	}
	if cfg.Path != "" {
		log.Debug("loaded configuration", "path", cfg.Path)
	}

	if s.stopTracing, err = setupTracing(cmd); err != nil {
		return err
	}
	if s.profiler, err = setupProfiling(cmd); err != nil {
		s.stopTracing(true)
		return err
	}
	current = s
	return nil
}

// close stops tracing and profiling, folding their errors into runErr.
func (s *session) close(runErr error) error {
	if s.stopTracing != nil {
		s.stopTracing(runErr != nil)
	}
	return multierr.Append(runErr, s.profiler.Stop())
}

func (s *session) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		CacheDir:                s.cfg.Cache.Dir,
		TempDir:                 s.cfg.Sort.TempDir,
		ChunkSize:               s.cfg.Sort.ChunkSize,
		SortCheckpointInterval:  s.cfg.Sort.CheckpointInterval,
		StoreCheckpointInterval: s.cfg.Store.CheckpointInterval,
		Strict:                  s.cfg.Parse.Strict,
		Logger:                  s.log,
	}
}

// switchMode is the value of an auto|on|off flag.
type switchMode string

const (
	switchAuto switchMode = "auto"
	switchOn   switchMode = "on"
	switchOff  switchMode = "off"
)

func parseSwitch(flag, value string) (switchMode, error) {
	switch m := switchMode(strings.ToLower(strings.TrimSpace(value))); m {
	case "":
		return switchAuto, nil
	case switchAuto, switchOn, switchOff:
		return m, nil
	default:
		return "", fmt.Errorf("invalid %s value %q (expected auto|on|off)", flag, value)
	}
}

// enabled resolves auto to whether every one of files is a terminal.
func (m switchMode) enabled(files ...*os.File) bool {
	switch m {
	case switchOn:
		return true
	case switchOff:
		return false
	}
	for _, f := range files {
		if !isTerminal(f) {
			return false
		}
	}
	return true
}

// useTUI reports whether progress goes through the bubbletea view, which
// draws on stderr while results go to stdout.
func (s *session) useTUI() bool {
	return !s.quiet && s.ui.enabled(os.Stdout, os.Stderr)
}

func applyColorMode(value string) error {
	mode, err := parseSwitch("--color", value)
	if err != nil {
		return err
	}
	color.NoColor = !mode.enabled(os.Stdout)
	return nil
}
