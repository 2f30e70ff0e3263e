// Package app wires configuration, logging, resolution and execution into
// the buildany command.
//
// Run is the whole program behind main: it loads the layered configuration
// for the project directory, resolves the build tool, runs the requested
// verb (once, or on every change in watch mode) and maps the result to an
// exit status.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/buildany/internal/builder"
	"github.com/dshills/buildany/internal/catalog"
	"github.com/dshills/buildany/internal/config"
	"github.com/dshills/buildany/internal/logging"
	"github.com/dshills/buildany/internal/runner"
	"github.com/dshills/buildany/internal/watch"
)

// Command is what the user asked for: one of the verbs, or an inspection.
type Command string

const (
	CommandBuild  Command = "build"
	CommandRun    Command = "run"
	CommandTest   Command = "test"
	CommandDetect Command = "detect"
	CommandList   Command = "list"
)

// Commands returns every command in help order.
func Commands() []Command {
	return []Command{CommandBuild, CommandRun, CommandTest, CommandDetect, CommandList}
}

// ParseCommand validates a command name.
func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Commands() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown command %q", ErrUsage, s)
}

// Verb returns the catalog verb for c, or false for detect and list.
func (c Command) Verb() (catalog.Verb, bool) {
	v, err := catalog.ParseVerb(string(c))
	return v, err == nil
}

// Options holds everything the command line decided.
type Options struct {
	Command Command

	// Dir is the project directory. Empty means $PWD, then the working
	// directory.
	Dir string

	// Tool forces a tool, overriding marker detection and config.
	Tool string

	// ConfigPath replaces the user and project config files.
	ConfigPath string

	// Watch re-runs the verb whenever the project changes.
	Watch bool

	// LogLevel overrides config and environment.
	LogLevel string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// App is one invocation.
type App struct {
	opts     Options
	cfg      *config.Config
	logger   zerolog.Logger
	resolver *builder.Resolver
	override catalog.Tool
	dir      string
}

// Run executes opts.Command and returns the process exit status. Every
// failure that is not the child's own exit is reported on opts.Stderr.
func Run(ctx context.Context, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	a := &App{opts: opts, logger: zerolog.Nop()}
	err := a.run(ctx)
	if err != nil && !childFailure(err) {
		fmt.Fprintf(opts.Stderr, "buildany: %v\n", err)
	}
	code := ExitCode(err)
	a.logger.Debug().Err(err).Int("code", code).Msg("done")
	return code
}

func (a *App) run(ctx context.Context) error {
	if err := a.setup(); err != nil {
		return err
	}

	switch a.opts.Command {
	case CommandList:
		return a.list()
	case CommandDetect:
		return a.detect()
	}

	verb, _ := a.opts.Command.Verb()
	b, err := a.resolver.Resolve(a.dir, a.override)
	if err != nil {
		return err
	}
	a.logger.Info().Stringer("builder", b).Str("verb", string(verb)).Msg("resolved")

	if a.opts.Watch {
		return a.watch(ctx, b, verb)
	}
	r := a.newRunner()
	defer r.Close()
	return a.execute(ctx, r, b, verb)
}

// setup validates the flags, then loads config and logging and builds the
// resolver.
func (a *App) setup() error {
	cmd, err := ParseCommand(string(a.opts.Command))
	if err != nil {
		return err
	}
	a.opts.Command = cmd
	if _, isVerb := cmd.Verb(); a.opts.Watch && !isVerb {
		return fmt.Errorf("%w: -watch needs build, run or test", ErrUsage)
	}

	flagTool := catalog.ToolUnknown
	if a.opts.Tool != "" {
		if flagTool, err = catalog.ParseTool(a.opts.Tool); err != nil {
			return fmt.Errorf("%w: %w", builder.ErrUnknownTool, err)
		}
	}
	var flagLevel zerolog.Level
	if a.opts.LogLevel != "" {
		lvl, ok := logging.ParseLevel(a.opts.LogLevel)
		if !ok {
			return fmt.Errorf("%w: invalid log level %q", ErrUsage, a.opts.LogLevel)
		}
		flagLevel = lvl
	}

	a.dir, err = ResolveDir(a.opts.Dir, os.Getenv)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Options{Path: a.opts.ConfigPath, ProjectDir: a.dir})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	a.cfg = cfg

	lc := logging.DefaultConfig(logging.ProfileRuntime)
	lc.Out = a.opts.Stderr
	if _, ok := a.opts.Stderr.(*os.File); !ok {
		lc.NoColor = true
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		lc.Level = lvl
	}
	logging.ApplyEnv(&lc)
	if a.opts.LogLevel != "" {
		lc.Level = flagLevel
	}
	a.logger = logging.New(lc)
	a.logger.Debug().Strs("sources", cfg.Sources).Str("dir", a.dir).Msg("configuration loaded")

	cat, err := cfg.Apply(catalog.Default())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	a.resolver = builder.NewResolver(cat, builder.WithLogger(a.logger))

	a.override = flagTool
	if a.override == catalog.ToolUnknown {
		if a.override, err = cfg.OverrideTool(); err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	return nil
}

func (a *App) newRunner() *runner.Runner {
	return runner.New(
		runner.WithStdin(a.opts.Stdin),
		runner.WithStdout(a.opts.Stdout),
		runner.WithStderr(a.opts.Stderr),
		runner.WithLogger(a.logger),
	)
}

// execute runs verb once under the configured timeout. A child that exits
// non-zero is returned as *runner.ExitError.
func (a *App) execute(ctx context.Context, r *runner.Runner, b *builder.Builder, verb catalog.Verb) error {
	if timeout := a.cfg.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := r.Execute(ctx, b, verb)
	if err != nil {
		return err
	}
	a.logger.Debug().
		Str("id", out.ID).
		Int("exit", out.ExitCode).
		Int64("stdout", out.StdoutBytes).
		Int64("stderr", out.StderrBytes).
		Dur("took", out.Duration()).
		Msg("finished")
	return out.Err()
}

// watch runs verb now and after every change until ctx ends. Run is
// restarted on change; build and test finish before the next run starts.
func (a *App) watch(ctx context.Context, b *builder.Builder, verb catalog.Verb) error {
	r := a.newRunner()
	defer r.Close()

	fmt.Fprintf(a.opts.Stderr, "buildany: watching %s (%s %s)\n", b.Dir, b.Tool, verb)
	err := watch.Run(ctx, b.Dir, func(ctx context.Context, changed []string) error {
		err := a.execute(ctx, r, b, verb)
		if ctx.Err() != nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(a.opts.Stderr, "buildany: %s %s: %v\n", b.Tool, verb, err)
		} else {
			fmt.Fprintf(a.opts.Stderr, "buildany: %s %s: ok\n", b.Tool, verb)
		}
		return err
	},
		watch.WithRestart(verb == catalog.VerbRun),
		watch.WithDebounce(a.cfg.Watch.Debounce.Std()),
		watch.WithIgnore(a.cfg.Watch.Ignore...),
		watch.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// ResolveDir picks the project directory: arg, else an absolute $PWD, else
// the working directory.
func ResolveDir(arg string, getenv func(string) string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	if pwd := getenv("PWD"); pwd != "" && filepath.IsAbs(pwd) {
		return pwd, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("%w: %w", builder.ErrNotADirectory, err)
	}
	return wd, nil
}
