// Package main is the entry point for buildany.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/buildany/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// errExit stops the program after -help or -version.
var errExit = errors.New("exit")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stdout, os.Stderr)
	if errors.Is(err, errExit) {
		return app.ExitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildany: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'buildany -help' for usage.\n")
		return app.ExitUsage
	}
	opts.Stdin = os.Stdin
	opts.Stdout = os.Stdout
	opts.Stderr = os.Stderr

	// A terminal Ctrl-C also reaches the child directly; the context makes
	// sure it is reaped either way.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, opts)
}

func parseFlags(args []string, stdout, stderr io.Writer) (app.Options, error) {
	var opts app.Options
	var showVersion bool
	var showHelp bool

	fs := flag.NewFlagSet("buildany", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.Tool, "tool", "", "Force a build tool instead of detecting one")
	fs.StringVar(&opts.Tool, "t", "", "Force a build tool (shorthand)")
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	fs.BoolVar(&opts.Watch, "watch", false, "Re-run on file changes")
	fs.BoolVar(&opts.Watch, "w", false, "Re-run on file changes (shorthand)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error, off)")
	fs.BoolVar(&showVersion, "version", false, "Show version information")
	fs.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	fs.BoolVar(&showHelp, "help", false, "Show help message")
	fs.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "buildany - run the project's own build tool\n\n")
		fmt.Fprintf(stderr, "Usage: buildany [options] <build|run|test|detect|list> [dir]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  buildany test                Test the project in the current directory\n")
		fmt.Fprintf(stderr, "  buildany build ./service     Build another directory\n")
		fmt.Fprintf(stderr, "  buildany -t make run         Use make even if other markers match\n")
		fmt.Fprintf(stderr, "  buildany -w test             Re-run the tests on every change\n")
		fmt.Fprintf(stderr, "  buildany detect              Show what would run\n")
	}

	// Flags may follow the command and directory.
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return opts, errExit
			}
			return opts, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	if showHelp {
		fs.Usage()
		return opts, errExit
	}

	if showVersion {
		fmt.Fprintf(stdout, "buildany %s\n", version)
		fmt.Fprintf(stdout, "Commit: %s\n", commit)
		fmt.Fprintf(stdout, "Built: %s\n", date)
		return opts, errExit
	}

	switch len(positional) {
	case 0:
		return opts, errors.New("missing command")
	case 1, 2:
	default:
		return opts, fmt.Errorf("unexpected arguments %q", positional[2:])
	}

	cmd, err := app.ParseCommand(positional[0])
	if err != nil {
		return opts, err
	}
	opts.Command = cmd
	if len(positional) == 2 {
		opts.Dir = positional[1]
	}
	return opts, nil
}
