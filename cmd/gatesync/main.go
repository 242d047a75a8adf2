// Package main is the gate operator CLI.
//
//	gatesync login -user ana -password x
//	gatesync scan -day 7 -token abc123
//	gatesync listen -day 7 -device /dev/ttyACM0
//	gatesync flush
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kimhsiao/gatesync/internal/app"
	"github.com/kimhsiao/gatesync/internal/config"
	"github.com/kimhsiao/gatesync/internal/errors"
)

// Version is set at build time
var Version = "0.1.0"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// command is one subcommand. run receives the remaining arguments.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *cliEnv, args []string) error
}

var commands = []command{
	{"login", "log in and store the tokens", runLogin},
	{"logout", "forget the stored tokens", runLogout},
	{"scan", "submit one scan, queuing it if the backend is unreachable", runScan},
	{"listen", "submit every token read from a scanner device or stdin", runListen},
	{"flush", "send the offline queue", runFlush},
	{"queue", "show (or clear) the offline queue", runQueue},
	{"status", "show endpoint, session and queue state", runStatus},
	{"endpoint", "change the backend base URL and tenant", runEndpoint},
	{"version", "print the version", runVersion},
}

// cliEnv carries the process surroundings so commands can be tested.
type cliEnv struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	// loadConfig builds the bootstrap configuration.
	loadConfig func() (*config.Config, error)
	// newApp wires the client; tests swap in fakes.
	newApp func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

func (e *cliEnv) open(ctx context.Context) (*app.App, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "configuration", err)
	}
	return e.newApp(ctx, cfg)
}

// usageError marks a bad invocation; it exits with status 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &cliEnv{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		loadConfig: config.Load,
		newApp: func(ctx context.Context, cfg *config.Config) (*app.App, error) {
			return app.New(ctx, cfg)
		},
	}
	os.Exit(run(ctx, env, os.Args[1:]))
}

func run(ctx context.Context, env *cliEnv, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(env.stderr)
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		err := c.run(ctx, env, args[1:])
		return report(env.stderr, err)
	}

	fmt.Fprintf(env.stderr, "gatesync: unknown command %q\n\n", args[0])
	usage(env.stderr)
	return exitUsage
}

func report(w io.Writer, err error) int {
	if err == nil || err == flag.ErrHelp {
		return exitOK
	}
	if ue, ok := err.(usageError); ok {
		fmt.Fprintf(w, "gatesync: %s\n", ue.msg)
		return exitUsage
	}
	fmt.Fprintf(w, "gatesync: %v\n", err)
	if errors.NeedsLogin(err) {
		fmt.Fprintln(w, "Session expired or invalid. Run: gatesync login -user <user> -password <password>")
	}
	return exitError
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "gatesync %s: field check-in client\n\nUsage:\n  gatesync <command> [flags]\n\nCommands:\n", Version)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w, "\nConfiguration is read from GATE_* environment variables and ./.env.")
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(env *cliEnv, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

// parse wraps flag errors as usage errors.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return err
		}
		return usageError{err.Error()}
	}
	if fs.NArg() > 0 {
		return usageError{fmt.Sprintf("%s: unexpected argument %q", fs.Name(), fs.Arg(0))}
	}
	return nil
}
