package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// command is one CLI subcommand. Flags is called once per invocation so
// the closure it returns sees freshly parsed values.
type command struct {
	Name    string
	Summary string
	Usage   string
	// Flags registers the command flags and returns its run function.
	Flags func(fs *pflag.FlagSet) func(e *env, args []string) error
}

func dispatch(commands []*command, e *env, args []string) error {
	if len(args) == 0 || isHelpFlag(args[0]) {
		printHelp(e.out, commands)
		if len(args) == 0 {
			return errors.New("command required")
		}

		return nil
	}

	name := args[0]
	for _, c := range commands {
		if c.Name != name {
			continue
		}

		fs := pflag.NewFlagSet(c.Name, pflag.ContinueOnError)
		fs.SetOutput(io.Discard)
		e.addGlobalFlags(fs)
		run := c.Flags(fs)
		if err := fs.Parse(args[1:]); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				printCommandHelp(e.out, c, fs)

				return nil
			}

			return fmt.Errorf("%s: %w\n\nusage: %s %s", c.Name, err, binaryName, c.Usage)
		}
		return run(e, fs.Args())
	}

	return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.", name, binaryName)
}

func printHelp(w io.Writer, commands []*command) {
	fmt.Fprintf(w, "usage: %s <command> [flags]\n\ncommands:\n", binaryName)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Summary)
	}
	_ = tw.Flush()
}

func printCommandHelp(w io.Writer, c *command, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "usage: %s %s\n\n%s\n\nflags:\n", binaryName, c.Usage, c.Summary)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func isHelpFlag(arg string) bool {
	switch strings.TrimSpace(arg) {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}
