// veeposync is a terminal client for the Veepo realtime sync core: it tails
// live notifications and messages, sends messages, searches and ranks
// providers, and toggles provider availability.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/veepo/veeposync/internal/app"
)

const (
	binaryName = "veeposync"
	tokenEnv   = "VEEPO_ACCESS_TOKEN"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, app.Options{}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, opts app.Options) error {
	e := &env{ctx: ctx, out: out, opts: opts}
	defer e.close()

	return dispatch(commands(), e, args)
}

// env carries what every command needs. The runtime is created lazily so
// commands like version never touch the network or the cache.
type env struct {
	ctx       context.Context
	out       io.Writer
	opts      app.Options
	token     string
	logLevel  string
	logFormat string
	rt        *app.Runtime
}

func (e *env) addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&e.token, "token", os.Getenv(tokenEnv), "access token of the signed-in user (default $"+tokenEnv+")")
	fs.StringVar(&e.logLevel, "log-level", "", "override the configured log level")
	fs.StringVar(&e.logFormat, "log-format", "", "override the configured log format (text or json)")
}

func (e *env) runtime() (*app.Runtime, error) {
	if e.rt != nil {
		return e.rt, nil
	}

	session, err := app.SessionFromToken(e.token)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w (set --token or $%s)", err, tokenEnv)
	}
	rt, err := app.InitializeWith(e.ctx, session, e.opts)
	if err != nil {
		return nil, err
	}
	level, format := strings.TrimSpace(e.logLevel), strings.TrimSpace(e.logFormat)
	if level != "" || format != "" {
		logCfg := rt.CurrentConfig().Logging
		if level != "" {
			logCfg.Level = level
		}
		if format != "" {
			logCfg.Format = format
		}
		if err := rt.LogManager.Configure(logCfg, rt.Paths.LogFile); err != nil {
			_ = rt.Close()

			return nil, err
		}
	}
	e.rt = rt

	return rt, nil
}

func (e *env) close() {
	if e.rt != nil {
		_ = e.rt.Close()
		e.rt = nil
	}
}

func (e *env) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e.out, format, args...)
}
