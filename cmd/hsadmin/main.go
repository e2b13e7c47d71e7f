// ABOUTME: Admin CLI for Matrix homeservers running Synapse
// ABOUTME: Registers servers via .well-known and manages their users through the admin API

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/hsadmin/internal/config"
	"github.com/2389/hsadmin/internal/grant"
	"github.com/2389/hsadmin/internal/matrixadmin"
	"github.com/2389/hsadmin/internal/operator"
	"github.com/2389/hsadmin/internal/registry"
)

const banner = `
  _              _           _
 | |__  ___ __ _| |_ __ ___ (_)_ __
 | '_ \/ __/ _' | | '_ ' _ \| | '_ \
 | | | \__ \ (_| | | | | | | | | | |
 |_| |_|___/\__,_|_|_| |_| |_|_|_| |_|
`

// app carries everything a command needs.
type app struct {
	cfg    *config.Config
	store  registry.Store
	svc    *operator.Service
	logger *slog.Logger
	in     *bufio.Reader
	out    io.Writer
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "init":
		err = cmdInit(bufio.NewReader(os.Stdin), os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	case "servers", "users", "whoami":
		err = runWithApp(ctx, cmd, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		if hint := hintFor(err); hint != "" {
			color.Yellow("  %s\n", hint)
		}
		os.Exit(1)
	}
}

func runWithApp(ctx context.Context, cmd string, args []string) error {
	a, err := newApp(bufio.NewReader(os.Stdin), os.Stdout)
	if err != nil {
		return err
	}
	defer a.store.Close()

	switch cmd {
	case "servers":
		return a.cmdServers(ctx, args)
	case "users":
		return a.cmdUsers(ctx, args)
	default:
		return a.cmdWhoAmI(ctx, args)
	}
}

// newApp loads configuration and wires the registry, client and grants.
func newApp(in *bufio.Reader, out io.Writer) (*app, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	store, err := registry.NewSQLiteStore(cfg.Registry.Path, cfg.Registry.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	client := matrixadmin.NewClient(matrixadmin.ClientConfig{
		HTTPClient:       &http.Client{Timeout: cfg.Client.Timeout},
		Logger:           logger,
		MediaConcurrency: cfg.Client.MediaConcurrency,
		DeviceName:       cfg.Client.DeviceName,
	})

	return &app{
		cfg:   cfg,
		store: store,
		svc: operator.New(operator.Config{
			Store:   store,
			Client:  client,
			Granter: buildGranter(cfg.Grants, in),
			Logger:  logger,
		}),
		logger: logger,
		in:     in,
		out:    out,
	}, nil
}

// buildGranter allows configured hosts and, on a terminal, asks about the rest.
func buildGranter(cfg config.GrantsConfig, in *bufio.Reader) grant.Granter {
	chain := grant.Chain{grant.NewAllowList(cfg.AllowedHosts)}
	if cfg.Prompt && term.IsTerminal(int(os.Stdin.Fd())) {
		chain = append(chain, grant.NewPrompt(in, os.Stderr))
	}
	return chain
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// hintFor suggests a next step for errors the operator can fix.
func hintFor(err error) string {
	switch {
	case errors.Is(err, matrixadmin.KindCredentialExpired), errors.Is(err, operator.ErrNoToken):
		return "Run: hsadmin servers edit <server> to log in again"
	case errors.Is(err, matrixadmin.KindInvalidCredentials):
		return "Check the username and password; the account must be a server admin"
	case errors.Is(err, grant.ErrDenied):
		return "Add the host to [grants] allowed_hosts in " + config.Path()
	case errors.Is(err, registry.ErrSealed):
		return "Set [registry] passphrase (or HSADMIN_PASSPHRASE) to the passphrase used when the token was stored"
	case errors.Is(err, operator.ErrIdentityUnknown):
		return "Run: hsadmin servers check <server> to see why your account cannot be resolved"
	}
	return ""
}

func printUsage(w io.Writer) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hsadmin <command> [args]")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init                            Write a starter config file")
	fmt.Fprintln(w, "  servers                         List registered servers")
	fmt.Fprintln(w, "  servers add                     Register a server (discover + log in)")
	fmt.Fprintln(w, "  servers edit <server>           Re-discover and log in again")
	fmt.Fprintln(w, "  servers remove <server>         Forget a server")
	fmt.Fprintln(w, "  servers check [server]          Verify tokens and show server versions")
	fmt.Fprintln(w, "  servers export [--include-tokens] [--output file]")
	fmt.Fprintln(w, "  servers import <file> [--replace]")
	fmt.Fprintln(w, "  users list <server> [--from cursor] [--all]")
	fmt.Fprintln(w, "  users create <server> <username> [--display-name name]")
	fmt.Fprintln(w, "  users lock <server> <user>      Lock an account")
	fmt.Fprintln(w, "  users unlock <server> <user>    Unlock an account")
	fmt.Fprintln(w, "  users remove <server> <user>    Delete media and deactivate (asks first)")
	fmt.Fprintln(w, "  whoami <server>                 Show the account a server is registered with")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  <server> is a list number, an id (or unique prefix) or a unique domain.")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  HSADMIN_CONFIG        Config file path (default: ~/.config/hsadmin/config.toml)")
	fmt.Fprintln(w, "  HSADMIN_PASSPHRASE    Referenced by the starter config to seal stored tokens")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  hsadmin servers add --domain example.org --user admin")
	fmt.Fprintln(w, "  hsadmin users list 1 --all")
	fmt.Fprintln(w, "  hsadmin users remove example.org @spammer:example.org")
	fmt.Fprintln(w)
}
