// ABOUTME: `hsadmin servers` subcommands for the local server registry
// ABOUTME: Add, edit, remove, check, export and import registrations

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/hsadmin/internal/operator"
	"github.com/2389/hsadmin/internal/registry"
)

func (a *app) cmdServers(ctx context.Context, args []string) error {
	// Default to list
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return a.cmdServersList(ctx)
	case "add", "create":
		return a.cmdServersAdd(ctx, args)
	case "edit", "login":
		return a.cmdServersEdit(ctx, args)
	case "remove", "rm", "delete":
		return a.cmdServersRemove(ctx, args)
	case "check":
		return a.cmdServersCheck(ctx, args)
	case "export":
		return a.cmdServersExport(ctx, args)
	case "import":
		return a.cmdServersImport(ctx, args)
	default:
		return fmt.Errorf("unknown servers subcommand: %s (use list, add, edit, remove, check, export, import)", subcmd)
	}
}

// resolveServer maps a list number, id, unique id prefix or unique domain
// to a registration.
func (a *app) resolveServer(ctx context.Context, ref string) (*registry.Server, error) {
	servers, err := a.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers registered (run: hsadmin servers add)")
	}

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(servers) {
			return nil, fmt.Errorf("server number %d out of range (1-%d)", n, len(servers))
		}
		return servers[n-1], nil
	}

	var matches []*registry.Server
	for _, server := range servers {
		if server.ID == ref {
			return server, nil
		}
		if strings.HasPrefix(server.ID, ref) || strings.EqualFold(server.Domain, ref) || server.Label() == ref {
			matches = append(matches, server)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no server matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d servers; use the list number or id", ref, len(matches))
	}
}

func tokenState(server *registry.Server) string {
	switch {
	case server.Sealed:
		return color.YellowString("sealed")
	case server.AccessToken == "":
		return color.RedString("missing")
	default:
		return color.GreenString("ok")
	}
}

func (a *app) cmdServersList(ctx context.Context) error {
	servers, err := a.svc.Servers(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintln(a.out, "  Servers")
	cyan.Fprintln(a.out, "  -------")

	if len(servers) == 0 {
		fmt.Fprintln(a.out, "  (no servers; run: hsadmin servers add)")
		fmt.Fprintln(a.out)
		return nil
	}

	w := newTable(a.out)
	fmt.Fprintln(w, "  #\tID\tSERVER\tBASE URL\tTOKEN\tADDED")
	fmt.Fprintln(w, "  -\t--\t------\t--------\t-----\t-----")
	for i, server := range servers {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			truncate(server.ID, 8),
			truncate(server.Label(), 32),
			truncate(server.BaseURL, 40),
			tokenState(server),
			humanize.Time(server.CreatedAt),
		)
	}
	w.Flush()
	fmt.Fprintln(a.out)

	return nil
}

// readLogin parses the flags shared by add and edit and prompts for what is missing.
func (a *app) readLogin(name string, args []string, current *registry.Server) (operator.Login, error) {
	var login operator.Login
	var passwordStdin bool

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.SetOutput(a.out)
	flagSet.StringVarP(&login.Domain, "domain", "d", "", "server domain, e.g. example.org")
	flagSet.StringVarP(&login.Username, "user", "u", "", "admin username (localpart or full user ID)")
	flagSet.BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	if err := flagSet.Parse(args); err != nil {
		return login, err
	}

	var defDomain, defUser string
	if current != nil {
		defDomain, defUser = current.Domain, current.Username
	}

	var err error
	if login.Domain == "" {
		if login.Domain, err = promptLine(a.in, a.out, "Server domain", defDomain); err != nil {
			return login, err
		}
	}
	if login.Username == "" {
		if login.Username, err = promptLine(a.in, a.out, "Admin username", defUser); err != nil {
			return login, err
		}
	}

	if passwordStdin {
		login.Password, err = readLine(a.in)
		if err != nil {
			return login, fmt.Errorf("reading password: %w", err)
		}
	} else if login.Password, err = promptPassword(a.in, a.out, "Password"); err != nil {
		return login, err
	}

	return login, nil
}

func (a *app) cmdServersAdd(ctx context.Context, args []string) error {
	login, err := a.readLogin("servers add", args, nil)
	if err != nil {
		return err
	}

	server, err := a.svc.AddServer(ctx, login)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Added %s\n", server.Label())
	fmt.Fprintf(a.out, "  ID:        %s\n", server.ID)
	fmt.Fprintf(a.out, "  Base URL:  %s\n", server.BaseURL)

	return nil
}

func (a *app) cmdServersEdit(ctx context.Context, args []string) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: servers edit <server> [--domain d] [--user u]")
	}

	current, err := a.resolveServer(ctx, args[0])
	if err != nil {
		return err
	}

	login, err := a.readLogin("servers edit", args[1:], current)
	if err != nil {
		return err
	}

	server, err := a.svc.EditServer(ctx, current.ID, login)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Updated %s\n", server.Label())
	fmt.Fprintf(a.out, "  Base URL:  %s\n", server.BaseURL)

	return nil
}

func (a *app) cmdServersRemove(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: servers remove <server>")
	}

	server, err := a.resolveServer(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.svc.RemoveServer(ctx, server.ID); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Removed %s\n", server.Label())

	return nil
}

func (a *app) cmdServersCheck(ctx context.Context, args []string) error {
	var servers []*registry.Server
	if len(args) > 0 {
		server, err := a.resolveServer(ctx, args[0])
		if err != nil {
			return err
		}
		servers = []*registry.Server{server}
	} else {
		var err error
		if servers, err = a.svc.Servers(ctx); err != nil {
			return err
		}
	}

	w := newTable(a.out)
	fmt.Fprintln(w, "  SERVER\tSTATUS\tVERSION\tACCOUNT")
	fmt.Fprintln(w, "  ------\t------\t-------\t-------")

	failed := 0
	for _, server := range servers {
		status, err := a.svc.CheckServer(ctx, server.ID)
		if err != nil {
			failed++
			fmt.Fprintf(w, "  %s\t%s\t-\t%s\n", truncate(server.Label(), 32), color.RedString("error"), err)
			continue
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", truncate(server.Label(), 32), color.GreenString("ok"), status.Version, status.Self)
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d servers failed the check", failed, len(servers))
	}
	return nil
}

func (a *app) cmdServersExport(ctx context.Context, args []string) error {
	var includeTokens bool
	var output string

	flagSet := pflag.NewFlagSet("servers export", pflag.ContinueOnError)
	flagSet.SetOutput(a.out)
	flagSet.BoolVar(&includeTokens, "include-tokens", false, "include access tokens in plaintext")
	flagSet.StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	doc, err := a.store.Export(ctx, includeTokens)
	if err != nil {
		return err
	}

	var w io.Writer = a.out
	if output != "" {
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := doc.WriteYAML(w); err != nil {
		return err
	}

	if output != "" {
		green := color.New(color.FgGreen)
		green.Fprintf(a.out, "✓ Exported %d servers to %s\n", len(doc.Servers), output)
		if includeTokens {
			color.New(color.FgYellow).Fprintln(a.out, "  The file contains access tokens; keep it private.")
		}
	}
	return nil
}

func (a *app) cmdServersImport(ctx context.Context, args []string) error {
	var replace bool

	flagSet := pflag.NewFlagSet("servers import", pflag.ContinueOnError)
	flagSet.SetOutput(a.out)
	flagSet.BoolVar(&replace, "replace", false, "replace all registrations instead of merging by id")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() < 1 {
		return fmt.Errorf("usage: servers import <file> [--replace]")
	}

	f, err := os.Open(flagSet.Arg(0))
	if err != nil {
		return fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()

	doc, err := registry.ReadDocument(f)
	if err != nil {
		return err
	}

	mode := registry.ImportMerge
	if replace {
		mode = registry.ImportReplace
	}
	result, err := a.store.Import(ctx, doc, mode)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Imported: %d added, %d updated, %d removed\n", result.Added, result.Updated, result.Removed)

	missing := 0
	for _, server := range doc.Servers {
		if server.AccessToken == "" {
			missing++
		}
	}
	if missing > 0 {
		color.New(color.FgYellow).Fprintf(a.out, "  %d servers have no token; run: hsadmin servers edit <server>\n", missing)
	}
	return nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
