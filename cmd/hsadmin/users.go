// ABOUTME: `hsadmin users` and `hsadmin whoami` commands
// ABOUTME: Lists, creates, locks and removes accounts on a registered server

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"maunium.net/go/mautrix/id"

	"github.com/2389/hsadmin/internal/matrixadmin"
)

func (a *app) cmdUsers(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: users <list|create|lock|unlock|remove> <server> ...")
	}

	subcmd := args[0]
	args = args[1:]

	switch subcmd {
	case "list", "ls":
		return a.cmdUsersList(ctx, args)
	case "create", "add":
		return a.cmdUsersCreate(ctx, args)
	case "lock":
		return a.cmdUsersLock(ctx, args, true)
	case "unlock":
		return a.cmdUsersLock(ctx, args, false)
	case "remove", "rm":
		return a.cmdUsersRemove(ctx, args)
	default:
		return fmt.Errorf("unknown users subcommand: %s (use list, create, lock, unlock, remove)", subcmd)
	}
}

func userStatus(user matrixadmin.RemoteUser) string {
	switch {
	case user.Deactivated:
		return color.RedString("deactivated")
	case user.Locked:
		return color.YellowString("locked")
	default:
		return color.GreenString("active")
	}
}

func createdAt(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return humanize.Time(time.UnixMilli(ms))
}

func (a *app) cmdUsersList(ctx context.Context, args []string) error {
	var from string
	var all bool

	flagSet := pflag.NewFlagSet("users list", pflag.ContinueOnError)
	flagSet.SetOutput(a.out)
	flagSet.StringVar(&from, "from", "", "cursor from a previous page")
	flagSet.BoolVar(&all, "all", false, "fetch every page")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() < 1 {
		return fmt.Errorf("usage: users list <server> [--from cursor] [--all]")
	}

	server, err := a.resolveServer(ctx, flagSet.Arg(0))
	if err != nil {
		return err
	}

	cursor := matrixadmin.Cursor(from)
	var users []matrixadmin.RemoteUser
	var self id.UserID
	var total int
	for {
		requested := cursor
		if requested == "" {
			requested = matrixadmin.StartCursor
		}
		listing, err := a.svc.ListUsers(ctx, server.ID, cursor)
		if err != nil {
			return err
		}
		if listing.SelfErr != nil && self == "" {
			color.New(color.FgYellow).Fprintf(a.out, "  Warning: could not determine your account: %v\n", listing.SelfErr)
		}
		if listing.Self != "" {
			self = listing.Self
		}
		users = append(users, listing.Page.Users...)
		total = listing.Page.Total
		cursor = listing.Page.NextCursor
		// A server that echoes the cursor or returns an empty page has nothing more.
		if cursor == requested || len(listing.Page.Users) == 0 {
			cursor = ""
		}
		if !all || cursor == "" {
			break
		}
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(a.out)
	cyan.Fprintf(a.out, "  Users on %s\n", server.Domain)
	cyan.Fprintln(a.out, "  ---------")

	if len(users) == 0 {
		fmt.Fprintln(a.out, "  (no users)")
		fmt.Fprintln(a.out)
		return nil
	}

	w := newTable(a.out)
	fmt.Fprintln(w, "  USER\tDISPLAY NAME\tSTATUS\tADMIN\tCREATED")
	fmt.Fprintln(w, "  ----\t------------\t------\t-----\t-------")
	for _, user := range users {
		name := user.Name.String()
		if self != "" && user.Name == self {
			name += " (you)"
		}
		admin := ""
		if user.Admin {
			admin = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(name, 48),
			truncate(user.DisplayName, 32),
			userStatus(user),
			admin,
			createdAt(user.CreationTS),
		)
	}
	w.Flush()

	fmt.Fprintf(a.out, "\n  Showing %d of %d users\n", len(users), total)
	if cursor != "" {
		fmt.Fprintf(a.out, "  Next page: hsadmin users list %s --from %s\n", flagSet.Arg(0), cursor)
	}
	fmt.Fprintln(a.out)

	return nil
}

func (a *app) cmdUsersCreate(ctx context.Context, args []string) error {
	var displayName string

	flagSet := pflag.NewFlagSet("users create", pflag.ContinueOnError)
	flagSet.SetOutput(a.out)
	flagSet.StringVar(&displayName, "display-name", "", "display name for the account")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() < 2 {
		return fmt.Errorf("usage: users create <server> <username> [--display-name name]")
	}

	server, err := a.resolveServer(ctx, flagSet.Arg(0))
	if err != nil {
		return err
	}

	password, err := promptPassword(a.in, a.out, "Password for new user")
	if err != nil {
		return err
	}
	again, err := promptPassword(a.in, a.out, "Repeat password")
	if err != nil {
		return err
	}
	if password != again {
		return fmt.Errorf("passwords do not match")
	}

	result, err := a.svc.CreateUser(ctx, server.ID, flagSet.Arg(1), password, displayName)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if result.Created {
		green.Fprintf(a.out, "✓ User %s created\n", result.UserID)
	} else {
		green.Fprintf(a.out, "✓ User %s updated\n", result.UserID)
	}
	return nil
}

func (a *app) cmdUsersLock(ctx context.Context, args []string, locked bool) error {
	verb := "lock"
	if !locked {
		verb = "unlock"
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: users %s <server> <user>", verb)
	}

	server, err := a.resolveServer(ctx, args[0])
	if err != nil {
		return err
	}

	userID, err := a.svc.LockUser(ctx, server.ID, args[1], locked)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ %s %sed\n", userID, verb)
	return nil
}

func (a *app) cmdUsersRemove(ctx context.Context, args []string) error {
	var yes bool

	flagSet := pflag.NewFlagSet("users remove", pflag.ContinueOnError)
	flagSet.SetOutput(a.out)
	flagSet.BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() < 2 {
		return fmt.Errorf("usage: users remove <server> <user> [--yes]")
	}

	server, err := a.resolveServer(ctx, flagSet.Arg(0))
	if err != nil {
		return err
	}
	target := matrixadmin.UserID(flagSet.Arg(1), server.Domain)

	if !yes {
		color.New(color.FgYellow).Fprintf(a.out, "  This deletes all media uploaded by %s and permanently deactivates the account.\n", target)
		if !confirm(a.in, a.out, "  Continue?") {
			fmt.Fprintln(a.out, "  Aborted.")
			return nil
		}
	}

	result, err := a.svc.RemoveUser(ctx, server.ID, target.String())
	if err != nil {
		if result != nil && result.MediaDeleted > 0 {
			color.New(color.FgYellow).Fprintf(a.out, "  %d of %d media items were deleted before the failure\n", result.MediaDeleted, result.MediaFound)
		}
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(a.out, "✓ Removed %s (%d media deleted)\n", result.UserID, result.MediaDeleted)
	if result.MediaDeleted < result.MediaFound {
		color.New(color.FgYellow).Fprintf(a.out, "  %d media items could not be deleted\n", result.MediaFound-result.MediaDeleted)
	}
	return nil
}

func (a *app) cmdWhoAmI(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: whoami <server>")
	}

	server, err := a.resolveServer(ctx, args[0])
	if err != nil {
		return err
	}

	self, err := a.svc.WhoAmI(ctx, server.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s\n", self)
	return nil
}
