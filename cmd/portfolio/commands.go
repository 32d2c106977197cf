package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	apperrors "github.com/portfolio-client/internal/errors"
	"github.com/portfolio-client/internal/service"
)

type loginCmd struct {
	user     string
	password string
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "log in and store the session token" }
func (*loginCmd) Usage() string {
	return `portfolio login -u <user> [-p <password>]

  Exchanges credentials for a session token. The password is read from
  PORTFOLIO_PASSWORD or stdin when -p is not given. A successful login
  replaces any previous session and refreshes the accounts.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", os.Getenv("PORTFOLIO_USER"), "User name")
	f.StringVar(&c.password, "p", "", "Password")
}

func (c *loginCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	password, err := c.resolvePassword(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	return withApp(ctx, func(ctx context.Context, a *app) error {
		outcome, err := a.orch.Relogin(ctx, c.user, password)
		if err != nil {
			return fmt.Errorf("login failed: %s", apperrors.UserMessage(err))
		}
		fmt.Println("Logged in.")
		return a.out.Outcome(outcome)
	})
}

func (c *loginCmd) resolvePassword(stdin io.Reader) (string, error) {
	if c.password != "" {
		return c.password, nil
	}
	if env := os.Getenv("PORTFOLIO_PASSWORD"); env != "" {
		return env, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

type logoutCmd struct{}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "forget the session token" }
func (*logoutCmd) Usage() string {
	return `portfolio logout

  Deletes the stored session token. The local replica is kept and can
  still be viewed offline.
`
}
func (*logoutCmd) SetFlags(*flag.FlagSet) {}

func (*logoutCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		if err := a.orch.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	})
}

type accountsCmd struct {
	refresh bool
}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "show accounts and positions" }
func (*accountsCmd) Usage() string {
	return `portfolio accounts [-refresh]

  Shows accounts from the local replica while it is fresh, from the server
  otherwise. When the server cannot be reached the last synced data is
  shown with a warning.
`
}

func (c *accountsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.refresh, "refresh", false, "Ignore the local replica and fetch from the server")
}

func (c *accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		return showOutcome(a, a.orch.Load(ctx, c.refresh))
	})
}

// showOutcome renders o and fails the command when it carries no data
func showOutcome(a *app, o *service.LoadOutcome) error {
	if err := a.out.Outcome(o); err != nil {
		return err
	}
	if !o.HasData() {
		return fmt.Errorf("no accounts available (%s)", o.Kind)
	}
	return nil
}

type historyCmd struct{}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "show the value history of an account" }
func (*historyCmd) Usage() string {
	return `portfolio history <account>

  Lists the retained snapshots of one account from the local replica.
`
}
func (*historyCmd) SetFlags(*flag.FlagSet) {}

func (*historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "history requires exactly one account number")
		return subcommands.ExitUsageError
	}
	account := f.Arg(0)

	return withApp(ctx, func(ctx context.Context, a *app) error {
		snapshots, err := a.orch.History(ctx, account)
		if err != nil {
			return err
		}
		return a.out.History(account, snapshots)
	})
}

type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show session and replica status" }
func (*statusCmd) Usage() string {
	return `portfolio status

  Reports whether a usable session exists and how old the local replica is.
`
}
func (*statusCmd) SetFlags(*flag.FlagSet) {}

func (*statusCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(ctx context.Context, a *app) error {
		status, err := a.orch.Status(ctx)
		if err != nil {
			return err
		}
		return a.out.Status(status)
	})
}

type cacheCmd struct{}

func (*cacheCmd) Name() string     { return "cache" }
func (*cacheCmd) Synopsis() string { return "inspect or reset the server and local caches" }
func (*cacheCmd) Usage() string {
	return `portfolio cache info|refresh|clear

  info     describe the server-side cache
  refresh  ask the server to rebuild its cache, then reload
  clear    drop the server cache and the local replica, then reload
`
}
func (*cacheCmd) SetFlags(*flag.FlagSet) {}

func (*cacheCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "cache requires one of: info, refresh, clear")
		return subcommands.ExitUsageError
	}

	switch action := f.Arg(0); action {
	case "info":
		return withApp(ctx, func(ctx context.Context, a *app) error {
			info, err := a.orch.ServerCacheInfo(ctx)
			if err != nil {
				return fmt.Errorf("cache info unavailable: %s", apperrors.UserMessage(err))
			}
			return a.out.CacheInfo(info)
		})
	case "refresh":
		return withApp(ctx, func(ctx context.Context, a *app) error {
			outcome, err := a.orch.RefreshServerCache(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Server cache refresh failed: %s\n", apperrors.UserMessage(err))
			}
			return showOutcome(a, outcome)
		})
	case "clear":
		return withApp(ctx, func(ctx context.Context, a *app) error {
			outcome, err := a.orch.InvalidateAllCaches(ctx)
			if err != nil {
				return err
			}
			fmt.Println("Caches cleared.")
			return showOutcome(a, outcome)
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown cache action %q\n", action)
		return subcommands.ExitUsageError
	}
}
