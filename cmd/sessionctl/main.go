// sessionctl is a small interactive shell around the session manager. It
// exists for exercising a backend from the terminal: log in, inspect the
// company list, switch companies, check rights, and toggle the offline queue.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-erp-session/api"
	"github.com/jrsteele09/go-erp-session/internal/config"
	"github.com/jrsteele09/go-erp-session/offline"
	"github.com/jrsteele09/go-erp-session/permissions"
	"github.com/jrsteele09/go-erp-session/session"
	"github.com/jrsteele09/go-erp-session/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.New(*configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log.Level)
	displayAppname(cfg.App.Name)

	client, err := api.NewClient(cfg.Backend.BaseURL, cfg.Backend.LoginURL,
		api.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout}),
		api.WithLogger(log),
	)
	if err != nil {
		return err
	}

	snapshots, err := storage.NewFileSnapshotStore(cfg.SnapshotPath())
	if err != nil {
		return err
	}
	credentials, err := storage.NewFileCredentialStore(cfg.CredentialPath())
	if err != nil {
		return err
	}

	manager, err := session.NewManager(client, session.Stores{
		Snapshots:   snapshots,
		Tab:         storage.NewMemoryTabStore(),
		Credentials: credentials,
	},
		session.WithLogger(log),
		session.WithCacheTTL(cfg.State.CacheTTL),
	)
	if err != nil {
		return err
	}

	if err := manager.Resume(); err != nil {
		return err
	}
	if manager.State() == session.StateAuthenticated {
		fmt.Printf("resumed session for %s\n", manager.Session().User.Username)
	}

	shell := &shell{
		manager: manager,
		queue:   offline.New(log),
	}
	shell.loop()
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

type shell struct {
	manager *session.Manager
	queue   *offline.Queue
}

func (s *shell) loop() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("type 'help' for commands")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "exit" || fields[0] == "quit" {
			return
		}
		if err := s.dispatch(context.Background(), fields[0], fields[1:]); err != nil {
			fmt.Printf("error: %s\n", err)
		}
	}
}

func (s *shell) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "help":
		fmt.Println(`commands:
  login <username> <password>  authenticate
  status                       show session state
  companies                    refresh and list companies
  switch <company-id>          switch the current company
  rights <module> <txn>        show rights on a transaction
  refresh                      force a token refresh attempt
  track                        record a user action
  offline | online             toggle connectivity for queued actions
  logout                       revoke and clear the session
  exit`)
		return nil
	case "login":
		if len(args) != 2 {
			return errors.New("usage: login <username> <password>")
		}
		if err := s.manager.LogIn(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("signed in as %s\n", s.manager.Session().User.Username)
		return nil
	case "status":
		s.printStatus()
		return nil
	case "companies":
		for _, company := range s.manager.GetCompanies(ctx) {
			fmt.Printf("  %-12s %-6s %s\n", company.ID, company.Code, company.Name)
		}
		if msg := s.manager.ErrorMessage(); msg != "" {
			fmt.Printf("  (%s)\n", msg)
		}
		return nil
	case "switch":
		if len(args) != 1 {
			return errors.New("usage: switch <company-id>")
		}
		return s.queue.Do(ctx, func(ctx context.Context) error {
			return s.manager.SwitchCompany(ctx, args[0], true)
		})
	case "rights":
		if len(args) != 2 {
			return errors.New("usage: rights <module> <txn>")
		}
		return s.printRights(args[0], args[1])
	case "refresh":
		s.manager.RefreshTokenAutomatically(ctx)
		return nil
	case "track":
		return s.queue.Do(ctx, func(context.Context) error {
			s.manager.RecordAction()
			return nil
		})
	case "offline":
		s.queue.SetOnline(ctx, false)
		fmt.Println("queueing actions until 'online'")
		return nil
	case "online":
		s.queue.SetOnline(ctx, true)
		fmt.Println("online, queued actions replayed")
		return nil
	case "logout":
		s.manager.LogOut(ctx)
		fmt.Println("signed out")
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (s *shell) printStatus() {
	fmt.Printf("state:    %s\n", s.manager.State())
	sess := s.manager.Session()
	if sess.IsAuthenticated {
		fmt.Printf("user:     %s (%s)\n", sess.User.Username, sess.User.ID)
		fmt.Printf("expires:  %s\n", sess.TokenExpiresAt.Format(time.RFC3339))
	}
	if company, ok := s.manager.CurrentCompany(); ok {
		fmt.Printf("company:  %s (%s)\n", company.Name, company.ID)
	}
	analytics := s.manager.AnalyticsSnapshot()
	fmt.Printf("counters: logins=%d actions=%d switches=%d errors=%d pending=%d\n",
		analytics.Logins, analytics.Actions, analytics.CompanySwitches, analytics.Errors, s.queue.Pending())
	if msg := s.manager.ErrorMessage(); msg != "" {
		fmt.Printf("message:  %s\n", msg)
	}
}

func (s *shell) printRights(moduleArg, txnArg string) error {
	moduleID, err := strconv.Atoi(moduleArg)
	if err != nil {
		return fmt.Errorf("module must be a number: %w", err)
	}
	txnID, err := strconv.Atoi(txnArg)
	if err != nil {
		return fmt.Errorf("txn must be a number: %w", err)
	}

	rights := []permissions.Right{
		permissions.RightRead, permissions.RightCreate, permissions.RightEdit,
		permissions.RightDelete, permissions.RightExport, permissions.RightPrint,
		permissions.RightPost, permissions.RightApprove,
	}
	for _, right := range rights {
		fmt.Printf("  %-8s %v\n", right, s.manager.HasRight(moduleID, txnID, right))
	}
	return nil
}
