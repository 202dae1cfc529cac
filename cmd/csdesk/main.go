// Command csdesk is the sign-in front end of the customer-service console.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/and161185/csdesk/internal/config"
	"github.com/and161185/csdesk/internal/errs"
	"github.com/and161185/csdesk/internal/limiter"
	"github.com/and161185/csdesk/internal/logging"
	"github.com/and161185/csdesk/internal/migrate"
	"github.com/and161185/csdesk/internal/repository"
	"github.com/and161185/csdesk/internal/repository/postgres"
	"github.com/and161185/csdesk/internal/repository/sqlite"
	"github.com/and161185/csdesk/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// test seams
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

func usage() {
	fmt.Fprintf(os.Stderr, `csdesk
Usage:
  csdesk [-config file] [-db file | -dsn url] [-log-level lvl] <cmd> [args]

Commands:
  version
  greet                                   (welcome line with last registered user)
  register   -u <username> [-p <password>] (prompts twice when -p is omitted)
  login      -u <username> [-p <password>] (saves session)
  whoami
  logout
`)
}

// app carries everything a sub-command needs.
type app struct {
	auth   service.AuthService
	log    *zap.Logger
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	source string
	now    func() time.Time
}

// main loads configuration, opens the user directory and dispatches a sub-command.
func main() {
	cfg, args, err := config.Load(os.Args[1:], nil)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			usage()
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Printf("csdesk %s (%s)\n", version, buildDate)
		return
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	users, lim, closeFn, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open user directory", zap.Error(err))
		fmt.Fprintln(os.Stderr, errs.KindStoreUnavailable.PublicMessage())
		os.Exit(1)
	}
	defer closeFn()

	key, err := signingKey(cfg.SessionKey)
	if err != nil {
		logger.Error("session key", zap.Error(err))
		fmt.Fprintln(os.Stderr, errs.KindStoreUnavailable.PublicMessage())
		os.Exit(1)
	}

	host, _ := os.Hostname()
	a := &app{
		auth:   service.NewAuthService(users, key, cfg.SessionTTL, lim, service.WithLogger(logger)),
		log:    logger,
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		errOut: os.Stderr,
		source: host,
		now:    time.Now,
	}
	code := a.run(ctx, args)
	if code != 0 {
		closeFn()
		_ = logger.Sync()
		os.Exit(code)
	}
}

// openBackend opens the embedded SQLite store, or the shared PostgreSQL
// directory when a postgres DSN is configured.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.UserRepository, limiter.Limiter, func(), error) {
	if cfg.UsePostgres() {
		if err := migrate.UpPostgres(ctx, cfg.DatabaseDSN); err != nil {
			return nil, nil, nil, err
		}
		db, err := postgres.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		var lim limiter.Limiter = limiter.NewPG(db.Pool, cfg.LockWindow, cfg.LockMaxFails, cfg.LockDuration)
		if cfg.LockMaxFails == 0 {
			lim = limiter.Nop{}
		}
		log.Debug("user directory: postgres")
		return postgres.NewUserRepo(db), lim, db.Close, nil
	}

	store := sqlite.NewStore()
	if err := store.Open(ctx, cfg.DatabasePath); err != nil {
		return nil, nil, nil, err
	}
	var lim limiter.Limiter = limiter.NewSQL(store.Conn(), cfg.LockWindow, cfg.LockMaxFails, cfg.LockDuration)
	if cfg.LockMaxFails == 0 {
		lim = limiter.Nop{}
	}
	log.Debug("user directory: sqlite", zap.String("path", store.Path()))
	return sqlite.NewUserRepo(store), lim, func() { _ = store.Close() }, nil
}

// run dispatches one sub-command and returns the process exit code.
func (a *app) run(ctx context.Context, args []string) int {
	if len(args) < 1 {
		usage()
		return 2
	}
	switch args[0] {
	case "greet":
		return a.greet(ctx)
	case "register":
		return a.register(ctx, args[1:])
	case "login":
		return a.login(ctx, args[1:])
	case "whoami":
		return a.whoami(ctx)
	case "logout":
		if err := removeSession(); err != nil {
			return a.fail(err)
		}
		fmt.Fprintln(a.out, "ok")
		return 0
	default:
		fmt.Fprintf(a.errOut, "unknown command %q\n", args[0])
		return 2
	}
}

func (a *app) greet(ctx context.Context) int {
	last, _, err := a.auth.LastRegisteredUsername(ctx)
	if err != nil {
		// purely informational: fall back to the anonymous greeting
		a.log.Warn("greet: last username", zap.Error(err))
		last = ""
	}
	fmt.Fprintln(a.out, service.Greeting(a.now(), last))
	return 0
}

func (a *app) register(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*u) == "" {
		fmt.Fprintln(a.errOut, "need -u")
		return 2
	}

	password := *p
	if password == "" {
		var err error
		if password, err = a.prompt("Password: "); err != nil {
			return a.fail(err)
		}
		confirm, err := a.prompt("Confirm password: ")
		if err != nil {
			return a.fail(err)
		}
		if password != confirm {
			fmt.Fprintln(a.errOut, "passwords do not match")
			return 1
		}
	}

	if _, err := a.auth.Register(ctx, *u, password); err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.out, "registered")
	return 0
}

func (a *app) login(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *u == "" {
		fmt.Fprintln(a.errOut, "need -u")
		return 2
	}

	password := *p
	if password == "" {
		var err error
		if password, err = a.prompt("Password: "); err != nil {
			return a.fail(err)
		}
	}

	sess, err := a.auth.Login(ctx, *u, password, a.source)
	if err != nil {
		return a.fail(err)
	}
	if err := saveSession(sess); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "welcome, %s\n", sess.Username)
	return 0
}

func (a *app) whoami(ctx context.Context) int {
	sf, err := loadSession()
	if err != nil {
		fmt.Fprintln(a.errOut, err)
		return 1
	}
	name, err := a.auth.Authenticate(ctx, sf.Token)
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.out, name)
	return 0
}

// prompt reads a password without echo on a terminal, or a line otherwise.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.errOut, label)
	fd := int(os.Stdin.Fd())
	if a.in == nil || isTerminal(fd) {
		pw, err := readPassword(fd)
		fmt.Fprintln(a.errOut)
		return string(pw), err
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// fail prints the user-facing message for err and returns exit code 1.
func (a *app) fail(err error) int {
	kind := errs.KindOf(err)
	if kind == errs.KindUnknown {
		a.log.Error("command failed", zap.Error(err))
	}
	fmt.Fprintln(a.errOut, kind.PublicMessage())
	return 1
}
