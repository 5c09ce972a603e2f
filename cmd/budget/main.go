package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/budget-client/internal/api"
	"github.com/alexjbarnes/budget-client/internal/config"
	"github.com/alexjbarnes/budget-client/internal/ledger"
	"github.com/alexjbarnes/budget-client/internal/logging"
	"github.com/alexjbarnes/budget-client/internal/state"
)

var Version = "dev"

const usage = `usage: budget <command> [args]

commands:
  login [--remember]            sign in and store the token pair
  logout                        forget stored credentials
  whoami                        show the signed-in user
  check                         validate the held access token
  transactions [query]          list transactions
  allocations <query>           list allocations
  summary [query]               totals by category
  request <METHOD> <url> [body] send an authenticated request
  version                       print the version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "version":
		fmt.Println(Version)
		return
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Debug("budget starting",
		slog.String("version", Version),
		slog.String("api", cfg.APIURL),
		slog.String("state", cfg.StatePath),
	)

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	store, err := api.NewCredentialStore(api.NewMemoryBackend(), appState)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	session := api.NewSession(cfg.APIURL, store, api.Options{
		HTTPClient: api.NewHTTPClient(cfg.HTTPTimeout),
		Logger:     logger,
	})

	a := &app{
		cfg:     cfg,
		logger:  logger,
		state:   appState,
		session: session,
		ledger:  ledger.New(session),
		in:      stdin,
		out:     stdout,
	}

	return a.dispatch(ctx, args)
}
