package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/budget-client/internal/api"
	"github.com/alexjbarnes/budget-client/internal/config"
	apperrors "github.com/alexjbarnes/budget-client/internal/errors"
	"github.com/alexjbarnes/budget-client/internal/ledger"
	"github.com/alexjbarnes/budget-client/internal/state"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	state   *state.State
	session *api.Session
	ledger  *ledger.Client
	in      io.Reader
	out     io.Writer

	reader *bufio.Reader
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	cmd, rest := args[0], args[1:]

	switch cmd {
	case "login":
		return a.cmdLogin(ctx, rest)
	case "logout":
		return a.session.Logout()
	case "whoami":
		return a.print(a.whoami())
	case "check":
		return a.cmdCheck(ctx)
	case "transactions":
		return a.cmdTransactions(ctx, rest)
	case "allocations":
		return a.cmdAllocations(ctx, rest)
	case "summary":
		return a.cmdSummary(ctx, rest)
	case "request":
		return a.cmdRequest(ctx, rest)
	}

	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	remember := a.cfg.Remember

	for _, arg := range args {
		switch arg {
		case "--remember", "-r":
			remember = true
		default:
			return fmt.Errorf("login: unexpected argument %q", arg)
		}
	}

	email := a.cfg.Email
	if email == "" {
		var err error
		if email, err = a.prompt("Email", a.state.LastEmail()); err != nil {
			return err
		}
	}

	password := a.cfg.Password
	if password == "" {
		var err error
		if password, err = a.prompt("Password", ""); err != nil {
			return err
		}
	}

	if err := a.login(ctx, email, password, remember); err != nil {
		return err
	}

	return a.print(a.whoami())
}

func (a *app) login(ctx context.Context, email, password string, remember bool) error {
	email = norm.NFC.String(strings.TrimSpace(email))
	if email == "" || password == "" {
		return apperrors.ErrMissingSecret
	}

	if _, err := a.session.Login(ctx, email, password, remember); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	if err := a.state.SetLastEmail(email); err != nil {
		a.logger.Warn("failed to save last email", slog.String("error", err.Error()))
	}

	return nil
}

// ensureSession makes sure a usable token pair is held before an API
// command runs. A remembered pair is validated when its expiry is known;
// otherwise configured credentials are used to sign in.
func (a *app) ensureSession(ctx context.Context) error {
	if a.session.State().AccessToken != "" {
		if a.session.Expiry() == 0 {
			return nil
		}

		_, err := a.session.CheckToken(ctx)
		if err == nil {
			a.logger.Debug("stored session is valid", slog.String("tier", a.session.Tier().String()))
			return nil
		}

		if !api.IsUnauthorized(err) {
			return fmt.Errorf("checking stored session: %w", err)
		}

		a.logger.Info("stored session expired")

		if err := a.session.Logout(); err != nil {
			return err
		}
	}

	if !a.cfg.HasCredentials() {
		return fmt.Errorf("%w: run 'budget login' or set BUDGET_EMAIL and BUDGET_PASSWORD", apperrors.ErrNotLoggedIn)
	}

	return a.login(ctx, a.cfg.Email, a.cfg.Password, a.cfg.Remember)
}

type identity struct {
	User    string `json:"user" yaml:"user"`
	Tier    string `json:"tier" yaml:"tier"`
	Expires string `json:"expires,omitempty" yaml:"expires,omitempty"`
}

func (a *app) whoami() identity {
	id := identity{
		User: a.session.User(),
		Tier: a.session.Tier().String(),
	}

	if exp := a.session.Expiry(); exp > 0 {
		id.Expires = time.Unix(exp, 0).UTC().Format(time.RFC3339)
	}

	return id
}

func (a *app) cmdCheck(ctx context.Context) error {
	if _, err := a.session.CheckToken(ctx); err != nil {
		return fmt.Errorf("token check: %w", err)
	}

	return a.print(a.whoami())
}

func (a *app) cmdTransactions(ctx context.Context, args []string) error {
	if err := a.ensureSession(ctx); err != nil {
		return err
	}

	txns, err := a.ledger.ListTransactions(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("listing transactions: %w", err)
	}

	return a.print(txns)
}

func (a *app) cmdAllocations(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("allocations: query is required")
	}

	if err := a.ensureSession(ctx); err != nil {
		return err
	}

	allocs, err := a.ledger.ListAllocations(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("listing allocations: %w", err)
	}

	return a.print(allocs)
}

type categoryTotal struct {
	Category string `json:"category" yaml:"category"`
	Amount   int    `json:"amount" yaml:"amount"`
}

type summary struct {
	Transactions int             `json:"transactions" yaml:"transactions"`
	Income       int             `json:"income" yaml:"income"`
	Spending     int             `json:"spending" yaml:"spending"`
	Categories   []categoryTotal `json:"categories" yaml:"categories"`
}

func (a *app) cmdSummary(ctx context.Context, args []string) error {
	if err := a.ensureSession(ctx); err != nil {
		return err
	}

	query := strings.Join(args, " ")

	var (
		txns   []ledger.Transaction
		allocs []ledger.Allocation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error

		txns, err = a.ledger.ListTransactions(gctx, query)
		if err != nil {
			return fmt.Errorf("listing transactions: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		var err error

		allocs, err = a.ledger.ListAllocations(gctx, query)
		if err != nil {
			return fmt.Errorf("listing allocations: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	return a.print(summarize(txns, allocs))
}

func summarize(txns []ledger.Transaction, allocs []ledger.Allocation) summary {
	s := summary{Transactions: len(txns), Categories: []categoryTotal{}}

	for _, t := range txns {
		if t.Amount >= 0 {
			s.Income += t.Amount
		} else {
			s.Spending += t.Amount
		}
	}

	byCategory := map[string]int{}
	for _, al := range allocs {
		byCategory[al.Category] += al.Amount
	}

	for c, amt := range byCategory {
		s.Categories = append(s.Categories, categoryTotal{Category: c, Amount: amt})
	}

	sort.Slice(s.Categories, func(i, j int) bool {
		return s.Categories[i].Category < s.Categories[j].Category
	})

	return s
}

func (a *app) cmdRequest(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("request: want <METHOD> <url> [body]")
	}

	if err := a.ensureSession(ctx); err != nil {
		return err
	}

	req := api.Request{Method: strings.ToUpper(args[0]), URL: args[1]}
	if len(args) == 3 {
		req.Body = []byte(args[2])
	}

	resp, err := a.session.Request(ctx, req)
	if err != nil {
		return err
	}

	var data any
	if err := resp.Decode(&data); err != nil {
		return err
	}

	return a.print(data)
}

func (a *app) prompt(label, def string) (string, error) {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.in)
	}

	if def != "" {
		fmt.Fprintf(a.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(a.out, "%s: ", label)
	}

	line, err := a.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		line = def
	}

	return line, nil
}

// print writes v in the configured output format.
func (a *app) print(v any) error {
	if a.cfg.Output == "yaml" {
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}

	return nil
}
