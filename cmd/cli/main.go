// Command nr is a CLI client for the nomadrise backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/and161185/nomadrise/internal/backend"
	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/refresh"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// ---- config/token store ----

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "nomadrise")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "nomadrise")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `nr CLI
Usage:
  nr [-api URL] [-web URL] [-timeout 30s] <cmd> [args]

Commands:
  version
  login          -u <username> -p <password>      (saves tokens)
  login-email    -e <email> -p <password>         (saves tokens)
  register       -e <email> -p <password> [-first name] [-last name]
  verify                                          (checks the stored access token)
  status
  logout
  me
  update-profile [-name full name] [-email addr]
  scholarships   [-level l] [-field f] [-active true|false] [-search q]
  scholarship    -id <n>
  contents | orgs | sponsors | users
  create-sponsor -file <json|->
  delete-account -e <email> [-provider p] [-account id]
`)
	os.Exit(2)
}

// ---- app ----

type app struct {
	store *tokenstore.File
	api   *backend.API
	out   io.Writer
}

// newApp wires the gateway for one invocation. A failed refresh clears the
// token file and tells the user how to sign in again.
func newApp(apiURL, webURL string, timeout time.Duration, out, errOut io.Writer) *app {
	store := tokenstore.NewFile(tokenPath())
	pub := gateway.NewPublic(apiURL, gateway.WithTimeout(timeout))
	coord := refresh.New(pub, store, refresh.WithLogout(func(context.Context) {
		fmt.Fprintf(errOut, "session expired; run \"nr login\" or sign in at %s/en/login\n", strings.TrimRight(webURL, "/"))
	}))
	return &app{
		store: store,
		api:   backend.New(pub, gateway.NewAuthed(pub, store, coord), store),
		out:   out,
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Fprintf(a.out, "nr %s (%s)\n", version, buildDate)
		return nil

	case "login":
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *u == "" || *p == "" {
			return errors.New("need -u and -p")
		}
		if _, err := a.api.Auth.Login(ctx, *u, *p); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "ok")
		return nil

	case "login-email":
		fs := flag.NewFlagSet("login-email", flag.ContinueOnError)
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *e == "" || *p == "" {
			return errors.New("need -e and -p")
		}
		out, err := a.api.Auth.LoginEmail(ctx, *e, *p)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "ok (user %d)\n", out.User.ID)
		return nil

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		first := fs.String("first", "", "first name")
		last := fs.String("last", "", "last name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		out, err := a.api.Auth.Register(ctx, model.RegisterRequest{Email: *e, Password: *p, FirstName: *first, LastName: *last})
		if err != nil {
			return err
		}
		if out.Access != "" {
			fmt.Fprintln(a.out, "registered and logged in")
		} else {
			fmt.Fprintln(a.out, "registered; run \"nr login-email\"")
		}
		return nil

	case "verify":
		tok, ok := a.store.AccessToken(ctx)
		if !ok {
			return errs.ErrSessionExpired
		}
		if !a.api.Auth.Verify(ctx, tok) {
			fmt.Fprintln(a.out, "invalid")
			return nil
		}
		fmt.Fprintln(a.out, "valid")
		return nil

	case "status":
		if _, ok := a.store.RefreshToken(ctx); !ok {
			fmt.Fprintln(a.out, "logged out")
			return nil
		}
		if exp := a.store.ExpiresAt(); !exp.IsZero() {
			fmt.Fprintf(a.out, "logged in (access token expires %s)\n", exp.Local().Format(time.RFC3339))
			return nil
		}
		fmt.Fprintln(a.out, "logged in")
		return nil

	case "logout":
		if err := a.api.Auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "ok")
		return nil

	case "me":
		u, err := a.api.Users.Me(ctx)
		if err != nil {
			return err
		}
		printJSON(a.out, u)
		return nil

	case "update-profile":
		fs := flag.NewFlagSet("update-profile", flag.ContinueOnError)
		name := fs.String("name", "", "full name")
		email := fs.String("email", "", "email")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *name == "" && *email == "" {
			return errors.New("need -name or -email")
		}
		me, err := a.api.Users.Me(ctx)
		if err != nil {
			return err
		}
		u, err := a.api.Users.UpdateProfile(ctx, me.ID, model.ProfileUpdate{FullName: *name, Email: *email})
		if err != nil {
			return err
		}
		printJSON(a.out, u)
		return nil

	case "scholarships":
		fs := flag.NewFlagSet("scholarships", flag.ContinueOnError)
		level := fs.String("level", "", "study level")
		field := fs.String("field", "", "field of study")
		active := fs.String("active", "", "true or false")
		search := fs.String("search", "", "free text")
		if err := fs.Parse(args); err != nil {
			return err
		}
		f := model.ScholarshipFilter{StudyLevel: *level, FieldOfStudy: *field, Search: *search}
		if *active != "" {
			b, err := strconv.ParseBool(*active)
			if err != nil {
				return fmt.Errorf("-active: %w", err)
			}
			f.IsActive = &b
		}
		rows, err := a.api.Scholarships.List(ctx, f)
		if err != nil {
			return err
		}
		printJSON(a.out, rows)
		return nil

	case "scholarship":
		fs := flag.NewFlagSet("scholarship", flag.ContinueOnError)
		id := fs.Int64("id", 0, "scholarship id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *id <= 0 {
			return errors.New("need -id")
		}
		s, err := a.api.Scholarships.Get(ctx, *id)
		if err != nil {
			return err
		}
		printJSON(a.out, s)
		return nil

	case "contents":
		return list(ctx, a.out, a.api.Contents.List)
	case "orgs":
		return list(ctx, a.out, a.api.Organizations.List)
	case "sponsors":
		return list(ctx, a.out, a.api.Sponsors.List)
	case "users":
		return list(ctx, a.out, a.api.Users.List)

	case "create-sponsor":
		fs := flag.NewFlagSet("create-sponsor", flag.ContinueOnError)
		file := fs.String("file", "-", "sponsor JSON, - for stdin")
		if err := fs.Parse(args); err != nil {
			return err
		}
		b, err := readAll(*file)
		if err != nil {
			return err
		}
		var sp model.Sponsor
		if err := json.Unmarshal(b, &sp); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrValidation, err)
		}
		out, err := a.api.Sponsors.Create(ctx, sp)
		if err != nil {
			return err
		}
		printJSON(a.out, out)
		return nil

	case "delete-account":
		fs := flag.NewFlagSet("delete-account", flag.ContinueOnError)
		e := fs.String("e", "", "email")
		provider := fs.String("provider", "credentials", "sign-in provider")
		account := fs.String("account", "", "provider account id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *e == "" {
			return errors.New("need -e")
		}
		msg, err := a.api.Auth.DeleteAccount(ctx, model.DeleteAccountRequest{
			Email:             *e,
			Provider:          *provider,
			ProviderAccountID: *account,
		})
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "account deleted"
		}
		fmt.Fprintln(a.out, msg)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func list[T any](ctx context.Context, w io.Writer, fn func(context.Context) ([]T, error)) error {
	rows, err := fn(ctx)
	if err != nil {
		return err
	}
	printJSON(w, rows)
	return nil
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	apiURL := flag.String("api", envOr("NOMADRISE_API_URL", "http://localhost:8000/api"), "backend base URL")
	webURL := flag.String("web", envOr("NOMADRISE_WEB_URL", "http://localhost:3000"), "web front-end URL")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	ctx, stop := rootContext()
	a := newApp(*apiURL, *webURL, *timeout, os.Stdout, os.Stderr)
	err := a.run(ctx, flag.Arg(0), flag.Args()[1:])
	stop()
	if err != nil {
		fail(err)
	}
}

// rootContext is cancelled by Ctrl-C. It has no deadline, so -timeout bounds each request on its own.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		fmt.Fprintf(os.Stderr, "api error: %d %s\n", apiErr.Status, apiErr.Detail())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
