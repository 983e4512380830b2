package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/nomadrise/internal/errs"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "nomadrise")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]any{"a": 1})

	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", buf.String())
	}
	if !strings.Contains(strings.TrimSpace(buf.String()), "\n") {
		t.Fatalf("printJSON should indent")
	}
}

// backend issues a1/r1 at /token/, accepts only the access token in valid on
// /users/me/, and answers /token/refresh/ with a2 while refreshOK is set.
type fakeAPI struct {
	valid     atomic.Value
	refreshOK atomic.Bool
	refreshes atomic.Int32
}

func newBackend(t *testing.T) (*fakeAPI, string) {
	t.Helper()
	b := &fakeAPI{}
	b.valid.Store("a1")
	b.refreshOK.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token/":
			_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1"}`))
		case "/token/refresh/":
			b.refreshes.Add(1)
			if !b.refreshOK.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Token is blacklisted"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access":"a2"}`))
		case "/users/me/":
			if r.Header.Get("Authorization") != "Bearer "+b.valid.Load().(string) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":42,"email":"tuya@example.mn","is_active":true}`))
		case "/scholarships/":
			_, _ = w.Write([]byte(`[{"id":1,"title":"Chevening","study_level":"master"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
		}
	}))
	t.Cleanup(srv.Close)
	return b, srv.URL
}

func Test_run_LoginThenMeRefreshes(t *testing.T) {
	_ = withTmpConfig(t)
	be, url := newBackend(t)
	var out, errOut bytes.Buffer
	a := newApp(url, "http://web.test", 5*time.Second, &out, &errOut)
	ctx := context.Background()

	if err := a.run(ctx, "login", []string{"-u", "tuya", "-p", "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	be.valid.Store("a2")

	out.Reset()
	if err := a.run(ctx, "me", nil); err != nil {
		t.Fatalf("me: %v", err)
	}
	if !strings.Contains(out.String(), `"id": 42`) {
		t.Fatalf("me output: %s", out.String())
	}
	if be.refreshes.Load() != 1 {
		t.Fatalf("want one refresh, got %d", be.refreshes.Load())
	}
	if tok, _ := a.store.AccessToken(ctx); tok != "a2" {
		t.Fatalf("stored access token %q, want a2", tok)
	}
	if tok, _ := a.store.RefreshToken(ctx); tok != "r1" {
		t.Fatalf("refresh token should survive a non-rotating refresh, got %q", tok)
	}
}

func Test_run_RefreshFailureLogsOut(t *testing.T) {
	_ = withTmpConfig(t)
	be, url := newBackend(t)
	var out, errOut bytes.Buffer
	a := newApp(url, "http://web.test/", 5*time.Second, &out, &errOut)
	ctx := context.Background()

	if err := a.run(ctx, "login", []string{"-u", "tuya", "-p", "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	be.valid.Store("a2")
	be.refreshOK.Store(false)

	err := a.run(ctx, "me", nil)
	if !errors.Is(err, errs.ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
	if !strings.Contains(errOut.String(), `run "nr login"`) || !strings.Contains(errOut.String(), "http://web.test/en/login") {
		t.Fatalf("logout hint missing: %q", errOut.String())
	}
	if _, err := os.Stat(tokenPath()); !os.IsNotExist(err) {
		t.Fatalf("token file should be removed, stat err=%v", err)
	}

	out.Reset()
	if err := a.run(ctx, "status", nil); err != nil || strings.TrimSpace(out.String()) != "logged out" {
		t.Fatalf("status: %q %v", out.String(), err)
	}
}

func Test_run_Scholarships(t *testing.T) {
	_ = withTmpConfig(t)
	_, url := newBackend(t)
	var out bytes.Buffer
	a := newApp(url, "http://web.test", 5*time.Second, &out, io.Discard)

	if err := a.run(context.Background(), "scholarships", []string{"-level", "master", "-active", "true"}); err != nil {
		t.Fatalf("scholarships: %v", err)
	}
	if !strings.Contains(out.String(), "Chevening") {
		t.Fatalf("scholarships output: %s", out.String())
	}
	if err := a.run(context.Background(), "scholarships", []string{"-active", "maybe"}); err == nil {
		t.Fatalf("want error on bad -active")
	}
	if err := a.run(context.Background(), "scholarship", []string{"-id", "9"}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func Test_rootContext_TimeoutAppliesPerRequest(t *testing.T) {
	_ = withTmpConfig(t)
	ctx, stop := rootContext()
	defer stop()
	if _, ok := ctx.Deadline(); ok {
		t.Fatalf("root context must not carry a deadline")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	a := newApp(srv.URL, "http://web.test", 50*time.Millisecond, io.Discard, io.Discard)

	start := time.Now()
	err := a.run(ctx, "scholarships", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("request ran %s, -timeout not applied", d)
	}
}

func Test_run_ArgErrors(t *testing.T) {
	_ = withTmpConfig(t)
	a := newApp("http://127.0.0.1:1", "http://web.test", time.Second, io.Discard, io.Discard)
	ctx := context.Background()

	for _, tc := range []struct {
		cmd  string
		args []string
	}{
		{"login", nil},
		{"login-email", []string{"-e", "x@y.mn"}},
		{"update-profile", nil},
		{"scholarship", nil},
		{"delete-account", nil},
		{"nope", nil},
	} {
		if err := a.run(ctx, tc.cmd, tc.args); err == nil {
			t.Fatalf("%s %v: want error", tc.cmd, tc.args)
		}
	}

	if err := a.run(ctx, "verify", nil); !errors.Is(err, errs.ErrSessionExpired) {
		t.Fatalf("verify without tokens: %v", err)
	}
}
