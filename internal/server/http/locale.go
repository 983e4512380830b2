package httpserver

import (
	"net/http"
	"path"
	"strings"

	"golang.org/x/text/language"
)

// Locale settings.
const (
	DefaultLocale = "mn"
	LocaleCookie  = "NEXT_LOCALE"
)

// Locales are the supported path prefixes.
var Locales = []string{"en", "mn"}

// The first tag is the fallback.
var localeMatcher = language.NewMatcher([]language.Tag{language.Mongolian, language.English})

var localeSkip = []string{"/api", "/livez", "/healthz", "/metrics"}

func isLocale(s string) bool {
	for _, l := range Locales {
		if s == l {
			return true
		}
	}
	return false
}

// detectLocale picks the cookie, then Accept-Language, then the default.
func detectLocale(r *http.Request) string {
	if c, err := r.Cookie(LocaleCookie); err == nil && isLocale(c.Value) {
		return c.Value
	}
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}
	tag, _, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return DefaultLocale
	}
	base, _ := tag.Base()
	if isLocale(base.String()) {
		return base.String()
	}
	return DefaultLocale
}

// splitLocale returns the locale prefix of p and the rest ("/" when empty).
func splitLocale(p string) (string, string, bool) {
	seg, rest, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	if !isLocale(seg) {
		return "", p, false
	}
	return seg, "/" + rest, true
}

func skipLocale(p string) bool {
	for _, pre := range localeSkip {
		if p == pre || strings.HasPrefix(p, pre+"/") {
			return true
		}
	}
	// static files
	return strings.Contains(path.Base(p), ".")
}

func isDashboard(rest string) bool {
	return rest == "/dashboard" || strings.HasPrefix(rest, "/dashboard/")
}

// LocaleRedirect sends unprefixed page paths to /{locale}{path} with 307.
// Dashboard paths without a session go straight to the login page.
// It must run after LoadSession.
func LocaleRedirect() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if skipLocale(p) {
				next.ServeHTTP(w, r)
				return
			}
			loc, rest, ok := splitLocale(p)
			if !ok {
				loc = detectLocale(r)
			}
			if isDashboard(rest) {
				if _, signedIn := SessionFromCtx(r.Context()); !signedIn {
					http.Redirect(w, r, "/"+loc+"/login", http.StatusTemporaryRedirect)
					return
				}
			}
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			target := "/" + loc
			if p != "/" {
				target += p
			}
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		})
	}
}
