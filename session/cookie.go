package session

import (
	"net/http"
	"strings"
	"time"
)

const DefaultCookieName = "shopify_app_session"

// CookieOptions defines how session cookies are issued. The cookie is always HttpOnly.
type CookieOptions struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (o CookieOptions) normalize() CookieOptions {
	if strings.TrimSpace(o.Path) == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		// the admin iframe only sends SameSite=None cookies
		if o.Secure {
			o.SameSite = http.SameSiteNoneMode
		} else {
			o.SameSite = http.SameSiteLaxMode
		}
	}
	if o.SameSite == http.SameSiteNoneMode && !o.Secure {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

func setCookie(w http.ResponseWriter, name string, value string, expiresAt time.Time, now time.Time, opts CookieOptions) {
	opts = opts.normalize()
	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

func clearCookie(w http.ResponseWriter, name string, opts CookieOptions) {
	opts = opts.normalize()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
