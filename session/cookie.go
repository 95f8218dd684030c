package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SameSite is the SameSite cookie attribute, restricted to the three values
// spec.md §4.8 enumerates.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// SerializeOptions mirrors spec.md §6's cookieSerializeOptions verbatim.
type SerializeOptions struct {
	Path     string
	Domain   string
	HTTPOnly bool
	Secure   bool
	SameSite SameSite
	MaxAge   time.Duration
}

// Serialize composes a Set-Cookie header value in the fixed attribute order
// spec.md §4.8 requires: Name=Value; Max-Age=…; Domain=…; Path=…;
// Expires=…; HttpOnly; Secure; SameSite=…. Each attribute is present only
// when set. now is the reference time Expires is computed from.
func Serialize(name, value string, opts SerializeOptions, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s", name, value)

	if opts.MaxAge > 0 {
		fmt.Fprintf(&b, "; Max-Age=%d", int64(opts.MaxAge.Seconds()))
	}
	if opts.Domain != "" {
		fmt.Fprintf(&b, "; Domain=%s", opts.Domain)
	}
	if opts.Path != "" {
		fmt.Fprintf(&b, "; Path=%s", opts.Path)
	}
	if opts.MaxAge > 0 {
		fmt.Fprintf(&b, "; Expires=%s", now.Add(opts.MaxAge).UTC().Format(http.TimeFormat))
	}
	if opts.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if opts.Secure {
		b.WriteString("; Secure")
	}
	if opts.SameSite != "" {
		fmt.Fprintf(&b, "; SameSite=%s", opts.SameSite)
	}
	return b.String()
}

// SerializeLogout composes the expiring Set-Cookie header spec.md §4.8
// names for logout: an empty value, Max-Age=0, and the epoch as Expires,
// carrying only the configured Path and Domain.
func SerializeLogout(name string, opts SerializeOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=", name)
	b.WriteString("; Max-Age=0")
	if opts.Domain != "" {
		fmt.Fprintf(&b, "; Domain=%s", opts.Domain)
	}
	if opts.Path != "" {
		fmt.Fprintf(&b, "; Path=%s", opts.Path)
	}
	b.WriteString("; Expires=Thu, 01 Jan 1970 00:00:00 GMT")
	return b.String()
}

// ParseAttributes tolerantly parses a Set-Cookie header value into its
// attribute map, case-insensitive on attribute names, for use in tests and
// diagnostics. The cookie's own name=value pair is returned as "" -> value.
func ParseAttributes(header string) map[string]string {
	attrs := make(map[string]string)
	for i, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, hasVal := strings.Cut(part, "=")
		if i == 0 {
			attrs[""] = val
			continue
		}
		if !hasVal {
			attrs[strings.ToLower(key)] = ""
			continue
		}
		attrs[strings.ToLower(key)] = val
	}
	return attrs
}
