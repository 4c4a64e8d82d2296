// Package target normalizes user-supplied source specifiers into a canonical
// feed identifier.
package target

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Kind distinguishes community feeds, user feeds and raw listing paths.
type Kind string

// Supported kinds. KindListing keeps a source URL's path and query as given.
const (
	KindGroup   Kind = "group"
	KindUser    Kind = "user"
	KindListing Kind = "listing"
)

// SourceDomain is the registrable domain accepted in fully-qualified targets.
const SourceDomain = "reddit.com"

var disallowed = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Target is a canonical source identifier.
type Target struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`
	// Listing is the escaped path of a KindListing target, without a
	// trailing slash.
	Listing string `json:"listing,omitempty"`
	// Query is the raw query string of a KindListing target.
	Query string `json:"query,omitempty"`
}

// Path returns the listing path on the source, without a trailing slash.
func (t Target) Path() string {
	switch t.Kind {
	case KindUser:
		return "/user/" + t.Name
	case KindListing:
		return t.Listing
	default:
		return "/r/" + t.Name
	}
}

// String renders the short form, e.g. "r/golang", "u/spez" or
// "r/golang/top?t=year" for a raw listing.
func (t Target) String() string {
	switch t.Kind {
	case KindUser:
		return "u/" + t.Name
	case KindListing:
		s := strings.TrimPrefix(t.Listing, "/")
		if t.Query != "" {
			s += "?" + t.Query
		}
		return s
	default:
		return "r/" + t.Name
	}
}

// Normalize parses a bare name, an "r/<name>" or "u/<name>" form, or a URL on
// the source domain. A URL whose path is exactly /r/<name> or /u|user/<name>
// becomes a group or user feed; any other path on the source is kept as a
// raw listing together with its query string. Anything that reduces to an
// empty name or path is rejected with crawler.ErrInvalidTarget.
func Normalize(spec string) (Target, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return Target{}, fmt.Errorf("%w: empty specifier", crawler.ErrInvalidTarget)
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return fromURL(trimmed)
	}
	return fromPath(trimmed, spec)
}

func fromURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: parse %q: %v", crawler.ErrInvalidTarget, raw, err)
	}
	host := strings.ToLower(u.Hostname())
	if host != SourceDomain && !strings.HasSuffix(host, "."+SourceDomain) {
		return Target{}, fmt.Errorf("%w: host %q is not %s", crawler.ErrInvalidTarget, host, SourceDomain)
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	for _, suffix := range []string{"/.json", "/.rss", ".json", ".rss"} {
		path = strings.TrimSuffix(path, suffix)
	}
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return Target{}, fmt.Errorf("%w: %q has no listing path", crawler.ErrInvalidTarget, raw)
	}
	if len(segments) <= 2 && isPrefix(segments[0]) {
		if len(segments) == 1 {
			return Target{}, fmt.Errorf("%w: %q", crawler.ErrInvalidTarget, raw)
		}
		if u.RawQuery == "" {
			return fromPath(path, raw)
		}
	}
	return Target{Kind: KindListing, Listing: "/" + strings.Join(segments, "/"), Query: u.RawQuery}, nil
}

func fromPath(path, original string) (Target, error) {
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	kind := KindGroup
	var name string
	switch {
	case len(segments) == 0:
	case len(segments) >= 2 && strings.EqualFold(segments[0], "r"):
		name = segments[1]
	case len(segments) >= 2 && (strings.EqualFold(segments[0], "u") || strings.EqualFold(segments[0], "user")):
		kind = KindUser
		name = segments[1]
	case len(segments) == 1 && !isPrefix(segments[0]):
		name = segments[0]
	}
	name = disallowed.ReplaceAllString(name, "")
	if name == "" {
		return Target{}, fmt.Errorf("%w: %q", crawler.ErrInvalidTarget, original)
	}
	return Target{Kind: kind, Name: name}, nil
}

func isPrefix(segment string) bool {
	switch strings.ToLower(segment) {
	case "r", "u", "user":
		return true
	default:
		return false
	}
}
