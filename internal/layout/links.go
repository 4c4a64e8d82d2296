package layout

import (
	"net/url"
	"path"
	"strings"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

var mediaHosts = []string{
	"i.redd.it",
	"v.redd.it",
	"preview.redd.it",
	"external-preview.redd.it",
	"i.imgur.com",
	"imgur.com",
	"gfycat.com",
	"redgifs.com",
}

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".gifv": true,
	".webp": true, ".mp4": true, ".webm": true,
}

type linkResolver struct {
	origin *url.URL
}

// absolute resolves raw against the origin. Empty, fragment-only and
// script links resolve to "".
func (l linkResolver) absolute(raw string) string {
	return resolveAgainst(l.origin, raw)
}

func resolveAgainst(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "javascript:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		if !ref.IsAbs() {
			return ""
		}
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// discussion builds the canonical discussion URL for a native post id.
func (l linkResolver) discussion(id string) string {
	id = stripFullname(id)
	if id == "" {
		return ""
	}
	u := *l.origin
	u.Path = "/comments/" + id + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// resolve picks the record link. Media URLs are replaced by the element's
// comments anchor, then by the id template, and only kept as a last resort.
func (l linkResolver) resolve(candidate, comments, id string) string {
	link := l.absolute(candidate)
	if link != "" && !isMediaURL(link) {
		return link
	}
	if c := l.absolute(comments); c != "" && !isMediaURL(c) {
		return c
	}
	if d := l.discussion(id); d != "" {
		return d
	}
	if link != "" {
		return link
	}
	return crawler.PlaceholderLink
}

// external returns raw as an absolute URL when it points somewhere other
// than the discussion link.
func (l linkResolver) external(raw, link string) string {
	abs := l.absolute(raw)
	if abs == "" || abs == link {
		return ""
	}
	return abs
}

func isMediaURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range mediaHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

func stripFullname(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 3 && id[0] == 't' && id[2] == '_' && id[1] >= '1' && id[1] <= '9' {
		return id[3:]
	}
	return id
}
