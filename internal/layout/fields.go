package layout

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

// text returns the selection's text with whitespace runs collapsed.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func titleOrPlaceholder(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return crawler.PlaceholderTitle
	}
	return title
}

// parseCount reads labels such as "1,204", "3.4k points" or "12 comments".
// Anything without a leading number is zero.
func parseCount(raw string) int {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return 0
	}
	token := strings.ReplaceAll(fields[0], ",", "")
	mult := 1.0
	switch {
	case strings.HasSuffix(token, "k"):
		mult, token = 1e3, strings.TrimSuffix(token, "k")
	case strings.HasSuffix(token, "m"):
		mult, token = 1e6, strings.TrimSuffix(token, "m")
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0
	}
	return int(v * mult)
}

func hidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(attr(s, "style"), " ", ""))
	return strings.Contains(style, "display:none")
}

func stripPrefix(v string, prefixes ...string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(v, p) {
			return strings.TrimPrefix(v, p)
		}
	}
	return v
}
