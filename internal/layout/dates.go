package layout

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

var labelLayouts = []string{
	"Mon Jan 2 15:04:05 2006 MST",
	"Mon Jan _2 15:04:05 2006 MST",
	time.RFC1123,
	time.RFC1123Z,
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02",
}

var relativeLabel = regexp.MustCompile(`(?i)^(\d+|an?)\s*([a-z]+)\.?\s+ago$`)

type dateParser struct {
	now func() time.Time
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// fromAttr parses a machine-readable timestamp attribute.
func (d dateParser) fromAttr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return formatDate(ts)
		}
	}
	return ""
}

// fromEpoch parses seconds or milliseconds since the epoch.
func (d dateParser) fromEpoch(raw string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v <= 0 {
		return ""
	}
	if v > 1e11 {
		return formatDate(time.UnixMilli(int64(v)))
	}
	return formatDate(time.Unix(int64(v), 0))
}

// fromLabel parses a human-readable label such as "3 hours ago" or
// "Mon Jan 2 15:04:05 2006 UTC". Unparseable labels yield "".
func (d dateParser) fromLabel(label string) string {
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return ""
	}
	lower := strings.ToLower(label)
	switch lower {
	case "just now", "now":
		return formatDate(d.now())
	case "yesterday":
		return formatDate(d.now().Add(-24 * time.Hour))
	}
	if m := relativeLabel.FindStringSubmatch(label); m != nil {
		n := 1
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
		if ts, ok := subtract(d.now(), n, strings.ToLower(m[2])); ok {
			return formatDate(ts)
		}
		return ""
	}
	for _, layout := range labelLayouts {
		if ts, err := time.Parse(layout, label); err == nil {
			return formatDate(ts)
		}
	}
	return d.fromAttr(label)
}

func subtract(now time.Time, n int, unit string) (time.Time, bool) {
	if len(unit) > 2 && strings.HasSuffix(unit, "s") {
		unit = strings.TrimSuffix(unit, "s")
	}
	switch unit {
	case "s", "sec", "second":
		return now.Add(-time.Duration(n) * time.Second), true
	case "m", "min", "minute":
		return now.Add(-time.Duration(n) * time.Minute), true
	case "h", "hr", "hour":
		return now.Add(-time.Duration(n) * time.Hour), true
	case "d", "day":
		return now.AddDate(0, 0, -n), true
	case "w", "wk", "week":
		return now.AddDate(0, 0, -7*n), true
	case "mo", "mon", "month":
		return now.AddDate(0, -n, 0), true
	case "y", "yr", "year":
		return now.AddDate(-n, 0, 0), true
	default:
		return time.Time{}, false
	}
}
