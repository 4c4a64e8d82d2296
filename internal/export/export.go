// Package export renders record sets in the formats the CLI and exporters
// understand.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Supported format names.
const (
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
	FormatYAML   = "yaml"
	FormatCSV    = "csv"
	FormatTable  = "table"
)

// Encoder writes a record set to w.
type Encoder interface {
	Format() string
	ContentType() string
	Extension() string
	Encode(w io.Writer, records []crawler.Record) error
}

// ForFormat resolves an encoder by name. Matching is case-insensitive.
func ForFormat(name string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FormatJSON:
		return JSON{}, nil
	case FormatNDJSON:
		return NDJSON{}, nil
	case FormatYAML, "yml":
		return YAML{}, nil
	case FormatCSV:
		return CSV{}, nil
	case FormatTable:
		return Table{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", name)
	}
}

// Marshal encodes records into memory.
func Marshal(enc Encoder, records []crawler.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSON writes an indented array.
type JSON struct{}

func (JSON) Format() string      { return FormatJSON }
func (JSON) ContentType() string { return "application/json" }
func (JSON) Extension() string   { return ".json" }

func (JSON) Encode(w io.Writer, records []crawler.Record) error {
	if records == nil {
		records = []crawler.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// NDJSON writes one record per line.
type NDJSON struct{}

func (NDJSON) Format() string      { return FormatNDJSON }
func (NDJSON) ContentType() string { return "application/x-ndjson" }
func (NDJSON) Extension() string   { return ".ndjson" }

func (NDJSON) Encode(w io.Writer, records []crawler.Record) error {
	enc := json.NewEncoder(w)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode ndjson record %d: %w", i, err)
		}
	}
	return nil
}

// YAML writes a sequence of mappings.
type YAML struct{}

func (YAML) Format() string      { return FormatYAML }
func (YAML) ContentType() string { return "application/yaml" }
func (YAML) Extension() string   { return ".yaml" }

func (YAML) Encode(w io.Writer, records []crawler.Record) error {
	if records == nil {
		records = []crawler.Record{}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "title", "link", "author", "date", "subreddit", "flair", "score", "comment_count", "external_url",
}

// CSV writes a header row followed by one row per record.
type CSV struct{}

func (CSV) Format() string      { return FormatCSV }
func (CSV) ContentType() string { return "text/csv" }
func (CSV) Extension() string   { return ".csv" }

func (CSV) Encode(w io.Writer, records []crawler.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("encode csv header: %w", err)
	}
	for i, r := range records {
		row := []string{
			r.ID, r.Title, r.Link, r.Author, r.Date, r.Subreddit, r.Flair,
			strconv.Itoa(r.Score), strconv.Itoa(r.CommentCount), r.ExternalURL,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("encode csv record %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	return nil
}

const tableTitleWidth = 60

// Table writes aligned columns for terminals.
type Table struct{}

func (Table) Format() string      { return FormatTable }
func (Table) ContentType() string { return "text/plain; charset=utf-8" }
func (Table) Extension() string   { return ".txt" }

func (Table) Encode(w io.Writer, records []crawler.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSCORE\tCOMMENTS\tAUTHOR\tSUBREDDIT\tTITLE")
	for _, r := range records {
		date := r.Date
		if ts := r.Time(); !ts.IsZero() {
			date = ts.Format("2006-01-02 15:04")
		}
		if date == "" {
			date = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			date, r.Score, r.CommentCount, r.Author, r.Subreddit, truncate(r.Title, tableTitleWidth))
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
