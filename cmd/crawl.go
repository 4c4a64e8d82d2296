package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/export"
	"github.com/Sbajrac2/Reddit-explorer/internal/sink"
	"github.com/Sbajrac2/Reddit-explorer/internal/view"
)

const cliOwner = "cli"

type crawlOptions struct {
	historical bool
	keyword    string
	author     string
	flair      string
	from       string
	to         string
	sort       string
	page       int
	perPage    int
	format     string
	out        string
	timeout    time.Duration
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl <target>",
		Short: "Crawl one subreddit or user feed and print the records",
		Long: `Crawls the target (golang, r/golang, u/spez or a full URL) and prints
the deduplicated records once every planned query is exhausted. --historical
adds the top, new and controversial sweeps to the live listing. Interrupting
the crawl, or hitting --timeout, prints whatever was collected so far.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.historical, "historical", false, "also sweep top/new/controversial listings")
	f.StringVar(&opts.keyword, "keyword", "", "keep records whose title, author or subreddit contains this")
	f.StringVar(&opts.author, "author", "", "keep records by this author")
	f.StringVar(&opts.flair, "flair", "", "keep records with this flair")
	f.StringVar(&opts.from, "from", "", "keep records posted on or after this date (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&opts.to, "to", "", "keep records posted on or before this date")
	f.StringVar(&opts.sort, "sort", "", "order by date: newest or oldest (default crawl order)")
	f.IntVar(&opts.page, "page", 0, "print only this page of results (1-based; 0 prints everything)")
	f.IntVar(&opts.perPage, "per-page", view.DefaultPerPage, "records per page when --page is set")
	f.StringVar(&opts.format, "format", export.FormatTable, "output format: table, json, ndjson, yaml, csv")
	f.StringVarP(&opts.out, "out", "o", "", "write to this file instead of stdout")
	f.DurationVar(&opts.timeout, "timeout", 0, "stop after this long and print partial results (0 waits forever)")
	return cmd
}

func (o *crawlOptions) viewOptions() (view.Options, error) {
	v := view.Options{Keyword: o.keyword, Author: o.author, Flair: o.flair}
	var err error
	if v.From, err = view.ParseDate(o.from, false); err != nil {
		return view.Options{}, fmt.Errorf("--from: %w", err)
	}
	if v.To, err = view.ParseDate(o.to, true); err != nil {
		return view.Options{}, fmt.Errorf("--to: %w", err)
	}
	if v.Sort, err = view.ParseOrder(o.sort); err != nil {
		return view.Options{}, fmt.Errorf("--sort: %w", err)
	}
	if o.page < 0 || o.perPage <= 0 {
		return view.Options{}, errors.New("--page must be >= 0 and --per-page > 0")
	}
	v.Page, v.PerPage = o.page, o.perPage
	return v, nil
}

func runCrawl(cmd *cobra.Command, spec string, opts *crawlOptions) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	vopts, err := opts.viewOptions()
	if err != nil {
		return err
	}
	enc, err := export.ForFormat(opts.format)
	if err != nil {
		return fmt.Errorf("--format: %w", err)
	}
	coverage := crawler.CoverageLive
	if opts.historical {
		coverage = crawler.CoverageHistorical
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	app, err := newApp(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := app.Close(closeCtx); cerr != nil {
			rt.logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()

	progress := sink.Func{Increment: func(snapshot []crawler.Record) {
		rt.logger.Info("records collected", zap.Int("records", len(snapshot)))
	}}
	manager := app.Manager()
	sess, err := manager.StartCrawl(ctx, cliOwner, spec, coverage, progress)
	if err != nil {
		return err
	}
	rt.logger.Info("crawl started",
		zap.String("session_id", sess.ID()),
		zap.String("target", sess.Target().String()),
		zap.String("coverage", string(coverage)),
		zap.Int("queries", len(sess.Queries())),
	)

	if err := manager.Wait(ctx, sess); err != nil {
		rt.logger.Warn("crawl interrupted, printing partial results", zap.Error(ctx.Err()))
		if aerr := manager.Abandon(sess.ID()); aerr != nil {
			rt.logger.Debug("abandon failed", zap.Error(aerr))
		}
	}
	if sess.Status() == crawler.StatusError {
		return fmt.Errorf("crawl %s failed: %s", sess.Target(), sess.Info().ErrorText)
	}

	records := sess.Records()
	if vopts.Page == 0 {
		records = view.Filter(records, vopts)
		view.SortRecords(records, vopts.Sort)
	} else {
		page := view.Apply(records, vopts)
		rt.logger.Info("page selected",
			zap.Int("page", page.Page),
			zap.Int("total_pages", page.TotalPages),
			zap.Int("total", page.Total),
		)
		records = page.Records
	}
	return writeRecords(cmd.OutOrStdout(), opts.out, enc, records)
}

func writeRecords(stdout io.Writer, path string, enc export.Encoder, records []crawler.Record) error {
	if path == "" {
		return enc.Encode(stdout, records)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := enc.Encode(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
