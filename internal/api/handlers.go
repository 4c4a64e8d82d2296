package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/export"
	"github.com/Sbajrac2/Reddit-explorer/internal/scheduler"
	"github.com/Sbajrac2/Reddit-explorer/internal/sink"
	"github.com/Sbajrac2/Reddit-explorer/internal/telemetry"
	"github.com/Sbajrac2/Reddit-explorer/internal/view"
)

const maxPerPage = 500

type startCrawlRequest struct {
	Target     string `json:"target"`
	Coverage   string `json:"coverage"`
	Historical bool   `json:"historical"`
}

type startCrawlResponse struct {
	SessionID string           `json:"session_id"`
	Target    string           `json:"target"`
	Coverage  crawler.Coverage `json:"coverage"`
	Queries   int              `json:"queries"`
	Status    crawler.Status   `json:"status"`
}

// startCrawl handles POST /v1/crawls. It returns 202 with the session id, 400
// for an unusable target or coverage, and 503 once the manager has shut down.
// Records are read back through GET /v1/crawls/{id}/records.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	coverage, err := crawler.ParseCoverage(req.Coverage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Historical {
		coverage = crawler.CoverageHistorical
	}
	owner := clientID(r)

	ctx, span := telemetry.Tracer().Start(r.Context(), "crawl.start")
	defer span.End()
	span.SetAttributes(
		attribute.String("crawl.owner", owner),
		attribute.String("crawl.target", req.Target),
		attribute.String("crawl.coverage", string(coverage)),
	)

	sess, err := s.crawls.StartCrawl(ctx, owner, req.Target, coverage, sink.Func{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, crawler.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, scheduler.ErrManagerClosed):
			writeError(w, http.StatusServiceUnavailable, "crawler is shutting down")
		default:
			s.logger.Error("start crawl failed", zap.String("owner", owner), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start crawl")
		}
		return
	}
	span.SetAttributes(attribute.String("crawl.session_id", sess.ID()))
	writeJSON(w, http.StatusAccepted, startCrawlResponse{
		SessionID: sess.ID(),
		Target:    sess.Target().String(),
		Coverage:  sess.Coverage(),
		Queries:   len(sess.Queries()),
		Status:    sess.Status(),
	})
}

// getCrawl handles GET /v1/crawls/{session_id}. Sessions still held in memory
// win over the stored summary.
func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	info, err := s.lookup(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": info})
}

// abandonCrawl handles DELETE /v1/crawls/{session_id}. Only the owning client
// may abandon a crawl. Finished sessions are left untouched.
func (s *Server) abandonCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	sess, ok := s.crawls.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Owner() != clientID(r) {
		writeError(w, http.StatusForbidden, "session belongs to another client")
		return
	}
	if sess.Status().Terminal() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "session already finished", "status": sess.Status()})
		return
	}
	if err := s.crawls.Abandon(id); err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("abandon crawl failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to abandon session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listRecords handles GET /v1/crawls/{session_id}/records with keyword,
// author, flair, from, to, sort, page, per_page and format query parameters.
// Running sessions serve their current snapshot.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	q := r.URL.Query()
	opts, err := parseViewOptions(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var enc export.Encoder
	if format := q.Get("format"); format != "" && format != export.FormatJSON {
		enc, err = export.ForFormat(format)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	records, err := s.recordsFor(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, id, err)
		return
	}
	page := view.Apply(records, opts)

	if enc == nil {
		writeJSON(w, http.StatusOK, page)
		return
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, page.Records); err != nil {
		s.logger.Error("encode records failed", zap.String("format", enc.Format()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode records")
		return
	}
	w.Header().Set("Content-Type", enc.ContentType())
	w.Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	w.Header().Set("X-Total-Pages", strconv.Itoa(page.TotalPages))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write records failed", zap.Error(err))
	}
}

func (s *Server) lookup(ctx context.Context, id string) (crawler.SessionInfo, error) {
	if sess, ok := s.crawls.Get(id); ok {
		return sess.Info(), nil
	}
	if s.sessions == nil {
		return crawler.SessionInfo{}, crawler.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	info, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return crawler.SessionInfo{}, fmt.Errorf("load session: %w", err)
	}
	return info, nil
}

func (s *Server) recordsFor(ctx context.Context, id string) ([]crawler.Record, error) {
	if sess, ok := s.crawls.Get(id); ok {
		return sess.Records(), nil
	}
	if _, err := s.lookup(ctx, id); err != nil {
		return nil, err
	}
	if s.records == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	records, err := s.records.ListRecords(ctx, id)
	if errors.Is(err, crawler.ErrNotFound) {
		// Known session that never saved records, e.g. one that failed.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func (s *Server) writeLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Error("session lookup failed", zap.String("session_id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load session")
}

func parseViewOptions(q url.Values) (view.Options, error) {
	opts := view.Options{
		Keyword: strings.TrimSpace(q.Get("keyword")),
		Author:  strings.TrimSpace(q.Get("author")),
		Flair:   strings.TrimSpace(q.Get("flair")),
	}
	var err error
	if raw := q.Get("from"); raw != "" {
		if opts.From, err = view.ParseDate(raw, false); err != nil {
			return view.Options{}, fmt.Errorf("invalid from: %w", err)
		}
	}
	if raw := q.Get("to"); raw != "" {
		if opts.To, err = view.ParseDate(raw, true); err != nil {
			return view.Options{}, fmt.Errorf("invalid to: %w", err)
		}
	}
	if opts.Sort, err = view.ParseOrder(q.Get("sort")); err != nil {
		return view.Options{}, err
	}
	if opts.Page, err = positiveInt(q, "page", 1, 0); err != nil {
		return view.Options{}, err
	}
	if opts.PerPage, err = positiveInt(q, "per_page", view.DefaultPerPage, maxPerPage); err != nil {
		return view.Options{}, err
	}
	return opts, nil
}

// positiveInt parses q[key], clamping to maxVal when maxVal > 0.
func positiveInt(q url.Values, key string, def, maxVal int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	if maxVal > 0 && val > maxVal {
		val = maxVal
	}
	return val, nil
}
