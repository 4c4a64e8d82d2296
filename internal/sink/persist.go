package sink

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/export"
	"github.com/Sbajrac2/Reddit-explorer/internal/metrics"
)

// Completion is published once per finished session.
type Completion struct {
	SessionID  string           `json:"session_id"`
	Owner      string           `json:"owner,omitempty"`
	Target     string           `json:"target"`
	Coverage   crawler.Coverage `json:"coverage"`
	Status     crawler.Status   `json:"status"`
	Records    int              `json:"records"`
	ExportURI  string           `json:"export_uri,omitempty"`
	Error      string           `json:"error,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
}

// MessageKey keys bus messages by session.
func (c Completion) MessageKey() string { return c.SessionID }

// MessageAttributes exposes routing fields without decoding the body.
func (c Completion) MessageAttributes() map[string]string {
	return map[string]string{"status": string(c.Status), "target": c.Target}
}

// PersistConfig wires the optional collaborators of Persist. Every store may
// be nil.
type PersistConfig struct {
	Records   crawler.RecordStore
	Blobs     crawler.BlobStore
	Encoder   export.Encoder
	Hasher    crawler.Hasher
	Publisher crawler.Publisher
	Topic     string
	Clock     crawler.Clock
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Persist saves, exports and announces the final record set of one session.
// Failures are logged; they never reach the crawl.
type Persist struct {
	cfg  PersistConfig
	info crawler.SessionInfo
}

// NewPersist binds cfg to the session described by info.
func NewPersist(cfg PersistConfig, info crawler.SessionInfo) *Persist {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultStoreTimeout
	}
	if cfg.Encoder == nil {
		cfg.Encoder = export.JSON{}
	}
	return &Persist{cfg: cfg, info: info}
}

// OnIncrement implements crawler.ResultSink. Partial snapshots are not persisted.
func (p *Persist) OnIncrement([]crawler.Record) {}

// OnComplete implements crawler.ResultSink.
func (p *Persist) OnComplete(final []crawler.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()
	logger := p.cfg.Logger.With(zap.String("session_id", p.info.ID))

	if p.cfg.Records != nil {
		if err := p.cfg.Records.SaveRecords(ctx, p.info.ID, final); err != nil {
			logger.Error("save records failed", zap.Error(err))
		}
	}
	var uri string
	if p.cfg.Blobs != nil {
		var err error
		uri, err = p.export(ctx, final)
		if err != nil {
			logger.Error("export records failed", zap.Error(err))
		} else {
			logger.Info("records exported", zap.String("uri", uri), zap.Int("records", len(final)))
		}
	}
	p.publish(ctx, logger, Completion{
		Status:    crawler.StatusDone,
		Records:   len(final),
		ExportURI: uri,
	})
}

// OnFatalError implements crawler.ResultSink.
func (p *Persist) OnFatalError(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()
	p.publish(ctx, p.cfg.Logger.With(zap.String("session_id", p.info.ID)), Completion{
		Status: crawler.StatusError,
		Error:  err.Error(),
	})
}

func (p *Persist) export(ctx context.Context, records []crawler.Record) (string, error) {
	data, err := export.Marshal(p.cfg.Encoder, records)
	if err != nil {
		return "", err
	}
	path := ExportPath(p.info, p.cfg.Encoder.Extension(), "")
	if p.cfg.Hasher != nil {
		digest, err := p.cfg.Hasher.Hash(data)
		if err != nil {
			return "", fmt.Errorf("hash export: %w", err)
		}
		path = ExportPath(p.info, p.cfg.Encoder.Extension(), digest)
	}
	uri, err := p.cfg.Blobs.PutObject(ctx, path, p.cfg.Encoder.ContentType(), data)
	if err != nil {
		return "", fmt.Errorf("put export %s: %w", path, err)
	}
	return uri, nil
}

func (p *Persist) publish(ctx context.Context, logger *zap.Logger, c Completion) {
	if p.cfg.Publisher == nil {
		return
	}
	c.SessionID = p.info.ID
	c.Owner = p.info.Owner
	c.Target = p.info.Target
	c.Coverage = p.info.Coverage
	c.FinishedAt = time.Now().UTC()
	if p.cfg.Clock != nil {
		c.FinishedAt = p.cfg.Clock.Now().UTC()
	}
	id, err := p.cfg.Publisher.Publish(ctx, p.cfg.Topic, c)
	if err != nil {
		metrics.ObservePublish("error")
		logger.Error("publish completion failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
		return
	}
	metrics.ObservePublish("ok")
	logger.Debug("completion published", zap.String("topic", p.cfg.Topic), zap.String("message_id", id))
}

// unsafeObjectChars covers the separators a raw listing target can carry.
var unsafeObjectChars = regexp.MustCompile(`[^A-Za-z0-9_.+-]+`)

// ExportPath names an export object: <target>/<session>[-<digest prefix>]<ext>.
// Target slashes become underscores so r/golang maps to r_golang.
func ExportPath(info crawler.SessionInfo, ext, digest string) string {
	target := strings.Trim(unsafeObjectChars.ReplaceAllString(info.Target, "_"), "_")
	if target == "" {
		target = "unknown"
	}
	name := info.ID
	if digest != "" {
		if len(digest) > 12 {
			digest = digest[:12]
		}
		name += "-" + digest
	}
	return target + "/" + name + ext
}
