package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/clock/system"
	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/planner"
	"github.com/Sbajrac2/Reddit-explorer/internal/target"
)

const defaultRetain = 256

// ErrManagerClosed rejects crawls started after Close.
var ErrManagerClosed = errors.New("manager closed")

// ManagerConfig tunes session bookkeeping.
type ManagerConfig struct {
	// Retain bounds how many finished sessions stay addressable by ID.
	Retain int
	// Wrap decorates the caller's sink once the session exists, e.g. to
	// persist results under the session id. Optional.
	Wrap func(info crawler.SessionInfo, next crawler.ResultSink) crawler.ResultSink
}

// Manager starts crawl sessions. Each owner has at most one active session;
// starting another supersedes it.
type Manager struct {
	scheduler *Scheduler
	planner   *planner.Planner
	ids       crawler.IDGenerator
	clock     crawler.Clock
	store     crawler.SessionStore
	logger    *zap.Logger
	retain    int
	wrap      func(crawler.SessionInfo, crawler.ResultSink) crawler.ResultSink

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	byID   map[string]*handle
	active map[string]*handle
	order  []string
	closed bool
}

type handle struct {
	session *Session
	cancel  context.CancelFunc
	guard   *guardedSink
}

// NewManager wires a Manager. store may be nil.
func NewManager(
	scheduler *Scheduler,
	plan *planner.Planner,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	store crawler.SessionStore,
	cfg ManagerConfig,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.Retain <= 0 {
		cfg.Retain = defaultRetain
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		scheduler: scheduler,
		planner:   plan,
		ids:       ids,
		clock:     clock,
		store:     store,
		logger:    logger,
		retain:    cfg.Retain,
		wrap:      cfg.Wrap,
		baseCtx:   ctx,
		stop:      stop,
		byID:      make(map[string]*handle),
		active:    make(map[string]*handle),
	}
}

// StartCrawl normalizes spec, plans the queries and runs a new session in the
// background. Invalid targets fail with crawler.ErrInvalidTarget before any
// fetch. The owner's previous session, if still running, is abandoned and
// will not call its sink again.
func (m *Manager) StartCrawl(
	ctx context.Context,
	owner, spec string,
	coverage crawler.Coverage,
	sink crawler.ResultSink,
) (*Session, error) {
	t, err := target.Normalize(spec)
	if err != nil {
		return nil, fmt.Errorf("start crawl %q: %w", spec, err)
	}
	coverage, err = crawler.ParseCoverage(string(coverage))
	if err != nil {
		return nil, fmt.Errorf("start crawl: %w", err)
	}
	if sink == nil {
		return nil, errors.New("start crawl: result sink is required")
	}
	id, err := m.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("start crawl: %w", err)
	}

	sess := NewSession(id, owner, t, coverage, m.planner.Plan(t, coverage), m.clock.Now())
	if m.store != nil {
		if err := m.store.PutSession(ctx, sess.Info()); err != nil {
			m.logger.Warn("initial session write failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	if m.wrap != nil {
		sink = m.wrap(sess.Info(), sink)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	h := &handle{session: sess, cancel: cancel, guard: &guardedSink{next: sink, live: true}}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("start crawl: %w", ErrManagerClosed)
	}
	prev := m.active[owner]
	m.active[owner] = h
	m.byID[id] = h
	m.order = append(m.order, id)
	m.pruneLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info("superseding session",
			zap.String("owner", owner),
			zap.String("previous_session_id", prev.session.ID()),
			zap.String("session_id", id),
		)
		prev.abandon()
	}

	go func() {
		defer m.wg.Done()
		defer cancel()
		defer m.release(owner, h)
		if err := m.scheduler.Run(runCtx, sess, h.guard); err != nil && !errors.Is(err, ErrAbandoned) {
			m.logger.Debug("session ended with error", zap.String("session_id", id), zap.Error(err))
		}
	}()
	return sess, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return h.session, true
}

// Active returns the owner's running session.
func (m *Manager) Active(owner string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.active[owner]
	if !ok {
		return nil, false
	}
	return h.session, true
}

// Abandon stops a session. Its sink receives no further calls.
func (m *Manager) Abandon(id string) error {
	m.mu.Lock()
	h, ok := m.byID[id]
	if ok && m.active[h.session.Owner()] == h {
		delete(m.active, h.session.Owner())
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("abandon session %s: %w", id, crawler.ErrNotFound)
	}
	h.abandon()
	return nil
}

// Wait blocks until the session's loop returns or ctx ends.
func (m *Manager) Wait(ctx context.Context, sess *Session) error {
	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session %s: %w", sess.ID(), ctx.Err())
	}
}

// Close abandons every running session and waits for their loops to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*handle, 0, len(m.active))
	for _, h := range m.active {
		handles = append(handles, h)
	}
	m.active = make(map[string]*handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.abandon()
	}
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close manager: %w", ctx.Err())
	}
}

func (m *Manager) release(owner string, h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[owner] == h {
		delete(m.active, owner)
	}
}

// pruneLocked drops the oldest finished sessions beyond the retain limit.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.retain
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		h := m.byID[id]
		if excess > 0 && h != nil && h.session.Status().Terminal() {
			delete(m.byID, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// abandon silences the sink first so no callback can slip through after the
// caller has moved on, then stops the loop.
func (h *handle) abandon() {
	h.guard.close()
	h.session.deactivate()
	h.cancel()
}

// guardedSink forwards callbacks until closed. close waits for an in-flight
// callback to return.
type guardedSink struct {
	mu   sync.Mutex
	next crawler.ResultSink
	live bool
}

func (g *guardedSink) OnIncrement(snapshot []crawler.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live {
		g.next.OnIncrement(snapshot)
	}
}

func (g *guardedSink) OnComplete(final []crawler.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live {
		g.next.OnComplete(final)
		g.live = false
	}
}

func (g *guardedSink) OnFatalError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live {
		g.next.OnFatalError(err)
		g.live = false
	}
}

func (g *guardedSink) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.live = false
}
