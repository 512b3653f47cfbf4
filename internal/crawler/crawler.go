package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/canonical"
	"github.com/JakeFAU/leadcrawl/internal/clock/system"
	"github.com/JakeFAU/leadcrawl/internal/id/uuid"
	"github.com/JakeFAU/leadcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/leadcrawl/internal/robots"
)

const publishTimeout = 10 * time.Second

// Dependencies wires an Engine. Only Executor is required.
type Dependencies struct {
	Executor  Executor
	Robots    RobotsFactory
	Sink      PageSink
	Publisher Publisher
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
}

// Engine starts crawl sessions. It holds no per-crawl state, so concurrent Crawl
// calls are independent.
type Engine struct {
	executor  Executor
	robots    RobotsFactory
	sink      PageSink
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	logger    *zap.Logger
}

// NewEngine validates deps and fills defaults.
func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Executor == nil {
		return nil, errors.New("crawler: executor is required")
	}
	e := &Engine{
		executor:  deps.Executor,
		robots:    deps.Robots,
		sink:      deps.Sink,
		publisher: deps.Publisher,
		ids:       deps.IDs,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if e.robots == nil {
		e.robots = func() robots.Policy { return robots.AllowAll{} }
	}
	if e.ids == nil {
		e.ids = uuid.New()
	}
	if e.clock == nil {
		e.clock = system.New()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Start validates the seed and options and returns a seeded session.
func (e *Engine) Start(seed string, opts Options) (*Session, error) {
	canon := canonical.New(opts.Canonical)
	root, err := canon.Canonicalize(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", seed, err)
	}
	compiled, err := opts.compile(root)
	if err != nil {
		return nil, err
	}
	id, err := e.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	s := &Session{
		id:       id,
		root:     root,
		opts:     compiled,
		engine:   e,
		canon:    canon,
		robots:   e.robots(),
		pacer:    ratelimit.New(ratelimit.Config{DefaultDelay: opts.RequestDelay}),
		logger:   e.logger.With(zap.String("session_id", id), zap.String("seed", root)),
		seen:     make(map[string]struct{}),
		fetched:  make(map[string]struct{}),
		origins:  make(map[string]struct{}),
		sitemaps: make(map[string]struct{}),
		pages:    make(map[string]string),
		started:  e.clock.Now(),
	}
	s.seedRoot()
	s.logger.Info("starting crawl",
		zap.Int("max_pages", compiled.MaxPages),
		zap.Int("max_depth", compiled.MaxDepth),
		zap.Int("concurrency", compiled.Concurrency),
		zap.Bool("deep_contact", compiled.DeepContact),
	)
	return s, nil
}

// Crawl runs a full session from seed. Only invalid input is an error; fetch
// failures shrink the result instead.
func (e *Engine) Crawl(ctx context.Context, seed string, opts Options) (Result, error) {
	s, err := e.Start(seed, opts)
	if err != nil {
		return Result{}, err
	}
	res := s.Run(ctx)
	e.publish(ctx, s, res)
	return res, nil
}

func (e *Engine) publish(ctx context.Context, s *Session, res Result) {
	if e.publisher == nil {
		return
	}
	event := CrawlCompleted{
		SessionID:  res.SessionID,
		Seed:       res.Seed,
		Pages:      len(res.Order),
		URLs:       append([]string(nil), res.Order...),
		StartedAt:  s.started,
		FinishedAt: e.clock.Now(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.PublishCrawlCompleted(pubCtx, event); err != nil {
		s.logger.Warn("publish crawl completion failed", zap.Error(err))
	}
}
