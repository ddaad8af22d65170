package app

import (
	"errors"
	"strings"
	"time"

	"lessonhub/pkg/ai"
	"lessonhub/pkg/events"
	"lessonhub/pkg/storage"
	"lessonhub/pkg/store"
	"lessonhub/services/inbox/internal/metrics"
)

const (
	defaultMinRelevance        = 0.5
	defaultSummaryTextMax      = 600
	defaultSummaryJSONMax      = 1500
	defaultRecentMessages      = 12
	defaultDraftTTL            = 24 * time.Hour
	defaultClassifyTimeout     = 4 * time.Second
	defaultEnrichTimeout       = 2 * time.Second
	defaultSummaryTimeout      = 6 * time.Second
	defaultDraftTimeout        = 8 * time.Second
	defaultRecentBookingWindow = 30 * 24 * time.Hour
	defaultRescheduleTolerance = 15 * time.Minute
)

// Options are the feature gates and bounds of the pipeline. Zero values fall
// back to defaults.
type Options struct {
	KillSwitch     bool
	PilotOnly      bool
	PilotAllowlist []string

	ClassifyTimeout time.Duration
	EnrichTimeout   time.Duration
	SummaryTimeout  time.Duration
	DraftTimeout    time.Duration

	MinRelevance   float64
	SummaryTextMax int
	SummaryJSONMax int
	RecentMessages int
	DraftTTL       time.Duration

	Location            *time.Location
	RecentBookingWindow time.Duration
	RescheduleTolerance time.Duration
}

func (o Options) withDefaults() Options {
	if o.ClassifyTimeout <= 0 {
		o.ClassifyTimeout = defaultClassifyTimeout
	}
	if o.EnrichTimeout <= 0 {
		o.EnrichTimeout = defaultEnrichTimeout
	}
	if o.SummaryTimeout <= 0 {
		o.SummaryTimeout = defaultSummaryTimeout
	}
	if o.DraftTimeout <= 0 {
		o.DraftTimeout = defaultDraftTimeout
	}
	if o.MinRelevance <= 0 {
		o.MinRelevance = defaultMinRelevance
	}
	if o.SummaryTextMax <= 0 {
		o.SummaryTextMax = defaultSummaryTextMax
	}
	if o.SummaryJSONMax <= 0 {
		o.SummaryJSONMax = defaultSummaryJSONMax
	}
	if o.RecentMessages <= 0 {
		o.RecentMessages = defaultRecentMessages
	}
	if o.DraftTTL <= 0 {
		o.DraftTTL = defaultDraftTTL
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.RecentBookingWindow <= 0 {
		o.RecentBookingWindow = defaultRecentBookingWindow
	}
	if o.RescheduleTolerance <= 0 {
		o.RescheduleTolerance = defaultRescheduleTolerance
	}
	return o
}

// Config holds dependencies for the inbox app.
type Config struct {
	Store    store.Store
	Executor ai.TaskExecutor
	Archive  storage.RawPayloadArchive
	Events   events.Publisher
	Metrics  *metrics.Metrics
	Options  Options
	Now      func() time.Time
}

// App is the inbound pipeline: resolve, ingest, then orchestrate AI drafting.
type App struct {
	store   store.Store
	events  events.Publisher
	metrics *metrics.Metrics
	opts    Options
	pilots  map[string]struct{}
	now     func() time.Time

	resolver   *Resolver
	ingestor   *Ingestor
	classifier *Classifier
	enricher   *Enricher
	summarizer *Summarizer
	drafter    *Drafter
}

// New constructs the inbox app.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("ai executor required")
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	opts := cfg.Options.withDefaults()
	pilots := make(map[string]struct{}, len(opts.PilotAllowlist))
	for _, id := range opts.PilotAllowlist {
		if id = strings.TrimSpace(id); id != "" {
			pilots[id] = struct{}{}
		}
	}
	return &App{
		store:      cfg.Store,
		events:     pub,
		metrics:    cfg.Metrics,
		opts:       opts,
		pilots:     pilots,
		now:        now,
		resolver:   NewResolver(cfg.Store, now),
		ingestor:   NewIngestor(cfg.Store, cfg.Archive, now),
		classifier: NewClassifier(cfg.Executor, opts.ClassifyTimeout, now),
		enricher: &Enricher{
			store:        cfg.Store,
			timeout:      opts.EnrichTimeout,
			location:     opts.Location,
			recentWindow: opts.RecentBookingWindow,
			tolerance:    opts.RescheduleTolerance,
			now:          now,
		},
		summarizer: NewSummarizer(cfg.Executor, opts.SummaryTimeout, opts.SummaryTextMax, opts.SummaryJSONMax),
		drafter:    &Drafter{exec: cfg.Executor, timeout: opts.DraftTimeout, location: opts.Location},
	}, nil
}
