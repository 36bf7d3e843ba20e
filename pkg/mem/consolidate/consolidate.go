// Package consolidate implements the periodic maintenance pass over the
// record store: salient records are reinforced, stale ones decay, and
// recent episodic records that the semantic indexer finds near-identical
// are linked.
package consolidate

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/graph"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/salience"
	"github.com/lexlapax/engram/pkg/mem/semantic"
	"github.com/lexlapax/engram/pkg/mem/store"
)

// Config holds every consolidation threshold.
type Config struct {
	// ReinforceAbove is the salience above which a record is reinforced.
	ReinforceAbove float64 `yaml:"reinforce_above"`

	// DecayBelow is the salience below which a stale record decays.
	DecayBelow float64 `yaml:"decay_below"`

	// StaleAfter is how long a record must go unaccessed to count as stale.
	StaleAfter time.Duration `yaml:"stale_after"`

	// StaleMaxAccesses: only records accessed fewer times than this decay.
	StaleMaxAccesses int `yaml:"stale_max_accesses"`

	// Cooldown is the minimum time between two nudges of the same record.
	Cooldown time.Duration `yaml:"cooldown"`

	// LinkSampleSize is how many of the newest episodic records are linked.
	LinkSampleSize int `yaml:"link_sample_size"`

	// LinkThreshold is the minimum similarity for an automatic link.
	LinkThreshold float64 `yaml:"link_threshold"`

	// Interval is the period of the background loop. Zero disables it.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds each semantic indexer call.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		ReinforceAbove:   0.7,
		DecayBelow:       0.3,
		StaleAfter:       30 * 24 * time.Hour,
		StaleMaxAccesses: 3,
		Cooldown:         12 * time.Hour,
		LinkSampleSize:   10,
		LinkThreshold:    0.85,
		Interval:         time.Hour,
		Timeout:          2 * time.Second,
	}
}

// Nudge factors.
const (
	priorityUp        = 1.05
	priorityDown      = 0.95
	certaintyUp       = 1.02
	certaintyDown     = 0.98
	reinforcementUp   = 1.05
	reinforcementDown = 0.95

	minPriority  = 1
	maxPriority  = 100
	minCertainty = 0.1
)

// Report summarizes one pass.
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	Scanned    int           `json:"scanned"`
	Reinforced int           `json:"reinforced"`
	Decayed    int           `json:"decayed"`
	Linked     int           `json:"linked"`
	Elapsed    time.Duration `json:"elapsed"`
}

// AfterRunHook observes a finished pass. Its error is logged, never returned.
type AfterRunHook func(ctx context.Context, r Report) error

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithIndexer enables semantic linking.
func WithIndexer(ix semantic.Indexer) Option {
	return func(c *Consolidator) { c.indexer = ix }
}

// WithSalience sets the salience parameters used to classify records.
func WithSalience(p salience.Params) Option {
	return func(c *Consolidator) { c.params = p }
}

// WithAfterRun installs a hook called after every pass.
func WithAfterRun(h AfterRunHook) Option {
	return func(c *Consolidator) { c.afterRun = h }
}

// Consolidator runs consolidation passes over a store. Passes are
// serialized; each record update is its own atomic step.
type Consolidator struct {
	store    *store.Store
	graph    *graph.Graph
	indexer  semantic.Indexer
	params   salience.Params
	cfg      Config
	afterRun AfterRunHook

	mu     sync.Mutex
	nudged map[string]time.Time
	last   *Report
}

// New creates a consolidator. Zero config fields take their defaults.
func New(s *store.Store, cfg Config, opts ...Option) *Consolidator {
	c := &Consolidator{
		store:  s,
		params: salience.DefaultParams(),
		cfg:    withDefaults(cfg),
		nudged: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.graph = graph.New(s)
	return c
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ReinforceAbove == 0 {
		cfg.ReinforceAbove = def.ReinforceAbove
	}
	if cfg.DecayBelow == 0 {
		cfg.DecayBelow = def.DecayBelow
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.StaleMaxAccesses == 0 {
		cfg.StaleMaxAccesses = def.StaleMaxAccesses
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.LinkSampleSize == 0 {
		cfg.LinkSampleSize = def.LinkSampleSize
	}
	if cfg.LinkThreshold == 0 {
		cfg.LinkThreshold = def.LinkThreshold
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return cfg
}

// Config returns the effective configuration.
func (c *Consolidator) Config() Config {
	return c.cfg
}

// LastReport returns the report of the most recent pass, if any.
func (c *Consolidator) LastReport() (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Report{}, false
	}
	return *c.last, true
}

// Run performs one pass. It stops early, returning the partial report,
// when ctx is cancelled. Semantic indexer failures only skip linking.
func (c *Consolidator) Run(ctx context.Context) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	now := c.store.Now()
	rep := Report{StartedAt: now}
	c.expireCooldowns(now)

	for _, id := range c.store.IDs() {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, err
		}
		rep.Scanned++
		if t, ok := c.nudged[id]; ok && now.Sub(t) < c.cfg.Cooldown {
			continue
		}

		var (
			outcome nudge
			changed bool
		)
		_, err := c.store.Update(ctx, id, func(rec *record.MemoryRecord) (bool, error) {
			outcome = c.classify(rec, now)
			switch outcome {
			case reinforce:
				changed = reinforceRecord(rec)
			case decay:
				changed = decayRecord(rec)
			}
			return changed, nil
		})
		if err != nil {
			log.WarnContext(ctx, "Consolidation update failed", "record_id", id, "error", err)
			continue
		}
		if !changed {
			continue
		}
		switch outcome {
		case reinforce:
			rep.Reinforced++
			c.nudged[id] = now
		case decay:
			rep.Decayed++
			c.nudged[id] = now
		}
	}

	if c.indexer != nil && c.cfg.LinkSampleSize > 0 {
		linked, err := c.link(ctx)
		rep.Linked = linked
		if err != nil {
			rep.Elapsed = time.Since(start)
			return rep, err
		}
	}

	rep.Elapsed = time.Since(start)
	c.last = &rep
	log.InfoContext(ctx, "Consolidation pass completed", "scanned", rep.Scanned,
		"reinforced", rep.Reinforced, "decayed", rep.Decayed, "linked", rep.Linked, "elapsed", rep.Elapsed)

	if c.afterRun != nil {
		if err := c.afterRun(ctx, rep); err != nil {
			log.WarnContext(ctx, "After-consolidation hook failed", "error", err)
		}
	}
	return rep, nil
}

type nudge int

const (
	none nudge = iota
	reinforce
	decay
)

func (c *Consolidator) classify(rec *record.MemoryRecord, now time.Time) nudge {
	score := c.params.Score(rec, now)
	switch {
	case score > c.cfg.ReinforceAbove:
		return reinforce
	case score < c.cfg.DecayBelow &&
		now.Sub(rec.LastAccessedAt) > c.cfg.StaleAfter &&
		rec.AccessCount < c.cfg.StaleMaxAccesses:
		return decay
	}
	return none
}

// reinforceRecord nudges rec upward within bounds and reports whether
// anything changed.
func reinforceRecord(rec *record.MemoryRecord) bool {
	p := int(math.Ceil(float64(rec.Priority) * priorityUp))
	if p > maxPriority {
		p = maxPriority
	}
	if p < rec.Priority {
		p = rec.Priority
	}
	cert := math.Min(1, rec.Certainty*certaintyUp)
	if cert < rec.Certainty {
		cert = rec.Certainty
	}
	rs := math.Min(record.MaxReinforcement, rec.ReinforcementScore*reinforcementUp)
	if rs < rec.ReinforcementScore {
		rs = rec.ReinforcementScore
	}
	return apply(rec, p, cert, rs)
}

// decayRecord nudges rec downward within bounds. Values already below a
// floor are left alone rather than raised to it.
func decayRecord(rec *record.MemoryRecord) bool {
	p := int(math.Floor(float64(rec.Priority) * priorityDown))
	if p < minPriority {
		p = minPriority
	}
	if p > rec.Priority {
		p = rec.Priority
	}
	cert := math.Max(minCertainty, rec.Certainty*certaintyDown)
	if cert > rec.Certainty {
		cert = rec.Certainty
	}
	rs := math.Max(record.MinReinforcement, rec.ReinforcementScore*reinforcementDown)
	if rs > rec.ReinforcementScore {
		rs = rec.ReinforcementScore
	}
	return apply(rec, p, cert, rs)
}

func apply(rec *record.MemoryRecord, p int, cert, rs float64) bool {
	changed := p != rec.Priority || cert != rec.Certainty || rs != rec.ReinforcementScore
	rec.Priority, rec.Certainty, rec.ReinforcementScore = p, cert, rs
	return changed
}

func (c *Consolidator) expireCooldowns(now time.Time) {
	for id, t := range c.nudged {
		if now.Sub(t) >= c.cfg.Cooldown || !c.store.Exists(id) {
			delete(c.nudged, id)
		}
	}
}

// link connects each of the newest episodic records to the records the
// indexer rates at least LinkThreshold similar.
func (c *Consolidator) link(ctx context.Context) (int, error) {
	recent := c.store.All(record.Episodic)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	if len(recent) > c.cfg.LinkSampleSize {
		recent = recent[:c.cfg.LinkSampleSize]
	}

	linked := 0
	for _, rec := range recent {
		if err := ctx.Err(); err != nil {
			return linked, err
		}
		cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		matches, err := c.indexer.FindSimilar(cctx, rec.ID, c.cfg.LinkSampleSize, c.cfg.LinkThreshold)
		cancel()
		if err != nil {
			log.WarnContext(ctx, "Semantic linking skipped",
				"error", errors.NewCollaboratorError("semantic", "FindSimilar", err))
			return linked, nil
		}
		for _, m := range matches {
			if m.Score < c.cfg.LinkThreshold || m.ID == rec.ID {
				continue
			}
			cur, ok := c.store.Peek(rec.ID)
			if !ok || cur.IsConnected(m.ID) {
				continue
			}
			if c.graph.Connect(ctx, rec.ID, m.ID) {
				linked++
				log.DebugContext(ctx, "Linked similar records", "from", rec.ID, "to", m.ID, "score", m.Score)
			}
		}
	}
	return linked, nil
}

// RunPeriodically runs a pass every Interval until ctx is done.
func (c *Consolidator) RunPeriodically(ctx context.Context) {
	if c.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Run(ctx); err != nil && ctx.Err() == nil {
				log.WarnContext(ctx, "Periodic consolidation failed", "error", err)
			}
		}
	}
}
