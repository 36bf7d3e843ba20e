// Package engram is the entry point of the memory engine. An Engine wires
// the record store, indices, associative graph, query engine, working set
// and consolidation process together with the optional persistence and
// semantic indexer collaborators.
package engram

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/consolidate"
	"github.com/lexlapax/engram/pkg/mem/graph"
	"github.com/lexlapax/engram/pkg/mem/index"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/query"
	"github.com/lexlapax/engram/pkg/mem/record"
	"github.com/lexlapax/engram/pkg/mem/salience"
	"github.com/lexlapax/engram/pkg/mem/semantic"
	"github.com/lexlapax/engram/pkg/mem/store"
	"github.com/lexlapax/engram/pkg/mem/workingset"
	"github.com/lexlapax/engram/pkg/scripting"
)

// DefaultTimeout bounds every collaborator call.
const DefaultTimeout = 2 * time.Second

// DefaultSweepInterval is how often the working set drops expired entries.
const DefaultSweepInterval = time.Minute

type options struct {
	persistence      ltm.Store
	indexer          semantic.Indexer
	scripts          scripting.Engine
	params           salience.Params
	timeout          time.Duration
	minSemanticScore float64
	wsCapacity       int
	wsRetention      time.Duration
	sweepInterval    time.Duration
	consolidation    consolidate.Config
	periodic         bool
	now              func() time.Time
	closers          []io.Closer
}

// Option configures an Engine.
type Option func(*options)

// WithPersistence enables write-through durability and the persistence
// fallback tier of retrieval.
func WithPersistence(p ltm.Store) Option {
	return func(o *options) { o.persistence = p }
}

// WithIndexer enables semantic retrieval, semantic related-memory lookup
// and semantic linking during consolidation.
func WithIndexer(ix semantic.Indexer) Option {
	return func(o *options) { o.indexer = ix }
}

// WithScripting installs the adjust_score and after_consolidate hooks
// defined by the loaded scripts. The engine closes it on Close.
func WithScripting(s scripting.Engine) Option {
	return func(o *options) { o.scripts = s }
}

// WithSalience overrides the salience parameters.
func WithSalience(p salience.Params) Option {
	return func(o *options) { o.params = p }
}

// WithTimeout bounds each collaborator call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMinSemanticScore drops weaker semantic matches.
func WithMinSemanticScore(min float64) Option {
	return func(o *options) { o.minSemanticScore = min }
}

// WithWorkingSet sizes the working set.
func WithWorkingSet(capacity int, retention time.Duration) Option {
	return func(o *options) {
		o.wsCapacity = capacity
		o.wsRetention = retention
	}
}

// WithSweepInterval sets how often Start sweeps the working set.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithConsolidation sets the consolidation thresholds. periodic controls
// whether Start runs the background loop.
func WithConsolidation(cfg consolidate.Config, periodic bool) Option {
	return func(o *options) {
		o.consolidation = cfg
		o.periodic = periodic
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// withCloser registers a resource released by Close.
func withCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

// Engine is the memory engine facade. It is safe for concurrent use.
type Engine struct {
	store        *store.Store
	ws           *workingset.Cache
	graph        *graph.Graph
	query        *query.Engine
	consolidator *consolidate.Consolidator
	persistence  ltm.Store
	indexer      semantic.Indexer
	scripts      scripting.Engine
	params       salience.Params
	timeout      time.Duration
	sweep        time.Duration
	periodic     bool
	closers      []io.Closer

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New builds an engine from options. Without options it is a purely
// in-memory engine with default thresholds.
func New(opts ...Option) *Engine {
	o := options{
		params:        salience.DefaultParams(),
		timeout:       DefaultTimeout,
		wsCapacity:    workingset.DefaultCapacity,
		wsRetention:   workingset.DefaultRetention,
		sweepInterval: DefaultSweepInterval,
		consolidation: consolidate.DefaultConfig(),
		periodic:      true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var storeOpts []store.Option
	wsOpts := []workingset.Option{workingset.WithCapacity(o.wsCapacity), workingset.WithRetention(o.wsRetention)}
	if o.now != nil {
		storeOpts = append(storeOpts, store.WithClock(o.now))
		wsOpts = append(wsOpts, workingset.WithClock(o.now))
	}

	e := &Engine{
		store:       store.New(storeOpts...),
		ws:          workingset.New(wsOpts...),
		persistence: o.persistence,
		indexer:     o.indexer,
		scripts:     o.scripts,
		params:      o.params,
		timeout:     o.timeout,
		sweep:       o.sweepInterval,
		periodic:    o.periodic,
		closers:     o.closers,
	}

	graphOpts := []graph.Option{graph.WithSalience(o.params), graph.WithTimeout(o.timeout)}
	queryOpts := []query.Option{
		query.WithSalience(o.params),
		query.WithTimeout(o.timeout),
		query.WithMinSemanticScore(o.minSemanticScore),
		query.WithWorkingSet(e.ws),
	}
	consolidateOpts := []consolidate.Option{consolidate.WithSalience(o.params)}
	if o.indexer != nil {
		graphOpts = append(graphOpts, graph.WithIndexer(o.indexer), graph.WithMinSimilarity(o.minSemanticScore))
		queryOpts = append(queryOpts, query.WithIndexer(o.indexer))
		consolidateOpts = append(consolidateOpts, consolidate.WithIndexer(o.indexer))
	}
	if o.persistence != nil {
		queryOpts = append(queryOpts, query.WithPersistence(o.persistence))
	}
	if o.scripts != nil {
		if hook := scoreHook(o.scripts); hook != nil {
			queryOpts = append(queryOpts, query.WithScoreHook(hook))
		}
		if hook := afterConsolidateHook(o.scripts); hook != nil {
			consolidateOpts = append(consolidateOpts, consolidate.WithAfterRun(hook))
		}
	}
	cc := o.consolidation
	if cc.Timeout <= 0 {
		cc.Timeout = o.timeout
	}

	e.graph = graph.New(e.store, graphOpts...)
	e.query = query.New(e.store, queryOpts...)
	e.consolidator = consolidate.New(e.store, cc, consolidateOpts...)

	if o.persistence != nil || o.indexer != nil {
		e.store.Subscribe(&syncListener{persistence: o.persistence, indexer: o.indexer, timeout: o.timeout})
	}

	log.Debug("Engine initialized",
		"persistence", o.persistence != nil,
		"semantic_indexer", o.indexer != nil,
		"scripting", o.scripts != nil,
		"working_set_capacity", e.ws.Capacity(),
	)
	return e
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Remember stores rec and places it in the working set. It returns the
// record id, generated when rec has none.
func (e *Engine) Remember(ctx context.Context, rec *record.MemoryRecord) (string, error) {
	if e.isClosed() {
		return "", errors.ErrClosed
	}
	id, err := e.store.Store(ctx, rec)
	if err != nil {
		return "", err
	}
	e.ws.Add(id)
	return id, nil
}

// Recall returns a copy of the record, counting the read as an access and
// attending to it.
func (e *Engine) Recall(ctx context.Context, id string) (*record.MemoryRecord, bool) {
	if e.isClosed() {
		return nil, false
	}
	rec, ok := e.store.Get(ctx, id)
	if ok {
		e.ws.Add(id)
	}
	return rec, ok
}

// Peek returns a copy of the record without any bookkeeping.
func (e *Engine) Peek(id string) (*record.MemoryRecord, bool) {
	return e.store.Peek(id)
}

// Forget removes the record, its links, its index entries and its
// collaborator copies. It reports whether the record existed.
func (e *Engine) Forget(ctx context.Context, id string) bool {
	if e.isClosed() || !e.store.Remove(ctx, id) {
		return false
	}
	e.ws.Remove(id)
	return true
}

// Attend places an existing record in the working set.
func (e *Engine) Attend(id string) bool {
	if e.isClosed() || !e.store.Exists(id) {
		return false
	}
	e.ws.Add(id)
	return true
}

// WorkingSet returns the attended ids ordered oldest to newest.
func (e *Engine) WorkingSet() []workingset.Entry {
	return e.ws.Entries()
}

// Connect links two records in both directions.
func (e *Engine) Connect(ctx context.Context, a, b string) bool {
	if e.isClosed() {
		return false
	}
	return e.graph.Connect(ctx, a, b)
}

// Disconnect removes the link between two records.
func (e *Engine) Disconnect(ctx context.Context, a, b string) bool {
	if e.isClosed() {
		return false
	}
	return e.graph.Disconnect(ctx, a, b)
}

// Related returns records associated with id: direct links, then semantic
// neighbours, then keyword overlap.
func (e *Engine) Related(ctx context.Context, id string, limit int) []graph.Related {
	if e.isClosed() {
		return nil
	}
	return e.graph.RelatedTo(ctx, id, limit)
}

// Query runs a structured retrieval.
func (e *Engine) Query(ctx context.Context, q query.Query) (*query.Result, error) {
	if e.isClosed() {
		return nil, errors.ErrClosed
	}
	return e.query.Query(ctx, q)
}

// ByWorkingSet returns records associated with what is currently attended.
func (e *Engine) ByWorkingSet(ctx context.Context, limit int) (*query.Result, error) {
	if e.isClosed() {
		return nil, errors.ErrClosed
	}
	return e.query.ByWorkingSet(ctx, limit)
}

// ByTimeFrame returns records created within [from, to].
func (e *Engine) ByTimeFrame(ctx context.Context, from, to time.Time, limit int, kinds ...record.Kind) (*query.Result, error) {
	if e.isClosed() {
		return nil, errors.ErrClosed
	}
	return e.query.ByTimeFrame(ctx, from, to, limit, kinds...)
}

// ByEmotion returns records ranked by how well their valence matches.
func (e *Engine) ByEmotion(ctx context.Context, valence float64, limit int, kinds ...record.Kind) (*query.Result, error) {
	if e.isClosed() {
		return nil, errors.ErrClosed
	}
	return e.query.ByEmotion(ctx, valence, limit, kinds...)
}

// Salience explains the current salience of a record.
func (e *Engine) Salience(id string) (salience.Breakdown, bool) {
	rec, ok := e.store.Peek(id)
	if !ok {
		return salience.Breakdown{}, false
	}
	return e.params.Explain(rec, e.store.Now()), true
}

// Consolidate runs one consolidation pass.
func (e *Engine) Consolidate(ctx context.Context) (consolidate.Report, error) {
	if e.isClosed() {
		return consolidate.Report{}, errors.ErrClosed
	}
	return e.consolidator.Run(ctx)
}

// LastConsolidation returns the report of the latest pass, if any.
func (e *Engine) LastConsolidation() (consolidate.Report, bool) {
	return e.consolidator.LastReport()
}

// Reinforce adds delta to the reinforcement score of id. It reports false
// when the record is missing and returns a ValidationError when the new
// score would leave [MinReinforcement, MaxReinforcement].
func (e *Engine) Reinforce(ctx context.Context, id string, delta float64) (bool, error) {
	if e.isClosed() {
		return false, errors.ErrClosed
	}
	return e.store.Update(ctx, id, func(rec *record.MemoryRecord) (bool, error) {
		next := rec.ReinforcementScore + delta
		if next < record.MinReinforcement || next > record.MaxReinforcement {
			verr := &errors.ValidationError{}
			verr.Add("reinforcement_score", "must be within [%g,%g] (got %g)",
				record.MinReinforcement, record.MaxReinforcement, next)
			return false, verr
		}
		if delta == 0 {
			return false, nil
		}
		rec.ReinforcementScore = next
		return true, nil
	})
}

// Stats describes the engine's contents.
type Stats struct {
	Records            int                 `json:"records"`
	ByKind             map[record.Kind]int `json:"by_kind"`
	IndexKeys          map[index.Name]int  `json:"index_keys"`
	WorkingSet         int                 `json:"working_set"`
	WorkingSetCapacity int                 `json:"working_set_capacity"`
	LastConsolidation  *consolidate.Report `json:"last_consolidation,omitempty"`
}

// Stats returns counts per kind, index sizes and working-set occupancy.
func (e *Engine) Stats() Stats {
	byKind := e.store.CountByKind()
	total := 0
	for _, n := range byKind {
		total += n
	}
	st := Stats{
		Records:            total,
		ByKind:             byKind,
		IndexKeys:          e.store.Indices().Sizes(),
		WorkingSet:         e.ws.Len(),
		WorkingSetCapacity: e.ws.Capacity(),
	}
	if rep, ok := e.consolidator.LastReport(); ok {
		st.LastConsolidation = &rep
	}
	return st
}

// Start runs the working-set sweep and, when enabled, periodic
// consolidation until ctx is done or Close is called. Calling Start on a
// running engine does nothing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.ErrClosed
	}
	if e.cancel != nil {
		return nil
	}
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.ws.Run(log.WithComponent(ctx, "working_set"), e.sweep)
	}()
	if e.periodic {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consolidator.RunPeriodically(log.WithComponent(ctx, "consolidator"))
		}()
	}
	log.InfoContext(ctx, "Engine background loops started", "sweep_interval", e.sweep, "periodic_consolidation", e.periodic)
	return nil
}

// Close stops the background loops and releases the collaborators and the
// scripting engine. It is safe to call more than once. Afterwards every
// operation that records an access, mutates the store or reaches a
// collaborator fails with ErrClosed or reports a miss; Peek, WorkingSet,
// Salience, Stats, Export and LastConsolidation keep reading the in-memory
// state.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	var errs []error
	if e.scripts != nil {
		if err := e.scripts.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	// Released in reverse order of acquisition.
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Debug("Engine closed")
	return nil
}
