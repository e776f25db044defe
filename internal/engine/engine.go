package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/promptrank/internal/config"
	"github.com/knowledge-engine/promptrank/internal/corpus"
	"github.com/knowledge-engine/promptrank/internal/filler"
	"github.com/knowledge-engine/promptrank/internal/loader"
	"github.com/knowledge-engine/promptrank/internal/search"
	"github.com/knowledge-engine/promptrank/internal/storage"
	"github.com/knowledge-engine/promptrank/internal/synonyms"
	"github.com/knowledge-engine/promptrank/internal/text"
)

const defaultMaxResults = 20

// State is the engine lifecycle stage
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// SearchRequest is a free-text draft plus the context used to fill placeholders
type SearchRequest struct {
	Draft   string         `json:"draft"`
	Context map[string]any `json:"context"`

	// Optional per-request overrides of the configured prefilter family and result count
	Family     string `json:"family,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type SearchResult struct {
	CandidateID   string  `json:"candidateId"`
	TemplateTitle string  `json:"templateTitle"`
	FilledPrompt  string  `json:"filledPrompt"`
	Score         float64 `json:"score"`
}

type EngineStatus struct {
	Ready         bool `json:"ready"`
	TemplateCount int  `json:"templateCount"`
	Categories    int  `json:"categories"`
}

type EventType string

const (
	EventReplace EventType = "REPLACE"
	EventCopy    EventType = "COPY"
	EventDiscard EventType = "DISCARD"
)

// Event records what the user did with a suggested template
type Event struct {
	EventType   EventType `json:"eventType"`
	CandidateID string    `json:"candidateId"`
}

// snapshot is everything a query reads. It is built in full and then
// published with a single pointer store.
type snapshot struct {
	manifest *corpus.Manifest
	synonyms *synonyms.Table
	lite     *search.LiteIndex
	bm25     *search.BM25Index
}

type loadCall struct {
	done chan struct{}
	err  error
}

// Engine loads the template corpus once and answers ranked template queries
type Engine struct {
	cfg       config.EngineConfig
	prefilter search.PrefilterOptions
	src       loader.Source
	store     storage.Store
	logger    *logrus.Entry

	mu       sync.Mutex
	state    State
	inflight *loadCall
	current  atomic.Pointer[snapshot]
}

// New creates an engine reading corpus resources from src. store may be nil,
// in which case every load fetches the packs.
func New(cfg config.EngineConfig, src loader.Source, store storage.Store, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logrus.WithField("component", "engine")
	} else {
		logger = logger.WithField("component", "engine")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.SynonymCap < 0 {
		cfg.SynonymCap = 0
	}

	return &Engine{
		cfg:       cfg,
		prefilter: prefilterOptions(cfg.Prefilter),
		src:       src,
		store:     store,
		logger:    logger,
	}
}

// prefilterOptions overlays p on DefaultPrefilterOptions. Zero fields keep
// the default; a negative Min disables backfill.
func prefilterOptions(p config.PrefilterConfig) search.PrefilterOptions {
	opts := search.DefaultPrefilterOptions()
	opts.Family = p.Family
	if p.Min != 0 {
		opts.Min = max(p.Min, 0)
	}
	if p.Max > 0 {
		opts.Max = p.Max
	}
	if p.WTag != 0 {
		opts.WTag = p.WTag
	}
	if p.WTitle != 0 {
		opts.WTitle = p.WTitle
	}
	if p.WSynMultiplier != 0 {
		opts.WSynMultiplier = p.WSynMultiplier
	}
	if p.CapQuery > 0 {
		opts.CapQuery = p.CapQuery
	}
	return opts
}

// State returns the current lifecycle stage
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Init loads the corpus if it is not loaded yet. Concurrent callers share a
// single load; ctx only bounds how long this caller waits for it.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateReady {
		e.mu.Unlock()
		return nil
	}
	call := e.startLoadLocked(ctx)
	e.mu.Unlock()

	return wait(ctx, call)
}

// SeedFromManifest makes sure the persisted snapshot matches the current
// manifest and the engine is ready.
func (e *Engine) SeedFromManifest(ctx context.Context) error {
	return e.Init(ctx)
}

// Reload runs the load sequence again even when the engine is ready. The
// published snapshot keeps serving queries until the new one replaces it.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	call := e.startLoadLocked(ctx)
	e.mu.Unlock()

	return wait(ctx, call)
}

// startLoadLocked joins the in-flight load or starts a new one. e.mu must be held.
func (e *Engine) startLoadLocked(ctx context.Context) *loadCall {
	if e.inflight != nil {
		return e.inflight
	}

	call := &loadCall{done: make(chan struct{})}
	e.inflight = call
	if e.state != StateReady {
		e.state = StateLoading
	}

	loadCtx := context.WithoutCancel(ctx)
	go func() {
		err := e.load(loadCtx)

		e.mu.Lock()
		call.err = err
		e.inflight = nil
		switch {
		case err == nil:
			e.state = StateReady
		case e.current.Load() == nil:
			e.state = StateUninitialized
		}
		e.mu.Unlock()

		close(call.done)
	}()

	return call
}

func wait(ctx context.Context, call *loadCall) error {
	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) load(ctx context.Context) error {
	start := time.Now()

	manifest, err := loader.LoadManifest(ctx, e.src)
	if err != nil {
		e.logger.WithError(err).Error("Failed to load manifest")
		return err
	}
	log := e.logger.WithField("manifest", manifest.Hash)

	templates := e.cachedTemplates(log, manifest.Hash)
	fromCache := len(templates) > 0
	if !fromCache {
		templates, err = loader.LoadAllPacks(ctx, e.src, manifest)
		if err != nil {
			log.WithError(err).Error("Failed to load template packs")
			return err
		}
		e.persist(ctx, log, templates, manifest.Hash)
	}

	dict, err := loader.LoadSynonymsDict(ctx, e.src)
	if err != nil {
		log.WithError(err).Error("Failed to load synonyms")
		return err
	}
	table, err := synonyms.Load(dict, synonyms.LoadOptions{
		CapPerKey: e.cfg.SynonymCap,
		DevCheck:  e.cfg.ValidateSynonyms,
	})
	if err != nil {
		log.WithError(err).Error("Synonym dictionary rejected")
		return fmt.Errorf("load synonyms: %w", err)
	}

	snap := &snapshot{
		manifest: manifest,
		synonyms: table,
		lite:     search.BuildLiteIndex(templates),
		bm25:     search.BuildBM25Index(templates),
	}
	e.current.Store(snap)

	log.WithFields(logrus.Fields{
		"templates": snap.lite.Len(),
		"synonyms":  table.Len(),
		"cached":    fromCache,
		"duration":  time.Since(start),
	}).Info("Corpus loaded")
	return nil
}

// cachedTemplates returns the persisted snapshot when it was written for
// manifestHash. Store failures degrade to a fresh fetch.
func (e *Engine) cachedTemplates(log *logrus.Entry, manifestHash string) []corpus.TemplateDoc {
	if e.store == nil {
		return nil
	}

	current, ok, err := e.store.GetMeta(corpus.ManifestHashKey)
	if err != nil {
		log.WithError(err).Warn("Failed to read cached manifest hash")
		return nil
	}
	if !ok || current != manifestHash {
		return nil
	}

	templates, err := e.store.AllTemplates(true)
	if err != nil {
		log.WithError(err).Warn("Failed to load cached templates")
		return nil
	}
	return templates
}

func (e *Engine) persist(ctx context.Context, log *logrus.Entry, templates []corpus.TemplateDoc, manifestHash string) {
	if e.store == nil {
		return
	}
	if _, err := storage.Seed(ctx, e.store, templates, manifestHash); err != nil {
		log.WithError(err).Warn("Failed to persist templates")
	}
}

// Search ranks templates against the draft and fills the best ones
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}

	results := []SearchResult{}
	if strings.TrimSpace(req.Draft) == "" {
		return results, nil
	}

	snap := e.current.Load()

	opts := e.prefilter
	if req.Family != "" {
		opts.Family = req.Family
	}
	candidates := snap.lite.CandidateIDs(req.Draft, snap.synonyms, opts)
	terms := snap.synonyms.Expand(text.Tokens(req.Draft))

	type hit struct {
		id    string
		score float64
	}
	var hits []hit
	for _, id := range candidates {
		if score := snap.bm25.Score(id, terms, search.BM25Params{}); score > 0 {
			hits = append(hits, hit{id: id, score: score})
		}
	}
	if len(hits) == 0 {
		return results, nil
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})

	limit := e.cfg.MaxResults
	if req.MaxResults > 0 && req.MaxResults < limit {
		limit = req.MaxResults
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}

	top := hits[0].score
	for _, h := range hits {
		doc, ok := snap.lite.Doc(h.id)
		if !ok {
			continue
		}
		filled := filler.Fill(doc, req.Draft, req.Context)
		results = append(results, SearchResult{
			CandidateID:   doc.ID,
			TemplateTitle: doc.Title,
			FilledPrompt:  filled.Filled,
			Score:         math.Round(h.score/top*1e4) / 1e4,
		})
	}
	return results, nil
}

// Status reports readiness and corpus size of the published snapshot
func (e *Engine) Status() EngineStatus {
	snap := e.current.Load()
	if snap == nil {
		return EngineStatus{}
	}
	return EngineStatus{
		Ready:         true,
		TemplateCount: snap.lite.Len(),
		Categories:    len(snap.manifest.Categories),
	}
}

// RecordEvent accepts user feedback on a suggestion. Nothing is recorded yet.
func (e *Engine) RecordEvent(ctx context.Context, ev Event) error {
	return nil
}
