// Package pipeline drives one generation job end to end: robots and sitemap
// discovery, the bounded crawl, extraction, composition, and artifact
// publication, reporting progress to the job manager throughout.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/compose"
	"github.com/sshtomar/llm-txt/internal/extract"
	"github.com/sshtomar/llm-txt/internal/fetch"
	"github.com/sshtomar/llm-txt/internal/frontier"
	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/jobs"
	"github.com/sshtomar/llm-txt/internal/robots"
	"github.com/sshtomar/llm-txt/internal/telemetry"
)

// Progress base values per phase; the within-phase fraction fills the gap to
// the next base.
const (
	progressInit      = 0.05
	progressCrawl     = 0.10
	progressExtract   = 0.70
	progressCompose   = 0.90
	cancelPollEvery   = 100 * time.Millisecond
	langMismatchScore = -3.0
)

// Config bounds one job's resource use.
type Config struct {
	Concurrency  int
	PerHostMax   int
	FetchTimeout time.Duration
	JobBudget    time.Duration
	MinTextChars int
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	if c.PerHostMax <= 0 {
		c.PerHostMax = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.JobBudget <= 0 {
		c.JobBudget = 180 * time.Second
	}
	if c.MinTextChars <= 0 {
		c.MinTextChars = 200
	}
}

// Orchestrator wires the pipeline components for job execution. One
// orchestrator serves all jobs; per-job state (frontier, robots cache, host
// gate, fetcher) is built inside Run.
type Orchestrator struct {
	manager    *jobs.Manager
	store      generator.ArtifactStore
	summarizer generator.Summarizer
	publisher  generator.Publisher
	clock      generator.Clock
	renderer   generator.Renderer
	extractor  *extract.Extractor
	logger     *zap.Logger
	cfg        Config

	// Factory hooks, overridable in tests.
	newFetcher func(req generator.JobRequest, gate *fetch.HostGate) (generator.Fetcher, error)
	newRobots  func(respect bool, userAgent string) robots.Policy
	newSitemap func(userAgent string) sitemapDiscoverer
}

type sitemapDiscoverer interface {
	Discover(ctx context.Context, seed string, declared []string) []string
}

// New constructs an Orchestrator. renderer may be nil (rendering disabled).
func New(
	manager *jobs.Manager,
	st generator.ArtifactStore,
	summarizer generator.Summarizer,
	publisher generator.Publisher,
	clock generator.Clock,
	renderer generator.Renderer,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		manager:    manager,
		store:      st,
		summarizer: summarizer,
		publisher:  publisher,
		clock:      clock,
		renderer:   renderer,
		extractor:  extract.New(),
		logger:     logger,
		cfg:        cfg,
	}
	o.newFetcher = func(req generator.JobRequest, gate *fetch.HostGate) (generator.Fetcher, error) {
		return fetch.NewCollyFetcher(fetch.Config{
			UserAgent: req.UserAgent,
			Timeout:   cfg.FetchTimeout,
		}, gate, logger)
	}
	o.newRobots = func(respect bool, userAgent string) robots.Policy {
		return robots.NewPolicy(respect, userAgent, logger)
	}
	o.newSitemap = func(userAgent string) sitemapDiscoverer {
		return robots.NewSitemapFetcher(userAgent, logger)
	}
	return o
}

// Run executes the whole pipeline for one created job and performs the
// terminal transition. It is intended to run in its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, job generator.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobBudget)
	defer cancel()

	// Bridge the manager's cancellation flag into the context so blocking
	// calls (fetches, summarizer waits) unwind promptly.
	stopWatch := o.watchCancellation(jobCtx, cancel, job.ID)
	defer stopWatch()

	if err := o.manager.Start(jobCtx, job.ID); err != nil {
		o.logger.Error("job start failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	telemetry.ObserveJobStarted()

	err := o.run(jobCtx, job)
	o.finish(job, err)
}

// pipelineError pairs a terminal failure with its stable code.
type pipelineError struct {
	code string
	err  error
}

func (e *pipelineError) Error() string { return e.err.Error() }
func (e *pipelineError) Unwrap() error { return e.err }

var errCancelled = errors.New("job cancelled")

func (o *Orchestrator) run(ctx context.Context, job generator.Job) error {
	req := job.Request

	o.manager.SetPhase(ctx, job.ID, generator.PhaseInitializing, "Loading robots.txt and sitemap")
	o.manager.Report(ctx, job.ID, progressInit, nil)

	seed, err := generator.CanonicalURL(req.URL)
	if err != nil {
		return &pipelineError{code: jobs.CodeInternal, err: fmt.Errorf("canonicalize seed: %w", err)}
	}

	policy := o.newRobots(req.RespectRobots, req.UserAgent)
	if !policy.Allowed(ctx, seed) {
		return &pipelineError{code: jobs.CodeBlockedByRobots,
			err: fmt.Errorf("robots.txt disallows the seed URL %s", seed)}
	}

	gate := fetch.NewHostGate(time.Duration(req.RequestDelay*float64(time.Second)), o.cfg.PerHostMax)
	if delay := policy.CrawlDelay(ctx, seed); delay > 0 {
		gate.RaiseDelay(hostOf(seed), delay)
	}

	fetcher, err := o.newFetcher(req, gate)
	if err != nil {
		return &pipelineError{code: jobs.CodeInternal, err: fmt.Errorf("build fetcher: %w", err)}
	}

	f := frontier.New(seed, req.MaxDepth, req.MaxPages)
	f.Allow = func(rawURL string) bool {
		if policy.Allowed(ctx, rawURL) {
			return true
		}
		o.manager.Log(ctx, job.ID, fmt.Sprintf("%s %s", generator.ExtractSkippedRobots, rawURL))
		return false
	}

	f.Enqueue(seed, 0, false)
	sitemapURLs := o.newSitemap(req.UserAgent).Discover(ctx, seed, policy.Sitemaps(ctx, seed))
	admittedFromSitemap := 0
	for _, u := range sitemapURLs {
		if _, ok := f.Enqueue(u, 1, true); ok {
			admittedFromSitemap++
		}
	}
	if skipped := len(sitemapURLs) - admittedFromSitemap; skipped > 0 {
		o.manager.Log(ctx, job.ID, fmt.Sprintf("sitemap listed %d urls beyond crawl limits; not crawled", skipped))
	}

	pages, err := o.crawl(ctx, job, fetcher, f)
	if err != nil {
		return err
	}

	o.manager.SetPhase(ctx, job.ID, generator.PhaseExtracting, "Extraction finished")
	o.manager.Report(ctx, job.ID, progressExtract, nil)

	if code := o.checkpoint(ctx, job.ID); code != "" {
		return checkpointError(code)
	}

	usable := 0
	for _, p := range pages {
		if p.Status == generator.ExtractOK || p.Status == generator.ExtractRendered {
			usable++
		}
	}
	if usable == 0 {
		return &pipelineError{code: jobs.CodeNoUsableContent,
			err: errors.New("no pages yielded usable content")}
	}

	o.manager.SetPhase(ctx, job.ID, generator.PhaseComposing, "Composing artifacts")
	o.manager.Report(ctx, job.ID, progressCompose, nil)

	return o.composeAndPublish(ctx, job, seed, pages)
}

// crawl drains the frontier through a bounded worker pool. The frontier is
// owned by this goroutine; workers only fetch and extract.
func (o *Orchestrator) crawl(ctx context.Context, job generator.Job, fetcher generator.Fetcher, f *frontier.Frontier) ([]generator.Page, error) {
	req := job.Request
	o.manager.SetPhase(ctx, job.ID, generator.PhaseCrawling, "Crawling site")

	type crawlResult struct {
		page    generator.Page
		item    frontier.Item
		elapsed time.Duration
	}
	results := make(chan crawlResult)

	var pages []generator.Page
	processed := 0
	crawled := 0
	inFlight := 0
	interrupted := ""

	launch := func() bool {
		if processed+inFlight >= req.MaxPages {
			return false
		}
		item, ok := f.Pop()
		if !ok {
			return false
		}
		inFlight++
		go func(it frontier.Item) {
			page, elapsed := o.processURL(ctx, req, fetcher, it)
			results <- crawlResult{page: page, item: it, elapsed: elapsed}
		}(item)
		return true
	}

	for {
		if interrupted == "" {
			if code := o.checkpoint(ctx, job.ID); code != "" {
				interrupted = code
			}
		}
		if interrupted == "" {
			for inFlight < o.cfg.Concurrency && launch() {
			}
		}
		if inFlight == 0 {
			break
		}

		res := <-results
		inFlight--
		if interrupted != "" {
			continue // draining
		}

		processed++
		page := res.page
		if page.Status == generator.ExtractOK || page.Status == generator.ExtractRendered {
			crawled++
			for _, link := range page.Links {
				f.Enqueue(link, res.item.Depth+1, false)
			}
		}
		page.Body = nil // raw bytes are not needed past extraction
		pages = append(pages, page)

		telemetry.ObservePageFetched(string(page.Status), res.elapsed)
		o.manager.Log(ctx, job.ID, fmt.Sprintf("%s %s", page.Status, page.URL))

		discovered := f.Discovered()
		fraction := progressCrawl
		if discovered > 0 {
			span := progressExtract - progressCrawl
			fraction += span * float64(processed) / float64(min(discovered, req.MaxPages))
		}
		o.manager.Report(ctx, job.ID, fraction, func(p *generator.Progress) {
			p.PagesDiscovered = discovered
			p.PagesProcessed = processed
			p.PagesCrawled = crawled
			p.CurrentPageURL = page.URL
		})
	}

	if interrupted != "" {
		return nil, checkpointError(interrupted)
	}
	if remaining := f.Len(); remaining > 0 {
		o.manager.Log(ctx, job.ID, fmt.Sprintf("%d discovered urls not crawled (page cap reached)", remaining))
	}
	return pages, nil
}

// processURL runs fetch + extract (+ rendering fallback) for one URL.
func (o *Orchestrator) processURL(ctx context.Context, req generator.JobRequest, fetcher generator.Fetcher, item frontier.Item) (generator.Page, time.Duration) {
	page := generator.Page{
		URL:         item.URL,
		Depth:       item.Depth,
		FromSitemap: item.FromSitemap,
		Score:       item.Score,
	}

	res, err := fetcher.Fetch(ctx, item.URL)
	if err != nil {
		page.Status = generator.ExtractFetchError
		o.logger.Debug("fetch failed", zap.String("url", item.URL), zap.Error(err))
		return page, res.Elapsed
	}
	page.ContentType = res.Headers.Get("Content-Type")
	page.Body = res.Body

	doc, err := o.extractor.Extract(res.Body, page.ContentType, item.URL)
	if err != nil {
		page.Status = generator.ExtractEmpty
		return page, res.Elapsed
	}
	status := doc.Status

	if status == generator.ExtractEmpty && o.renderer != nil {
		detector := fetch.NewRenderDetector(o.cfg.MinTextChars)
		if detector.NeedsRender(res.Body) {
			if rendered, renderErr := o.renderer.Render(ctx, item.URL); renderErr == nil {
				if redoc, reErr := o.extractor.Extract(rendered, "text/html", item.URL); reErr == nil && redoc.Status == generator.ExtractOK {
					doc = redoc
					status = generator.ExtractRendered
				}
			} else {
				o.logger.Debug("render fallback failed",
					zap.String("url", item.URL), zap.Error(renderErr))
			}
		}
	}

	page.Title = doc.Title
	page.Markdown = doc.Markdown
	page.Headings = doc.Headings
	page.CodeBlocks = doc.CodeBlocks
	page.Links = doc.Links
	page.Lang = doc.Lang
	page.Status = status
	page.Score = refineScore(item.Score, page, req.Language)
	return page, res.Elapsed
}

// refineScore augments the frontier score with content signals: length
// bonus, title keywords, and a penalty for language mismatch.
func refineScore(base float64, page generator.Page, wantLang string) float64 {
	score := base
	bonus := float64(len(page.Markdown)) / 1000
	if bonus > 5 {
		bonus = 5
	}
	score += bonus
	title := strings.ToLower(page.Title)
	for _, kw := range []string{"doc", "guide", "tutorial", "api", "reference", "quickstart"} {
		if strings.Contains(title, kw) {
			score += 2
			break
		}
	}
	if !extract.LangMatches(page.Lang, wantLang) {
		score += langMismatchScore
	}
	return score
}

func (o *Orchestrator) composeAndPublish(ctx context.Context, job generator.Job, seed string, pages []generator.Page) error {
	req := job.Request
	composer := compose.New(o.summarizer, o.clock, o.logger)
	in := compose.Input{
		SiteTitle: siteTitle(pages, seed),
		RootURL:   req.URL,
		Pages:     pages,
		SizeCapKB: req.MaxKB,
	}

	artifact, err := composer.Compose(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return checkpointError(o.interruptionCode(ctx, job.ID))
		}
		if errors.Is(err, compose.ErrNoPages) {
			return &pipelineError{code: jobs.CodeNoUsableContent, err: err}
		}
		return &pipelineError{code: jobs.CodeComposeError, err: err}
	}

	var fullArtifact []byte
	if req.FullVersion {
		fullArtifact, err = composer.ComposeFull(ctx, in)
		if err != nil {
			return &pipelineError{code: jobs.CodeComposeError, err: err}
		}
	}

	if code := o.checkpoint(ctx, job.ID); code != "" {
		return checkpointError(code)
	}

	// Blobs first, then the status flip (store consistency contract).
	if _, err := o.store.PutArtifact(ctx, job.ID, generator.ArtifactLLMTxt, artifact); err != nil {
		return &pipelineError{code: jobs.CodeStoreError, err: fmt.Errorf("write llm.txt: %w", err)}
	}
	telemetry.ObserveArtifact(string(generator.ArtifactLLMTxt), len(artifact))

	fullURL := ""
	if req.FullVersion {
		if _, err := o.store.PutArtifact(ctx, job.ID, generator.ArtifactLLMSFull, fullArtifact); err != nil {
			return &pipelineError{code: jobs.CodeStoreError, err: fmt.Errorf("write llms-full.txt: %w", err)}
		}
		telemetry.ObserveArtifact(string(generator.ArtifactLLMSFull), len(fullArtifact))
		fullURL = fmt.Sprintf("/v1/generations/%s/download/%s", job.ID, generator.ArtifactLLMSFull)
	}

	if code := o.checkpoint(ctx, job.ID); code != "" {
		return checkpointError(code)
	}

	llmURL := fmt.Sprintf("/v1/generations/%s/download/%s", job.ID, generator.ArtifactLLMTxt)
	sizeKB := float64(len(artifact)) / 1024
	if err := o.manager.Complete(ctx, job.ID, llmURL, fullURL, sizeKB); err != nil {
		return &pipelineError{code: jobs.CodeInternal, err: fmt.Errorf("complete job: %w", err)}
	}
	return nil
}

// finish performs the terminal transition for a failed or cancelled run and
// publishes the lifecycle event.
func (o *Orchestrator) finish(job generator.Job, runErr error) {
	// Terminal bookkeeping must survive the job context's cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state := generator.JobStateCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, errCancelled):
		state = generator.JobStateCancelled
		if err := o.manager.Cancelled(ctx, job.ID); err != nil && !errors.Is(err, jobs.ErrAlreadyTerminal) {
			o.logger.Error("cancel transition failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	default:
		state = generator.JobStateFailed
		code := jobs.CodeInternal
		var perr *pipelineError
		if errors.As(runErr, &perr) {
			code = perr.code
		}
		o.logger.Warn("job failed",
			zap.String("job_id", job.ID), zap.String("code", code), zap.Error(runErr))
		if err := o.manager.Fail(ctx, job.ID, code, runErr.Error()); err != nil && !errors.Is(err, jobs.ErrAlreadyTerminal) {
			o.logger.Error("fail transition failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	telemetry.ObserveJobFinished(string(state))

	view, err := o.manager.Get(ctx, job.ID)
	if err != nil {
		return
	}
	event := generator.Event{
		JobID:    job.ID,
		State:    view.Status,
		URL:      job.Request.URL,
		SizeKB:   view.TotalSizeKB,
		Pages:    view.PagesProcessed,
		Occurred: o.clock.Now().Unix(),
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("publish event failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// checkpoint reports why the pipeline should stop: cancellation, timeout, or
// empty string to continue.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID string) string {
	if o.manager.CancelRequested(jobID) {
		return "cancelled"
	}
	if err := ctx.Err(); err != nil {
		return o.interruptionCode(ctx, jobID)
	}
	return ""
}

func (o *Orchestrator) interruptionCode(_ context.Context, jobID string) string {
	if o.manager.CancelRequested(jobID) {
		return "cancelled"
	}
	return "timeout"
}

func checkpointError(code string) error {
	if code == "cancelled" {
		return errCancelled
	}
	return &pipelineError{code: jobs.CodeTimeout, err: errors.New("job exceeded its wall-clock budget")}
}

// watchCancellation polls the manager's flag and cancels the job context
// when set, so in-flight I/O unwinds without waiting for the next
// checkpoint.
func (o *Orchestrator) watchCancellation(ctx context.Context, cancel context.CancelFunc, jobID string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancelPollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if o.manager.CancelRequested(jobID) {
					cancel()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// siteTitle prefers the seed page's title, then the highest-scored titled
// page, then the bare host.
func siteTitle(pages []generator.Page, seed string) string {
	best := ""
	bestScore := 0.0
	for _, p := range pages {
		if p.Status != generator.ExtractOK && p.Status != generator.ExtractRendered {
			continue
		}
		if p.Title == "" {
			continue
		}
		if p.Depth == 0 {
			return p.Title
		}
		if best == "" || p.Score > bestScore {
			best = p.Title
			bestScore = p.Score
		}
	}
	if best != "" {
		return best
	}
	return hostOf(seed)
}

func hostOf(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		rest := rawURL[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	return rawURL
}
