package harvest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/metrics"
)

// PipelineOrchestrator fans one HarvestJob per discovered item out under a
// single run deadline, appending each job's rendered output to the run
// accumulator as it completes. When the deadline fires, unfinished jobs are
// cancelled and the artifact is assembled from whatever already landed.
type PipelineOrchestrator struct {
	discovery  Discovery
	extractor  Extractor
	harvester  Harvester
	renderer   ItemRenderer
	summarizer Summarizer
	clock      Clock
	cfg        Config
	logger     *zap.Logger
}

// NewPipelineOrchestrator wires the orchestrator's collaborators.
// summarizer may be nil to disable post-processing.
func NewPipelineOrchestrator(
	discovery Discovery,
	extractor Extractor,
	harvester Harvester,
	renderer ItemRenderer,
	summarizer Summarizer,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *PipelineOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineOrchestrator{
		discovery:  discovery,
		extractor:  extractor,
		harvester:  harvester,
		renderer:   renderer,
		summarizer: summarizer,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// jobResult travels from a job goroutine to the collector. Cancelled jobs
// never send one.
type jobResult struct {
	ref        ItemReference
	text       string
	failed     bool
	comments   CommentThreadResult
	extraction ExtractionResult
}

// Run executes one query end to end and always returns an artifact; every
// failure mode is folded into the artifact rather than surfaced as an error.
func (o *PipelineOrchestrator) Run(ctx context.Context, query string) FinalArtifact {
	started := o.clock.Now()
	run := &PipelineRun{
		Query: query,
		State: RunStateInit,
		Jobs:  make(map[ItemReference]*HarvestJob),
	}

	run.State = RunStateDiscovering
	refs := o.discover(ctx, query)
	if len(refs) == 0 {
		run.State = RunStateAssembled
		o.logger.Info("run found no items", zap.String("query", query))
		return FinalArtifact{Query: query, Outcome: OutcomeNoResults}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan jobResult, len(refs))
	for _, ref := range refs {
		run.Jobs[ref] = &HarvestJob{Ref: ref, State: JobStatePending}
		go o.runJob(runCtx, ref, results)
	}
	run.State = RunStateFannedOut
	o.logger.Info("jobs fanned out",
		zap.String("query", query),
		zap.Int("items", len(refs)),
		zap.Duration("deadline", o.cfg.RunDeadline),
	)

	deadline := o.clock.After(o.cfg.RunDeadline)
	completed := 0
	timedOut := false
collect:
	for completed < len(refs) {
		select {
		case res := <-results:
			completed++
			o.accept(run, res)
		case <-deadline:
			timedOut = true
			break collect
		case <-ctx.Done():
			timedOut = true
			break collect
		}
	}

	if timedOut {
		cancel()
		// Completions already queued happened before the deadline fired;
		// they are appended, never retracted.
		for {
			select {
			case res := <-results:
				o.accept(run, res)
				continue
			default:
			}
			break
		}
		for _, job := range run.Jobs {
			if job.State == JobStatePending {
				job.State = JobStateCancelled
				metrics.IncHarvestJob(string(JobStateCancelled))
			}
		}
		run.State = RunStateTimedOut
		run.Truncated = true
		o.logger.Warn("run deadline expired",
			zap.String("query", query),
			zap.Int("completed", len(run.Accumulator)),
			zap.Int("items", len(refs)),
		)
	} else {
		run.State = RunStateCompleted
	}

	items := run.Accumulator
	// Post-processing is optional extra work; a degraded run must not spend
	// more time once truncated.
	if !run.Truncated && o.summarizer != nil {
		items = o.summarize(ctx, query, items)
	}

	outcome := OutcomeHarvested
	if len(items) == 0 {
		outcome = OutcomeNothingProcessed
	}
	run.State = RunStateAssembled
	metrics.ObserveRunDuration(o.clock.Now().Sub(started))
	return FinalArtifact{
		Query:     query,
		Items:     items,
		Truncated: run.Truncated,
		Outcome:   outcome,
	}
}

// discover queries the Discovery collaborator. Hard failures collapse to an
// empty list; they never abort the run.
func (o *PipelineOrchestrator) discover(ctx context.Context, query string) []ItemReference {
	refs, err := o.discovery.Discover(ctx, query)
	if err != nil {
		o.logger.Warn("discovery failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	return refs
}

// accept folds one completed job into the run. Failed jobs are skipped and
// logged; they never abort siblings and never count as a timeout.
func (o *PipelineOrchestrator) accept(run *PipelineRun, res jobResult) {
	job := run.Jobs[res.ref]
	if res.failed {
		if job != nil {
			job.State = JobStateFailed
		}
		metrics.IncHarvestJob(string(JobStateFailed))
		o.logger.Error("job failed, skipping item", zap.String("ref", string(res.ref)))
		return
	}
	if job != nil {
		job.State = JobStateDone
		job.Comments = res.comments
		job.Extraction = res.extraction
	}
	metrics.IncHarvestJob(string(JobStateDone))
	run.Accumulator = append(run.Accumulator, res.text)
}

// runJob runs one item's extraction and comment harvest concurrently, then
// renders the combined text. A panic anywhere in the job is isolated to the
// item. Cancellation produces no result at all.
func (o *PipelineOrchestrator) runJob(ctx context.Context, ref ItemReference, results chan<- jobResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job panicked",
				zap.String("ref", string(ref)),
				zap.Any("panic", r),
			)
			results <- jobResult{ref: ref, failed: true}
		}
	}()

	var (
		wg  sync.WaitGroup
		ext ExtractionResult
		com CommentThreadResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer recoverInto(&ext.Err, o.logger, ref)
		ext = o.extractor.Extract(ctx, ref)
	}()
	go func() {
		defer wg.Done()
		defer recoverInto(&com.Err, o.logger, ref)
		com = o.harvester.Harvest(ctx, ref)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	results <- jobResult{
		ref:        ref,
		text:       o.renderer.RenderItem(ref, ext, com),
		comments:   com,
		extraction: ext,
	}
}

// summarize applies the optional per-item post-processing step. A summarizer
// failure keeps the unsummarized text.
func (o *PipelineOrchestrator) summarize(ctx context.Context, query string, items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		s, err := o.summarizer.Summarize(ctx, query, item)
		if err != nil {
			o.logger.Warn("summarization failed, keeping raw item", zap.Error(err))
			out[i] = item
			continue
		}
		out[i] = s
	}
	return out
}

// recoverInto converts a collaborator panic into a result error string.
func recoverInto(errText *string, logger *zap.Logger, ref ItemReference) {
	if r := recover(); r != nil {
		logger.Error("collaborator panicked",
			zap.String("ref", string(ref)),
			zap.Any("panic", r),
		)
		*errText = "internal failure"
	}
}
