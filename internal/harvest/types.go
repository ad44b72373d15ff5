// Package harvest defines the comment harvesting core: the data model shared
// across subsystems, the per-item CommentHarvester, and the
// PipelineOrchestrator that fans harvest jobs out under a single run deadline.
package harvest

import "time"

// ItemReference is the opaque external identifier for one discovered content
// item. Discovery produces them; nothing in the core inspects their contents.
type ItemReference string

// InternalHandle is the numeric id the upstream service uses once an
// ItemReference has been resolved. All comment pagination keys off it.
type InternalHandle int64

// Upstream response codes shared by every endpoint. Zero means success; the
// named nonzero codes end an item or a thread without retrying.
const (
	CodeOK           = 0
	CodeNotFound     = -404
	CodeThreadClosed = 12002
)

// RootComment is a top-level comment as returned by the upstream API.
type RootComment struct {
	ID         int64
	Text       string
	ReplyCount int
}

// FlattenedComment is one root comment concatenated with its discovered
// replies, each reply tagged with a marker. It is the unit stored in the
// final per-item comment list.
type FlattenedComment string

// CommentThreadResult is the outcome of harvesting one item's comments.
// Comments preserves root discovery order; Err is set only for terminal
// per-item failures (resolution failure, missing credentials), never for a
// soft pagination end.
type CommentThreadResult struct {
	Comments []FlattenedComment
	Err      string
}

// ExtractionResult carries the metadata the Extractor collaborator returns
// for one item. Failures at that boundary arrive as an Err string, never as
// an error crossing into the core.
type ExtractionResult struct {
	Title       string
	Description string
	Tags        []string
	Transcript  string
	Err         string
}

// JobState is the lifecycle state of one HarvestJob.
type JobState string

// Job states. A job moves from pending to exactly one terminal state.
const (
	JobStatePending   JobState = "pending"
	JobStateDone      JobState = "done"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// HarvestJob pairs one item's comment harvest with its extraction. Jobs exist
// only for the duration of a run.
type HarvestJob struct {
	Ref        ItemReference
	State      JobState
	Comments   CommentThreadResult
	Extraction ExtractionResult
}

// RunState tracks the orchestrator's progress through one run.
type RunState string

// Run states in order of occurrence. Completed and TimedOut are mutually
// exclusive; Assembled is terminal.
const (
	RunStateInit        RunState = "init"
	RunStateDiscovering RunState = "discovering"
	RunStateFannedOut   RunState = "fanned_out"
	RunStateCompleted   RunState = "completed"
	RunStateTimedOut    RunState = "timed_out"
	RunStateAssembled   RunState = "assembled"
)

// RunOutcome distinguishes the three shapes a finished run can take.
type RunOutcome string

// Run outcomes. NoResults means discovery found nothing; NothingProcessed
// means items were discovered but no job produced output before assembly.
const (
	OutcomeHarvested        RunOutcome = "harvested"
	OutcomeNoResults        RunOutcome = "no_results"
	OutcomeNothingProcessed RunOutcome = "nothing_processed"
)

// FinalArtifact is the assembled result of one run. Items holds each
// completed item's rendered text in completion order; Truncated reports
// whether the run deadline cut the fan-out short.
type FinalArtifact struct {
	Query     string
	Items     []string
	Truncated bool
	Outcome   RunOutcome
}

// PipelineRun is the bookkeeping for one orchestrated run. It is created per
// query and discarded once the artifact is returned.
type PipelineRun struct {
	Query       string
	State       RunState
	Jobs        map[ItemReference]*HarvestJob
	Accumulator []string
	Truncated   bool
}

// Config carries every knob the harvesting core consumes. It is decoupled
// from viper so the harvester and orchestrator stay testable on their own.
type Config struct {
	// Concurrency bounds in-flight upstream requests per harvester.
	Concurrency int
	// MaxRetries is the total number of attempts for one upstream request.
	MaxRetries int
	// BaseDelay scales linearly with the attempt number between retries.
	BaseDelay time.Duration
	// RootPageSize and ReplyPageSize control upstream pagination.
	RootPageSize  int
	ReplyPageSize int
	// RootCap limits the accepted root comments per item.
	RootCap int
	// MaxRepliesPerRoot limits replies collected for one thread.
	MaxRepliesPerRoot int
	// MinLength is the minimum rune count for a root comment to be accepted.
	// Replies are never length-filtered.
	MinLength int
	// ReplyDelayMin/Max bound the randomized pre-delay before reply-page
	// requests, smoothing burst load against the upstream service.
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration
	// RequestsPerSecond feeds the smoothing limiter; zero disables it.
	RequestsPerSecond float64
	// RunDeadline is the single wall-clock budget shared by all jobs.
	RunDeadline time.Duration
}

// withDefaults fills zero values with conservative defaults.
func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.RootPageSize <= 0 {
		c.RootPageSize = 20
	}
	if c.ReplyPageSize <= 0 {
		c.ReplyPageSize = 10
	}
	if c.RootCap <= 0 {
		c.RootCap = 60
	}
	if c.MaxRepliesPerRoot <= 0 {
		c.MaxRepliesPerRoot = 20
	}
	if c.ReplyDelayMin < 0 {
		c.ReplyDelayMin = 0
	}
	if c.ReplyDelayMax < c.ReplyDelayMin {
		c.ReplyDelayMax = c.ReplyDelayMin
	}
	if c.RunDeadline <= 0 {
		c.RunDeadline = 2 * time.Minute
	}
	return c
}
