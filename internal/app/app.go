// Package app initializes and holds the long-lived services of the
// harvesting pipeline, acting as a dependency injection container. It is
// built once at startup and shared by the CLI and the HTTP API.
package app

import (
	"context"
	"fmt"
	"path"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/clock/system"
	"github.com/harvesterlabs/threadharvest/internal/config"
	"github.com/harvesterlabs/threadharvest/internal/credentials"
	"github.com/harvesterlabs/threadharvest/internal/discovery"
	"github.com/harvesterlabs/threadharvest/internal/extractor"
	"github.com/harvesterlabs/threadharvest/internal/harvest"
	"github.com/harvesterlabs/threadharvest/internal/hash/sha256"
	"github.com/harvesterlabs/threadharvest/internal/id/uuid"
	"github.com/harvesterlabs/threadharvest/internal/logging"
	"github.com/harvesterlabs/threadharvest/internal/publisher"
	publishermemory "github.com/harvesterlabs/threadharvest/internal/publisher/memory"
	publisherpubsub "github.com/harvesterlabs/threadharvest/internal/publisher/pubsub"
	"github.com/harvesterlabs/threadharvest/internal/render"
	"github.com/harvesterlabs/threadharvest/internal/storage"
	storagegcs "github.com/harvesterlabs/threadharvest/internal/storage/gcs"
	storagelocal "github.com/harvesterlabs/threadharvest/internal/storage/local"
	"github.com/harvesterlabs/threadharvest/internal/store"
	"github.com/harvesterlabs/threadharvest/internal/upstream"
)

// RunCompletedEvent is the notification published when a run finishes.
type RunCompletedEvent struct {
	RunID       string `json:"run_id"`
	Query       string `json:"query"`
	Items       int    `json:"items"`
	Truncated   bool   `json:"truncated"`
	Outcome     string `json:"outcome"`
	ArtifactURI string `json:"artifact_uri"`
}

// App holds the shared, long-lived services for the application.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *harvest.PipelineOrchestrator
	renderer     *render.Renderer
	sink         storage.Sink
	publisher    publisher.Publisher
	runs         *store.RunStore
	ids          *uuid.Generator
	hasher       *sha256.Hasher

	closers []func()
}

// New wires the application from configuration. It fails fast when any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		renderer: render.New(),
		runs:     store.NewRunStore(),
		ids:      uuid.NewGenerator(),
		hasher:   sha256.New(),
	}

	creds, err := credentials.Load(cfg.Credentials.Path)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	client, err := upstream.New(upstream.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.UpstreamTimeout(),
	}, creds, logger)
	if err != nil {
		return nil, fmt.Errorf("build upstream client: %w", err)
	}

	harvestCfg := cfg.HarvestConfig()
	harvester := harvest.NewCommentHarvester(client, harvestCfg, logger)

	searcher, err := a.buildSearcher(logger)
	if err != nil {
		return nil, err
	}
	disc := discovery.NewService(searcher, logger)

	extract := extractor.New(extractor.Config{
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.UpstreamTimeout(),
	}, logger)

	a.orchestrator = harvest.NewPipelineOrchestrator(
		disc,
		extract,
		harvester,
		a.renderer,
		nil,
		system.Clock{},
		harvestCfg,
		logger,
	)

	if err := a.buildSink(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.Int("concurrency", harvestCfg.Concurrency),
		zap.Duration("run_deadline", harvestCfg.RunDeadline),
	)
	return a, nil
}

func (a *App) buildSearcher(logger *zap.Logger) (discovery.Searcher, error) {
	searchCfg := discovery.Config{
		SearchURL:    a.cfg.Discovery.SearchURL,
		MaxResults:   a.cfg.Discovery.MaxResults,
		LinkSelector: a.cfg.Discovery.LinkSelector,
		LinkPrefix:   a.cfg.Discovery.LinkPrefix,
		UserAgent:    a.cfg.Upstream.UserAgent,
		Timeout:      time.Duration(a.cfg.Discovery.TimeoutSeconds) * time.Second,
	}
	static, err := discovery.NewCollySearcher(searchCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build searcher: %w", err)
	}
	if !a.cfg.Discovery.HeadlessEnabled {
		return static, nil
	}
	headless, err := discovery.NewHeadlessSearcher(
		searchCfg,
		time.Duration(a.cfg.Discovery.NavTimeoutSeconds)*time.Second,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("build headless searcher: %w", err)
	}
	a.closers = append(a.closers, headless.Close)
	return discovery.NewFallback(static, headless, logger), nil
}

func (a *App) buildSink(ctx context.Context) error {
	if a.cfg.Output.GCSBucket != "" {
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("build gcs client: %w", err)
		}
		sink, err := storagegcs.New(client, storagegcs.Config{Bucket: a.cfg.Output.GCSBucket})
		if err != nil {
			return fmt.Errorf("build gcs sink: %w", err)
		}
		a.logger.Info("using gcs artifact sink", zap.String("bucket", a.cfg.Output.GCSBucket))
		a.sink = sink
		a.closers = append(a.closers, func() { _ = client.Close() })
		return nil
	}

	sink, err := storagelocal.New(storagelocal.Config{BaseDir: a.cfg.Output.Dir})
	if err != nil {
		return fmt.Errorf("build local sink: %w", err)
	}
	a.logger.Info("using local artifact sink", zap.String("dir", a.cfg.Output.Dir))
	a.sink = sink
	return nil
}

func (a *App) buildPublisher(ctx context.Context) error {
	if a.cfg.Publisher.ProjectID == "" || a.cfg.Publisher.TopicName == "" {
		a.logger.Info("no pub/sub topic configured, run events stay in process")
		a.publisher = publishermemory.New()
		return nil
	}
	pub, err := publisherpubsub.New(ctx, a.cfg.Publisher.ProjectID, a.cfg.Publisher.TopicName)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}
	a.logger.Info("publishing run events to pub/sub",
		zap.String("topic", a.cfg.Publisher.TopicName))
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Runs returns the run registry backing the HTTP API.
func (a *App) Runs() *store.RunStore {
	return a.runs
}

// SubmitRun registers a pending run and returns its ID without executing it.
func (a *App) SubmitRun(ctx context.Context, query string) (string, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	record := store.RunRecord{
		ID:        runID,
		Query:     query,
		Status:    store.RunStatusPending,
		Submitted: time.Now().UTC(),
	}
	if err := a.runs.CreateRun(ctx, record); err != nil {
		return "", err
	}
	return runID, nil
}

// ExecuteRun drives one registered run end to end: harvest, render, store
// the artifact, publish the completion event, and record the result.
func (a *App) ExecuteRun(ctx context.Context, runID, query string) (store.RunRecord, error) {
	if err := a.runs.MarkRunning(ctx, runID); err != nil {
		return store.RunRecord{}, err
	}

	artifact := a.orchestrator.Run(ctx, query)
	rendered := a.renderer.RenderRun(artifact)

	uri, err := a.storeArtifact(ctx, runID, rendered)
	if err != nil {
		a.logger.Error("artifact write failed", zap.String("run_id", runID), zap.Error(err))
		_ = a.runs.FailRun(ctx, runID, err.Error())
		return store.RunRecord{}, err
	}

	event := RunCompletedEvent{
		RunID:       runID,
		Query:       query,
		Items:       len(artifact.Items),
		Truncated:   artifact.Truncated,
		Outcome:     string(artifact.Outcome),
		ArtifactURI: uri,
	}
	if _, err := a.publisher.Publish(ctx, event); err != nil {
		// The artifact is already durable; a lost event is not fatal.
		a.logger.Warn("run event publish failed", zap.String("run_id", runID), zap.Error(err))
	}

	if err := a.runs.FinishRun(ctx, runID, artifact, rendered, uri); err != nil {
		return store.RunRecord{}, err
	}
	a.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("outcome", string(artifact.Outcome)),
		zap.Bool("truncated", artifact.Truncated),
		zap.Int("items", len(artifact.Items)),
		zap.String("artifact_uri", uri),
	)
	return a.runs.GetRun(ctx, runID)
}

func (a *App) storeArtifact(ctx context.Context, runID, rendered string) (string, error) {
	data := []byte(rendered)
	digest, err := a.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	objectPath := path.Join(a.cfg.Output.Prefix, runID, digest+".txt")
	uri, err := a.sink.PutObject(ctx, objectPath, a.cfg.Output.ContentType, data)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return uri, nil
}

// Close shuts down the services held by the container.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if err := a.logger.Sync(); err != nil {
		// Best effort; stderr sync fails on some platforms.
		_ = err
	}
}
