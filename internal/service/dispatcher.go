package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/imagelab-api/internal/analysis"
	"github.com/phrazzld/imagelab-api/internal/domain"
	"github.com/phrazzld/imagelab-api/internal/events"
	"github.com/phrazzld/imagelab-api/internal/pixel"
	"github.com/phrazzld/imagelab-api/internal/platform/cache"
	"github.com/phrazzld/imagelab-api/internal/platform/logger"
	"github.com/phrazzld/imagelab-api/internal/store"
	"github.com/phrazzld/imagelab-api/internal/task"
	"github.com/sethvargo/go-retry"
)

// InterruptedMessage is recorded on jobs an earlier boot of this instance left
// processing.
const InterruptedMessage = "interrupted by service restart"

// Limits applied by List.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// DefaultInstanceID names the dispatcher of a single-replica deployment.
const DefaultInstanceID = "default"

// Terminal write retry defaults.
const (
	defaultWriteBackoff = 100 * time.Millisecond
	maxWriteBackoff     = 2 * time.Second
)

// DispatcherConfig tunes an AnalysisDispatcher.
type DispatcherConfig struct {
	Runner task.TaskRunnerConfig

	// InstanceID names this replica. It must stay the same across restarts
	// and differ between replicas that share a database: restart recovery
	// only fails jobs left behind by an earlier boot of the same instance.
	// Defaults to DefaultInstanceID.
	InstanceID string

	// WriteRetries bounds how often a failed terminal write is retried.
	WriteRetries uint64
	// WriteBackoff is the first delay between terminal write attempts. It
	// doubles per attempt up to two seconds.
	WriteBackoff time.Duration

	// MaxImagePixels bounds images adopted from the blob store. Zero
	// disables the limit.
	MaxImagePixels int64
}

// DispatcherDeps groups the collaborators of an AnalysisDispatcher.
type DispatcherDeps struct {
	Images   store.ImageStore
	Jobs     store.JobStore
	Blobs    store.BlobStore
	Registry *analysis.Registry

	// Cache serves terminal jobs. Optional.
	Cache store.JobCache
	// Events receives job.completed and job.failed. Optional.
	Events events.EventEmitter
}

// AnalysisDispatcher accepts analysis requests, runs them on the background
// workers and records their outcome. It is the only writer of terminal job
// state.
type AnalysisDispatcher struct {
	images   store.ImageStore
	jobs     store.JobStore
	blobs    store.BlobStore
	registry *analysis.Registry
	cache    store.JobCache
	events   events.EventEmitter
	runner   *task.TaskRunner
	logger   *slog.Logger
	now      func() time.Time

	// owner is stamped on every job this dispatcher accepts.
	owner        domain.JobOwner
	writeRetries uint64
	writeBackoff time.Duration
	maxPixels    int64
}

// NewAnalysisDispatcher wires the dispatcher and its task runner. Workers do
// not run until Start.
func NewAnalysisDispatcher(deps DispatcherDeps, cfg DispatcherConfig, log *slog.Logger) *AnalysisDispatcher {
	if deps.Images == nil || deps.Jobs == nil || deps.Blobs == nil || deps.Registry == nil {
		panic("analysis dispatcher requires image, job and blob stores and a registry")
	}
	if log == nil {
		log = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NopJobCache{}
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = DefaultInstanceID
	}
	if cfg.WriteBackoff <= 0 {
		cfg.WriteBackoff = defaultWriteBackoff
	}

	d := &AnalysisDispatcher{
		images:       deps.Images,
		jobs:         deps.Jobs,
		blobs:        deps.Blobs,
		registry:     deps.Registry,
		cache:        deps.Cache,
		events:       deps.Events,
		now:          time.Now,
		owner:        domain.JobOwner{Instance: cfg.InstanceID, Boot: uuid.NewString()},
		writeRetries: cfg.WriteRetries,
		writeBackoff: cfg.WriteBackoff,
		maxPixels:    cfg.MaxImagePixels,
	}
	d.logger = log.With(
		slog.String("component", "analysis_dispatcher"),
		slog.String("instance_id", d.owner.Instance),
		slog.String("boot_id", d.owner.Boot))
	d.runner = task.NewTaskRunner(cfg.Runner, d.handleResult, d.recoverInterrupted, log)
	return d
}

// Start fails jobs interrupted by an earlier boot of this instance and starts
// the workers.
func (d *AnalysisDispatcher) Start(ctx context.Context) error {
	return d.runner.Start(ctx)
}

// Stop refuses new jobs and waits until every accepted job is finished.
func (d *AnalysisDispatcher) Stop() {
	d.runner.Stop()
}

// QueueLen reports how many jobs are waiting for a worker.
func (d *AnalysisDispatcher) QueueLen() int {
	return d.runner.QueueLen()
}

// SupportedTypes lists the registered analysis types.
func (d *AnalysisDispatcher) SupportedTypes() []string {
	return d.registry.Types()
}

// Submit records a processing job for the image under imageKey and queues it.
// It returns without waiting for the analysis. An unsupported analysis type
// is failed right away and the failed job is returned without error.
//
// Returns store.ErrImageNotFound if the image is unknown, in which case no job
// is created, and ErrJobNotAccepted if the queue refused the job.
func (d *AnalysisDispatcher) Submit(
	ctx context.Context,
	imageKey, analysisType string,
	params analysis.Params,
) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("image_key", imageKey),
		slog.String("analysis_type", analysisType))

	img, err := d.resolveImage(ctx, imageKey)
	if err != nil {
		return nil, err
	}

	job, err := domain.NewJob(img.ID, img.Key, analysisType, params)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis request: %w", err)
	}
	job.Owner = d.owner
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return nil, NewServiceError("submit", "failed to record job", err)
	}
	log = log.With(slog.String("job_id", job.ID))

	if !d.registry.Supports(analysisType) {
		unsupported := &analysis.UnsupportedTypeError{Type: analysisType, Supported: d.registry.Types()}
		log.Info("unsupported analysis type")
		return d.finish(ctx, *job, nil, unsupported), nil
	}

	if err := d.runner.Submit(ctx, &analysisTask{job: *job, dispatcher: d}); err != nil {
		log.Warn("task queue refused job", slog.String("error", err.Error()))
		d.finish(ctx, *job, nil, fmt.Errorf("job not accepted: %w", err))
		return nil, fmt.Errorf("%w: %s: %w", ErrJobNotAccepted, job.ID, err)
	}

	log.Info("analysis job submitted")
	return job, nil
}

// GetStatus returns the job with id. Finished jobs are served from the cache
// when possible.
// Returns store.ErrJobNotFound if the job does not exist.
func (d *AnalysisDispatcher) GetStatus(ctx context.Context, id string) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	cached, ok, err := d.cache.GetJob(ctx, id)
	switch {
	case err != nil:
		log.Warn("job cache read failed", slog.String("job_id", id), slog.String("error", err.Error()))
	case ok:
		return cached, nil
	}

	job, err := d.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if job.IsTerminal() {
		if err := d.cache.PutJob(ctx, job); err != nil {
			log.Warn("job cache write failed", slog.String("job_id", id), slog.String("error", err.Error()))
		}
	}
	return job, nil
}

// List returns up to limit jobs, most recent first. Non-positive limits use
// DefaultListLimit and large ones are capped at MaxListLimit.
func (d *AnalysisDispatcher) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	jobs, err := d.jobs.ListJobs(ctx, limit)
	if err != nil {
		return nil, NewServiceError("list", "failed to list jobs", err)
	}
	return jobs, nil
}

// resolveImage finds the image record for key. An image present in the blob
// store without a record, for example one copied there by hand, is adopted.
func (d *AnalysisDispatcher) resolveImage(ctx context.Context, key string) (*domain.Image, error) {
	img, err := d.images.GetImageByKey(ctx, key)
	if err == nil {
		return img, nil
	}
	if !errors.Is(err, store.ErrImageNotFound) {
		return nil, NewServiceError("submit", "failed to look up image", err)
	}
	return d.adoptStoredImage(ctx, key)
}

func (d *AnalysisDispatcher) adoptStoredImage(ctx context.Context, key string) (*domain.Image, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrImageNotFound, key)
	}

	exists, err := d.blobs.Exists(ctx, key)
	if err != nil {
		return nil, NewServiceError("submit", "failed to check blob store", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", store.ErrImageNotFound, key)
	}

	rc, err := d.blobs.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open stored image %s: %w", key, err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, NewServiceError("submit", "failed to read stored image", err)
	}

	if _, err := pixel.CheckDimensions(data, d.maxPixels); err != nil {
		return nil, fmt.Errorf("%w: stored file %s is not an acceptable image: %v", store.ErrImageNotFound, key, err)
	}
	buf, err := pixel.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: stored file %s is not a decodable image: %v", store.ErrImageNotFound, key, err)
	}

	img, err := domain.NewImage(key, path.Base(key), d.blobs.Locate(key), int64(len(data)), buf.Width, buf.Height)
	if err != nil {
		return nil, NewServiceError("submit", "invalid stored image", err)
	}
	if err := d.images.CreateImage(ctx, img); err != nil {
		if errors.Is(err, store.ErrImageExists) {
			// Another request adopted it first.
			return d.images.GetImageByKey(ctx, key)
		}
		return nil, NewServiceError("submit", "failed to record stored image", err)
	}

	logger.FromContextOrDefault(ctx, d.logger).Info("adopted image found in blob store",
		slog.String("image_key", key),
		slog.String("dimensions", img.Dimensions()))
	return img, nil
}

// handleResult is the task runner's ResultHandler.
func (d *AnalysisDispatcher) handleResult(ctx context.Context, t task.Task, result analysis.Result, err error) {
	at, ok := t.(*analysisTask)
	if !ok {
		d.logger.Error("unexpected task type", slog.String("task_id", t.ID()), slog.String("task_type", t.Type()))
		return
	}
	d.finish(ctx, at.job, result, err)
}

// finish performs the one terminal write for job and publishes the outcome.
// It returns the job as stored, or as finished in memory when the write was
// refused or could not be read back.
func (d *AnalysisDispatcher) finish(
	ctx context.Context,
	job domain.Job,
	result analysis.Result,
	execErr error,
) *domain.Job {
	// The outcome must be recorded even if the request that caused it is gone.
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContextOrDefault(ctx, d.logger).With(
		slog.String("job_id", job.ID),
		slog.String("analysis_type", job.AnalysisType))

	now := d.now()
	if execErr == nil {
		if result == nil {
			result = analysis.Result{}
		}
		raw, err := json.Marshal(result)
		if err != nil {
			execErr = fmt.Errorf("encode result: %w", err)
		} else if err := job.Complete(raw, now); err != nil {
			execErr = err
		}
	}
	if execErr != nil {
		if err := job.Fail(execErr.Error(), now); err != nil {
			log.Error("cannot fail job", slog.String("error", err.Error()))
			return &job
		}
	}

	err := d.writeTerminal(ctx, log, store.TerminalUpdate{
		JobID:       job.ID,
		Status:      job.Status,
		Result:      job.Result,
		Error:       job.Error,
		CompletedAt: *job.CompletedAt,
	})
	switch {
	case errors.Is(err, store.ErrJobAlreadyTerminal):
		log.Warn("job already finished, terminal write skipped")
		return &job
	case err != nil:
		log.Error("failed to record job outcome",
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()))
		return &job
	}

	attrs := []any{
		slog.String("status", string(job.Status)),
		slog.Duration("elapsed", job.CompletedAt.Sub(job.CreatedAt)),
	}
	if job.Status == domain.JobStatusFailed {
		attrs = append(attrs, slog.String("error", job.Error))
	}
	log.Info("analysis job finished", attrs...)

	// Publish the row as the store returns it so cached and stored results
	// are byte-identical.
	stored, err := d.jobs.GetJob(ctx, job.ID)
	if err != nil {
		log.Warn("cannot reload finished job", slog.String("error", err.Error()))
		stored = &job
	}
	d.publish(ctx, stored)
	return stored
}

// writeTerminal applies update, retrying transient failures with an
// exponential backoff. A job is never rerun; only the write is repeated.
func (d *AnalysisDispatcher) writeTerminal(ctx context.Context, log *slog.Logger, update store.TerminalUpdate) error {
	backoff := retry.WithMaxRetries(d.writeRetries,
		retry.WithCappedDuration(maxWriteBackoff, retry.NewExponential(d.writeBackoff)))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := d.jobs.UpdateJobTerminal(ctx, update)
		if err == nil || !isTransientWriteError(err) {
			return err
		}
		log.Warn("terminal write attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return retry.RetryableError(err)
	})
}

// isTransientWriteError reports whether repeating a failed terminal write
// could succeed.
func isTransientWriteError(err error) bool {
	switch {
	case errors.Is(err, store.ErrJobAlreadyTerminal),
		store.IsNotFoundError(err),
		errors.Is(err, store.ErrInvalidEntity),
		domain.IsValidationError(err):
		return false
	}
	return true
}

// publish caches a freshly finished job and emits its event.
func (d *AnalysisDispatcher) publish(ctx context.Context, job *domain.Job) {
	log := logger.FromContextOrDefault(ctx, d.logger)

	if err := d.cache.PutJob(ctx, job); err != nil {
		log.Warn("job cache write failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	if d.events == nil {
		return
	}
	if err := d.events.EmitEvent(ctx, events.NewJobEvent(job)); err != nil {
		log.Warn("job event handlers failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

// recoverInterrupted fails the jobs an earlier boot of this instance left
// processing. Jobs of other instances belong to live dispatchers and are left
// alone. Nothing is requeued since jobs are never retried automatically.
func (d *AnalysisDispatcher) recoverInterrupted(ctx context.Context) error {
	log := logger.FromContextOrDefault(ctx, d.logger)

	ids, err := d.jobs.FailInterruptedJobs(ctx, d.owner, InterruptedMessage)
	if err != nil {
		return fmt.Errorf("fail interrupted jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	log.Warn("failed jobs interrupted by restart", slog.Int("count", len(ids)), slog.Any("job_ids", ids))

	for _, id := range ids {
		job, err := d.jobs.GetJob(ctx, id)
		if err != nil {
			log.Warn("cannot reload interrupted job", slog.String("job_id", id), slog.String("error", err.Error()))
			continue
		}
		d.publish(ctx, job)
	}
	return nil
}

// analysisTask runs one job's analyzer on the worker pool.
type analysisTask struct {
	job        domain.Job
	dispatcher *AnalysisDispatcher
}

// ID implements task.Task.
func (t *analysisTask) ID() string { return t.job.ID }

// Type implements task.Task.
func (t *analysisTask) Type() string { return t.job.AnalysisType }

// Execute loads the image and runs the registered analyzer on it.
func (t *analysisTask) Execute(ctx context.Context) (analysis.Result, error) {
	d := t.dispatcher

	buf, err := d.loadImage(ctx, t.job.ImageKey)
	if err != nil {
		return nil, err
	}
	analyzer, err := d.registry.Resolve(t.job.AnalysisType)
	if err != nil {
		return nil, err
	}
	return analyzer.Predict(ctx, buf, analysis.Params(t.job.Parameters))
}

func (d *AnalysisDispatcher) loadImage(ctx context.Context, key string) (*pixel.Buffer, error) {
	rc, err := d.blobs.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()

	buf, err := pixel.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", key, err)
	}
	return buf, nil
}
