package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	mydmhttp "github.com/tanq16/mydm/internal/downloaders/http"
	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

var ErrShuttingDown = errors.New("engine is shutting down")

// EventSink receives every event the engine produces. Implementations must
// be safe for concurrent use; events of different jobs arrive interleaved.
type EventSink interface {
	Emit(ev types.Event) error
}

type Options struct {
	DownloadDir      string
	TempDir          string
	Threads          int
	SegmentThreshold int64
	ProgressInterval time.Duration
	Worker           mydmhttp.WorkerOptions
}

// Engine owns every job of the process: it creates controllers, routes
// commands to them through the registry, and shares one worker pool and one
// HTTP client between them.
type Engine struct {
	opts     Options
	sink     EventSink
	prober   *mydmhttp.Prober
	worker   *mydmhttp.SegmentWorker
	pool     *Pool
	registry *Registry
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewEngine(client utils.HTTPDoer, pool *Pool, sink EventSink, opts Options) *Engine {
	if opts.Threads < 1 {
		opts.Threads = utils.DefaultThreads
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		opts:     opts,
		sink:     sink,
		prober:   mydmhttp.NewProber(client),
		worker:   mydmhttp.NewSegmentWorker(client, opts.Worker),
		pool:     pool,
		registry: NewRegistry(),
		log:      utils.GetLogger("engine"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Download registers a new job, emits its started event and returns its id.
// Probing happens in the background.
func (e *Engine) Download(link, referer string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrShuttingDown
	}
	job := newJob(e, uuid.NewString(), link, referer)
	if err := e.registry.Insert(job); err != nil {
		return "", err
	}
	e.log.Info().Str("job", job.ID).Str("url", link).Msg("Download accepted")
	e.emit(types.NewStarted(job.ID))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		job.run(e.ctx)
	}()
	return job.ID, nil
}

func (e *Engine) Pause(id string) error {
	return e.dispatch(id, cmdPause)
}

func (e *Engine) Resume(id string) error {
	return e.dispatch(id, cmdResume)
}

func (e *Engine) Cancel(id string) error {
	return e.dispatch(id, cmdCancel)
}

// Remove drops a job from the registry in any state. A job that is still
// running is cancelled first and will still emit its cancelled event.
func (e *Engine) Remove(id string) error {
	job, ok := e.registry.Get(id)
	if !ok {
		return e.unknown(id)
	}
	if !job.Status().Terminal() {
		if err := job.send(cmdCancel); err != nil {
			e.log.Debug().Err(err).Str("job", id).Msg("Job finished before removal")
		}
	}
	e.registry.Delete(id)
	e.log.Debug().Str("job", id).Msg("Job removed")
	return nil
}

func (e *Engine) Snapshot(id string) (types.JobSnapshot, error) {
	job, ok := e.registry.Get(id)
	if !ok {
		return types.JobSnapshot{}, &types.UnknownJobError{ID: id}
	}
	return job.Snapshot(), nil
}

// Jobs lists live jobs oldest first.
func (e *Engine) Jobs() []types.JobSnapshot {
	jobs := e.registry.List()
	snaps := make([]types.JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, job.Snapshot())
	}
	return snaps
}

// Wait blocks until every job accepted so far has reached a terminal status.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops accepting downloads and cancels every live job. If ctx ends
// before the controllers finish, in-flight requests are aborted as well.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	jobs := e.registry.List()
	e.log.Info().Int("jobs", len(jobs)).Msg("Shutting down engine")
	for _, job := range jobs {
		job.send(cmdCancel)
	}

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	defer e.cancel()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		e.cancel()
		<-finished
		return ctx.Err()
	}
}

func (e *Engine) dispatch(id string, cmd command) error {
	job, ok := e.registry.Get(id)
	if !ok {
		return e.unknown(id)
	}
	if err := job.send(cmd); err != nil {
		return e.unknown(id)
	}
	e.log.Debug().Str("job", id).Str("command", cmd.String()).Msg("Command dispatched")
	return nil
}

func (e *Engine) unknown(id string) error {
	err := &types.UnknownJobError{ID: id}
	e.log.Warn().Str("job", id).Msg("Command for unknown job")
	e.emit(types.NewError(id, err))
	return err
}

// transfer runs one segment inside a pool slot. Waiting for the slot ends
// early when the job is paused or cancelled.
func (e *Engine) transfer(target mydmhttp.Target, seg *types.Segment, token *mydmhttp.Token) (mydmhttp.Outcome, error) {
	if err := e.pool.Acquire(token.Context()); err != nil {
		if !token.Cancelled() {
			seg.SetStatus(types.SegmentPaused)
			return mydmhttp.OutcomePaused, nil
		}
		// a cancelled token makes Transfer abort without touching the network
		return e.worker.Transfer(e.ctx, target, seg, token)
	}
	defer e.pool.Release()
	return e.worker.Transfer(e.ctx, target, seg, token)
}

func (e *Engine) emit(ev types.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Emit(ev); err != nil {
		e.log.Error().Err(err).Str("event", string(ev.Kind())).Str("job", ev.JobID()).Msg("Could not deliver event")
	}
}
