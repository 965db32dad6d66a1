package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	mydmhttp "github.com/tanq16/mydm/internal/downloaders/http"
	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdCancel
)

func (c command) String() string {
	switch c {
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	default:
		return "cancel"
	}
}

type probeResult struct {
	info *mydmhttp.FileInfo
	err  error
}

type mergeResult struct {
	path string
	err  error
}

type segmentResult struct {
	seg     *types.Segment
	outcome mydmhttp.Outcome
	err     error
}

// Job is one download. Its controller goroutine is the only writer of its
// state; Snapshot may read concurrently under mu.
type Job struct {
	ID        string
	URL       string
	Referer   string
	CreatedAt time.Time

	engine *Engine
	token  *mydmhttp.Token
	cmds   chan command
	done   chan struct{}
	log    zerolog.Logger

	mu             sync.Mutex
	status         types.JobStatus
	filename       string
	destination    string
	sourceURL      string
	totalSize      int64
	rangeSupported bool
	segments       []*types.Segment

	// touched only by the controller goroutine
	active    map[int]bool
	results   chan segmentResult
	merges    chan mergeResult
	pausing   bool
	failure   error
	lastBytes int64
	lastTick  time.Time
	merged    string
}

func newJob(engine *Engine, id, link, referer string) *Job {
	return &Job{
		ID:        id,
		URL:       link,
		Referer:   referer,
		CreatedAt: time.Now(),
		engine:    engine,
		token:     mydmhttp.NewToken(),
		cmds:      make(chan command, 32),
		done:      make(chan struct{}),
		log:       utils.GetLogger("job").With().Str("job", id).Logger(),
		status:    types.StatusProbing,
		sourceURL: link,
		totalSize: types.UnknownSize,
		active:    make(map[int]bool),
		merges:    make(chan mergeResult, 1),
	}
}

// send queues a command for the controller; a finished controller yields
// UnknownJobError.
func (j *Job) send(cmd command) error {
	select {
	case <-j.done:
		return &types.UnknownJobError{ID: j.ID}
	default:
	}
	select {
	case j.cmds <- cmd:
		return nil
	case <-j.done:
		return &types.UnknownJobError{ID: j.ID}
	}
}

// Done is closed once the job has emitted its terminal event.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Status() types.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(status types.JobStatus) {
	j.mu.Lock()
	prev := j.status
	j.status = status
	j.mu.Unlock()
	j.log.Debug().Str("from", string(prev)).Str("to", string(status)).Msg("Status changed")
}

func (j *Job) Snapshot() types.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := types.JobSnapshot{
		ID:             j.ID,
		URL:            j.URL,
		Referer:        j.Referer,
		Filename:       j.filename,
		Destination:    j.destination,
		TotalSize:      j.totalSize,
		RangeSupported: j.rangeSupported,
		Status:         j.status,
		CreatedAt:      j.CreatedAt,
	}
	for _, seg := range j.segments {
		s := seg.Snapshot()
		snap.Downloaded += s.Transferred
		snap.Segments = append(snap.Segments, s)
	}
	return snap
}

func (j *Job) run(ctx context.Context) {
	defer close(j.done)
	info, ok := j.probe(ctx)
	if !ok {
		return
	}
	if !j.plan(info) {
		return
	}
	j.loop(ctx)
}

// probe runs the prober off the controller goroutine so that cancel and
// pause stay responsive while the server is slow to answer.
func (j *Job) probe(ctx context.Context) (*mydmhttp.FileInfo, bool) {
	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()
	probed := make(chan probeResult, 1)
	go func() {
		info, err := j.engine.prober.Probe(probeCtx, j.URL, j.Referer, j.ID)
		probed <- probeResult{info: info, err: err}
	}()

	for {
		select {
		case cmd := <-j.cmds:
			switch cmd {
			case cmdPause:
				j.token.Pause()
			case cmdResume:
				j.token.Resume()
			case cmdCancel:
				j.token.Cancel()
				j.finishCancelled()
				return nil, false
			}
		case res := <-probed:
			if res.err != nil && !errors.Is(res.err, types.ErrSizeUnknown) {
				j.finishError(res.err)
				return nil, false
			}
			if res.err != nil {
				j.log.Warn().Str("url", j.URL).Msg("Size unknown, falling back to a single stream")
			}
			return res.info, true
		case <-ctx.Done():
			j.token.Cancel()
			j.finishCancelled()
			return nil, false
		}
	}
}

func (j *Job) plan(info *mydmhttp.FileInfo) bool {
	opts := j.engine.opts
	segments, err := mydmhttp.Plan(info.Size, info.RangeSupported, mydmhttp.PlanOptions{
		Threads:   opts.Threads,
		Threshold: opts.SegmentThreshold,
	})
	if err != nil {
		j.finishError(err)
		return false
	}
	for _, seg := range segments {
		seg.PartPath = utils.PartPath(opts.TempDir, j.ID, seg.Index)
	}

	j.mu.Lock()
	j.filename = info.Filename
	j.destination = filepath.Join(opts.DownloadDir, info.Filename)
	j.sourceURL = info.FinalURL
	j.totalSize = info.Size
	j.rangeSupported = info.RangeSupported
	j.segments = segments
	j.mu.Unlock()
	j.results = make(chan segmentResult, len(segments))
	j.log.Info().Str("file", info.Filename).Int64("size", info.Size).Bool("ranges", info.RangeSupported).Int("segments", len(segments)).Msg("Download planned")

	if j.token.Paused() {
		j.setStatus(types.StatusPaused)
		for _, seg := range segments {
			seg.SetStatus(types.SegmentPaused)
		}
		j.engine.emit(types.NewPaused(j.ID))
		return true
	}
	j.setStatus(types.StatusDownloading)
	j.lastTick = time.Now()
	j.startPending()
	return true
}

func (j *Job) loop(ctx context.Context) {
	ticker := time.NewTicker(j.engine.opts.ProgressInterval)
	defer ticker.Stop()
	shutdown := ctx.Done()

	for {
		if j.settle() {
			return
		}
		select {
		case cmd := <-j.cmds:
			j.handle(cmd)
		case res := <-j.results:
			j.collect(res)
		case res := <-j.merges:
			j.complete(res)
			return
		case <-ticker.C:
			j.reportProgress(false)
		case <-shutdown:
			shutdown = nil
			status := j.Status()
			// a running merge is left to finish
			if j.failure == nil && status != types.StatusCancelling && status != types.StatusMerging {
				j.token.Cancel()
				j.pausing = false
				j.setStatus(types.StatusCancelling)
			}
		}
	}
}

func (j *Job) handle(cmd command) {
	status := j.Status()
	ignore := func() {
		j.log.Debug().Str("command", cmd.String()).Str("status", string(status)).Msg("Command ignored in current state")
	}
	if j.failure != nil {
		ignore()
		return
	}
	switch cmd {
	case cmdPause:
		if status != types.StatusDownloading || j.pausing {
			ignore()
			return
		}
		j.token.Pause()
		j.pausing = true
		j.log.Debug().Int("active", len(j.active)).Msg("Pause requested, waiting for workers")

	case cmdResume:
		switch {
		case status == types.StatusDownloading && j.pausing:
			// withdrawn before every worker had stopped
			j.token.Resume()
			j.pausing = false
		case status == types.StatusPaused:
			j.token.Resume()
			j.setStatus(types.StatusDownloading)
			j.lastBytes = max(j.lastBytes, j.downloaded())
			j.lastTick = time.Now()
		default:
			ignore()
			return
		}
		j.startPending()
		j.engine.emit(types.NewResumed(j.ID))

	case cmdCancel:
		if status != types.StatusDownloading && status != types.StatusPaused {
			ignore()
			return
		}
		j.token.Cancel()
		j.pausing = false
		j.setStatus(types.StatusCancelling)
	}
}

func (j *Job) collect(res segmentResult) {
	delete(j.active, res.seg.Index)
	switch res.outcome {
	case mydmhttp.OutcomePaused:
		// a resume raced with this worker stopping
		if !j.token.Paused() && !j.token.Cancelled() && j.Status() == types.StatusDownloading && j.failure == nil {
			j.start(res.seg)
		}
	case mydmhttp.OutcomeAborted:
		if j.failure == nil && j.Status() != types.StatusCancelling {
			j.token.Cancel()
			j.pausing = false
			j.setStatus(types.StatusCancelling)
		}
	case mydmhttp.OutcomeFailed:
		if j.failure == nil {
			j.failure = res.err
			j.pausing = false
			j.token.Cancel()
			j.log.Error().Err(res.err).Int("segment", res.seg.Index).Msg("Segment failed, aborting job")
		}
	}
}

// settle applies the transitions that wait for every worker to report. It
// reports whether the job reached a terminal status.
func (j *Job) settle() bool {
	if len(j.active) > 0 {
		return false
	}
	status := j.Status()
	switch {
	case j.failure != nil:
		j.finishError(j.failure)
		return true
	case status == types.StatusCancelling:
		j.finishCancelled()
		return true
	case j.pausing:
		j.pausing = false
		j.reportProgress(false)
		j.setStatus(types.StatusPaused)
		j.engine.emit(types.NewPaused(j.ID))
	case status == types.StatusDownloading && j.allDone():
		j.reportProgress(true)
		j.merge()
	}
	return false
}

func (j *Job) startPending() {
	for _, seg := range j.segments {
		if seg.Status() == types.SegmentDone || j.active[seg.Index] {
			continue
		}
		j.start(seg)
	}
}

func (j *Job) start(seg *types.Segment) {
	j.active[seg.Index] = true
	seg.SetStatus(types.SegmentPending)
	target := mydmhttp.Target{
		JobID:          j.ID,
		URL:            j.sourceURL,
		Referer:        j.Referer,
		RangeSupported: j.rangeSupported,
	}
	go func() {
		outcome, err := j.engine.transfer(target, seg, j.token)
		j.results <- segmentResult{seg: seg, outcome: outcome, err: err}
	}()
}

func (j *Job) allDone() bool {
	for _, seg := range j.segments {
		if seg.Status() != types.SegmentDone {
			return false
		}
	}
	return true
}

func (j *Job) downloaded() int64 {
	var total int64
	for _, seg := range j.segments {
		total += seg.Transferred()
	}
	return total
}

// reportProgress emits the aggregate byte count when it has moved since the
// last report; final forces the report made just before merging. A segment
// that restarts from zero can make the raw sum shrink, so the reported value
// is held at its previous maximum.
func (j *Job) reportProgress(final bool) {
	if j.Status() != types.StatusDownloading || j.failure != nil {
		return
	}
	downloaded := max(j.downloaded(), j.lastBytes)
	if !final && downloaded == j.lastBytes {
		return
	}
	now := time.Now()
	speed := utils.FormatSpeed(downloaded-j.lastBytes, now.Sub(j.lastTick).Seconds())
	j.lastBytes = downloaded
	j.lastTick = now
	j.engine.emit(types.NewProgress(j.ID, j.filename, j.totalSize, downloaded, speed))
}

// merge assembles the part files on its own goroutine so the controller
// keeps draining commands; the result arrives on merges. Calling it again
// once a merge has started or finished does nothing.
func (j *Job) merge() {
	if j.merged != "" || j.Status() == types.StatusMerging {
		j.log.Debug().Str("file", j.merged).Msg("Merge already handled")
		return
	}
	j.setStatus(types.StatusMerging)
	segments, destination := j.segments, j.destination
	go func() {
		path, err := mydmhttp.Assemble(segments, destination)
		j.merges <- mergeResult{path: path, err: err}
	}()
}

func (j *Job) complete(res mergeResult) {
	if res.err != nil {
		j.finishError(res.err)
		return
	}
	j.merged = res.path
	j.mu.Lock()
	j.destination = res.path
	j.mu.Unlock()
	j.setStatus(types.StatusComplete)
	j.log.Info().Str("file", res.path).Dur("elapsed", time.Since(j.CreatedAt)).Msg("Download complete")
	j.engine.emit(types.NewComplete(j.ID, filepath.Base(res.path), res.path))
	j.engine.registry.Delete(j.ID)
}

// finishCancelled and finishError emit before leaving the registry, so a
// command racing the terminal event still finds the job.
func (j *Job) finishCancelled() {
	j.cleanup()
	j.setStatus(types.StatusCancelled)
	j.log.Info().Msg("Download cancelled")
	j.engine.emit(types.NewCancelled(j.ID))
	j.engine.registry.Delete(j.ID)
}

func (j *Job) finishError(err error) {
	j.cleanup()
	j.setStatus(types.StatusError)
	j.log.Error().Err(err).Msg("Download failed")
	j.engine.emit(types.NewError(j.ID, err))
	j.engine.registry.Delete(j.ID)
}

func (j *Job) cleanup() {
	if err := utils.RemoveJobParts(j.engine.opts.TempDir, j.ID); err != nil {
		j.log.Warn().Err(err).Msg("Could not remove part files")
	}
}
