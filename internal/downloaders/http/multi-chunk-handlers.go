package mydmhttp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

type Outcome int

const (
	OutcomeDone Outcome = iota
	OutcomePaused
	OutcomeAborted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomePaused:
		return "paused"
	case OutcomeAborted:
		return "aborted"
	default:
		return "failed"
	}
}

type WorkerOptions struct {
	ChunkSize       int
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	ReadTimeout     time.Duration
}

// Target identifies the resource every segment of a job reads from.
type Target struct {
	JobID          string
	URL            string
	Referer        string
	RangeSupported bool
}

type SegmentWorker struct {
	client utils.HTTPDoer
	opts   WorkerOptions
	log    zerolog.Logger
}

func NewSegmentWorker(client utils.HTTPDoer, opts WorkerOptions) *SegmentWorker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = utils.DefaultChunkSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.RetryMaxBackoff < opts.RetryBackoff {
		opts.RetryMaxBackoff = opts.RetryBackoff
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	return &SegmentWorker{client: client, opts: opts, log: utils.GetLogger("http/worker")}
}

// Transfer moves the remaining bytes of seg into its part file. It returns
// OutcomePaused or OutcomeAborted when token stops it at a chunk boundary,
// OutcomeFailed with the cause for errors that survive the retry loop, and
// OutcomeDone once the segment is complete. A done segment is left alone.
// An aborted transfer removes its own part file.
func (w *SegmentWorker) Transfer(ctx context.Context, target Target, seg *types.Segment, token *Token) (Outcome, error) {
	log := w.log.With().Str("job", target.JobID).Int("segment", seg.Index).Logger()
	if seg.Status() == types.SegmentDone {
		return OutcomeDone, nil
	}
	if outcome, stopped := w.stopped(seg, token); stopped {
		return outcome, nil
	}
	if err := os.MkdirAll(filepath.Dir(seg.PartPath), 0755); err != nil {
		seg.SetStatus(types.SegmentFailed)
		return OutcomeFailed, &types.DiskError{Path: seg.PartPath, Err: err}
	}
	seg.SetStatus(types.SegmentActive)

	for {
		before := seg.Transferred()
		outcome, err := w.attempt(ctx, target, seg, token, log)
		switch outcome {
		case OutcomeDone:
			seg.SetStatus(types.SegmentDone)
			log.Debug().Int64("bytes", seg.Transferred()).Msg("Segment complete")
			return OutcomeDone, nil
		case OutcomePaused:
			seg.SetStatus(types.SegmentPaused)
			return OutcomePaused, nil
		case OutcomeAborted:
			w.abort(seg)
			return OutcomeAborted, nil
		}

		var netErr *types.NetworkError
		if !errors.As(err, &netErr) || !netErr.Retryable {
			seg.SetStatus(types.SegmentFailed)
			log.Error().Err(err).Msg("Segment failed")
			return OutcomeFailed, err
		}
		if seg.Transferred() > before {
			seg.ClearRetries()
		}
		retries := seg.AddRetry()
		if retries > w.opts.MaxRetries {
			seg.SetStatus(types.SegmentFailed)
			log.Error().Err(err).Int("attempts", retries).Msg("Retries exhausted")
			return OutcomeFailed, &types.RetryExhaustedError{Segment: seg.Index, Attempts: retries, Err: err}
		}
		delay := w.backoff(retries)
		log.Debug().Err(err).Int("retry", retries).Dur("backoff", delay).Msg("Transient failure, retrying")
		if !w.sleep(ctx, token, delay) {
			if ctx.Err() != nil {
				w.abort(seg)
				return OutcomeAborted, nil
			}
		}
		if outcome, stopped := w.stopped(seg, token); stopped {
			return outcome, nil
		}
	}
}

func (w *SegmentWorker) stopped(seg *types.Segment, token *Token) (Outcome, bool) {
	if token.Cancelled() {
		w.abort(seg)
		return OutcomeAborted, true
	}
	if token.Paused() {
		seg.SetStatus(types.SegmentPaused)
		return OutcomePaused, true
	}
	return OutcomeDone, false
}

func (w *SegmentWorker) abort(seg *types.Segment) {
	seg.SetStatus(types.SegmentAborted)
	if err := os.Remove(seg.PartPath); err != nil && !os.IsNotExist(err) {
		w.log.Debug().Err(err).Str("path", seg.PartPath).Msg("Could not remove part file")
	}
}

// attempt performs one request for the remaining range. A nil error with
// OutcomeFailed never happens; every failure carries its cause.
func (w *SegmentWorker) attempt(ctx context.Context, target Target, seg *types.Segment, token *Token, log zerolog.Logger) (Outcome, error) {
	if !target.RangeSupported && seg.Transferred() > 0 {
		// the server can only replay the whole body
		seg.Reset()
	}
	transferred := seg.Transferred()
	offset := seg.Start + transferred
	remaining := int64(-1)
	if seg.Bounded {
		remaining = seg.End - offset + 1
	}

	partFile, err := os.OpenFile(seg.PartPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return OutcomeFailed, &types.DiskError{Path: seg.PartPath, Err: err}
	}
	defer partFile.Close()
	if err := partFile.Truncate(transferred); err != nil {
		return OutcomeFailed, &types.DiskError{Path: seg.PartPath, Err: err}
	}
	if _, err := partFile.Seek(transferred, io.SeekStart); err != nil {
		return OutcomeFailed, &types.DiskError{Path: seg.PartPath, Err: err}
	}
	if remaining == 0 {
		return OutcomeDone, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return OutcomeFailed, &types.NetworkError{Op: "build request", Err: err}
	}
	if target.Referer != "" {
		req.Header.Set("Referer", target.Referer)
	}
	if target.RangeSupported {
		if seg.Bounded {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, seg.End))
		} else if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
	}
	req.Header.Set("Connection", "keep-alive")

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeAborted, ctx.Err()
		}
		return OutcomeFailed, classify("request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if start, _, _, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && start != offset {
			return OutcomeFailed, &types.NetworkError{Op: "range response", Err: fmt.Errorf("server sent offset %d, requested %d", start, offset)}
		}
	case resp.StatusCode == http.StatusOK:
		// a full body is only usable when the segment starts at zero
		if offset != 0 {
			return OutcomeFailed, &types.NetworkError{Op: "range response", Err: fmt.Errorf("server ignored range request for offset %d", offset)}
		}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return OutcomeFailed, &types.NetworkError{Op: "response", Retryable: true, Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	default:
		return OutcomeFailed, &types.NetworkError{Op: "response", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	var timedOut atomic.Bool
	readTimer := time.AfterFunc(w.opts.ReadTimeout, func() {
		timedOut.Store(true)
		resp.Body.Close()
	})
	defer readTimer.Stop()

	chunkLog := rate.Sometimes{Interval: 2 * time.Second}
	buffer := make([]byte, w.opts.ChunkSize)
	for remaining != 0 {
		window := buffer
		if remaining > 0 && remaining < int64(len(window)) {
			window = window[:remaining]
		}
		readTimer.Reset(w.opts.ReadTimeout)
		n, readErr := resp.Body.Read(window)
		if n > 0 {
			if _, err := partFile.Write(window[:n]); err != nil {
				return OutcomeFailed, &types.DiskError{Path: seg.PartPath, Err: err}
			}
			seg.Advance(int64(n))
			if remaining > 0 {
				remaining -= int64(n)
			}
			chunkLog.Do(func() {
				log.Debug().Int64("transferred", seg.Transferred()).Int64("remaining", remaining).Msg("Chunk written")
			})
		}
		if readErr == io.EOF {
			if remaining > 0 {
				return OutcomeFailed, &types.NetworkError{Op: "read body", Retryable: true, Err: io.ErrUnexpectedEOF}
			}
			break
		}
		if readErr != nil {
			if timedOut.Load() {
				return OutcomeFailed, &types.NetworkError{Op: "read body", Retryable: true, Err: os.ErrDeadlineExceeded}
			}
			if ctx.Err() != nil {
				return OutcomeAborted, ctx.Err()
			}
			return OutcomeFailed, classify("read body", readErr)
		}
		if token.Cancelled() {
			return OutcomeAborted, nil
		}
		if token.Paused() {
			return OutcomePaused, nil
		}
	}
	if err := partFile.Sync(); err != nil {
		return OutcomeFailed, &types.DiskError{Path: seg.PartPath, Err: err}
	}
	return OutcomeDone, nil
}

func (w *SegmentWorker) backoff(retry int) time.Duration {
	delay := w.opts.RetryBackoff << min(retry-1, 20)
	if delay <= 0 || delay > w.opts.RetryMaxBackoff {
		delay = w.opts.RetryMaxBackoff
	}
	// +/-50% jitter
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// sleep waits for d and reports false if the token or ctx ended the wait early.
func (w *SegmentWorker) sleep(ctx context.Context, token *Token, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-token.Context().Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// classify treats transport failures as transient unless another attempt
// cannot fix them.
func classify(op string, err error) *types.NetworkError {
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &authErr) || errors.As(err, &hostErr) || errors.Is(err, context.Canceled) {
		return &types.NetworkError{Op: op, Err: err}
	}
	return &types.NetworkError{Op: op, Retryable: true, Err: err}
}
