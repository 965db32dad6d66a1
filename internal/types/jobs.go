package types

import (
	"sync"
	"time"
)

type JobStatus string

const (
	StatusProbing     JobStatus = "probing"
	StatusDownloading JobStatus = "downloading"
	StatusPaused      JobStatus = "paused"
	StatusCancelling  JobStatus = "cancelling"
	StatusCancelled   JobStatus = "cancelled"
	StatusMerging     JobStatus = "merging"
	StatusComplete    JobStatus = "complete"
	StatusError       JobStatus = "error"
)

// Terminal reports whether no further transition or event is possible.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

type SegmentStatus string

const (
	SegmentPending SegmentStatus = "pending"
	SegmentActive  SegmentStatus = "active"
	SegmentPaused  SegmentStatus = "paused"
	SegmentDone    SegmentStatus = "done"
	SegmentFailed  SegmentStatus = "failed"
	SegmentAborted SegmentStatus = "aborted"
)

// UnknownSize marks a resource whose length the server never revealed.
const UnknownSize int64 = -1

// Segment is one contiguous byte range of a resource. End is inclusive and is
// only meaningful when Bounded is set; an unbounded segment runs until EOF.
// Progress fields are guarded by mu because the owning worker writes them
// while the job's progress aggregator reads them.
type Segment struct {
	Index    int
	Start    int64
	End      int64
	Bounded  bool
	PartPath string

	mu          sync.Mutex
	transferred int64
	retries     int
	status      SegmentStatus
}

type SegmentSnapshot struct {
	Index       int
	Start       int64
	End         int64
	Bounded     bool
	PartPath    string
	Transferred int64
	Retries     int
	Status      SegmentStatus
}

func NewSegment(index int, start, end int64, bounded bool) *Segment {
	return &Segment{
		Index:   index,
		Start:   start,
		End:     end,
		Bounded: bounded,
		status:  SegmentPending,
	}
}

// Length is the planned byte count, or UnknownSize for an unbounded segment.
func (s *Segment) Length() int64 {
	if !s.Bounded {
		return UnknownSize
	}
	return s.End - s.Start + 1
}

func (s *Segment) Snapshot() SegmentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SegmentSnapshot{
		Index:       s.Index,
		Start:       s.Start,
		End:         s.End,
		Bounded:     s.Bounded,
		PartPath:    s.PartPath,
		Transferred: s.transferred,
		Retries:     s.retries,
		Status:      s.status,
	}
}

func (s *Segment) Transferred() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred
}

func (s *Segment) Status() SegmentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Segment) SetStatus(status SegmentStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Advance records n more bytes persisted to the part file.
func (s *Segment) Advance(n int64) {
	s.mu.Lock()
	s.transferred += n
	s.mu.Unlock()
}

// Reset discards all recorded progress; used when a transfer has to restart
// from offset zero because the server cannot serve partial content.
func (s *Segment) Reset() {
	s.mu.Lock()
	s.transferred = 0
	s.mu.Unlock()
}

func (s *Segment) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *Segment) AddRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
	return s.retries
}

func (s *Segment) ClearRetries() {
	s.mu.Lock()
	s.retries = 0
	s.mu.Unlock()
}

// JobSnapshot is a read-only view of a job for status queries and the CLI.
type JobSnapshot struct {
	ID             string
	URL            string
	Referer        string
	Filename       string
	Destination    string
	TotalSize      int64
	RangeSupported bool
	Downloaded     int64
	Status         JobStatus
	CreatedAt      time.Time
	Segments       []SegmentSnapshot
}

// DownloadEntry is one line of a batch file.
type DownloadEntry struct {
	URL     string `yaml:"link"`
	Referer string `yaml:"referer,omitempty"`
}
