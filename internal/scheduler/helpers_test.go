package scheduler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mydmhttp "github.com/tanq16/mydm/internal/downloaders/http"
	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Emit(ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) forJob(id string) []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Event
	for _, ev := range s.events {
		if ev.JobID() == id {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) kinds(id string) []types.EventKind {
	var kinds []types.EventKind
	for _, ev := range s.forJob(id) {
		kinds = append(kinds, ev.Kind())
	}
	return kinds
}

func (s *recordingSink) has(id string, kind types.EventKind) bool {
	for _, ev := range s.forJob(id) {
		if ev.Kind() == kind {
			return true
		}
	}
	return false
}

// waitFor blocks until the job emitted an event of kind and returns it.
func (s *recordingSink) waitFor(t *testing.T, id string, kind types.EventKind, timeout time.Duration) types.Event {
	t.Helper()
	var found types.Event
	require.Eventually(t, func() bool {
		for _, ev := range s.forJob(id) {
			if ev.Kind() == kind {
				found = ev
				return true
			}
		}
		return false
	}, timeout, 5*time.Millisecond, "no %s event for job %s; got %v", kind, id, s.kinds(id))
	return found
}

func (s *recordingSink) progress(id string) []types.ProgressEvent {
	var out []types.ProgressEvent
	for _, ev := range s.forJob(id) {
		if p, ok := ev.(types.ProgressEvent); ok {
			out = append(out, p)
		}
	}
	return out
}

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*131 + 17) % 253)
	}
	return data
}

// slowReader makes http.ServeContent trickle its body so pause and cancel
// land while transfers are in flight.
type slowReader struct {
	r     *bytes.Reader
	delay time.Duration
}

func (s *slowReader) Read(p []byte) (int, error) {
	time.Sleep(s.delay)
	if len(p) > 16*1024 {
		p = p[:16*1024]
	}
	return s.r.Read(p)
}

func (s *slowReader) Seek(offset int64, whence int) (int64, error) {
	return s.r.Seek(offset, whence)
}

type fileServer struct {
	*httptest.Server
	mu     sync.Mutex
	ranges []string
}

func (s *fileServer) getRanges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func newFileServer(t *testing.T, data []byte, delay time.Duration) *fileServer {
	t.Helper()
	fs := &fileServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fs.mu.Lock()
			fs.ranges = append(fs.ranges, r.Header.Get("Range"))
			fs.mu.Unlock()
		}
		http.ServeContent(w, r, "", time.Time{}, &slowReader{r: bytes.NewReader(data), delay: delay})
	}))
	t.Cleanup(fs.Close)
	return fs
}

type testEnv struct {
	engine      *Engine
	sink        *recordingSink
	downloadDir string
	tempDir     string
}

func newTestEnv(t *testing.T, tweak func(*Options)) *testEnv {
	t.Helper()
	downloadDir := filepath.Join(t.TempDir(), "downloads")
	opts := Options{
		DownloadDir:      downloadDir,
		TempDir:          filepath.Join(downloadDir, utils.TempDirName),
		Threads:          4,
		SegmentThreshold: 1024,
		ProgressInterval: 20 * time.Millisecond,
		Worker: mydmhttp.WorkerOptions{
			ChunkSize:       32 * 1024,
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			RetryMaxBackoff: 5 * time.Millisecond,
			ReadTimeout:     5 * time.Second,
		},
	}
	if tweak != nil {
		tweak(&opts)
	}
	sink := &recordingSink{}
	client := utils.NewMyDMHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second})
	engine := NewEngine(client, NewPool(16), sink, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})
	return &testEnv{engine: engine, sink: sink, downloadDir: downloadDir, tempDir: opts.TempDir}
}

// partFiles lists leftover part files of one job.
func (env *testEnv) partFiles(t *testing.T, id string) []string {
	t.Helper()
	entries, err := os.ReadDir(env.tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var parts []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), id) {
			parts = append(parts, entry.Name())
		}
	}
	return parts
}

// downloads lists regular files in the download directory.
func (env *testEnv) downloads(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(env.downloadDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files
}
