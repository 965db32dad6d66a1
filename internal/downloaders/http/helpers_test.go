package mydmhttp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i*31 + 7) % 251)
	}
	return data
}

func testClient() *utils.MyDMHTTPClient {
	return utils.NewMyDMHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second})
}

func fastWorker(maxRetries int) *SegmentWorker {
	return NewSegmentWorker(testClient(), WorkerOptions{
		ChunkSize:       16,
		MaxRetries:      maxRetries,
		RetryBackoff:    time.Millisecond,
		RetryMaxBackoff: 5 * time.Millisecond,
		ReadTimeout:     time.Second,
	})
}

// recordingServer serves data with full Range support and records the
// Range header of every GET it receives.
type recordingServer struct {
	*httptest.Server
	requests atomic.Int32
	mu       sync.Mutex
	ranges   []string
}

func (s *recordingServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func newRecordingServer(t *testing.T, data []byte, override func(n int32, w http.ResponseWriter, r *http.Request) bool) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := rs.requests.Add(1)
		rs.mu.Lock()
		rs.ranges = append(rs.ranges, r.Header.Get("Range"))
		rs.mu.Unlock()
		if override != nil && override(n, w, r) {
			return
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func newTestSegment(t *testing.T, index int, start, end int64) *types.Segment {
	t.Helper()
	seg := types.NewSegment(index, start, end, true)
	seg.PartPath = utils.PartPath(t.TempDir(), "job", index)
	return seg
}

func writePart(t *testing.T, seg *types.Segment, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(seg.PartPath), 0755))
	require.NoError(t, os.WriteFile(seg.PartPath, data, 0644))
}
