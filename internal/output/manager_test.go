package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/mydm/internal/types"
)

func TestManagerTracksJobLifecycle(t *testing.T) {
	var out bytes.Buffer
	m := NewManager(&out)
	require.False(t, m.interactive)

	require.NoError(t, m.Emit(types.NewStarted("a")))
	m.Label("a", "https://example.com/file.iso")
	lines := m.render()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Probing https://example.com/file.iso")

	require.NoError(t, m.Emit(types.NewProgress("a", "file.iso", 2048, 1024, "1.0 KiB/s")))
	lines = m.render()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "file.iso")
	assert.Contains(t, lines[1], "50.0%")
	assert.Contains(t, lines[1], "1.0 KiB / 2.0 KiB")
	assert.Contains(t, lines[1], "1.0 KiB/s")

	require.NoError(t, m.Emit(types.NewPaused("a")))
	assert.Equal(t, statePaused, m.rows["a"].State)
	assert.Contains(t, m.render()[1], "paused")

	require.NoError(t, m.Emit(types.NewResumed("a")))
	require.NoError(t, m.Emit(types.NewComplete("a", "file.iso", "/dl/file.iso")))
	lines = m.render()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Saved /dl/file.iso")

	// nothing after a terminal event changes the row
	require.NoError(t, m.Emit(types.NewError("a", errors.New("late"))))
	assert.Equal(t, stateSuccess, m.rows["a"].State)
	assert.Zero(t, m.Failed())
}

func TestManagerUnknownSizeShowsBytes(t *testing.T) {
	m := NewManager(&bytes.Buffer{})
	require.NoError(t, m.Emit(types.NewStarted("s")))
	require.NoError(t, m.Emit(types.NewProgress("s", "stream.bin", types.UnknownSize, 3*1024*1024, "1.0 MiB/s")))
	lines := m.render()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "3.0 MiB")
	assert.NotContains(t, lines[1], "%")
}

func TestManagerSummary(t *testing.T) {
	var out bytes.Buffer
	m := NewManager(&out)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Emit(types.NewStarted(id)))
	}
	m.Label("b", "https://example.com/broken")
	require.NoError(t, m.Emit(types.NewComplete("a", "a.bin", "/dl/a.bin")))
	require.NoError(t, m.Emit(types.NewError("b", errors.New("server returned error: 404"))))
	require.NoError(t, m.Emit(types.NewCancelled("c")))
	require.NoError(t, m.Emit(types.NewError("", errors.New("protocol error: empty frame"))))

	assert.Equal(t, 2, m.Failed())
	m.StopDisplay()
	m.StopDisplay()

	text := out.String()
	assert.Contains(t, text, "Completed 1 of 3")
	assert.Contains(t, text, "Failed 1 of 3")
	assert.Contains(t, text, "Cancelled 1 of 3")
	assert.Contains(t, text, "https://example.com/broken: server returned error: 404")
	assert.Contains(t, text, "host: protocol error: empty frame")
	assert.Equal(t, 1, strings.Count(text, "Completed 1 of 3"), "summary printed once")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "résu…", truncate("résumé.pdf", 5))
}

func TestPrintProgressBarClamps(t *testing.T) {
	assert.Contains(t, PrintProgressBar(50, 100, 10), "50.0%")
	assert.Contains(t, PrintProgressBar(500, 100, 10), "100.0%")
	assert.Contains(t, PrintProgressBar(-5, 100, 10), "0.0%")
}
