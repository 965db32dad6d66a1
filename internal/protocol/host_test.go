package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/mydm/internal/types"
)

type call struct {
	op  string
	arg string
}

type fakeDispatcher struct {
	mu          sync.Mutex
	calls       []call
	downloadErr error
}

func (d *fakeDispatcher) record(op, arg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call{op, arg})
}

func (d *fakeDispatcher) Calls() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]call(nil), d.calls...)
}

func (d *fakeDispatcher) Download(url, referer string) (string, error) {
	d.record("download", url+"|"+referer)
	if d.downloadErr != nil {
		return "", d.downloadErr
	}
	return "job-1", nil
}

func (d *fakeDispatcher) Pause(id string) error  { d.record("pause", id); return nil }
func (d *fakeDispatcher) Resume(id string) error { d.record("resume", id); return nil }
func (d *fakeDispatcher) Cancel(id string) error { d.record("cancel", id); return nil }
func (d *fakeDispatcher) Remove(id string) error {
	d.record("remove", id)
	return &types.UnknownJobError{ID: id}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// events decodes every frame written so far.
func (b *syncBuffer) events(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	raw := append([]byte(nil), b.buf.Bytes()...)
	b.mu.Unlock()
	fr := NewFrameReader(bytes.NewReader(raw), MaxOutboundFrame)
	var out []map[string]any
	for {
		payload, err := fr.ReadFrame()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		var ev map[string]any
		require.NoError(t, json.Unmarshal(payload, &ev))
		out = append(out, ev)
	}
}

func inbound(messages ...string) *bytes.Buffer {
	var in bytes.Buffer
	for _, m := range messages {
		in.Write(frame(m))
	}
	return &in
}

func TestHostDispatchesCommands(t *testing.T) {
	in := inbound(
		`{"command":"download","url":"https://example.com/a.iso","referer":"https://example.com/"}`,
		`{"command":"pause","id":"job-1"}`,
		`{"command":"resume","id":"job-1"}`,
		`{"command":"cancel","id":"job-1"}`,
		`{"command":"remove","id":"job-9"}`,
	)
	out := &syncBuffer{}
	engine := &fakeDispatcher{}
	host := NewHost(in, NewSender(out), engine, 0)

	require.NoError(t, host.Run(context.Background()))
	assert.Equal(t, []call{
		{"download", "https://example.com/a.iso|https://example.com/"},
		{"pause", "job-1"},
		{"resume", "job-1"},
		{"cancel", "job-1"},
		{"remove", "job-9"},
	}, engine.Calls())
	assert.Empty(t, out.events(t), "the host itself reports nothing for accepted commands")
}

func TestHostEmptyInputExitsCleanly(t *testing.T) {
	out := &syncBuffer{}
	host := NewHost(&bytes.Buffer{}, NewSender(out), &fakeDispatcher{}, 0)
	assert.NoError(t, host.Run(context.Background()))
	assert.Empty(t, out.events(t))
}

func TestHostProtocolErrorIsFatal(t *testing.T) {
	tests := []struct {
		name string
		in   *bytes.Buffer
	}{
		{"unknown command", inbound(`{"command":"explode"}`, `{"command":"pause","id":"x"}`)},
		{"malformed json", inbound(`{"command":`, `{"command":"pause","id":"x"}`)},
		{"truncated frame", bytes.NewBuffer(frame(`{"command":"pause","id":"x"}`)[:8])},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &syncBuffer{}
			engine := &fakeDispatcher{}
			err := NewHost(tt.in, NewSender(out), engine, 0).Run(context.Background())

			var protoErr *types.ProtocolError
			require.ErrorAs(t, err, &protoErr)
			assert.Empty(t, engine.Calls(), "nothing after a bad frame may be dispatched")

			events := out.events(t)
			require.Len(t, events, 1)
			assert.Equal(t, "error", events[0]["event"])
			assert.NotContains(t, events[0], "id")
			assert.NotEmpty(t, events[0]["error"])
		})
	}
}

func TestHostReportsRejectedDownload(t *testing.T) {
	out := &syncBuffer{}
	engine := &fakeDispatcher{downloadErr: errors.New("host is shutting down")}
	in := inbound(
		`{"command":"download","url":"https://example.com/a.iso"}`,
		`{"command":"pause","id":"job-1"}`,
	)
	require.NoError(t, NewHost(in, NewSender(out), engine, 0).Run(context.Background()))

	events := out.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0]["event"])
	assert.Equal(t, "host is shutting down", events[0]["error"])
	assert.Len(t, engine.Calls(), 2, "a rejected download does not stop the host")
}

func TestHostStopsOnContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewHost(pr, NewSender(io.Discard), &fakeDispatcher{}, 0).Run(ctx)
	}()

	_, err := pw.Write(frame(`{"command":"pause","id":"a"}`))
	require.NoError(t, err)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("host did not stop after cancel")
	}
}

func TestSenderEncodesEvents(t *testing.T) {
	out := &syncBuffer{}
	sender := NewSender(out)
	require.NoError(t, sender.Emit(types.NewStarted("a")))
	require.NoError(t, sender.Emit(types.NewProgress("a", "file.bin", 200, 50, "1.0 MB/s")))
	require.NoError(t, sender.Emit(types.NewProgress("a", "stream.bin", -1, 50, "1.0 MB/s")))
	require.NoError(t, sender.Emit(types.NewComplete("a", "file.bin", "/tmp/file.bin")))
	require.NoError(t, sender.Emit(types.NewError("", fmt.Errorf("boom"))))

	events := out.events(t)
	require.Len(t, events, 5)
	assert.Equal(t, map[string]any{"event": "started", "id": "a"}, events[0])
	assert.Equal(t, map[string]any{
		"event": "progress", "id": "a", "filename": "file.bin",
		"percent": float64(25), "speed": "1.0 MB/s", "size": float64(200), "downloaded": float64(50),
	}, events[1])
	assert.Nil(t, events[2]["percent"])
	assert.Contains(t, events[2], "percent")
	assert.Equal(t, map[string]any{
		"event": "complete", "id": "a", "filename": "file.bin", "file": "/tmp/file.bin", "percent": float64(100),
	}, events[3])
	assert.Equal(t, map[string]any{"event": "error", "error": "boom"}, events[4])
}
