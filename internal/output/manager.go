package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tanq16/mydm/internal/types"
)

type jobRow struct {
	ID          string
	URL         string
	Filename    string
	State       string
	Message     string
	Size        int64
	Downloaded  int64
	Percent     *int
	Speed       string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Index       int
}

type ErrorReport struct {
	Source string
	Error  string
	Time   time.Time
}

// Manager renders engine events as a live per-job display. It implements
// the engine's event sink, so it is driven entirely by events; on a
// non-terminal writer only the final summary is printed.
type Manager struct {
	out         io.Writer
	interactive bool
	width       int
	height      int

	mutex    sync.RWMutex
	rows     map[string]*jobRow
	count    int
	errors   []ErrorReport
	numLines int

	displayTick time.Duration
	doneCh      chan struct{}
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
}

func NewManager(out io.Writer) *Manager {
	width, height, interactive := terminalSize(out)
	return &Manager{
		out:         out,
		interactive: interactive,
		width:       width,
		height:      height,
		rows:        make(map[string]*jobRow),
		displayTick: 300 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

// row returns the row for id, creating it on first sight. Caller holds mutex.
func (m *Manager) row(id string) *jobRow {
	if r, ok := m.rows[id]; ok {
		return r
	}
	m.count++
	now := time.Now()
	r := &jobRow{ID: id, State: statePending, StartTime: now, LastUpdated: now, Index: m.count}
	m.rows[id] = r
	return r
}

// Label attaches the requested URL to a job, shown until the filename is known.
func (m *Manager) Label(id, url string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.row(id).URL = url
}

func (m *Manager) Emit(ev types.Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	if e, ok := ev.(types.ErrorEvent); ok && e.ID == "" {
		m.errors = append(m.errors, ErrorReport{Source: "host", Error: e.Error, Time: now})
		return nil
	}
	r := m.row(ev.JobID())
	if r.Complete {
		return nil
	}
	r.LastUpdated = now
	switch e := ev.(type) {
	case types.StartedEvent:
		r.State = statePending
		r.Message = "Probing"
	case types.ProgressEvent:
		r.State = stateActive
		r.Filename = e.Filename
		r.Size = e.Size
		r.Downloaded = e.Downloaded
		r.Percent = e.Percent
		r.Speed = e.Speed
		r.Message = e.Filename
	case types.PausedEvent:
		r.State = statePaused
	case types.ResumedEvent:
		r.State = stateActive
	case types.CompleteEvent:
		r.State = stateSuccess
		r.Complete = true
		r.Filename = e.Filename
		r.Downloaded = max(r.Downloaded, r.Size)
		r.Message = fmt.Sprintf("Saved %s", e.File)
	case types.ErrorEvent:
		r.State = stateError
		r.Complete = true
		r.Message = e.Error
		m.errors = append(m.errors, ErrorReport{Source: m.label(r), Error: e.Error, Time: now})
	case types.CancelledEvent:
		r.State = stateCancelled
		r.Complete = true
		r.Message = fmt.Sprintf("Cancelled %s", m.label(r))
	}
	return nil
}

func (m *Manager) label(r *jobRow) string {
	switch {
	case r.Filename != "":
		return r.Filename
	case r.URL != "":
		return r.URL
	default:
		return r.ID
	}
}

func (m *Manager) GetStatusIndicator(state string) string {
	switch state {
	case stateSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case stateError:
		return errorStyle.Render(StyleSymbols["fail"])
	case stateCancelled:
		return warningStyle.Render(StyleSymbols["warning"])
	case statePending:
		return pendingStyle.Render(StyleSymbols["pending"])
	case statePaused:
		return warningStyle.Render(StyleSymbols["paused"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) sortRows() (active, completed []*jobRow) {
	all := make([]*jobRow, 0, len(m.rows))
	for _, r := range m.rows {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, r := range all {
		if r.Complete {
			completed = append(completed, r)
		} else {
			active = append(active, r)
		}
	}
	return active, completed
}

func styleFor(state string) func(...string) string {
	switch state {
	case stateSuccess:
		return successStyle.Render
	case stateError:
		return errorStyle.Render
	case stateCancelled, statePaused:
		return warningStyle.Render
	default:
		return pendingStyle.Render
	}
}

// progressLine is the indented detail line under an active job.
func (m *Manager) progressLine(r *jobRow) string {
	if r.State == statePending {
		return ""
	}
	var b strings.Builder
	if r.Size > 0 {
		b.WriteString(PrintProgressBar(r.Downloaded, r.Size, 30))
		b.WriteString(debugStyle.Render(fmt.Sprintf("%s / %s", humanize.IBytes(uint64(r.Downloaded)), humanize.IBytes(uint64(r.Size)))))
	} else {
		b.WriteString(debugStyle.Render(humanize.IBytes(uint64(max(r.Downloaded, 0)))))
	}
	if r.State == statePaused {
		b.WriteString(debugStyle.Render(" " + StyleSymbols["bullet"] + " paused"))
	} else if r.Speed != "" {
		b.WriteString(debugStyle.Render(" " + StyleSymbols["bullet"] + " " + r.Speed))
	}
	return b.String()
}

// render builds the current display, limited to the available height.
func (m *Manager) render() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	available := max(m.height-3, 4)
	active, completed := m.sortRows()

	needed := 0
	for _, r := range active {
		needed += 2
		if r.State == statePending {
			needed--
		}
	}
	if needed+len(completed) > available {
		keep := max(available-needed, 0)
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	var lines []string
	indent := strings.Repeat(" ", 2)
	for _, r := range active {
		elapsed := time.Since(r.StartTime).Round(time.Second)
		text := r.Message
		if text == "" || text == "Probing" {
			text = "Probing " + m.label(r)
		}
		text = truncate(text, m.width-16)
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, m.GetStatusIndicator(r.State), debugStyle.Render(elapsed.String()), styleFor(r.State)(text)))
		if detail := m.progressLine(r); detail != "" {
			lines = append(lines, strings.Repeat(" ", 2+4)+detail)
		}
	}
	for _, r := range completed {
		total := r.LastUpdated.Sub(r.StartTime).Round(time.Second)
		text := truncate(r.Message, m.width-16)
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, m.GetStatusIndicator(r.State), debugStyle.Render(total.String()), styleFor(r.State)(text)))
	}
	if len(lines) > available {
		lines = lines[:available]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	lines := m.render()
	var b strings.Builder
	if m.numLines > 0 {
		fmt.Fprintf(&b, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	io.WriteString(m.out, b.String())
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final state and the summary. It is safe to call more than once.
func (m *Manager) StopDisplay() {
	m.stopOnce.Do(func() {
		close(m.doneCh)
		m.displayWg.Wait()
		if !m.interactive {
			m.updateDisplay()
		}
		m.ShowSummary()
	})
}

// Failed reports how many jobs ended in error, plus any global errors.
func (m *Manager) Failed() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	failed := 0
	for _, r := range m.rows {
		if r.State == stateError {
			failed++
		}
	}
	for _, e := range m.errors {
		if e.Source == "host" {
			failed++
		}
	}
	return failed
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var success, failures, cancelled int
	for _, r := range m.rows {
		switch r.State {
		case stateSuccess:
			success++
		case stateError:
			failures++
		case stateCancelled:
			cancelled++
		}
	}
	var b strings.Builder
	indent := strings.Repeat(" ", 2)
	b.WriteString("\n")
	b.WriteString(indent + success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.rows))) + "\n")
	if failures > 0 {
		b.WriteString(indent + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.rows))) + "\n")
	}
	if cancelled > 0 {
		b.WriteString(indent + warningStyle.Render(fmt.Sprintf("Cancelled %d of %d", cancelled, len(m.rows))) + "\n")
	}
	if len(m.errors) > 0 {
		b.WriteString("\n" + indent + errorStyle.Bold(true).Render("Errors:") + "\n")
		for i, e := range m.errors {
			fmt.Fprintf(&b, "%s%s %s %s\n",
				strings.Repeat(" ", 2+2),
				errorStyle.Render(fmt.Sprintf("%d.", i+1)),
				debugStyle.Render(fmt.Sprintf("[%s]", e.Time.Format("15:04:05"))),
				errorStyle.Render(fmt.Sprintf("%s: %s", e.Source, e.Error)))
		}
	}
	b.WriteString("\n")
	io.WriteString(m.out, b.String())
}
