package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/tripsync-go/internal/client"
	"github.com/raphaelgruber/tripsync-go/internal/models"
)

// Colors for the progress display.
var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
)

// jobUpdateMsg carries one snapshot from the websocket stream.
type jobUpdateMsg struct{ job models.Job }

// streamEndMsg is sent once the stream closes, with the error that closed it.
type streamEndMsg struct{ err error }

// progressModel renders job snapshots pushed by the server. It never polls.
type progressModel struct {
	jobID    string
	job      models.Job
	bar      progress.Model
	done     bool
	quitting bool
	err      error
}

func newProgressModel(job *models.Job) progressModel {
	return progressModel{
		jobID: job.ID,
		job:   *job,
		bar:   progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.bar.Init()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case jobUpdateMsg:
		m.job = msg.job
		if m.job.Status.Terminal() {
			m.done = true
			m.err = jobError(&m.job)
			return m, tea.Quit
		}
		return m, m.bar.SetPercent(float64(m.job.Progress.Percentage) / 100)

	case streamEndMsg:
		if m.done {
			return m, nil
		}
		m.done = true
		m.err = msg.err
		if m.err == nil {
			m.err = errors.New("progress stream closed before the job finished")
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	if m.done || m.quitting {
		return tea.NewView(m.finalView())
	}
	status := statusStyle.Render(fmt.Sprintf("[%s]", m.job.Status))
	counts := fmt.Sprintf("%d/%d", m.job.Progress.Completed, m.job.Progress.Total)
	hint := hintStyle.Render("Press Ctrl+C to continue in background")
	return tea.NewView(fmt.Sprintf("%s %s %s\n%s\n", status, m.bar.View(), counts, hint))
}

func (m progressModel) finalView() string {
	switch {
	case m.quitting:
		return hintStyle.Render(fmt.Sprintf(
			"\nJob %s continues in background.\nUse 'tripsync jobs %s' to check status.\n", m.jobID, m.jobID))
	case m.err != nil:
		return failStyle.Render(fmt.Sprintf("\n✗ Job %s: %s\n", m.jobID, m.err))
	default:
		return doneStyle.Render("✓ Completed") + "\n\n" + formatResult(m.job.Result)
	}
}

// RunJobProgress shows a progress bar fed by the job's websocket stream.
// It returns nil on success or when the user detaches with Ctrl+C.
func RunJobProgress(ctx context.Context, c *client.Client, job *models.Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(job), tea.WithContext(ctx))
	go func() {
		_, err := c.WatchJob(ctx, job.ID, func(j models.Job) error {
			p.Send(jobUpdateMsg{job: j})
			return nil
		})
		p.Send(streamEndMsg{err: err})
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("progress UI: %w", err)
	}
	if m, ok := final.(progressModel); ok && !m.quitting {
		return m.err
	}
	return nil
}

// followJob shows progress until the job is terminal: an interactive bar on a terminal,
// one line per update from the websocket stream otherwise.
func followJob(ctx context.Context, job *models.Job) error {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunJobProgress(ctx, apiClient, job)
	}

	lastPct := -1
	final, err := apiClient.WatchJob(ctx, job.ID, func(j models.Job) error {
		if j.Progress.Percentage != lastPct || j.Status.Terminal() {
			lastPct = j.Progress.Percentage
			fmt.Printf("[%s] %d/%d (%d%%)\n", j.Status, j.Progress.Completed, j.Progress.Total, j.Progress.Percentage)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch job: %w", err)
	}
	if err := jobError(final); err != nil {
		return err
	}
	fmt.Print(formatResult(final.Result))
	return nil
}

func jobError(job *models.Job) error {
	switch job.Status {
	case models.JobStatusFailed:
		if job.Error != "" {
			return errors.New(job.Error)
		}
		return errors.New("job failed with unknown error")
	case models.JobStatusCancelled:
		return errors.New("job cancelled")
	}
	return nil
}

// formatResult renders a job result: scalars first, then lists.
func formatResult(result map[string]any) string {
	if len(result) == 0 {
		return ""
	}
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	var lists []string
	for _, k := range keys {
		if _, ok := result[k].([]any); ok {
			lists = append(lists, k)
			continue
		}
		fmt.Fprintf(&sb, "  %-22s %v\n", label(k)+":", result[k])
	}
	for _, k := range lists {
		items := result[k].([]any)
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n  %s (%d):\n", label(k), len(items))
		for _, item := range items {
			fmt.Fprintf(&sb, "    • %s\n", formatItem(item))
		}
	}
	return sb.String()
}

func formatItem(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return fmt.Sprint(item)
	}
	// Resync details.
	if id, ok := m["step_id"]; ok {
		return fmt.Sprintf("%v changed=%v %v", id, m["changed"], m["consistency_note"])
	}
	return fmt.Sprint(m)
}

func label(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}
