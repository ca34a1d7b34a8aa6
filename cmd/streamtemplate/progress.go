package main

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/livefir/streamtemplate"
)

var (
	statusStyle = lipgloss.NewStyle().Faint(true)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type chunkMsg streamtemplate.ChunkMeta

type doneMsg struct {
	metrics *streamtemplate.Metrics
	err     error
}

type progressModel struct {
	bar     progress.Model
	chunk   int
	total   int
	percent int
	done    bool
	err     error
}

func newProgressModel() progressModel {
	return progressModel{bar: progress.New(progress.WithDefaultGradient())}
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 8
		return m, nil

	case chunkMsg:
		m.chunk = msg.Index + 1
		m.total = msg.Total
		m.percent = msg.ProgressPercent
		return m, m.bar.SetPercent(float64(msg.ProgressPercent) / 100)

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = streamtemplate.ErrCancelled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	if m.done {
		if m.err != nil {
			return errStyle.Render(fmt.Sprintf("render failed: %v", m.err)) + "\n"
		}
		return doneStyle.Render(fmt.Sprintf("rendered %d chunks", m.total)) + "\n"
	}
	status := statusStyle.Render(fmt.Sprintf("chunk %d/%d (%d%%)", m.chunk, m.total, m.percent))
	return "\n  " + m.bar.View() + "  " + status + "\n"
}

// renderWithProgress drives the render while a live progress display runs
// on the terminal. Chunk bytes go to out as they are acknowledged.
func renderWithProgress(ctx context.Context, r *streamtemplate.Renderer, tmpl []byte, data interface{}, out io.Writer) (*streamtemplate.Metrics, error) {
	prog := tea.NewProgram(newProgressModel(), tea.WithContext(ctx))

	var (
		m   *streamtemplate.Metrics
		err error
	)
	go func() {
		m, err = r.RenderStreaming(ctx, tmpl, data,
			func(chunk []byte, meta streamtemplate.ChunkMeta) error {
				if _, werr := out.Write(chunk); werr != nil {
					return werr
				}
				prog.Send(chunkMsg(meta))
				return nil
			})
		prog.Send(doneMsg{metrics: m, err: err})
	}()

	if _, perr := prog.Run(); perr != nil && err == nil {
		err = perr
	}
	return m, err
}
