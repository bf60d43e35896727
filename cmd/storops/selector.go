package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/andrej220/storops/internal/operator"
)

var (
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77"))
)

// moverModel lets the user pick one detected mover candidate.
type moverModel struct {
	candidates []operator.Candidate
	cursor     int
	chosen     int
}

func newMoverModel(candidates []operator.Candidate) moverModel {
	return moverModel{candidates: candidates, chosen: -1}
}

func (m moverModel) Init() tea.Cmd { return nil }

func (m moverModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.chosen = -1
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.candidates)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.cursor
		return m, tea.Quit
	}
	return m, nil
}

func (m moverModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Select the mover") + "\n\n")
	for i, c := range m.candidates {
		line := fmt.Sprintf("%d) %s", i, c)
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> ") + selectedStyle.Render(line) + "\n")
			continue
		}
		b.WriteString("  " + line + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("enter select • esc skip") + "\n")
	return b.String()
}

// teaSelector runs moverModel on the terminal.
type teaSelector struct {
	in  io.Reader
	out io.Writer
}

func (s teaSelector) Select(ctx context.Context, candidates []operator.Candidate) (int, error) {
	p := tea.NewProgram(newMoverModel(candidates),
		tea.WithContext(ctx), tea.WithInput(s.in), tea.WithOutput(s.out))
	final, err := p.Run()
	if err != nil {
		return -1, fmt.Errorf("mover selection: %w", err)
	}
	return final.(moverModel).chosen, nil
}

// fixedSelector picks a preset index.
type fixedSelector int

func (f fixedSelector) Select(context.Context, []operator.Candidate) (int, error) {
	return int(f), nil
}
