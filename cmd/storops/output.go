package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/andrej220/storops/internal/executor"
	"github.com/andrej220/storops/internal/operator"
	"github.com/andrej220/storops/internal/settings"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6BCB77"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	keyStyle   = lipgloss.NewStyle().Bold(true).Width(9)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#888888")).Padding(0, 1)
)

// printer writes command output to stdout according to the verbosity.
// Quiet prints nothing.
type printer struct {
	out       io.Writer
	verbosity operator.Verbosity
}

func (p *printer) quiet() bool { return p.verbosity == operator.Quiet }

func (p *printer) println(s string) {
	if p.quiet() {
		return
	}
	fmt.Fprintln(p.out, s)
}

// result prints the response banner and the session output. Verbose adds
// the script sent and stderr.
func (p *printer) result(title string, res executor.Result) {
	if p.quiet() {
		return
	}
	banner := titleStyle.Render("Response from " + res.Node)
	if !res.Succeeded {
		banner = failStyle.Render(fmt.Sprintf("Failed on %s (exit status %d)", res.Node, res.ExitCode))
	}
	fmt.Fprintf(p.out, "%s %s\n", banner, dimStyle.Render(title))
	if p.verbosity == operator.Verbose {
		fmt.Fprintln(p.out, boxStyle.Render(res.Script))
	}
	if out := strings.TrimRight(res.Stdout, "\n"); out != "" {
		fmt.Fprintln(p.out, out)
	}
	if p.verbosity == operator.Verbose || !res.Succeeded {
		if stderr := strings.TrimRight(res.Stderr, "\n"); stderr != "" {
			fmt.Fprintln(p.out, dimStyle.Render(stderr))
		}
	}
	if p.verbosity == operator.Verbose {
		fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("session %s took %s", res.SessionID, res.Duration)))
	}
}

func (p *printer) configuration(cfg settings.Configuration) {
	if p.quiet() {
		return
	}
	rows := []string{
		keyStyle.Render("node") + orUnset(cfg.Node),
		keyStyle.Render("service") + orUnset(string(cfg.Service)),
		keyStyle.Render("device") + orUnset(string(cfg.Device)),
		keyStyle.Render("mover") + orUnset(string(cfg.Mover)),
	}
	fmt.Fprintln(p.out, boxStyle.Render(strings.Join(rows, "\n")))
}

func orUnset(s string) string {
	if s == "" {
		return dimStyle.Render("<unset>")
	}
	return s
}
