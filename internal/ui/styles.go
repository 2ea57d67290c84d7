// Package ui renders the peer client's terminal output.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	Primary = lipgloss.Color("#22d3ee")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	PhaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9FAFB")).
			Background(Primary).
			Padding(0, 1).
			Bold(true)

	RenewBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Warning).
			Padding(1, 2)

	BlockBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(Error).
			Padding(1, 2)
)

const (
	IconSuccess = "✅"
	IconError   = "❌"
	IconWarning = "⚠️"
	IconPeer    = "👤"
	IconRoom    = "🚪"
)

// Printer writes styled status lines to one writer.
type Printer struct {
	W io.Writer
}

func (p Printer) Title(msg string) {
	fmt.Fprintln(p.W, TitleStyle.Render(msg))
}

func (p Printer) Info(msg string) {
	fmt.Fprintln(p.W, MutedStyle.Render(msg))
}

func (p Printer) Success(msg string) {
	fmt.Fprintf(p.W, "%s %s\n", SuccessStyle.Render(IconSuccess), msg)
}

func (p Printer) Warning(msg string) {
	fmt.Fprintf(p.W, "%s %s\n", WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func (p Printer) Error(msg string) {
	fmt.Fprintf(p.W, "%s %s\n", ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func (p Printer) Errorf(format string, args ...any) {
	p.Error(fmt.Sprintf(format, args...))
}

// Phase prints a session phase badge.
func (p Printer) Phase(room, phase string) {
	fmt.Fprintf(p.W, "%s %s %s\n", IconRoom, MutedStyle.Render(room), PhaseStyle.Render(phase))
}
