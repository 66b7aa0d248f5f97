// Package tui renders the operator status dashboard: a small bubbletea
// program that polls the daemon's own status endpoint once a second and
// shows uptime, memory, and connected mobile clients in the terminal the
// daemon was launched from. It is purely an observability surface — it
// never talks to the registry, pipeline engine, or session manager
// directly, only to the HTTP status port like any other client would.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Snapshot is one poll of the status endpoint.
type Snapshot struct {
	Version          string
	UptimeSeconds    float64
	MemoryMB         float64
	TotalRequests    int64
	ConnectedClients int
	ClientIDs        []string
	Err              string
}

// StatusProvider fetches the current Snapshot. Implementations should not
// block longer than the poll interval; client.go's HTTP provider applies
// its own short timeout.
type StatusProvider func() Snapshot

type model struct {
	provider StatusProvider
	snap     Snapshot
	addr     string
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.snap = m.provider()
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	ok := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	bad := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	var b strings.Builder
	b.WriteString(title.Render("opencli daemon") + "  " + label.Render(m.addr) + "\n\n")

	if m.snap.Err != "" {
		b.WriteString(bad.Render("unreachable: "+m.snap.Err) + "\n")
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n", label.Render("version"), m.snap.Version))
		b.WriteString(fmt.Sprintf("%s %s\n", label.Render("uptime"), time.Duration(m.snap.UptimeSeconds*float64(time.Second)).Truncate(time.Second)))
		b.WriteString(fmt.Sprintf("%s %.1f MB\n", label.Render("memory"), m.snap.MemoryMB))
		b.WriteString(fmt.Sprintf("%s %d\n", label.Render("requests served"), m.snap.TotalRequests))
		b.WriteString(fmt.Sprintf("%s %s\n\n", label.Render("mobile clients"), ok.Render(fmt.Sprintf("%d connected", m.snap.ConnectedClients))))
		for _, id := range m.snap.ClientIDs {
			b.WriteString("  - " + id + "\n")
		}
	}

	b.WriteString("\n" + label.Render("press q to quit") + "\n")
	return b.String()
}

// Run blocks rendering the dashboard until the user quits (q / ctrl+c) or
// ctx is cancelled, whichever comes first. A cancelled ctx asks the
// program to quit rather than killing it, so the terminal is always left
// in a clean state.
func Run(ctx context.Context, addr string, provider StatusProvider) error {
	defer bestEffortResetTTY()

	m := model{provider: provider, snap: provider(), addr: addr}
	p := tea.NewProgram(m)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run()
		done <- err
	}()

	select {
	case <-ctx.Done():
		p.Quit()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}
