package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Terminal client for an agent's data document: the same poll state
// machine the web pages run, rendered in the terminal.

var (
	watchTitleStyle   = lipgloss.NewStyle().Bold(true)
	watchOnlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("2")).Padding(0, 1)
	watchOfflineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("1")).Padding(0, 1)
	watchIdleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Padding(0, 1)
	watchKeyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Width(20)
	watchDimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func watchCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "watch <agent>",
		Short: "Follow an agent's data document in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := LoadManifest("")
			if err != nil {
				return err
			}
			spec, ok := manifest.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown agent %q", args[0])
			}

			url := fmt.Sprintf("%s/api/agents/%s/data", addr, spec.Name)
			m := watchModel{
				spec:   spec,
				poller: NewPoller(url, spec.Interval, 3*time.Second),
			}
			_, err = tea.NewProgram(m).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "supervisor base URL")
	return cmd
}

type watchModel struct {
	spec   AgentSpec
	poller *Poller
	update PollUpdate
	polled bool
}

type pollMsg PollUpdate
type pollTickMsg struct{}

// pollCmd runs one poll cycle off the UI goroutine.  Cycles are serialized
// through the message loop, so requests never overlap.
func (m watchModel) pollCmd() tea.Cmd {
	return func() tea.Msg {
		return pollMsg(m.poller.Poll(context.Background()))
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.pollCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case pollMsg:
		// Stale updates leave the previous fields on screen.
		if msg.Reason != ReasonStale {
			m.update = PollUpdate(msg)
		}
		m.polled = true
		return m, tea.Tick(m.spec.Interval, func(time.Time) tea.Msg { return pollTickMsg{} })
	case pollTickMsg:
		return m, m.pollCmd()
	}
	return m, nil
}

func (m watchModel) View() string {
	var badge string
	switch {
	case !m.polled:
		badge = watchIdleStyle.Render("idle")
	case m.update.State == PollPolling:
		badge = watchOnlineStyle.Render("online")
	default:
		badge = watchOfflineStyle.Render("offline")
	}

	out := watchTitleStyle.Render(m.spec.Title) + "  " + badge + "\n\n"
	if m.update.State == PollPolling {
		for _, k := range fieldKeys(m.update.Fields) {
			out += watchKeyStyle.Render(k) + m.update.Fields[k] + "\n"
		}
	} else if m.polled {
		if m.update.Err != "" {
			out += watchDimStyle.Render(fmt.Sprintf("%s: %s", m.update.Reason, m.update.Err)) + "\n"
		} else if m.update.Reason != ReasonNone {
			out += watchDimStyle.Render(string(m.update.Reason)) + "\n"
		}
	}
	out += "\n" + watchDimStyle.Render("q to quit")
	return out
}
