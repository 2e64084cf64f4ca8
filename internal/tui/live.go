// Package tui renders a live terminal view of a running simulation.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/airsusp/internal/engine"
	"github.com/san-kum/airsusp/internal/gas"
)

const historyCapacity = 600

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	faultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("240")).Padding(0, 2)
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/30, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Model consumes snapshots published by the engine; all simulation state
// stays on the engine's worker goroutine.
type Model struct {
	eng  *engine.Engine
	snap *engine.Snapshot

	heaveHist  []float64
	thermal    gas.Mode
	lastFaults []string
	err        error
}

func NewModel(eng *engine.Engine, thermal gas.Mode) Model {
	return Model{
		eng:       eng,
		thermal:   thermal,
		heaveHist: make([]float64, 0, historyCapacity),
	}
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.err = m.eng.Stop()
			return m, tea.Quit
		case " ":
			if m.eng.Phase() == engine.Paused {
				m.err = m.eng.Resume()
			} else {
				m.err = m.eng.Pause()
			}
		case "r":
			m.heaveHist = m.heaveHist[:0]
			m.lastFaults = nil
			m.err = m.eng.Reset()
		case "m":
			if m.thermal == gas.Isothermal {
				m.thermal = gas.Adiabatic
			} else {
				m.thermal = gas.Isothermal
			}
			m.err = m.eng.SwitchThermalMode(m.thermal)
		}
	case TickMsg:
		select {
		case <-m.eng.Done():
			return m, tea.Quit
		default:
		}
		if snap, ok := m.eng.Latch().TakeLatest(); ok {
			m.snap = snap
			m.heaveHist = append(m.heaveHist, snap.Chassis[0]*1000)
			if len(m.heaveHist) > historyCapacity {
				m.heaveHist = m.heaveHist[1:]
			}
			for _, f := range snap.Faults {
				m.lastFaults = append(m.lastFaults, fmt.Sprintf("[%s] %s", f.Kind, f.Message))
			}
			if n := len(m.lastFaults); n > 5 {
				m.lastFaults = m.lastFaults[n-5:]
			}
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("AIR SUSPENSION RIG") + "\n")

	if m.snap == nil {
		s.WriteString("waiting for first snapshot...\n")
		s.WriteString(helpStyle.Render("SP:Pause R:Reset M:Thermal Q:Quit"))
		return s.String()
	}
	snap := m.snap

	s.WriteString(fmt.Sprintf("%s  t=%.2fs  step=%d\n\n",
		strings.ToUpper(snap.Phase.String()), snap.Time, snap.Step))

	if len(m.heaveHist) > 1 {
		chart := asciigraph.Plot(m.heaveHist,
			asciigraph.Height(8),
			asciigraph.Width(60),
			asciigraph.Caption("heave (mm)"),
		)
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	s.WriteString(labelStyle.Render("Heave") + valueStyle.Render(fmt.Sprintf("%+8.2f mm", snap.Chassis[0]*1000)) + "\n")
	s.WriteString(labelStyle.Render("Roll") + valueStyle.Render(fmt.Sprintf("%+8.3f deg", snap.Chassis[1]*180/3.14159265)) + "\n")
	s.WriteString(labelStyle.Render("Pitch") + valueStyle.Render(fmt.Sprintf("%+8.3f deg", snap.Chassis[2]*180/3.14159265)) + "\n")
	s.WriteString(labelStyle.Render("Thermal") + valueStyle.Render(m.thermal.String()) + "\n\n")

	var corners strings.Builder
	corners.WriteString("CORNERS\n")
	for _, c := range snap.Corners {
		corners.WriteString(fmt.Sprintf("%-3s  head %6.2f bar  rod %6.2f bar  stroke %6.1f mm\n",
			c.Name, c.HeadPressure/1e5, c.RodPressure/1e5, c.Kinematics.Piston*1000))
	}
	recv := snap.Chambers[engine.Receiver]
	corners.WriteString(fmt.Sprintf("\nreceiver  %6.2f bar  %5.1f K  %6.1f L\n",
		recv.Pressure/1e5, recv.Temperature, recv.Volume*1000))
	s.WriteString(panelStyle.Render(corners.String()) + "\n")

	if len(m.lastFaults) > 0 {
		s.WriteString("\n")
		for _, f := range m.lastFaults {
			s.WriteString(faultStyle.Render(f) + "\n")
		}
	}
	if m.err != nil {
		s.WriteString("\n" + faultStyle.Render("control error: "+m.err.Error()) + "\n")
	}

	s.WriteString(helpStyle.Render("SP:Pause R:Reset M:Thermal Q:Quit"))
	return s.String()
}
