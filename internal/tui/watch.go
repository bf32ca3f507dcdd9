// Package tui renders a live view of a workflow run for `run --watch`: a
// spinner, the step list with per-step outcomes, and the final status line.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/KareemHossam19/Stepwright/internal/engine"
	"github.com/KareemHossam19/Stepwright/internal/state"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Watch runs the TUI until the event channel closes or ctx is cancelled.
func Watch(ctx context.Context, workflowName string, events <-chan engine.Event) error {
	m := newModel(workflowName)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	go func() {
		for ev := range events {
			p.Send(eventMsg{ev})
		}
		p.Send(doneMsg{})
	}()

	_, err := p.Run()
	if err == tea.ErrProgramKilled || err == context.Canceled {
		return nil
	}
	return err
}

type eventMsg struct{ ev engine.Event }
type doneMsg struct{}

// stepLine is one rendered row of the step list.
type stepLine struct {
	id        string
	name      string
	outcome   string // empty while running
	err       string
	iteration int
}

type model struct {
	workflow string
	spinner  spinner.Model
	steps    []stepLine
	index    map[string]int
	status   string
	done     bool
}

func newModel(workflowName string) *model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle
	return &model{
		workflow: workflowName,
		spinner:  sp,
		index:    map[string]int{},
	}
}

func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case eventMsg:
		m.apply(msg.ev)
		return m, nil
	case doneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) apply(ev engine.Event) {
	switch ev.Type {
	case engine.EventStepStart:
		if _, seen := m.index[ev.StepID]; !seen {
			m.index[ev.StepID] = len(m.steps)
			m.steps = append(m.steps, stepLine{id: ev.StepID, name: ev.Name})
		} else {
			// re-entered (loop iteration or retry): mark running again
			m.steps[m.index[ev.StepID]].outcome = ""
		}
	case engine.EventStepEnd:
		if i, ok := m.index[ev.StepID]; ok {
			m.steps[i].outcome = ev.Outcome
			m.steps[i].err = ev.Error
		} else {
			m.index[ev.StepID] = len(m.steps)
			m.steps = append(m.steps, stepLine{id: ev.StepID, outcome: ev.Outcome, err: ev.Error})
		}
	case engine.EventIterationEnd:
		if i, ok := m.index[ev.StepID]; ok {
			m.steps[i].iteration = ev.Iteration + 1
		}
	case engine.EventWorkflowEnd:
		m.status = ev.Status
	case engine.EventWorkflowSuspend:
		m.status = engine.StatusSuspended
	}
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("stepwright: "+m.workflow) + "\n\n")

	for _, s := range m.steps {
		label := s.id
		if s.name != "" && s.name != s.id {
			label = fmt.Sprintf("%s (%s)", s.name, s.id)
		}
		if s.iteration > 0 {
			label += dimStyle.Render(fmt.Sprintf(" [%d]", s.iteration))
		}

		var mark string
		switch s.outcome {
		case "":
			mark = m.spinner.View()
		case state.OutcomeSuccess:
			mark = okStyle.Render("✓")
		case state.OutcomeSkipped:
			mark = dimStyle.Render("‒")
		case state.OutcomePartial:
			mark = failStyle.Render("◐")
		case state.OutcomeSuspended:
			mark = dimStyle.Render("⏸")
		default:
			mark = failStyle.Render("✗")
		}

		b.WriteString("  " + mark + " " + label)
		if s.err != "" {
			b.WriteString(failStyle.Render("  " + s.err))
		}
		b.WriteString("\n")
	}

	if m.status != "" {
		style := okStyle
		if m.status != engine.StatusCompleted {
			style = failStyle
		}
		b.WriteString("\n" + style.Render("run "+m.status) + "\n")
	} else {
		b.WriteString("\n" + dimStyle.Render("q to detach") + "\n")
	}
	return b.String()
}
