package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KareemHossam19/Stepwright/internal/action"
	"github.com/KareemHossam19/Stepwright/internal/engine"
	"github.com/KareemHossam19/Stepwright/internal/jsonutil"
	"github.com/KareemHossam19/Stepwright/internal/logging"
	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/tui"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// runFlags holds all parsed flag values for the run command.
type runFlags struct {
	// Inputs are key=value pairs; values parse as JSON when possible and
	// fall back to strings.
	Inputs []string

	// InputsJSON supplies all inputs as one JSON object.
	InputsJSON string

	// JSON prints the final run result as JSON instead of the summary.
	JSON bool

	// Watch renders a live TUI of step progress instead of log lines.
	Watch bool

	// NoInput disables interactive prompts; input steps suspend and the run
	// exits with the suspension printed.
	NoInput bool
}

var (
	stepOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stepSkipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stepFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// newRunCmd creates the "stepwright run" command.
func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run WORKFLOW",
		Short: "Execute a workflow",
		Long: `Execute a workflow file. The argument is a path to a YAML workflow, or a
bare name resolved against the configured workflows directory.

Inputs are supplied with repeated --input key=value flags or a single
--inputs-json object. Input steps prompt interactively unless --no-input is
set.

Exit codes:
  0  run completed
  1  run failed or was interrupted
  2  the workflow is invalid
  3  the run suspended awaiting input (--no-input)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringArrayVarP(&flags.Inputs, "input", "i", nil, "Workflow input as key=value (repeatable)")
	cmd.Flags().StringVar(&flags.InputsJSON, "inputs-json", "", "All workflow inputs as a JSON object")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Print the run result as JSON")
	cmd.Flags().BoolVarP(&flags.Watch, "watch", "w", false, "Render live step progress in a TUI")
	cmd.Flags().BoolVar(&flags.NoInput, "no-input", false, "Never prompt; suspend on input steps")
	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func runWorkflow(cmd *cobra.Command, arg string, flags runFlags) error {
	logger := logging.New("cli")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := loadDocument(cfg, arg)
	if err != nil {
		return err
	}

	result := workflow.Validate(doc, false)
	if !result.Valid() {
		fmt.Fprint(os.Stderr, result.String())
		return &exitCodeError{code: 2, msg: "workflow is invalid"}
	}
	for _, w := range result.Messages {
		logger.Warn(w.String())
	}

	inputs, err := parseInputs(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan engine.Event, 256)
	opts := append(engineOptions(cfg), engine.WithEvents(events))
	if !flags.NoInput && !flags.JSON {
		opts = append(opts, engine.WithPrompt(promptUser))
	}
	eng := engine.New(opts...)

	var g errgroup.Group
	if flags.Watch {
		g.Go(func() error { return tui.Watch(ctx, doc.Workflow.Name, events) })
	} else {
		g.Go(func() error {
			printEvents(events, flags.JSON)
			return nil
		})
	}

	res, runErr := eng.Run(ctx, doc, inputs)
	close(events)
	if werr := g.Wait(); werr != nil {
		logger.Warn("display error", "error", werr)
	}
	if runErr != nil {
		return runErr
	}

	return report(res, flags)
}

// report prints the final result and maps the run status to an exit code.
func report(res *engine.RunResult, flags runFlags) error {
	if flags.JSON {
		out := map[string]any{
			"status": res.Status,
			"steps":  res.Steps,
		}
		if res.Error != "" {
			out["error"] = res.Error
		}
		if res.Suspension != nil {
			out["suspension"] = res.Suspension
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	}

	switch res.Status {
	case engine.StatusCompleted:
		if !flags.JSON {
			fmt.Println(stepOKStyle.Render("workflow completed"))
		}
		return nil
	case engine.StatusSuspended:
		if !flags.JSON && res.Suspension != nil {
			fmt.Println(stepSkipStyle.Render("workflow suspended: " + res.Suspension.Prompt))
		}
		return &exitCodeError{code: 3, msg: "workflow suspended awaiting input"}
	default:
		msg := "workflow " + res.Status
		if res.Error != "" {
			msg += ": " + res.Error
		}
		if !flags.JSON {
			fmt.Println(stepFailStyle.Render(msg))
		}
		return &exitCodeError{code: 1, msg: msg}
	}
}

// printEvents renders the event stream as terse progress lines.
func printEvents(events <-chan engine.Event, quiet bool) {
	for ev := range events {
		if quiet {
			continue
		}
		switch ev.Type {
		case engine.EventStepStart:
			fmt.Printf("  %s %s\n", stepSkipStyle.Render("▸"), ev.StepID)
		case engine.EventStepEnd:
			mark := stepOKStyle.Render("✓")
			switch ev.Outcome {
			case state.OutcomeFailure:
				mark = stepFailStyle.Render("✗")
			case state.OutcomeSkipped:
				mark = stepSkipStyle.Render("‒")
			case state.OutcomePartial:
				mark = stepFailStyle.Render("◐")
			}
			line := fmt.Sprintf("  %s %s (%s)", mark, ev.StepID, ev.Outcome)
			if ev.Error != "" {
				line += ": " + ev.Error
			}
			fmt.Println(line)
		}
	}
}

// promptUser answers an input suspension with a huh form on the terminal.
func promptUser(_ context.Context, s action.Suspension) (string, error) {
	value := s.Default
	var field huh.Field
	switch s.Type {
	case "confirm":
		confirmed := strings.EqualFold(s.Default, "yes") || strings.EqualFold(s.Default, "true")
		field = huh.NewConfirm().Title(s.Prompt).Value(&confirmed)
		if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
			return "", err
		}
		if confirmed {
			return "true", nil
		}
		return "false", nil
	case "menu":
		options := make([]huh.Option[string], len(s.Options))
		for i, o := range s.Options {
			options[i] = huh.NewOption(o, o)
		}
		field = huh.NewSelect[string]().Title(s.Prompt).Options(options...).Value(&value)
	default:
		field = huh.NewInput().Title(s.Prompt).Value(&value)
	}
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", err
	}
	return value, nil
}

// parseInputs merges --inputs-json and repeated --input flags; the latter
// win.
func parseInputs(flags runFlags) (map[string]any, error) {
	inputs := map[string]any{}
	if flags.InputsJSON != "" {
		if err := jsonutil.Decode(flags.InputsJSON, &inputs); err != nil {
			return nil, fmt.Errorf("parsing --inputs-json: %w", err)
		}
	}
	for _, pair := range flags.Inputs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		var v any
		if err := jsonutil.Decode(raw, &v); err != nil {
			v = raw // not JSON, keep the literal string
		}
		inputs[key] = v
	}
	return inputs, nil
}
