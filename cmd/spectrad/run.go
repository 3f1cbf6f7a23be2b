package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/spectrad/internal/state"
	"github.com/fyrsmithlabs/spectrad/internal/workflow"
)

var (
	resumeSessionID string
	showEvents      bool
)

func init() {
	runCmd.Flags().StringVar(&resumeSessionID, "resume", "", "resume the session with this id from its latest checkpoint")
	runCmd.Flags().BoolVar(&showEvents, "events", false, "print stage progress events to stderr")
}

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Run one analysis workflow session",
	Long: `Run a workflow session for a request given as an argument or on stdin.

Examples:
  # Run a request
  spectrad run "classify the isotopes in spectrum.csv"

  # Read the request from stdin
  echo "你好" | spectrad run

  # Resume a crashed session
  spectrad run --resume 6f1f7e2a-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSession,
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var events workflow.EventFunc
	if showEvents {
		events = func(ev workflow.Event) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s %s\n", ev.Type, ev.Stage, ev.Detail)
		}
	}

	rt, err := buildRuntime(ctx, cfg, events)
	if err != nil {
		return err
	}
	defer rt.Close()

	var session *workflow.Session
	if resumeSessionID != "" {
		session, err = rt.engine.ResumeSession(ctx, resumeSessionID)
		if err != nil {
			return fmt.Errorf("resume session %s: %w", resumeSessionID, err)
		}
	} else {
		request, err := readRequest(cmd, args)
		if err != nil {
			return err
		}
		session = rt.engine.NewSession(request)
	}

	runErr := rt.engine.RunSession(ctx, session)
	printOutcome(cmd.OutOrStdout(), session)
	return runErr
}

func readRequest(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading request from stdin: %w", err)
	}
	request := strings.TrimSpace(string(data))
	if request == "" {
		return "", fmt.Errorf("empty request: pass it as an argument or on stdin")
	}
	return request, nil
}

func printOutcome(w io.Writer, s *workflow.Session) {
	fmt.Fprintf(w, "session:  %s\n", s.ID)
	fmt.Fprintf(w, "status:   %s\n", s.Status)
	fmt.Fprintf(w, "backend:  %s\n", s.Backend)
	if reply, ok := s.State.LastAssistantMessage(); ok {
		fmt.Fprintf(w, "\n%s\n", reply)
	}
	for _, rec := range s.State.Executions {
		if rec.Status == state.ExecFailed {
			fmt.Fprintf(w, "failed step: %s (%s)\n", rec.Capability, rec.Error)
		}
	}
}
