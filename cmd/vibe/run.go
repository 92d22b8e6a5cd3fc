package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/vibe/internal/dispatch"
	"github.com/mtzanidakis/vibe/internal/events"
	"github.com/mtzanidakis/vibe/internal/router"
)

var (
	sessionFlag string
	jsonFlag    bool
)

var routeCmd = &cobra.Command{
	Use:   "route <message>",
	Short: "Show how a message would be routed without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newStack(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.dispatch.Route(ctx, dispatch.Request{SessionID: sessionFlag, Message: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		if jsonFlag {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		printRoute(cmd.OutOrStdout(), result)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Route a message and run the resulting plan",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := newStack(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer s.Close()

		if !jsonFlag {
			go printEvents(ctx, cmd.ErrOrStderr(), s.events)
		}

		resp, err := s.dispatch.Handle(ctx, dispatch.Request{SessionID: sessionFlag, Message: strings.Join(args, " ")})
		if resp == nil {
			return err
		}
		if jsonFlag {
			if werr := writeJSON(cmd.OutOrStdout(), resp); werr != nil {
				return werr
			}
			return err
		}
		printRoute(cmd.ErrOrStderr(), resp.Route)
		if resp.ContextSwitch {
			fmt.Fprintln(cmd.ErrOrStderr(), "note: topic changed from the previous agent's")
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Output)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{routeCmd, runCmd} {
		c.Flags().StringVarP(&sessionFlag, "session", "s", "", "session id (new session when empty)")
		c.Flags().BoolVar(&jsonFlag, "json", false, "print the full result as JSON")
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRoute(w io.Writer, r *router.Result) {
	if r == nil {
		return
	}
	switch r.Mode {
	case router.ModeSingle:
		name := ""
		if r.Agent != nil {
			name = r.Agent.Name
		}
		fmt.Fprintf(w, "route: %s (stage %s, confidence %.2f)\n", name, r.Stage, r.Confidence)
	case router.ModeSupervisor:
		fmt.Fprintf(w, "route: supervisor (stage %s, confidence %.2f)\n", r.Stage, r.Confidence)
		if r.Plan != nil {
			fmt.Fprintf(w, "plan: %d tasks, %s, supervised by %s\n", len(r.Plan.Tasks), r.Plan.Strategy, r.Plan.Supervisor)
			for _, t := range r.Plan.Tasks {
				deps := ""
				if len(t.Dependencies) > 0 {
					deps = " after " + strings.Join(t.Dependencies, ", ")
				}
				fmt.Fprintf(w, "  %s [%s] %s%s\n", t.ID, t.Agent, t.Description, deps)
			}
		}
	}
	if r.Reasoning != "" {
		fmt.Fprintf(w, "reason: %s\n", r.Reasoning)
	}
}

// printEvents writes one line per lifecycle event until ctx ends.
func printEvents(ctx context.Context, w io.Writer, hub *events.Hub) {
	ch, cancel := hub.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintln(w, formatEvent(e))
		}
	}
}

func formatEvent(e events.Event) string {
	switch d := e.Data.(type) {
	case events.TaskAssigned:
		return fmt.Sprintf("assigned %s to %s", d.TaskID, d.Agent)
	case events.TaskCompleted:
		if d.Success {
			return fmt.Sprintf("completed %s (%s)", d.TaskID, d.Agent)
		}
		return fmt.Sprintf("failed %s (%s): %s", d.TaskID, d.Agent, d.Error)
	case events.Progress:
		return fmt.Sprintf("progress %.0f%% (%d/%d done, %d failed)", d.Percent, d.Completed, d.Total, d.Failed)
	case events.LevelCompleted:
		return fmt.Sprintf("level %d done", d.Level)
	}
	return string(e.Topic)
}
