package cli

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/youmna-rabie/aegis/internal/clock"
	"github.com/youmna-rabie/aegis/internal/config"
	"github.com/youmna-rabie/aegis/internal/script"
	"github.com/youmna-rabie/aegis/internal/stream"
	"github.com/youmna-rabie/aegis/internal/types"
)

func init() {
	rootCmd.AddCommand(listScriptsCmd)
	rootCmd.AddCommand(replayCmd)
}

var listScriptsCmd = &cobra.Command{
	Use:   "list-scripts",
	Short: "Print the scripted feeds and their step counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cat, err := script.Load(cfg.Scripts.Path)
		if err != nil {
			return fmt.Errorf("loading scripts: %w", err)
		}
		return listScripts(cmd.OutOrStdout(), cat)
	},
}

func listScripts(w io.Writer, cat *script.Catalog) error {
	fmt.Fprintf(w, "%-15s %s\n", "NAME", "STEPS")
	for _, name := range cat.Names() {
		steps, err := cat.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-15s %d\n", name, len(steps))
	}
	return nil
}

var replayCmd = &cobra.Command{
	Use:   "replay <script>",
	Short: "Print a scripted feed with the offsets at which the dashboard emits each step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cat, err := script.Load(cfg.Scripts.Path)
		if err != nil {
			return fmt.Errorf("loading scripts: %w", err)
		}
		return replay(cmd.OutOrStdout(), cat, streamConfig(cfg, args[0]), args[0])
	},
}

// replay plays the named script on a simulated clock, so the output shows
// real cadence without waiting for it.
func replay(w io.Writer, cat *script.Catalog, sc config.StreamConfig, name string) error {
	steps, err := cat.Get(name)
	if err != nil {
		return err
	}

	start := time.Unix(0, 0).UTC()
	fc := clock.Fake(start)
	done := false
	e, err := stream.New(stream.Options{
		Name:       name,
		Script:     steps,
		Capacity:   max(len(steps), 1),
		Interval:   sc.Interval,
		Jitter:     sc.Jitter,
		Clock:      fc,
		Logger:     slog.New(slog.DiscardHandler),
		OnComplete: func(uint64) { done = true },
	})
	if err != nil {
		return err
	}
	defer e.Stop()

	e.Activate()
	for step := sc.Interval + sc.Jitter; !done; {
		fc.Advance(max(step, time.Millisecond))
	}

	for _, ev := range e.Events() {
		fmt.Fprintf(w, "+%-8s %s\n", ev.EmittedAt.Sub(start), describe(ev.Step))
	}
	return nil
}

func describe(s types.ScriptStep) string {
	line := s.Text
	if s.Agent != "" {
		line = s.Agent + ": " + line
	}
	if s.Category != "" {
		line = fmt.Sprintf("[%s] %s", s.Category, line)
	}
	if s.ETAMinutes != nil {
		line += fmt.Sprintf(" (eta %dm)", *s.ETAMinutes)
	}
	return line
}

// streamConfig returns the configured cadence for a script; unknown names
// get the activity cadence.
func streamConfig(cfg *config.Config, name string) config.StreamConfig {
	switch name {
	case script.Drone:
		return cfg.Streams.Drone
	case script.Verification:
		return cfg.Streams.Verification
	case script.Debate:
		return cfg.Streams.Debate
	default:
		return cfg.Streams.Activity
	}
}
