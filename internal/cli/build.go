package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/InvictusSEO/vibephp/internal/agents"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

var (
	buildOut   string
	buildQuiet bool
)

var buildCmd = &cobra.Command{
	Use:   "build <prompt>",
	Short: "Plan, build and verify an app without confirmation prompts",
	Long: `Build runs the whole loop headless: it plans, generates the files,
verifies them on the executor and applies fixes until the app verifies or
the fix budget runs out. The exported project is written to --out either way.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, appOptions{autoConfirm: true})
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runBuild(ctx, a.manager, strings.Join(args, " "), buildOut, buildQuiet)
	},
}

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "vibephp-app", "directory the project is written to")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "do not print progress")
}

func runBuild(ctx context.Context, manager *agents.Manager, prompt, out string, quiet bool) error {
	ws, err := manager.Create(ctx, "")
	if err != nil {
		return err
	}

	if !quiet {
		updates, unsubscribe := ws.Subscribe(0)
		defer unsubscribe()
		go printProgress(updates)
	}

	runErr := ws.Submit(ctx, prompt)
	if errors.Is(runErr, agents.ErrCancelled) || ctx.Err() != nil {
		return errors.New("build interrupted")
	}

	files := ws.Export()
	if err := workspace.WriteDir(out, files); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d file(s) to %s\n", len(files), out)

	if runErr != nil {
		if msgs := ws.Messages(); len(msgs) > 0 {
			fmt.Fprintln(os.Stderr, msgs[len(msgs)-1].Content)
		}
	}
	return runErr
}

func printProgress(updates <-chan agents.Status) {
	var last string
	for st := range updates {
		line := string(st.State)
		if st.Message != "" {
			line += ": " + st.Message
		}
		if st.FixAttempt > 0 {
			line += fmt.Sprintf(" (fix attempt %d)", st.FixAttempt)
		}
		if line == last {
			continue
		}
		last = line
		fmt.Fprintln(os.Stderr, line)
	}
}
