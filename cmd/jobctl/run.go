package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/jobctl/internal/cli"
	"github.com/aretw0/jobctl/internal/presentation/tui"
	"github.com/aretw0/jobctl/pkg/domain"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured job once",
	Long: `Runs the configured job until it finishes or is aborted.
On a terminal, failures and pauses are answered at the prompt. Without one,
a paused run is aborted.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runJob(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("step", false, "Start in stepping mode, one operation per command")
	runCmd.Flags().String("workflow", "", "Workflow to run: placement or paste")
	runCmd.Flags().Bool("headless", false, "Disable the banner and the operator prompt")
}

func runJob(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	step, _ := cmd.Flags().GetBool("step")
	headless, _ := cmd.Flags().GetBool("headless")

	interactive := !headless && term.IsTerminal(int(os.Stdin.Fd()))
	app, err := cli.Build(cfg, cli.Options{Interactive: interactive})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			app.Logger.Warn("Shutdown incomplete", "err", err)
		}
	}()

	if interactive {
		tui.PrintBanner(os.Stdout)
		fmt.Printf("machine %s, job %q (%d operations), workflow %s\n\n",
			cfg.MachineID, app.Controller.Job().Name, app.Controller.Job().Len(), app.Controller.Workflow())
	}

	sigCtx := cli.NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	opts := cli.SessionOptions{Step: step, Out: os.Stdout}
	if app.Prompt != nil {
		opts.Console = app.Prompt
	}
	run, runErr := cli.RunSession(sigCtx, app, opts)

	if sig := sigCtx.Signal(); sig != nil {
		fmt.Printf("\n>>> Interrupted (%v), run aborted.\n", sig)
	}
	if run != nil {
		printSummary(run)
	}
	if runErr != nil {
		return runErr
	}
	if run != nil && run.Outcome != domain.OutcomeFinished {
		return fmt.Errorf("run %s ended %s", run.ID, run.Outcome)
	}
	return nil
}

func printSummary(run *domain.RunRecord) {
	summary := tui.RunSummary(run)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if out, err := tui.NewRenderer()(summary); err == nil {
			summary = out
		}
	}
	fmt.Print(summary)
}
