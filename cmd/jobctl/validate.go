package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/jobctl/internal/cli"
	"github.com/aretw0/jobctl/internal/logging"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for consistency",
	Long: `Loads the configuration and builds the controller without starting a run.
Reports invalid settings, unknown processors and workflows that cannot resolve
to a registered processor.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is valid! ✅")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Interactive so the prompt decision mode is accepted; nothing is read.
	app, err := cli.Build(cfg, cli.Options{Interactive: true, Logger: logging.NewNop()})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	job := app.Controller.Job()
	fmt.Printf("machine %s: job %q with %d operations, %d processors, workflow %s\n",
		cfg.MachineID, job.Name, job.Len(), len(app.Processors), app.Controller.Workflow())
	return nil
}
