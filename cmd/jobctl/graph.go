package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/jobctl/internal/presentation/graph"
	"github.com/aretw0/jobctl/pkg/controller"
	"github.com/aretw0/jobctl/pkg/domain"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the execution control state machine",
	Long:  `Outputs a Mermaid diagram (graph TD) of the execution control transition table.`,
	Run: func(cmd *cobra.Command, args []string) {
		current, _ := cmd.Flags().GetString("current")

		var overlay *graph.Overlay
		if current != "" {
			state, err := domain.ParseState(current)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			overlay = &graph.Overlay{Current: state}
		}

		fmt.Print(graph.GenerateMermaid(controller.Transitions(), overlay))
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("current", "", "Highlight this state (stopped, running or stepping)")
}
