package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rich13/lifespan-beta-sub017/cmd/lifespan/commands"
	"github.com/rich13/lifespan-beta-sub017/logger"
)

var rootCmd = &cobra.Command{
	Use:   "lifespan",
	Short: "Lifespan - date-anchored spans and the connections between them",
	Long: `Lifespan - a graph of date-anchored spans (people, places, events,
organisations, things) and the typed connections between them.

Available commands:
  db     - Manage the database (migrate, stats)
  query  - Find spans temporally related to a span
  jobs   - Manage maintenance jobs
  worker - Run the maintenance job worker

Examples:
  lifespan db migrate                      # Apply schema migrations
  lifespan query during john-lennon        # Spans within John Lennon's lifetime
  lifespan jobs run spans.bulk-import --payload manifest.json
  lifespan worker                          # Process queued maintenance jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
