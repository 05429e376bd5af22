package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rich13/lifespan-beta-sub017/logger"
	"github.com/rich13/lifespan-beta-sub017/maintenance"
	"github.com/rich13/lifespan-beta-sub017/span"
)

// WorkerCmd runs the maintenance worker until interrupted.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the maintenance job worker",
	Long: `Run the maintenance job worker. The worker claims queued jobs and runs
them in chunks, persisting progress after every chunk. On SIGINT/SIGTERM
running jobs are re-queued with their progress intact and resume on the next
start.

Worker settings come from the [maintenance] configuration section:
workers, poll_interval_seconds, chunk_size, chunks_per_second.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := maintenance.NewWorker(ctx, database, maintenance.WorkerConfig{
		Workers:         cfg.Maintenance.Workers,
		PollInterval:    time.Duration(cfg.Maintenance.PollIntervalSeconds) * time.Second,
		ChunkSize:       cfg.Maintenance.ChunkSize,
		ChunksPerSecond: float64(cfg.Maintenance.ChunksPerSecond),
	}, logger.Logger)

	spans := span.NewStore(database, logger.Logger)
	maintenance.RegisterSpanHandlers(worker.Registry(), database, spans, logger.Logger)

	worker.Start()
	fmt.Printf("Maintenance worker started (workers=%d, chunk_size=%d). Ctrl+C to stop.\n",
		cfg.Maintenance.Workers, cfg.Maintenance.ChunkSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	worker.Stop()
	return nil
}
