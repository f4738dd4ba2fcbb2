package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// runScheduler runs the background scheduler with no HTTP surface, for
// deployments that split ingestion/serving from the periodic jobs.
func runScheduler(cmd *cobra.Command, args []string) error {
	e, err := buildEngine(configPath, currentBackendOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	e.Scheduler.Start()
	defer e.Scheduler.Stop()
	e.Log.Info("scheduler running, send SIGINT/SIGTERM to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	return nil
}
