package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

// runRunLoop runs a single analytical loop pass for one user and prints
// the result, the one-shot counterpart to HandleRunLoop for scripting
// and cron use outside the scheduler.
func runRunLoop(cmd *cobra.Command, args []string) error {
	e, err := buildEngine(configPath, currentBackendOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.LoopRunner.Run(context.Background(), runUser)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
