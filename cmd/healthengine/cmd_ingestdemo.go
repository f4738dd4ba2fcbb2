package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// runIngestDemo loads a raw provider batch file from disk through a
// registered adapter and ingests it for one user, the CLI equivalent of
// HandleSyncProvider for local demo data without standing up the HTTP
// server.
func runIngestDemo(cmd *cobra.Command, args []string) error {
	e, err := buildEngine(configPath, currentBackendOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	adapter, ok := e.Providers[demoVendor]
	if !ok {
		return fmt.Errorf("unknown provider adapter %q", demoVendor)
	}

	raw, err := os.ReadFile(demoPath)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}

	points, err := adapter.Normalize(raw)
	if err != nil {
		return fmt.Errorf("normalize batch: %w", err)
	}

	result, err := e.Ingestion.Ingest(context.Background(), runUser, adapter.Name(), points)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
