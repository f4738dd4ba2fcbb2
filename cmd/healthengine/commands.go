// Grounded on cmd/aleutian/commands.go's package-level flag/cobra.Command
// variable block and cmd/aleutian/cli_commands.go's init() AddCommand/Flags
// wiring; Run funcs live in cmd_*.go files the same way aleutian's do.
package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	backend    string
	dataDir    string
	badgerMem  bool
	listenAddr string
	authUser   string

	runUser    string
	demoVendor string
	demoPath   string

	rootCmd = &cobra.Command{
		Use:   "healthengine",
		Short: "A personal longitudinal health analytics engine",
		Long: `healthengine ingests wearable and check-in data, maintains
per-user baselines, and surfaces consent-gated insights, experiments,
and narratives over an HTTP API, a one-shot CLI loop, and a background
scheduler, all sharing the same service wiring.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server and background scheduler",
		RunE:  runServe,
	}

	runLoopCmd = &cobra.Command{
		Use:   "run-loop",
		Short: "Run one pass of the analytical loop for a single user and exit",
		RunE:  runRunLoop,
	}

	schedulerCmd = &cobra.Command{
		Use:   "scheduler",
		Short: "Run the background scheduler alone, with no HTTP surface",
		RunE:  runScheduler,
	}

	ingestDemoCmd = &cobra.Command{
		Use:   "ingest-demo",
		Short: "Load a batch of demo provider data for a user",
		RunE:  runIngestDemo,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "memory", "store backend: memory or badger")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "badger data directory (required when --backend=badger, unless --badger-in-memory)")
	rootCmd.PersistentFlags().BoolVar(&badgerMem, "badger-in-memory", false, "run the badger backend in in-memory mode (for local smoke testing)")

	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&authUser, "auth-user", "", "user ID returned by the no-op authenticator (defaults to local-user)")
	rootCmd.AddCommand(serveCmd)

	runLoopCmd.Flags().StringVar(&runUser, "user", "", "user ID to run the loop for (required)")
	_ = runLoopCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(runLoopCmd)

	rootCmd.AddCommand(schedulerCmd)

	ingestDemoCmd.Flags().StringVar(&runUser, "user", "", "user ID to load demo data for (required)")
	ingestDemoCmd.Flags().StringVar(&demoVendor, "vendor", "demo", "registered provider adapter name")
	ingestDemoCmd.Flags().StringVar(&demoPath, "file", "", "path to a raw provider batch file (required)")
	_ = ingestDemoCmd.MarkFlagRequired("user")
	_ = ingestDemoCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestDemoCmd)
}

func currentBackendOptions() backendOptions {
	return backendOptions{backend: backend, dataDir: dataDir, inMemory: badgerMem}
}
