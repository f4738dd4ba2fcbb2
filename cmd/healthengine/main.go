// Command healthengine is the single entry point for the analytics
// engine: an HTTP server, a one-shot loop runner, a scheduler daemon,
// and a demo data loader, all sharing the same service wiring.
//
// Grounded on cmd/aleutian/main.go's rootCmd.Execute()/log.Fatalf
// top-level shape and cmd/aleutian/commands.go's package-level cobra
// command variables.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("healthengine: %v", err)
	}
}
