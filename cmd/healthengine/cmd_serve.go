package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/healthlattice/healthengine/internal/apiserver"
	"github.com/spf13/cobra"
)

// runServe brings up the HTTP API and the background scheduler together,
// grounded on cmd/aleutian/cmd_stack.go's signal-driven start/stop shape.
func runServe(cmd *cobra.Command, args []string) error {
	e, err := buildEngine(configPath, currentBackendOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	e.Scheduler.Start()
	defer e.Scheduler.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	v1 := router.Group("/v1")
	v1.Use(apiserver.AuthMiddleware(apiserver.NewNopAuthenticator(authUser)))
	apiserver.RegisterRoutes(v1, e.handlers())

	srv := &http.Server{Addr: listenAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		e.Log.Info("http server listening", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		e.Log.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
