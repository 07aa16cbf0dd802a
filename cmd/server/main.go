package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaonanln/netmon/server"
	"github.com/xiaonanln/netmon/server/serverconfig"
	"github.com/xiaonanln/netmon/util/logger"
)

func main() {
	// Get server configuration from flags and/or config file
	loader := serverconfig.NewLoader(nil)
	serverConfig, err := loader.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load server config: %v", err)
	}

	level, err := logger.ParseLevel(loader.GetLogLevel())
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.SetDefaultLevel(level)

	srv, err := server.NewServer(serverConfig)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Create context for server lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
		// Run returns after the last sessions closed and sinks were flushed.
		if err := <-errChan; err != nil {
			log.Printf("Server error: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	log.Println("Server stopped")
}
