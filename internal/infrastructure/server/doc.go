// Package server wires the netcore components into one HTTP server.
//
// Lifecycle:
//  1. Initialize the logger from config
//  2. Load the shell profile, if any
//  3. Start the UI and IO sequences and the networking context
//  4. Mount profile directories and apply startup emulation
//  5. Run the startup script
//  6. Set up middleware, API routes, the event hub and /metrics
//  7. Shutdown: stop HTTP, abort live requests, stop the sequences
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
