// Package main is the entry point for the netcore server.
//
// The server hosts the request pipeline (protocol registry, job factory,
// network emulation) behind a small HTTP API:
//
//	client → /fetch → engine request → protocol handler | HTTP transport
//	                                 → throttle (when emulating)
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//   - An optional shell profile with presets and directory mounts
//   - An optional startup script that registers scripted protocols
//
// Usage:
//
//	./server -port 8000 -profile shell.yaml -script startup.js
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
