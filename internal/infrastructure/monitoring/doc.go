/*
Package monitoring provides metrics collection for the request pipeline.

# Overview

Metrics live in a private Prometheus registry so several pipelines (tests,
embedded hosts) can coexist in one process.

# Features

- HTTP API metrics (latency, throughput, size)
- Jobs started by kind and response bytes delivered
- Scripted handler outcomes and protocol registry operations
- Network delegate event counts
- Throttle queue sizes and emulation state
- WebSocket connection metrics
- Go runtime, process and uptime metrics

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordJobStarted("file")
	metrics.RecordRegistryOp("register", err)
*/
package monitoring
