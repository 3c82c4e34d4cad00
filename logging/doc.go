// Package logging provides the logging interface and adapters used by meshkit.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the client, orchestrator and runner use. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with component scoping and contextual fields
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - ToolCallLog, an append-only JSON-lines sink for tool invocations
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "text", false)
//	client, err := mesh.NewClient(apiKey, func(o *mesh.Options) { o.Logger = logger })
package logging
