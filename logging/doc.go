// Package logging provides a minimal logging interface and adapters for agentcouncil.
//
// The Logger interface defines the structured logging methods (Debug, Info, Warn, Error)
// that the orchestration components use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - CouncilLogger with run/component scoping and call/stage helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	council := agentcouncil.New(transport, func(o *agentcouncil.Options) { o.Logger = logger })
package logging
