/*
Package log provides structured logging for Sentinel using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

Sentinel's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("observer")                │          │
	│  │  - WithComponent("actor")                   │          │
	│  │  - WithComponent("restorer")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "observer",                 │          │
	│  │    "time": "2026-08-24T10:30:00Z",         │          │
	│  │    "message": "snapshot collected"          │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF snapshot collected component=observer │   │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Sentinel packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - Per-call fields (.Uint64("cycle", ...), .Uint64("block", ...)) carry
    the observation context

# Usage

Initializing the Logger:

	import "github.com/cuemby/sentinel/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Agent started")
	log.Debug("Polling chain state")
	log.Warn("Observation failed, will retry")
	log.Error("Failed to connect to RPC endpoint")
	log.Fatal("Cannot start without signer key") // Exits process

Structured Logging:

	log.Logger.Info().
		Uint64("block", 18923001).
		Int64("deviation_bps", 412).
		Msg("Snapshot collected")

	log.Logger.Error().
		Err(err).
		Str("tx_hash", hash).
		Msg("Transaction reverted")

Component Loggers:

	// Create component-specific logger
	obsLog := log.WithComponent("observer")
	obsLog.Info().Msg("Starting observation loop")
	obsLog.Debug().Uint64("block", 18923001).Msg("Reading reserves")

	// Multiple context fields
	actLog := log.WithComponent("actor").
		With().Str("action", "PAUSE_AMM").
		Uint64("cycle", 1042).Logger()
	actLog.Info().Msg("Submitting transaction")
	actLog.Error().Err(err).Msg("Transaction failed")

# Integration Points

This package integrates with:

  - pkg/agent: Logs cycle progress and lifecycle transitions
  - pkg/observer: Logs snapshot collection and RPC failures
  - pkg/reasoner: Logs LLM calls and dedup decisions
  - pkg/actor: Logs transaction submission and confirmation
  - pkg/restorer: Logs scheduled restores and counter-swaps
  - pkg/api: Logs HTTP requests and websocket lifecycle

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

# Security

Log Content:
  - Never log the signer private key or LLM API key
  - Redact tokens and credentials before logging config
  - Review logs before sharing externally

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate LLM responses into log messages
  - Use typed fields (.Str, .Int) for external data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for consistent formatting
  - Include context (cycle, block, tx hash)

Don't:
  - Log sensitive data (keys, credentials)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
