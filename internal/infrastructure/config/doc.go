// Package config provides 12-factor configuration for the assistant backend.
//
// Configuration is loaded from environment variables with sensible defaults.
// Flow vocabulary and policy limits live in a separate Catalog that can be
// overridden from a YAML or TOML file (CATALOG_FILE).
//
// Configuration Sections:
//   - Server, GRPC: HTTP listener and health endpoint
//   - Logging, RateLimit
//   - Session: backend (file|table), directory or DSN, TTL and sweep cadence
//   - Odoo, LLM, Docs: collaborators
//   - Events: AMQP exchange and audit table
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	cat, err := config.LoadCatalog(cfg.Catalog.File)
package config
