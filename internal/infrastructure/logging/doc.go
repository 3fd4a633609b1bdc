// Package logging provides structured logging using uber/zap.
//
// Production builds emit sampled JSON, development builds emit colored
// console output. Subsystems receive a named child via Component and
// per-thread fields via ForThread. The level is atomic and is exposed at
// /log/level for runtime changes.
//
// Example Usage:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	logger.Info("Server starting", zap.String("port", cfg.Server.Port))
package logging
