// Package main runs the Nasma HR assistant backend.
//
// Commands:
//
//	nasma serve   HTTP API, chat websocket, gRPC health and the session sweeper (default)
//	nasma sweep   remove expired and finished sessions once and exit
//	nasma stats   print session statistics and flow outcomes as JSON
//
// Configuration comes from the environment (see internal/infrastructure/config);
// flags override the few settings operators change by hand.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
